package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"rtmp-orchestrator/internal/media"
	"rtmp-orchestrator/internal/platform/metrics"
	"rtmp-orchestrator/internal/ws"
)

// DefaultSampleInterval is the period between quality probes of a live session.
const DefaultSampleInterval = 2 * time.Second

// LowBitrateThreshold is the video bitrate, in bits per second, below which a
// low-bitrate alert is raised. Zero bitrate means "unknown", not "low".
const LowBitrateThreshold = 2_000_000

// Sampler runs one periodic quality-metrics task per live session. A probe
// failure skips the cycle; a stale session (already destroyed) terminates the
// task. Stalled probes of one stream never delay another stream's samples.
type Sampler struct {
	table     *SessionTable
	prober    media.Prober
	baseURL   string
	interval  time.Duration
	notifier  Notifier
	broadcast Broadcaster
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// samplerTask is the cancellation handle of one session's sampler goroutine.
// done is closed when the goroutine has fully stopped, so teardown can
// guarantee no sample is published after the terminal broadcast.
type samplerTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler returns a Sampler probing sessions' live sources, reachable
// under baseURL, every interval. If interval is not positive,
// DefaultSampleInterval is used. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewSampler(table *SessionTable, prober media.Prober, baseURL string, interval time.Duration, notifier Notifier, broadcast Broadcaster, log *slog.Logger, m *metrics.Metrics) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		table:     table,
		prober:    prober,
		baseURL:   baseURL,
		interval:  interval,
		notifier:  notifier,
		broadcast: broadcast,
		log:       log,
		metrics:   m,
	}
}

// Start launches the periodic sampling task for sess.
func (s *Sampler) Start(ctx context.Context, sess *StreamSession) {
	ctx, cancel := context.WithCancel(ctx)
	task := &samplerTask{cancel: cancel, done: make(chan struct{})}
	sess.setSamplerTask(task)
	go s.run(ctx, sess, task)
}

// Stop cancels the sampling task of sess and waits for it to finish, so the
// caller can emit the terminal broadcast knowing no further sample follows.
func (s *Sampler) Stop(sess *StreamSession) {
	task := sess.samplerTask()
	if task == nil {
		return
	}
	task.cancel()
	<-task.done
}

func (s *Sampler) run(ctx context.Context, sess *StreamSession, task *samplerTask) {
	defer close(task.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.sample(ctx, sess) {
				return
			}
		}
	}
}

// sample runs one probe cycle. It reports false when the session is gone and
// the task should terminate itself.
func (s *Sampler) sample(ctx context.Context, sess *StreamSession) bool {
	if _, ok := s.table.Get(sess.Path); !ok {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, s.interval)
	info, err := s.prober.Probe(probeCtx, s.baseURL+string(sess.Path))
	cancel()
	if err != nil {
		// Skip the cycle; the sampler and the session stay alive.
		s.log.Warn("probe failed",
			slog.String("stream_key", sess.Key),
			slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.IncProbeFailures()
		}
		return true
	}

	sample := buildSample(sess, *info, time.Now())

	if sample.VideoBitrate > 0 && sample.VideoBitrate < LowBitrateThreshold {
		s.notifier.LowBitrate(sess.Key, sample.VideoBitrate, LowBitrateThreshold)
		if s.metrics != nil {
			s.metrics.IncLowBitrateAlerts()
		}
	}

	sess.appendSample(sample)
	s.broadcast.Broadcast(activeUpdate(sample))
	if s.metrics != nil {
		s.metrics.IncSamples()
	}

	s.log.Debug("sample taken",
		slog.String("stream_key", sess.Key),
		slog.Int64("video_bitrate", sample.VideoBitrate),
		slog.Float64("frame_rate", sample.FrameRate))
	return true
}

// Flush writes the accumulated metric log to the session's metric-log target.
// An empty log writes nothing. Failure is the caller's to log, not fatal to
// teardown.
func (s *Sampler) Flush(sess *StreamSession) error {
	samples := sess.Samples()
	if len(samples) == 0 {
		return nil
	}

	payload, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metric log for %s: %w", sess.Key, err)
	}
	if err := os.WriteFile(sess.MetricsFile, payload, 0o644); err != nil {
		return fmt.Errorf("flush metric log for %s: %w", sess.Key, err)
	}

	s.log.Info("metric log flushed",
		slog.String("stream_key", sess.Key),
		slog.String("file", sess.MetricsFile),
		slog.Int("samples", len(samples)))
	return nil
}

func buildSample(sess *StreamSession, info media.SourceInfo, now time.Time) MetricSample {
	return MetricSample{
		Timestamp:    now.UnixMilli(),
		StreamKey:    sess.Key,
		VideoCodec:   codecOrNA(info.VideoCodec),
		AudioCodec:   codecOrNA(info.AudioCodec),
		Resolution:   info.Resolution(),
		FrameRate:    info.FrameRate,
		VideoBitrate: info.VideoBitrate,
		AudioBitrate: info.AudioBitrate,
		TotalBitrate: info.TotalBitrate,
		Duration:     now.Sub(sess.StartedAt).Seconds(),
	}
}

func codecOrNA(codec string) string {
	if codec == "" {
		return "N/A"
	}
	return codec
}

// activeUpdate converts a sample to the subscriber broadcast message.
func activeUpdate(sample MetricSample) ws.StreamUpdate {
	return ws.StreamUpdate{
		StreamKey:    sample.StreamKey,
		IsActive:     true,
		VideoCodec:   sample.VideoCodec,
		AudioCodec:   sample.AudioCodec,
		Resolution:   sample.Resolution,
		FrameRate:    sample.FrameRate,
		VideoBitrate: sample.VideoBitrate,
		AudioBitrate: sample.AudioBitrate,
		TotalBitrate: sample.TotalBitrate,
		Duration:     sample.Duration,
		Timestamp:    sample.Timestamp,
	}
}

// endedUpdate is the terminal broadcast message: activity off, numeric fields
// zeroed.
func endedUpdate(streamKey string) ws.StreamUpdate {
	return ws.StreamUpdate{
		StreamKey: streamKey,
		IsActive:  false,
		Timestamp: time.Now().UnixMilli(),
	}
}
