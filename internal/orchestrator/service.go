package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"rtmp-orchestrator/internal/media"
	"rtmp-orchestrator/internal/platform/metrics"
	"rtmp-orchestrator/internal/ws"
)

// Notifier receives high-level lifecycle and alert events. Implementations
// must be best-effort and non-blocking; a delivery failure never propagates
// back into the orchestrator.
type Notifier interface {
	StreamStarted(streamKey string, info media.SourceInfo)
	StreamEnded(streamKey string, duration time.Duration, final *MetricSample)
	LowBitrate(streamKey string, bitrate, threshold int64)
	ForwardingStarted(destID int, destURL, destKey string)
	ForwardingStopped(destID int, destURL, destKey string)
	ForwardingEnded(destID int, destURL, destKey string)
	ForwardingError(destID int, destURL, destKey, errText string)
}

// Broadcaster pushes live-state changes to connected real-time subscribers.
// It must never block or fail the caller.
type Broadcaster interface {
	Broadcast(u ws.StreamUpdate)
}

// Service is the top-level orchestrator. It reacts to the two ingest
// lifecycle triggers and to control-plane forwarding requests, coordinating
// the session table, the recording and forwarding supervisors, the metrics
// sampler, and the event fan-out.
type Service struct {
	ctx           context.Context
	table         *SessionTable
	recorder      *Recorder
	forwarder     *Forwarder
	sampler       *Sampler
	broadcast     Broadcaster
	notifier      Notifier
	recordingsDir string
	log           *slog.Logger
	metrics       *metrics.Metrics
}

// NewService wires the orchestrator. ctx bounds the lifetime of every
// subprocess and sampler task the service spawns; cancelling it tears all of
// them down. Metrics may be nil to disable metric recording (e.g. in tests).
func NewService(ctx context.Context, table *SessionTable, rec *Recorder, fwd *Forwarder, smp *Sampler,
	broadcast Broadcaster, notifier Notifier, recordingsDir string, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		ctx:           ctx,
		table:         table,
		recorder:      rec,
		forwarder:     fwd,
		sampler:       smp,
		broadcast:     broadcast,
		notifier:      notifier,
		recordingsDir: recordingsDir,
		log:           log,
		metrics:       m,
	}
}

// HandlePublishStart reacts to the ingest "publish begins" event: it creates
// the session, starts the recording subprocess, and launches the sampler.
// A recording spawn failure is logged but does not tear the session down.
func (o *Service) HandlePublishStart(path StreamPath) error {
	sess := NewStreamSession(path, time.Now().UTC(), o.recordingsDir)
	if err := o.table.Insert(sess); err != nil {
		o.log.Warn("duplicate publish event ignored", slog.String("stream_path", string(path)))
		return err
	}

	o.log.Info("stream session created",
		slog.String("stream_path", string(path)),
		slog.String("stream_key", sess.Key))

	if err := o.recorder.Start(o.ctx, sess); err != nil {
		o.log.Error("recording start failed", slog.String("stream_key", sess.Key), slog.String("error", err.Error()))
	}
	o.sampler.Start(o.ctx, sess)

	if o.metrics != nil {
		o.metrics.IncStreamsStarted()
	}
	return nil
}

// HandlePublishDone reacts to the ingest "publish ends" event: it removes the
// session, cancels its sampler, stops all forwarding, flushes the metric log,
// and emits the terminal broadcast and notification. A duplicate event is a
// no-op.
func (o *Service) HandlePublishDone(path StreamPath) {
	sess, ok := o.table.Destroy(path)
	if !ok {
		return
	}

	// Wait the sampler out first so no sample is published after the
	// terminal broadcast.
	o.sampler.Stop(sess)
	o.forwarder.StopAll(sess)
	sess.stopRecording()

	if err := o.sampler.Flush(sess); err != nil {
		o.log.Error("metric log flush failed", slog.String("stream_key", sess.Key), slog.String("error", err.Error()))
	}

	duration := time.Since(sess.StartedAt)
	final := sess.Latest()

	o.broadcast.Broadcast(endedUpdate(sess.Key))
	o.notifier.StreamEnded(sess.Key, duration, final)

	o.log.Info("stream session destroyed",
		slog.String("stream_key", sess.Key),
		slog.Float64("duration_s", duration.Seconds()))

	if o.metrics != nil {
		o.metrics.IncStreamsEnded()
	}
}

// StartForward begins relaying the stream at path to the given destination.
func (o *Service) StartForward(path StreamPath, destID int, destURL, destKey string) error {
	err := o.forwarder.Start(o.ctx, path, destID, destURL, destKey)
	if err == nil && o.metrics != nil {
		o.metrics.IncForwardsStarted()
	}
	return err
}

// StopForward stops the relay of the stream at path to the given destination.
func (o *Service) StopForward(path StreamPath, destID int) error {
	err := o.forwarder.Stop(path, destID)
	if err == nil && o.metrics != nil {
		o.metrics.IncForwardsStopped()
	}
	return err
}

// LatestMetrics returns the latest metric snapshot of every live session.
func (o *Service) LatestMetrics() []MetricSnapshot {
	return o.table.LatestMetrics()
}
