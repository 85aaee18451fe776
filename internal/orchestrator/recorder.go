package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"rtmp-orchestrator/internal/media"
)

// Recorder supervises the single persistence subprocess of each session. It
// also issues the initial introspection probe that feeds the stream-started
// notification.
type Recorder struct {
	runner   media.Runner
	prober   media.Prober
	baseURL  string
	notifier Notifier
	log      *slog.Logger
}

// NewRecorder returns a Recorder that copies sessions' live sources, reachable
// under baseURL, into their recording targets.
func NewRecorder(runner media.Runner, prober media.Prober, baseURL string, notifier Notifier, log *slog.Logger) *Recorder {
	return &Recorder{runner: runner, prober: prober, baseURL: baseURL, notifier: notifier, log: log}
}

// Start launches the recording subprocess for sess and fires the initial
// probe. The probe runs in the background and must not delay recording; its
// failure only costs the stream-started notification its stream info.
func (r *Recorder) Start(ctx context.Context, sess *StreamSession) error {
	source := r.baseURL + string(sess.Path)

	go r.probeStart(ctx, sess, source)

	p, err := r.runner.StartRecording(ctx, source, sess.RecordingFile)
	if err != nil {
		return fmt.Errorf("start recording for %s: %w", sess.Key, err)
	}
	sess.setRecording(p)

	r.log.Info("recording started",
		slog.String("stream_key", sess.Key),
		slog.String("file", sess.RecordingFile))

	// The subprocess exits on its own when the source disappears. Failure is
	// terminal to the recording only, never to the session.
	go func() {
		if err := <-p.Done(); err != nil {
			r.log.Error("recording error",
				slog.String("stream_key", sess.Key),
				slog.String("file", sess.RecordingFile),
				slog.String("error", err.Error()))
			return
		}
		r.log.Info("recording finished",
			slog.String("stream_key", sess.Key),
			slog.String("file", sess.RecordingFile))
	}()
	return nil
}

func (r *Recorder) probeStart(ctx context.Context, sess *StreamSession, source string) {
	info, err := r.prober.Probe(ctx, source)
	if err != nil {
		r.log.Warn("initial probe failed",
			slog.String("stream_key", sess.Key),
			slog.String("error", err.Error()))
		return
	}
	r.notifier.StreamStarted(sess.Key, *info)
}
