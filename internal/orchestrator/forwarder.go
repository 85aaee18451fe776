package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"rtmp-orchestrator/internal/media"
)

// Forwarder supervises the relay subprocesses of each session, keyed by
// destination identifier. A destination slot only ever moves through
// absent -> starting -> active -> absent, and removal happens exactly once
// per slot no matter which of natural exit, explicit stop, or session
// teardown gets there first.
type Forwarder struct {
	table    *SessionTable
	runner   media.Runner
	baseURL  string
	notifier Notifier
	log      *slog.Logger
}

// NewForwarder returns a Forwarder relaying sessions' live sources, reachable
// under baseURL, to external RTMP destinations.
func NewForwarder(table *SessionTable, runner media.Runner, baseURL string, notifier Notifier, log *slog.Logger) *Forwarder {
	return &Forwarder{table: table, runner: runner, baseURL: baseURL, notifier: notifier, log: log}
}

// Start begins forwarding the stream at path to destURL/destKey. It fails
// with ErrSessionNotFound if the stream is not live and ErrAlreadyForwarding
// if the destination slot is taken. The slot is reserved before the
// subprocess spawns so two relays can never coexist for one destination.
func (f *Forwarder) Start(ctx context.Context, path StreamPath, destID int, destURL, destKey string) error {
	sess, ok := f.table.Get(path)
	if !ok {
		return ErrSessionNotFound
	}

	if _, err := sess.reserveForward(destID, destURL, destKey); err != nil {
		return err
	}

	p, err := f.runner.StartForward(ctx, f.baseURL+string(path), destURL+"/"+destKey)
	if err != nil {
		sess.removeForward(destID)
		return fmt.Errorf("start forwarding to destination %d: %w", destID, err)
	}

	if !sess.activateForward(destID, p) {
		// Session was torn down while the relay was starting; teardown
		// already emitted the terminal event for this slot.
		p.Stop()
		return nil
	}

	f.log.Info("forwarding started",
		slog.String("stream_key", sess.Key),
		slog.Int("destination_id", destID),
		slog.String("destination_url", destURL))
	f.notifier.ForwardingStarted(destID, destURL, destKey)

	go f.watch(sess, destID, p)
	return nil
}

// watch reaps the relay subprocess when it exits on its own. Whoever wins the
// slot removal emits the terminal event; a concurrent explicit stop or
// teardown leaves nothing to do here.
func (f *Forwarder) watch(sess *StreamSession, destID int, p media.Process) {
	err := <-p.Done()

	ft, ok := sess.removeForward(destID)
	if !ok {
		return
	}

	if err != nil {
		f.log.Error("forwarding error",
			slog.String("stream_key", sess.Key),
			slog.Int("destination_id", destID),
			slog.String("error", err.Error()))
		f.notifier.ForwardingError(ft.DestinationID, ft.DestinationURL, ft.DestinationKey, err.Error())
		return
	}

	f.log.Info("forwarding ended",
		slog.String("stream_key", sess.Key),
		slog.Int("destination_id", destID))
	f.notifier.ForwardingEnded(ft.DestinationID, ft.DestinationURL, ft.DestinationKey)
}

// Stop terminates the relay to destID for the stream at path. It fails with
// ErrSessionNotFound if the stream is not live and ErrNotForwarding if no
// relay exists for the destination.
func (f *Forwarder) Stop(path StreamPath, destID int) error {
	sess, ok := f.table.Get(path)
	if !ok {
		return ErrSessionNotFound
	}

	ft, ok := sess.removeForward(destID)
	if !ok {
		return ErrNotForwarding
	}
	if ft.process != nil {
		ft.process.Stop()
	}

	f.log.Info("forwarding stopped",
		slog.String("stream_key", sess.Key),
		slog.Int("destination_id", destID))
	f.notifier.ForwardingStopped(ft.DestinationID, ft.DestinationURL, ft.DestinationKey)
	return nil
}

// StopAll terminates every remaining relay of sess at session teardown,
// emitting one terminal event per destination.
func (f *Forwarder) StopAll(sess *StreamSession) {
	for _, ft := range sess.takeForwards() {
		if ft.process != nil {
			ft.process.Stop()
		}
		f.log.Info("forwarding ended with session",
			slog.String("stream_key", sess.Key),
			slog.Int("destination_id", ft.DestinationID))
		f.notifier.ForwardingEnded(ft.DestinationID, ft.DestinationURL, ft.DestinationKey)
	}
}
