package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"rtmp-orchestrator/internal/media"
	"rtmp-orchestrator/internal/ws"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeProcess mimics a media subprocess: it reports exactly one exit on Done,
// either from Stop or from a test-triggered natural exit.
type fakeProcess struct {
	done chan error
	once sync.Once

	mu      sync.Mutex
	stopped bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan error, 1)}
}

func (p *fakeProcess) Done() <-chan error { return p.done }

func (p *fakeProcess) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.finish(nil)
}

// exit simulates the subprocess ending on its own.
func (p *fakeProcess) exit(err error) {
	p.finish(err)
}

func (p *fakeProcess) finish(err error) {
	p.once.Do(func() {
		p.done <- err
		close(p.done)
	})
}

func (p *fakeProcess) wasStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeRunner struct {
	mu            sync.Mutex
	recordings    []*fakeProcess
	forwards      []*fakeProcess
	failRecording bool
	failForward   bool
}

func (r *fakeRunner) StartRecording(ctx context.Context, sourceURL, outputPath string) (media.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failRecording {
		return nil, errors.New("recording spawn failed")
	}
	p := newFakeProcess()
	r.recordings = append(r.recordings, p)
	return p, nil
}

func (r *fakeRunner) StartForward(ctx context.Context, sourceURL, destination string) (media.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failForward {
		return nil, errors.New("forward spawn failed")
	}
	p := newFakeProcess()
	r.forwards = append(r.forwards, p)
	return p, nil
}

func (r *fakeRunner) lastForward(t *testing.T) *fakeProcess {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.forwards) == 0 {
		t.Fatal("no forward process was started")
	}
	return r.forwards[len(r.forwards)-1]
}

type fakeProber struct {
	mu    sync.Mutex
	info  media.SourceInfo
	err   error
	calls int
}

func (p *fakeProber) Probe(ctx context.Context, sourceURL string) (*media.SourceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	info := p.info
	return &info, nil
}

func (p *fakeProber) set(info media.SourceInfo, err error) {
	p.mu.Lock()
	p.info, p.err = info, err
	p.mu.Unlock()
}

type fakeNotifier struct {
	mu         sync.Mutex
	started    []string
	ended      []string
	lowBitrate []int64
	fwdStarted []int
	fwdStopped []int
	fwdEnded   []int
	fwdErrors  []int
}

func (n *fakeNotifier) StreamStarted(streamKey string, info media.SourceInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, streamKey)
}

func (n *fakeNotifier) StreamEnded(streamKey string, duration time.Duration, final *MetricSample) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, streamKey)
}

func (n *fakeNotifier) LowBitrate(streamKey string, bitrate, threshold int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lowBitrate = append(n.lowBitrate, bitrate)
}

func (n *fakeNotifier) ForwardingStarted(destID int, destURL, destKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fwdStarted = append(n.fwdStarted, destID)
}

func (n *fakeNotifier) ForwardingStopped(destID int, destURL, destKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fwdStopped = append(n.fwdStopped, destID)
}

func (n *fakeNotifier) ForwardingEnded(destID int, destURL, destKey string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fwdEnded = append(n.fwdEnded, destID)
}

func (n *fakeNotifier) ForwardingError(destID int, destURL, destKey, errText string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fwdErrors = append(n.fwdErrors, destID)
}

// terminalForwardEvents counts stopped + ended + error events, which must be
// exactly one per destination slot.
func (n *fakeNotifier) terminalForwardEvents() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.fwdStopped) + len(n.fwdEnded) + len(n.fwdErrors)
}

func (n *fakeNotifier) lowBitrateCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.lowBitrate)
}

type fakeBroadcaster struct {
	mu      sync.Mutex
	updates []ws.StreamUpdate
}

func (b *fakeBroadcaster) Broadcast(u ws.StreamUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, u)
}

func (b *fakeBroadcaster) all() []ws.StreamUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ws.StreamUpdate, len(b.updates))
	copy(out, b.updates)
	return out
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates)
}

// testEnv bundles a fully wired Service with its fakes.
type testEnv struct {
	table     *SessionTable
	runner    *fakeRunner
	prober    *fakeProber
	notifier  *fakeNotifier
	broadcast *fakeBroadcaster
	svc       *Service
	dir       string
}

func goodInfo() media.SourceInfo {
	return media.SourceInfo{
		VideoCodec:   "h264",
		AudioCodec:   "aac",
		Width:        1280,
		Height:       720,
		FrameRate:    30,
		VideoBitrate: 2_500_000,
		AudioBitrate: 128_000,
		TotalBitrate: 2_628_000,
	}
}

func newTestEnv(t *testing.T, interval time.Duration) *testEnv {
	t.Helper()
	log := testLogger()
	dir := t.TempDir()

	table := NewSessionTable()
	runner := &fakeRunner{}
	prober := &fakeProber{info: goodInfo()}
	notifier := &fakeNotifier{}
	broadcast := &fakeBroadcaster{}

	rec := NewRecorder(runner, prober, "rtmp://127.0.0.1:1935", notifier, log)
	fwd := NewForwarder(table, runner, "rtmp://127.0.0.1:1935", notifier, log)
	smp := NewSampler(table, prober, "rtmp://127.0.0.1:1935", interval, notifier, broadcast, log, nil)
	svc := NewService(context.Background(), table, rec, fwd, smp, broadcast, notifier, dir, log, nil)

	return &testEnv{
		table:     table,
		runner:    runner,
		prober:    prober,
		notifier:  notifier,
		broadcast: broadcast,
		svc:       svc,
		dir:       dir,
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
