package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"
)

func newTestSampler(env *testEnv, interval time.Duration) *Sampler {
	return NewSampler(env.table, env.prober, "rtmp://127.0.0.1:1935", interval, env.notifier, env.broadcast, testLogger(), nil)
}

func TestSampler_sampleAppendsAndBroadcasts(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, time.Hour)
	sess := publishTestStream(t, env, "/live/cam1")

	if !s.sample(context.Background(), sess) {
		t.Fatal("sample should keep running for a live session")
	}
	if !s.sample(context.Background(), sess) {
		t.Fatal("second sample should keep running")
	}

	samples := sess.Samples()
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Timestamp > samples[1].Timestamp {
		t.Error("metric log timestamps must be non-decreasing")
	}
	if samples[1].Duration < samples[0].Duration {
		t.Error("elapsed duration must grow between samples")
	}
	if samples[0].VideoCodec != "h264" || samples[0].Resolution != "1280x720" {
		t.Errorf("unexpected sample: %+v", samples[0])
	}

	updates := env.broadcast.all()
	if len(updates) != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", len(updates))
	}
	if !updates[0].IsActive || updates[0].StreamKey != "cam1" {
		t.Errorf("unexpected broadcast: %+v", updates[0])
	}
	if latest := sess.Latest(); latest == nil || latest.Timestamp != samples[1].Timestamp {
		t.Errorf("latest sample cache not updated: %+v", latest)
	}
}

func TestSampler_lowBitrateAlert(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, time.Hour)
	sess := publishTestStream(t, env, "/live/cam1")

	info := goodInfo()
	info.VideoBitrate = 1_500_000
	env.prober.set(info, nil)
	_ = s.sample(context.Background(), sess)
	if env.notifier.lowBitrateCount() != 1 {
		t.Errorf("bitrate 1.5M: alerts = %d, want 1", env.notifier.lowBitrateCount())
	}

	// Re-alerts on every qualifying cycle.
	_ = s.sample(context.Background(), sess)
	if env.notifier.lowBitrateCount() != 2 {
		t.Errorf("second qualifying cycle: alerts = %d, want 2", env.notifier.lowBitrateCount())
	}

	// Zero bitrate is unknown, not low.
	info.VideoBitrate = 0
	env.prober.set(info, nil)
	_ = s.sample(context.Background(), sess)
	if env.notifier.lowBitrateCount() != 2 {
		t.Errorf("zero bitrate must not alert: %d", env.notifier.lowBitrateCount())
	}

	info.VideoBitrate = 2_500_000
	env.prober.set(info, nil)
	_ = s.sample(context.Background(), sess)
	if env.notifier.lowBitrateCount() != 2 {
		t.Errorf("healthy bitrate must not alert: %d", env.notifier.lowBitrateCount())
	}
}

func TestSampler_probeFailureSkipsCycle(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, time.Hour)
	sess := publishTestStream(t, env, "/live/cam1")

	env.prober.set(goodInfo(), errors.New("probe timed out"))
	if !s.sample(context.Background(), sess) {
		t.Error("probe failure must not terminate the sampler")
	}
	if len(sess.Samples()) != 0 {
		t.Error("failed probe must not append a sample")
	}
	if env.broadcast.count() != 0 {
		t.Error("failed probe must not broadcast")
	}
	if _, ok := env.table.Get("/live/cam1"); !ok {
		t.Error("failed probe must not remove the session")
	}
}

func TestSampler_staleSessionSelfTerminates(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, time.Hour)
	sess := NewStreamSession("/live/cam1", time.Now().UTC(), env.dir)

	// Session never entered (or already left) the table.
	if s.sample(context.Background(), sess) {
		t.Error("sampler must cancel itself for a stale session")
	}
	if env.prober.calls != 0 {
		t.Error("stale session must not be probed")
	}
}

func TestSampler_StartStop(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, 10*time.Millisecond)
	sess := publishTestStream(t, env, "/live/cam1")

	s.Start(context.Background(), sess)
	waitFor(t, "periodic samples", func() bool { return env.broadcast.count() >= 2 })

	s.Stop(sess)
	n := env.broadcast.count()
	time.Sleep(50 * time.Millisecond)
	if env.broadcast.count() != n {
		t.Error("no broadcast may happen after Stop returns")
	}
}

func TestSampler_StopWithoutStart(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, time.Hour)
	sess := NewStreamSession("/live/cam1", time.Now().UTC(), env.dir)

	// Must not panic or block.
	s.Stop(sess)
}

func TestSampler_Flush(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, time.Hour)
	sess := publishTestStream(t, env, "/live/cam1")

	_ = s.sample(context.Background(), sess)
	_ = s.sample(context.Background(), sess)

	if err := s.Flush(sess); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	raw, err := os.ReadFile(sess.MetricsFile)
	if err != nil {
		t.Fatalf("read flushed log: %v", err)
	}
	var flushed []MetricSample
	if err := json.Unmarshal(raw, &flushed); err != nil {
		t.Fatalf("unmarshal flushed log: %v", err)
	}
	if len(flushed) != 2 || flushed[0].StreamKey != "cam1" {
		t.Errorf("unexpected flushed log: %+v", flushed)
	}
}

func TestSampler_FlushEmptyLogWritesNothing(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	s := newTestSampler(env, time.Hour)
	sess := publishTestStream(t, env, "/live/cam1")

	if err := s.Flush(sess); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(sess.MetricsFile); !os.IsNotExist(err) {
		t.Error("empty metric log must not create a file")
	}
}
