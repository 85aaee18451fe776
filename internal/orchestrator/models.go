package orchestrator

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rtmp-orchestrator/internal/media"
)

// StreamPath uniquely identifies the ingest mount point of a live stream,
// e.g. "/live/cam1" (application namespace + stream key).
type StreamPath string

// Key returns the human-facing stream key portion of the path
// ("/live/cam1" -> "cam1").
func (p StreamPath) Key() string {
	parts := strings.Split(string(p), "/")
	if len(parts) >= 3 {
		return parts[2]
	}
	return strings.Trim(string(p), "/")
}

// MetricSample is one immutable snapshot of stream quality metrics.
// This also matches the JSON layout of the flushed metric log and of the
// /api/metrics response. Timestamp is unix milliseconds; Duration is seconds
// since session start.
type MetricSample struct {
	Timestamp    int64   `json:"timestamp"`
	StreamKey    string  `json:"streamKey"`
	VideoCodec   string  `json:"videoCodec"`
	AudioCodec   string  `json:"audioCodec"`
	Resolution   string  `json:"resolution"`
	FrameRate    float64 `json:"frameRate"`
	VideoBitrate int64   `json:"videoBitrate"`
	AudioBitrate int64   `json:"audioBitrate"`
	TotalBitrate int64   `json:"totalBitrate"`
	Duration     float64 `json:"duration"`
}

// MetricSnapshot pairs the latest sample of a live session with its stream
// path for the cross-session metrics listing.
type MetricSnapshot struct {
	StreamPath string `json:"streamPath"`
	MetricSample
}

// ForwardTarget is one active relay destination within a session. It owns the
// relay subprocess exclusively; process is nil while the relay is starting.
type ForwardTarget struct {
	DestinationID  int
	DestinationURL string
	DestinationKey string

	process media.Process
}

// StreamSession is the in-memory state of one currently-live stream,
// created at publish-begin and destroyed at publish-end. The descriptive
// fields are fixed for the session's lifetime; the mutable state (forward
// targets, metric log, latest sample) is guarded by mu.
type StreamSession struct {
	Path          StreamPath
	Key           string
	StartedAt     time.Time
	RecordingFile string
	MetricsFile   string

	mu       sync.Mutex
	forwards map[int]*ForwardTarget
	log      []MetricSample
	latest   *MetricSample

	recording media.Process
	sampler   *samplerTask
}

// NewStreamSession builds a session for path started at startedAt, deriving
// the recording and metric-log target paths under dir. The timestamp carries
// millisecond resolution so two sessions for the same key never collide.
func NewStreamSession(path StreamPath, startedAt time.Time, dir string) *StreamSession {
	key := path.Key()
	ts := targetTimestamp(startedAt)
	return &StreamSession{
		Path:          path,
		Key:           key,
		StartedAt:     startedAt,
		RecordingFile: filepath.Join(dir, fmt.Sprintf("%s_%s.ts", key, ts)),
		MetricsFile:   filepath.Join(dir, fmt.Sprintf("%s_%s_metrics.json", key, ts)),
		forwards:      make(map[int]*ForwardTarget),
	}
}

// targetTimestamp renders t as an RFC 3339 UTC timestamp with ':' and '.'
// replaced so it is safe inside a file name.
func targetTimestamp(t time.Time) string {
	iso := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(iso)
}

// reserveForward claims the destination slot for a relay that is about to be
// spawned. It fails with ErrAlreadyForwarding if the slot is taken.
func (s *StreamSession) reserveForward(destID int, destURL, destKey string) (*ForwardTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.forwards[destID]; exists {
		return nil, ErrAlreadyForwarding
	}
	ft := &ForwardTarget{DestinationID: destID, DestinationURL: destURL, DestinationKey: destKey}
	s.forwards[destID] = ft
	return ft, nil
}

// activateForward attaches the spawned subprocess to a reserved slot. It
// reports false if the slot was removed while the subprocess was starting,
// in which case the caller owns cleanup of the process.
func (s *StreamSession) activateForward(destID int, p media.Process) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft, ok := s.forwards[destID]
	if !ok {
		return false
	}
	ft.process = p
	return true
}

// removeForward removes the destination slot. Exactly one caller observes
// ok=true per slot; that caller emits the terminal event for the relay.
func (s *StreamSession) removeForward(destID int) (*ForwardTarget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft, ok := s.forwards[destID]
	if ok {
		delete(s.forwards, destID)
	}
	return ft, ok
}

// takeForwards removes and returns every remaining destination slot.
func (s *StreamSession) takeForwards() []*ForwardTarget {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ForwardTarget, 0, len(s.forwards))
	for _, ft := range s.forwards {
		out = append(out, ft)
	}
	s.forwards = make(map[int]*ForwardTarget)
	return out
}

// ForwardCount returns the number of active destination slots.
func (s *StreamSession) ForwardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.forwards)
}

// appendSample records one sample in the metric log and replaces the latest
// sample cache.
func (s *StreamSession) appendSample(sample MetricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, sample)
	s.latest = &sample
}

// Latest returns a copy of the most recent sample, or nil if none was taken.
func (s *StreamSession) Latest() *MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	cp := *s.latest
	return &cp
}

// Samples returns a copy of the accumulated metric log.
func (s *StreamSession) Samples() []MetricSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]MetricSample, len(s.log))
	copy(out, s.log)
	return out
}

func (s *StreamSession) setSamplerTask(t *samplerTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampler = t
}

func (s *StreamSession) samplerTask() *samplerTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampler
}

func (s *StreamSession) setRecording(p media.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = p
}

// stopRecording terminates the recording subprocess if one is still attached.
// The subprocess normally exits on its own once the source disappears; this is
// the teardown backstop for one that does not.
func (s *StreamSession) stopRecording() {
	s.mu.Lock()
	p := s.recording
	s.recording = nil
	s.mu.Unlock()
	if p != nil {
		p.Stop()
	}
}
