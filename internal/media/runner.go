package media

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
)

// Process is a handle on one running media subprocess. The owner reads the
// exit error from Done (delivered exactly once, then the channel is closed)
// or terminates the subprocess early with Stop.
type Process interface {
	Done() <-chan error
	Stop()
}

// Runner starts copy-mode media subprocesses. Both operations run until the
// source ends, the process fails, or Stop is called.
type Runner interface {
	// StartRecording copies the live source, without re-encoding, into an
	// MPEG-TS container at outputPath.
	StartRecording(ctx context.Context, sourceURL, outputPath string) (Process, error)

	// StartForward relays the live source, without re-encoding, to an
	// external RTMP destination with low-latency input flags.
	StartForward(ctx context.Context, sourceURL, destination string) (Process, error)
}

// FFmpegRunner is a Runner backed by the ffmpeg command-line tool.
type FFmpegRunner struct {
	path    string
	threads int
	log     *slog.Logger
}

// NewFFmpegRunner returns an FFmpegRunner invoking the given binary.
// If path is empty, "ffmpeg" is resolved from PATH. Forward relays use
// max(2, NumCPU/2) output threads.
func NewFFmpegRunner(path string, log *slog.Logger) *FFmpegRunner {
	if path == "" {
		path = "ffmpeg"
	}
	threads := runtime.NumCPU() / 2
	if threads < 2 {
		threads = 2
	}
	return &FFmpegRunner{path: path, threads: threads, log: log}
}

// StartRecording implements Runner.StartRecording.
func (r *FFmpegRunner) StartRecording(ctx context.Context, sourceURL, outputPath string) (Process, error) {
	return r.start(ctx, recordingArgs(sourceURL, outputPath))
}

// StartForward implements Runner.StartForward.
func (r *FFmpegRunner) StartForward(ctx context.Context, sourceURL, destination string) (Process, error) {
	return r.start(ctx, forwardArgs(sourceURL, destination, r.threads))
}

func (r *FFmpegRunner) start(ctx context.Context, args []string) (Process, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, r.path, args...)

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start %s: %w", r.path, err)
	}

	r.log.Debug("media subprocess started",
		slog.Int("pid", cmd.Process.Pid),
		slog.Any("args", args))

	p := &process{cancel: cancel, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		if ctx.Err() != nil {
			// Killed by Stop; not a subprocess failure.
			err = nil
		}
		p.done <- err
		close(p.done)
	}()
	return p, nil
}

func recordingArgs(sourceURL, outputPath string) []string {
	return []string{
		"-i", sourceURL,
		"-c", "copy",
		"-f", "mpegts",
		"-muxdelay", "0",
		outputPath,
	}
}

func forwardArgs(sourceURL, destination string, threads int) []string {
	return []string{
		"-re",
		"-fflags", "nobuffer",
		"-flags", "low_delay",
		"-i", sourceURL,
		"-c", "copy",
		"-f", "flv",
		"-flvflags", "no_duration_filesize",
		"-threads", strconv.Itoa(threads),
		destination,
	}
}

type process struct {
	cancel context.CancelFunc
	done   chan error
}

func (p *process) Done() <-chan error { return p.done }

func (p *process) Stop() { p.cancel() }
