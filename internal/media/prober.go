package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SourceInfo is the summarized result of one introspection probe against a
// live source or file. Bitrates are bits per second; missing or unparseable
// values are reported as zero.
type SourceInfo struct {
	VideoCodec   string
	AudioCodec   string
	Width        int
	Height       int
	FrameRate    float64
	VideoBitrate int64
	AudioBitrate int64
	TotalBitrate int64
}

// Resolution returns "WxH", or "N/A" when the source has no video stream.
func (i SourceInfo) Resolution() string {
	if i.Width == 0 || i.Height == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%dx%d", i.Width, i.Height)
}

// Prober issues one-shot introspection calls against a source URL.
type Prober interface {
	Probe(ctx context.Context, sourceURL string) (*SourceInfo, error)
}

// FFprobe is a Prober backed by the ffprobe command-line tool.
type FFprobe struct {
	path string
}

// NewFFprobe returns an FFprobe that invokes the given binary.
// If path is empty, "ffprobe" is resolved from PATH.
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

// Probe implements Prober by running ffprobe with JSON output.
func (f *FFprobe) Probe(ctx context.Context, sourceURL string) (*SourceInfo, error) {
	cmd := exec.CommandContext(ctx, f.path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourceURL)

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe %s: %w: %s", sourceURL, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe %s: %w", sourceURL, err)
	}

	return parseProbeOutput(out)
}

// probeOutput mirrors the subset of ffprobe's JSON document we consume.
type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	BitRate string `json:"bit_rate"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	BitRate    string `json:"bit_rate"`
}

func parseProbeOutput(raw []byte) (*SourceInfo, error) {
	var doc probeOutput
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &SourceInfo{TotalBitrate: parseBitrate(doc.Format.BitRate)}
	for _, s := range doc.Streams {
		switch s.CodecType {
		case "video":
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.FrameRate = parseFrameRate(s.RFrameRate)
			info.VideoBitrate = parseBitrate(s.BitRate)
		case "audio":
			if info.AudioCodec != "" {
				continue
			}
			info.AudioCodec = s.CodecName
			info.AudioBitrate = parseBitrate(s.BitRate)
		}
	}
	return info, nil
}

// parseFrameRate converts ffprobe's rational frame rate ("30000/1001") to a
// float. Absent or malformed values yield 0.
func parseFrameRate(rational string) float64 {
	if rational == "" {
		return 0
	}
	num, den := rational, "1"
	if i := strings.IndexByte(rational, '/'); i >= 0 {
		num, den = rational[:i], rational[i+1:]
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// parseBitrate converts ffprobe's string bitrate to bits per second, 0 if unparseable.
func parseBitrate(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
