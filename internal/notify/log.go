package notify

import (
	"log/slog"
	"time"

	"rtmp-orchestrator/internal/media"
	"rtmp-orchestrator/internal/orchestrator"
)

// Log is a Notifier that writes every event to the structured log. It is the
// fallback when no Telegram token is configured.
type Log struct {
	log *slog.Logger
}

// NewLog returns a log-only notifier.
func NewLog(log *slog.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) StreamStarted(streamKey string, info media.SourceInfo) {
	l.log.Info("notification: stream started",
		slog.String("stream_key", streamKey),
		slog.String("resolution", info.Resolution()),
		slog.String("video_codec", info.VideoCodec),
		slog.String("audio_codec", info.AudioCodec))
}

func (l *Log) StreamEnded(streamKey string, duration time.Duration, final *orchestrator.MetricSample) {
	l.log.Info("notification: stream ended",
		slog.String("stream_key", streamKey),
		slog.String("duration", formatDuration(duration)))
}

func (l *Log) LowBitrate(streamKey string, bitrate, threshold int64) {
	l.log.Warn("notification: low bitrate",
		slog.String("stream_key", streamKey),
		slog.String("bitrate", formatBitrate(bitrate)),
		slog.String("threshold", formatBitrate(threshold)))
}

func (l *Log) ForwardingStarted(destID int, destURL, destKey string) {
	l.log.Info("notification: forwarding started", slog.Int("destination_id", destID), slog.String("url", destURL))
}

func (l *Log) ForwardingStopped(destID int, destURL, destKey string) {
	l.log.Info("notification: forwarding stopped", slog.Int("destination_id", destID), slog.String("url", destURL))
}

func (l *Log) ForwardingEnded(destID int, destURL, destKey string) {
	l.log.Info("notification: forwarding ended", slog.Int("destination_id", destID), slog.String("url", destURL))
}

func (l *Log) ForwardingError(destID int, destURL, destKey, errText string) {
	l.log.Error("notification: forwarding error",
		slog.Int("destination_id", destID),
		slog.String("url", destURL),
		slog.String("error", errText))
}
