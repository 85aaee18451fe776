package notify

import (
	"strings"
	"testing"
	"time"
)

func TestFormatBitrate(t *testing.T) {
	if got := formatBitrate(2500000); got != "2.50 Mbps" {
		t.Errorf("formatBitrate(2500000) = %q", got)
	}
	if got := formatBitrate(0); got != "N/A" {
		t.Errorf("formatBitrate(0) = %q, want N/A", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{90 * time.Second, "00:01:30"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
		{0, "00:00:00"},
	}
	for _, c := range cases {
		if got := formatDuration(c.in); got != c.want {
			t.Errorf("formatDuration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestForwardingMessage_oneBasedDestination(t *testing.T) {
	msg := forwardingMessage("▶️", "Forwarding Started", 0, "rtmp://a.example/live", "secret")
	if !strings.Contains(msg, "<b>Destination:</b> 1") {
		t.Errorf("destination id should be shown one-based: %s", msg)
	}
	if !strings.Contains(msg, "rtmp://a.example/live") || !strings.Contains(msg, "secret") {
		t.Errorf("message should carry url and key: %s", msg)
	}
}
