package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rtmp-orchestrator/internal/media"
	"rtmp-orchestrator/internal/orchestrator"
)

const sendQueueSize = 64

// Telegram delivers lifecycle and alert notifications to every Telegram chat
// that has subscribed with /start. The chat roster is persisted to a JSON
// file so subscriptions survive restarts. Delivery is asynchronous over a
// buffered queue; when the queue is full, messages are dropped and logged,
// never blocking the orchestrator.
type Telegram struct {
	bot         *tgbotapi.BotAPI
	chatIDsFile string
	log         *slog.Logger

	mu      sync.Mutex
	chatIDs map[int64]struct{}

	queue chan string
	done  chan struct{}
}

// NewTelegram connects the bot and loads the persisted chat roster.
func NewTelegram(token, chatIDsFile string, log *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}

	t := &Telegram{
		bot:         bot,
		chatIDsFile: chatIDsFile,
		log:         log,
		chatIDs:     make(map[int64]struct{}),
		queue:       make(chan string, sendQueueSize),
		done:        make(chan struct{}),
	}
	t.loadChatIDs()
	return t, nil
}

// Start launches the update-polling and delivery loops.
func (t *Telegram) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go t.commandLoop(updates)
	go t.sendLoop()
}

// Close stops polling and delivery. Queued messages are dropped.
func (t *Telegram) Close() {
	t.bot.StopReceivingUpdates()
	close(t.done)
}

// StreamStarted implements orchestrator.Notifier.
func (t *Telegram) StreamStarted(streamKey string, info media.SourceInfo) {
	t.enqueue(fmt.Sprintf(
		"🎥 <b>Stream Started</b>\n\n"+
			"Stream key: <code>%s</code>\n\n"+
			"<b>Stream Information:</b>\n"+
			"• Resolution: <code>%s</code>\n"+
			"• Video Codec: <code>%s</code>\n"+
			"• Audio Codec: <code>%s</code>\n"+
			"• Video Bitrate: <code>%s</code>\n"+
			"• Audio Bitrate: <code>%s</code>\n"+
			"• Total Bitrate: <code>%s</code>",
		streamKey, info.Resolution(), codecLabel(info.VideoCodec), codecLabel(info.AudioCodec),
		formatBitrate(info.VideoBitrate), formatBitrate(info.AudioBitrate), formatBitrate(info.TotalBitrate)))
}

// StreamEnded implements orchestrator.Notifier.
func (t *Telegram) StreamEnded(streamKey string, duration time.Duration, final *orchestrator.MetricSample) {
	msg := fmt.Sprintf(
		"🛑 <b>Stream Ended</b>\n\n"+
			"Stream key: <code>%s</code>\n"+
			"Duration: %s",
		streamKey, formatDuration(duration))

	if final != nil {
		msg += fmt.Sprintf(
			"\n\n<b>Final Stream Metrics:</b>\n"+
				"• Resolution: <code>%s</code>\n"+
				"• Video Codec: <code>%s</code>\n"+
				"• Audio Codec: <code>%s</code>\n"+
				"• Video Bitrate: <code>%s</code>\n"+
				"• Audio Bitrate: <code>%s</code>\n"+
				"• Total Bitrate: <code>%s</code>",
			final.Resolution, final.VideoCodec, final.AudioCodec,
			formatBitrate(final.VideoBitrate), formatBitrate(final.AudioBitrate), formatBitrate(final.TotalBitrate))
	}
	t.enqueue(msg)
}

// LowBitrate implements orchestrator.Notifier.
func (t *Telegram) LowBitrate(streamKey string, bitrate, threshold int64) {
	t.enqueue(fmt.Sprintf(
		"⚠️ <b>Low Bitrate Alert</b>\n\n"+
			"Stream key: <code>%s</code>\n"+
			"Current bitrate: <code>%s</code>\n"+
			"Threshold: <code>%s</code>",
		streamKey, formatBitrate(bitrate), formatBitrate(threshold)))
}

// ForwardingStarted implements orchestrator.Notifier.
func (t *Telegram) ForwardingStarted(destID int, destURL, destKey string) {
	t.enqueue(forwardingMessage("▶️", "Forwarding Started", destID, destURL, destKey))
}

// ForwardingStopped implements orchestrator.Notifier.
func (t *Telegram) ForwardingStopped(destID int, destURL, destKey string) {
	t.enqueue(forwardingMessage("⏹️", "Forwarding Stopped", destID, destURL, destKey))
}

// ForwardingEnded implements orchestrator.Notifier.
func (t *Telegram) ForwardingEnded(destID int, destURL, destKey string) {
	t.enqueue(forwardingMessage("⏹️", "Forwarding Ended", destID, destURL, destKey))
}

// ForwardingError implements orchestrator.Notifier.
func (t *Telegram) ForwardingError(destID int, destURL, destKey, errText string) {
	t.enqueue(forwardingMessage("❌", "Forwarding Error", destID, destURL, destKey) +
		fmt.Sprintf("\n<b>Error:</b> <code>%s</code>", errText))
}

func forwardingMessage(emoji, title string, destID int, destURL, destKey string) string {
	return fmt.Sprintf(
		"%s <b>%s</b>\n\n"+
			"<b>Destination:</b> %d\n"+
			"<b>RTMP URL:</b> <code>%s</code>\n"+
			"<b>RTMP Key:</b> <code>%s</code>",
		emoji, title, destID+1, destURL, destKey)
}

// formatBitrate renders bits per second as Mbps, or "N/A" for zero.
func formatBitrate(bitrate int64) string {
	if bitrate == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f Mbps", float64(bitrate)/1_000_000)
}

// formatDuration renders a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

func codecLabel(codec string) string {
	if codec == "" {
		return "N/A"
	}
	return codec
}

func (t *Telegram) enqueue(msg string) {
	select {
	case t.queue <- msg:
	default:
		t.log.Warn("notification queue full, dropping message")
	}
}

func (t *Telegram) sendLoop() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.queue:
			t.deliver(msg)
		}
	}
}

func (t *Telegram) deliver(text string) {
	for _, chatID := range t.roster() {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		if _, err := t.bot.Send(msg); err != nil {
			t.log.Warn("telegram send failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()))
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == 403 {
				// Bot was blocked; prune the chat.
				t.removeChat(chatID)
			}
		}
	}
}

func (t *Telegram) commandLoop(updates tgbotapi.UpdatesChannel) {
	for update := range updates {
		if update.Message == nil || !update.Message.IsCommand() {
			continue
		}
		if update.Message.Command() != "start" {
			continue
		}
		chatID := update.Message.Chat.ID
		t.addChat(chatID)

		reply := tgbotapi.NewMessage(chatID, "Welcome! You will now receive RTMP stream notifications.")
		if _, err := t.bot.Send(reply); err != nil {
			t.log.Warn("telegram welcome failed", slog.Int64("chat_id", chatID), slog.String("error", err.Error()))
		}
	}
}

func (t *Telegram) roster() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int64, 0, len(t.chatIDs))
	for id := range t.chatIDs {
		out = append(out, id)
	}
	return out
}

func (t *Telegram) addChat(chatID int64) {
	t.mu.Lock()
	t.chatIDs[chatID] = struct{}{}
	t.mu.Unlock()
	t.saveChatIDs()
	t.log.Info("telegram chat subscribed", slog.Int64("chat_id", chatID))
}

func (t *Telegram) removeChat(chatID int64) {
	t.mu.Lock()
	delete(t.chatIDs, chatID)
	t.mu.Unlock()
	t.saveChatIDs()
}

func (t *Telegram) loadChatIDs() {
	raw, err := os.ReadFile(t.chatIDsFile)
	if err != nil {
		if !os.IsNotExist(err) {
			t.log.Warn("load chat ids", slog.String("error", err.Error()))
		}
		return
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		t.log.Warn("parse chat ids", slog.String("error", err.Error()))
		return
	}
	t.mu.Lock()
	for _, id := range ids {
		t.chatIDs[id] = struct{}{}
	}
	t.mu.Unlock()
}

func (t *Telegram) saveChatIDs() {
	raw, err := json.Marshal(t.roster())
	if err == nil {
		err = os.WriteFile(t.chatIDsFile, raw, 0o644)
	}
	if err != nil {
		t.log.Warn("save chat ids", slog.String("error", err.Error()))
	}
}
