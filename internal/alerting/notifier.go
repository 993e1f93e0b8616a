package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crop-sell-advisor/internal/model"
)

// Channel names understood by the router.
const (
	ChannelLog      = "log"
	ChannelTelegram = "telegram"
	ChannelWebhook  = "webhook"
)

// Priority 标记通知的紧急程度。
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ErrUnknownChannel is returned when a notification names an unregistered channel.
var ErrUnknownChannel = errors.New("unknown notification channel")

// Notification 封装一次推送的上下文。
type Notification struct {
	UserID    int64
	Kind      model.NotificationKind
	Crop      string
	Title     string
	Message   string
	Priority  Priority
	Price     *decimal.Decimal
	Channels  []string
	Timestamp time.Time
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return errors.New("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("crop", note.Crop).
		Str("kind", string(note.Kind)).
		Str("priority", string(note.Priority)).
		Msg("告警已发送 (Telegram)")
	return nil
}

// WebhookNotifier POSTs the notification as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewWebhookNotifier 构造 webhook 告警器。
func NewWebhookNotifier(url string, timeout time.Duration, logger zerolog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "alert_webhook").Logger(),
	}
}

type webhookPayload struct {
	UserID    int64   `json:"user_id"`
	Kind      string  `json:"kind"`
	Crop      string  `json:"crop"`
	Title     string  `json:"title"`
	Message   string  `json:"message"`
	Priority  string  `json:"priority"`
	Price     *string `json:"price,omitempty"`
	Timestamp string  `json:"timestamp"`
}

// Notify implements Notifier.
func (n *WebhookNotifier) Notify(ctx context.Context, note Notification) error {
	payload := webhookPayload{
		UserID:    note.UserID,
		Kind:      string(note.Kind),
		Crop:      note.Crop,
		Title:     note.Title,
		Message:   note.Message,
		Priority:  string(note.Priority),
		Timestamp: note.Timestamp.UTC().Format(time.RFC3339),
	}
	if note.Price != nil {
		price := note.Price.StringFixed(2)
		payload.Price = &price
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 响应码异常: %d", resp.StatusCode)
	}
	n.logger.Debug().Str("crop", note.Crop).Str("kind", string(note.Kind)).Msg("webhook delivered")
	return nil
}

// LogNotifier writes notifications to the structured log. It never fails.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造控制台告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	event := n.logger.Info().
		Int64("user_id", note.UserID).
		Str("kind", string(note.Kind)).
		Str("crop", note.Crop).
		Str("priority", string(note.Priority)).
		Str("title", note.Title)
	if note.Price != nil {
		event = event.Str("price", note.Price.StringFixed(2))
	}
	event.Msg(note.Message)
	return nil
}

// Router fans a notification out to each of its named channels.
type Router struct {
	notifiers map[string]Notifier
	defaults  []string
}

// NewRouter returns a router that uses defaults when a notification names no channel.
func NewRouter(defaults []string) *Router {
	return &Router{notifiers: make(map[string]Notifier), defaults: defaults}
}

// Register binds a channel name to a notifier.
func (r *Router) Register(channel string, n Notifier) {
	r.notifiers[strings.ToLower(channel)] = n
}

// Channels lists the registered channel names.
func (r *Router) Channels() []string {
	out := make([]string, 0, len(r.notifiers))
	for name := range r.notifiers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Notify delivers to every channel and joins the failures. A failing channel
// does not stop delivery to the others.
func (r *Router) Notify(ctx context.Context, note Notification) error {
	channels := note.Channels
	if len(channels) == 0 {
		channels = r.defaults
	}
	var errs []error
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		ch = strings.ToLower(strings.TrimSpace(ch))
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		n, ok := r.notifiers[ch]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownChannel, ch))
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s]\n", note.Title))
	builder.WriteString(note.Message)
	builder.WriteString("\n")
	if note.Price != nil {
		builder.WriteString(fmt.Sprintf("Price: ₹%s\n", note.Price.StringFixed(2)))
	}
	builder.WriteString(fmt.Sprintf("Priority: %s\n", note.Priority))
	if !note.Timestamp.IsZero() {
		builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.Timestamp.UTC().Format("2006-01-02 15:04")))
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*WebhookNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Router)(nil)
)
