package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/alert"
)

// TelegramNotifier pushes alert triggers through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram delivery channel.
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

// Deliver calls the sendMessage API with a rendered trigger.
func (n *TelegramNotifier) Deliver(ctx context.Context, trigger alert.Trigger) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(trigger),
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
		return fmt.Errorf("unexpected telegram status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("alert_id", trigger.AlertID).
		Str("pair", trigger.Pair.String()).
		Str("rate", trigger.ObservedRate.String()).
		Msg("alert delivered (Telegram)")
	return nil
}

func renderMessage(trigger alert.Trigger) string {
	builder := strings.Builder{}
	builder.WriteString("[RateWatch Alert]\n")
	builder.WriteString(fmt.Sprintf("Pair: %s\n", trigger.Pair))
	builder.WriteString(fmt.Sprintf("Rate: %s %s %s\n", trigger.ObservedRate.String(), trigger.Op, trigger.Threshold.String()))
	builder.WriteString(fmt.Sprintf("Fired: %s UTC\n", trigger.FiredAt.UTC().Format(time.RFC3339)))
	if trigger.Owner != "" {
		builder.WriteString(fmt.Sprintf("Owner: %s\n", trigger.Owner))
	}
	return builder.String()
}

var _ alert.Notifier = (*TelegramNotifier)(nil)
