package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ZepixTrader/internal/domain/models"
	"ZepixTrader/pkg/http"
	"ZepixTrader/pkg/logger"
)

// LogSink writes events to the application log.
type LogSink struct{ logger *logger.Logger }

func NewLogSink(lgr *logger.Logger) *LogSink { return &LogSink{logger: lgr} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, e models.Event) error {
	fields := []logger.Field{
		logger.String("event", string(e.Type)),
		logger.String("symbol", e.Symbol),
	}
	if e.TradeID != "" {
		fields = append(fields, logger.String("trade_id", e.TradeID))
	}
	if e.ChainID != "" {
		fields = append(fields, logger.String("chain_id", e.ChainID))
	}
	switch e.Type {
	case models.EventInvariant:
		s.logger.Error(e.Message, fields...)
	case models.EventMonitorDegraded:
		s.logger.Warn(e.Message, fields...)
	default:
		s.logger.Info(e.Message, fields...)
	}
	return nil
}

// TelegramSink posts events to a chat through the Bot API sendMessage call.
type TelegramSink struct {
	client  *http.Client
	baseURL string
	token   string
	chatID  string
}

func NewTelegramSink(client *http.Client, baseURL, token, chatID string) *TelegramSink {
	return &TelegramSink{client: client, baseURL: strings.TrimRight(baseURL, "/"), token: token, chatID: chatID}
}

func (s *TelegramSink) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (s *TelegramSink) Send(ctx context.Context, e models.Event) error {
	var resp telegramResponse
	err := s.client.SendAndParse(ctx, &http.RequestOptions{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token),
		Body: map[string]interface{}{
			"chat_id":                  s.chatID,
			"text":                     Format(e),
			"disable_web_page_preview": true,
		},
	}, &resp)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram rejected: %s", resp.Description)
	}
	return nil
}

// Format renders an event as a short plain-text message.
func Format(e models.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", strings.ToUpper(string(e.Type)))
	if e.Symbol != "" {
		fmt.Fprintf(&b, " %s", e.Symbol)
	}
	b.WriteString("\n")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %s", k, e.Fields[k])
	}
	return b.String()
}
