package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"vitalwatch/internal/display"
	"vitalwatch/internal/model"
)

// Notification 封装一次新触发告警的上下文。
type Notification struct {
	SubjectID  string
	RaisedAt   time.Time
	Conditions []Condition
	Vitals     model.VitalSigns
	Movement   model.MovementData
	Location   model.LocationContext
	Channels   []string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *resty.Client
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

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetDisableWarn(true).
		SetHeader("Content-Type", "application/json")

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetPathParam("token", n.botToken).
		SetBody(map[string]string{
			"chat_id": n.chatID,
			"text":    renderMessage(note),
		}).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode())
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false")
	}

	n.logger.Info().Str("subject", note.SubjectID).
		Int("conditions", len(note.Conditions)).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Vital Alert]\n")
	builder.WriteString(fmt.Sprintf("Subject: %s\n", note.SubjectID))
	builder.WriteString(fmt.Sprintf("Raised: %s UTC\n", note.RaisedAt.UTC().Format(time.RFC3339)))
	for _, c := range note.Conditions {
		builder.WriteString(fmt.Sprintf("- %s\n", c.Summary))
	}
	v := note.Vitals
	builder.WriteString(fmt.Sprintf("HR %s BPM | SpO2 %s%% | RR %s/min | BP %s mmHg\n",
		display.Whole(v.HeartRate),
		display.Whole(v.SpO2),
		display.Whole(v.RespiratoryRate),
		display.BloodPressure(v.BloodPressure.Systolic, v.BloodPressure.Diastolic),
	))
	if mv := note.Movement; mv.ActivityState != "" {
		builder.WriteString(fmt.Sprintf("Activity: %s, %s min since last movement\n",
			mv.ActivityState, display.Fixed(mv.MinutesSinceLastMovement, 1)))
	}
	if loc := note.Location; loc.LocationType != "" {
		builder.WriteString(fmt.Sprintf("Location: %s (%s, %s)\n",
			loc.LocationType,
			display.Coordinate(loc.GPSCoordinates.Latitude),
			display.Coordinate(loc.GPSCoordinates.Longitude),
		))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
