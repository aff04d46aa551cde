package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"TrendRadar/internal/model"

	"github.com/sirupsen/logrus"
)

// Sink 告警推送出口。Emit失败由调用方记日志，不影响状态机
type Sink interface {
	Emit(ctx context.Context, alert *model.Alert, entityName string) error
}

// SlackSink 通过Incoming Webhook推送Block Kit消息。
// webhook地址为空时整体退化为no-op（本地开发默认形态）
type SlackSink struct {
	webhookURL string
	client     *http.Client
	logger     *logrus.Logger
}

func NewSlackSink(webhookURL string, logger *logrus.Logger) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (s *SlackSink) Emit(ctx context.Context, alert *model.Alert, entityName string) error {
	if s.webhookURL == "" {
		return nil
	}

	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]interface{}{
					"type": "plain_text",
					"text": fmt.Sprintf("📈 热度告警：%s", entityName),
				},
			},
			{
				"type": "section",
				"fields": []map[string]interface{}{
					{"type": "mrkdwn", "text": fmt.Sprintf("*热度:* %.2f", alert.Heat)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*置信度:* %.2f", alert.Confidence)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*速度z:* %.2f", alert.VelocityZ)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*覆盖:* %.2f", alert.Spread)},
				},
			},
			{
				"type": "context",
				"elements": []map[string]interface{}{
					{"type": "mrkdwn", "text": alert.Reasons},
				},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化Slack消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("推送Slack失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("推送Slack失败，状态码: %d", resp.StatusCode)
	}
	s.logger.WithFields(logrus.Fields{
		"alert_uuid": alert.AlertUUID,
		"entity":     entityName,
	}).Info("告警已推送Slack")
	return nil
}
