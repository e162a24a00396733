package service

import (
	"fmt"

	"media-scribe/app/config"
	"media-scribe/app/logger"

	"resty.dev/v3"
)

// TelegramNotifier 任务完成后的 Telegram 通知，尽力而为，失败只记日志
type TelegramNotifier struct {
	config config.TelegramConfig
	client *resty.Client
	log    *logger.Logger
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(cfg config.TelegramConfig, log *logger.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		config: cfg,
		client: resty.New(),
		log:    log,
	}
}

// Send 发送通知消息。未配置凭据时静默跳过。
func (n *TelegramNotifier) Send(message string) {
	if n.config.BotToken == "" || n.config.ChatID == "" {
		return
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.config.BotToken)
	resp, err := n.client.R().
		SetFormData(map[string]string{
			"chat_id":    n.config.ChatID,
			"text":       message,
			"parse_mode": "Markdown",
		}).
		Post(apiURL)
	if err != nil {
		n.log.Warnf("发送 Telegram 通知失败: %v", err)
		return
	}
	if resp.StatusCode() != 200 {
		n.log.Warnf("发送 Telegram 通知失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}
}
