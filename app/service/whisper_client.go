package service

import (
	"errors"
	"fmt"

	"media-scribe/app/config"
	"media-scribe/app/logger"

	"resty.dev/v3"
)

// WhisperClient 调用兼容 OpenAI 接口的转录服务
type WhisperClient struct {
	config config.WhisperConfig
	client *resty.Client
	log    *logger.Logger
}

// NewWhisperClient 创建转录服务客户端
func NewWhisperClient(cfg config.WhisperConfig, log *logger.Logger) *WhisperClient {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &WhisperClient{
		config: cfg,
		client: client,
		log:    log,
	}
}

// Transcribe 上传音频文件并返回 SRT 格式的字幕文本
func (w *WhisperClient) Transcribe(audioPath string) (string, error) {
	if w.config.BaseURL == "" {
		return "", errors.New("未配置转录服务地址")
	}

	resp, err := w.client.R().
		SetFile("file", audioPath).
		SetFormData(map[string]string{
			"model":           w.config.Model,
			"language":        w.config.Language,
			"response_format": "srt",
		}).
		Post("/v1/audio/transcriptions")
	if err != nil {
		return "", fmt.Errorf("请求转录服务失败: %w", err)
	}

	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("转录失败，状态码: %d, 响应: %s", resp.StatusCode(), resp.String())
	}

	srt := resp.String()
	if srt == "" {
		return "", errors.New("转录服务返回了空字幕")
	}
	return srt, nil
}
