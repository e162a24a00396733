package service

import (
	"errors"
	"fmt"

	"media-scribe/app/config"
	"media-scribe/app/logger"

	"resty.dev/v3"
)

// 结构化摘要的系统提示词
const summarySystemPrompt = `你是一个专业的内容摘要助手。请根据用户提供的字幕内容生成结构化摘要，包括：
1. 内容概述（两三句话）
2. 核心要点（条列式）
3. 值得注意的细节
请使用与字幕相同的语言输出。`

// SummaryService 调用兼容 OpenAI 接口的摘要服务
type SummaryService struct {
	config config.SummaryConfig
	client *resty.Client
	log    *logger.Logger
}

// NewSummaryService 创建摘要服务客户端
func NewSummaryService(cfg config.SummaryConfig, log *logger.Logger) *SummaryService {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &SummaryService{
		config: cfg,
		client: client,
		log:    log,
	}
}

// Enabled 是否配置了摘要服务
func (s *SummaryService) Enabled() bool {
	return s.config.BaseURL != "" && s.config.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize 根据字幕内容生成结构化摘要
func (s *SummaryService) Summarize(subtitleContent, title string) (string, error) {
	if !s.Enabled() {
		return "", errors.New("未配置摘要服务")
	}

	userPrompt := subtitleContent
	if title != "" {
		userPrompt = "标题: " + title + "\n\n" + subtitleContent
	}

	var result chatCompletionResponse
	resp, err := s.client.R().
		SetBody(chatCompletionRequest{
			Model: s.config.Model,
			Messages: []chatMessage{
				{Role: "system", Content: summarySystemPrompt},
				{Role: "user", Content: userPrompt},
			},
		}).
		SetResult(&result).
		Post("/v1/chat/completions")
	if err != nil {
		return "", fmt.Errorf("请求摘要服务失败: %w", err)
	}

	if resp.StatusCode() != 200 {
		if result.Error != nil {
			return "", fmt.Errorf("摘要生成失败: %s", result.Error.Message)
		}
		return "", fmt.Errorf("摘要生成失败，状态码: %d", resp.StatusCode())
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", errors.New("摘要服务返回了空内容")
	}
	return result.Choices[0].Message.Content, nil
}
