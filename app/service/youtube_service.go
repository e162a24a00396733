package service

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"media-scribe/app/config"
	"media-scribe/app/logger"

	"github.com/disintegration/imaging"
	"github.com/patrickmn/go-cache"
	"resty.dev/v3"
)

// 常见的 YouTube 视频ID提取模式
var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:v=|/v/|youtu\.be/|/embed/|/shorts/)([A-Za-z0-9_-]{11})`),
}

// YouTubeService 负责 YouTube 视频的元数据查询、媒体下载和封面获取
type YouTubeService struct {
	config config.YouTubeConfig
	client *resty.Client
	log    *logger.Logger

	// oEmbed 元数据缓存，避免同一链接反复请求
	metaCache *cache.Cache
}

// NewYouTubeService 创建 YouTube 服务
func NewYouTubeService(cfg config.YouTubeConfig, log *logger.Logger) *YouTubeService {
	return &YouTubeService{
		config:    cfg,
		client:    resty.New(),
		log:       log,
		metaCache: cache.New(24*time.Hour, time.Hour),
	}
}

// ExtractVideoID 从 YouTube 链接中提取视频ID
func ExtractVideoID(url string) string {
	for _, pattern := range youtubeIDPatterns {
		if m := pattern.FindStringSubmatch(url); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

type oembedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
}

// ResolveTitle 通过 oEmbed 接口查询视频标题，结果缓存 24 小时。
// 查询失败时返回空串，由调用方决定回退行为。
func (y *YouTubeService) ResolveTitle(url string) string {
	if title, found := y.metaCache.Get(url); found {
		return title.(string)
	}

	var result oembedResponse
	resp, err := y.client.R().
		SetQueryParams(map[string]string{
			"url":    url,
			"format": "json",
		}).
		SetResult(&result).
		Get("https://www.youtube.com/oembed")
	if err != nil || resp.StatusCode() != 200 {
		y.log.Warnf("查询 YouTube 标题失败: URL=%s", url)
		return ""
	}

	y.metaCache.Set(url, result.Title, cache.DefaultExpiration)
	return result.Title
}

// Download 使用 yt-dlp 下载媒体到指定目录，返回下载文件的路径。
// cancelled 返回 true 时终止下载进程并返回 ErrProcessingCancelled。
func (y *YouTubeService) Download(url, destDir, baseName string, cancelled func() bool) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("创建下载目录失败: %w", err)
	}

	outputTemplate := filepath.Join(destDir, baseName+".%(ext)s")
	cmd := exec.Command(y.config.YtdlpPath,
		"--no-playlist",
		"-f", y.config.Format,
		"-o", outputTemplate,
		url,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("启动 yt-dlp 失败: %w", err)
	}

	// 监视协作取消信号，观察到后终止下载进程
	done := make(chan struct{})
	aborted := make(chan struct{})
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if cancelled() {
					close(aborted)
					_ = cmd.Process.Kill()
					return
				}
			}
		}
	}()

	err := cmd.Wait()
	close(done)

	select {
	case <-aborted:
		return "", ErrProcessingCancelled
	default:
	}

	if err != nil {
		return "", fmt.Errorf("yt-dlp 下载失败: %v, 输出: %s", err, strings.TrimSpace(stderr.String()))
	}

	// 输出模板里的扩展名由 yt-dlp 决定，下载完成后按前缀查找实际文件
	matches, err := filepath.Glob(filepath.Join(destDir, baseName+".*"))
	if err != nil || len(matches) == 0 {
		return "", errors.New("下载完成但找不到输出文件")
	}
	return matches[0], nil
}

// FetchThumbnail 下载视频封面并缩放保存为 JPEG，返回封面文件路径。
// 封面是附加信息，失败不应影响任务本身。
func (y *YouTubeService) FetchThumbnail(url, destDir, baseName string) (string, error) {
	videoID := ExtractVideoID(url)
	if videoID == "" {
		return "", errors.New("无法从链接中提取视频ID")
	}

	resp, err := y.client.R().
		Get(fmt.Sprintf("https://img.youtube.com/vi/%s/hqdefault.jpg", videoID))
	if err != nil {
		return "", fmt.Errorf("下载封面失败: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("下载封面失败，状态码: %d", resp.StatusCode())
	}

	img, err := imaging.Decode(bytes.NewReader(resp.Bytes()))
	if err != nil {
		return "", fmt.Errorf("解码封面图片失败: %w", err)
	}

	// 统一缩放到 480 宽，保持纵横比
	thumb := imaging.Resize(img, 480, 0, imaging.Lanczos)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("创建封面目录失败: %w", err)
	}
	thumbPath := filepath.Join(destDir, baseName+".jpg")
	if err := imaging.Save(thumb, thumbPath, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("保存封面失败: %w", err)
	}
	return thumbPath, nil
}
