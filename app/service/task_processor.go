package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"media-scribe/app/config"
	"media-scribe/app/logger"
	"media-scribe/app/model"
	"media-scribe/app/utils/namehelper"
)

// MediaTaskProcessor 按任务类型执行实际的下载、转录和摘要流程。
// 实现 TaskProcessor 接口，是队列工作器唯一的执行后端。
type MediaTaskProcessor struct {
	config   *config.Config
	log      *logger.Logger
	whisper  *WhisperClient
	summary  *SummaryService
	youtube  *YouTubeService
	notifier *TelegramNotifier

	downloadDir  string
	subtitleDir  string
	summaryDir   string
	thumbnailDir string
}

// NewMediaTaskProcessor 创建媒体任务处理器
func NewMediaTaskProcessor(cfg *config.Config, log *logger.Logger) *MediaTaskProcessor {
	return &MediaTaskProcessor{
		config:       cfg,
		log:          log,
		whisper:      NewWhisperClient(cfg.Whisper, log),
		summary:      NewSummaryService(cfg.Summary, log),
		youtube:      NewYouTubeService(cfg.YouTube, log),
		notifier:     NewTelegramNotifier(cfg.Telegram, log),
		downloadDir:  filepath.Join(cfg.Server.DataDir, "downloads"),
		subtitleDir:  filepath.Join(cfg.Server.DataDir, "subtitles"),
		summaryDir:   filepath.Join(cfg.Server.DataDir, "summaries"),
		thumbnailDir: filepath.Join(cfg.Server.DataDir, "thumbnails"),
	}
}

// Process 按任务类型分发处理
func (p *MediaTaskProcessor) Process(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
	switch task.TaskType {
	case model.TaskTypeYouTube:
		return p.processYouTube(task, logSink, progress, cancelled)
	case model.TaskTypeUploadMedia:
		return p.processUploadMedia(task, logSink, progress, cancelled)
	case model.TaskTypeUploadSubtitle:
		return p.processUploadSubtitle(task, logSink, progress, cancelled)
	default:
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidTaskType, task.TaskType)
	}
}

// processYouTube 下载视频、转录并生成摘要
func (p *MediaTaskProcessor) processYouTube(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
	url, _ := task.Payload["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("缺少 YouTube URL")
	}

	title, _ := task.Payload["title"].(string)
	if title == "" {
		title = p.youtube.ResolveTitle(url)
	}
	if title == "" {
		title = "Unknown"
	}

	if cancelled() {
		return nil, ErrProcessingCancelled
	}

	logSink(fmt.Sprintf("开始下载: %s", url))
	progress(10)

	baseName := p.baseName(title)
	mediaPath, err := p.youtube.Download(url, p.downloadDir, baseName, cancelled)
	if err != nil {
		return nil, err
	}
	logSink(fmt.Sprintf("下载完成: %s", filepath.Base(mediaPath)))
	progress(40)

	// 封面是附加信息，失败只记日志
	thumbnailPath, err := p.youtube.FetchThumbnail(url, p.thumbnailDir, baseName)
	if err != nil {
		p.log.Warnf("获取封面失败: TaskID=%s, 错误: %v", task.ID, err)
		thumbnailPath = ""
	}

	if cancelled() {
		return nil, ErrProcessingCancelled
	}

	subtitlePath, err := p.transcribe(mediaPath, baseName, logSink, progress)
	if err != nil {
		return nil, err
	}

	if cancelled() {
		return nil, ErrProcessingCancelled
	}

	summaryPath := p.summarize(subtitlePath, title, baseName, logSink)
	progress(95)

	result := model.JSONMap{
		"video_title":   title,
		"original_file": mediaPath,
		"subtitle_file": subtitlePath,
	}
	if summaryPath != "" {
		result["summary_file"] = summaryPath
	}
	if thumbnailPath != "" {
		result["thumbnail_file"] = thumbnailPath
	}

	p.notifier.Send(fmt.Sprintf("✅ YouTube 视频处理完成\n标题: %s\n文件: %s", title, baseName))
	return result, nil
}

// processUploadMedia 转录上传的音视频文件并生成摘要
func (p *MediaTaskProcessor) processUploadMedia(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
	audioFile, _ := task.Payload["audio_file"].(string)
	if audioFile == "" {
		return nil, fmt.Errorf("缺少音频文件路径")
	}
	if _, err := os.Stat(audioFile); err != nil {
		return nil, fmt.Errorf("音频文件不存在: %s", audioFile)
	}

	title, _ := task.Payload["title"].(string)
	if title == "" {
		title = filepath.Base(audioFile)
	}

	if cancelled() {
		return nil, ErrProcessingCancelled
	}

	logSink(fmt.Sprintf("开始处理上传的媒体文件: %s", filepath.Base(audioFile)))
	progress(10)

	baseName := p.baseName(title)
	subtitlePath, err := p.transcribe(audioFile, baseName, logSink, progress)
	if err != nil {
		return nil, err
	}

	if cancelled() {
		return nil, ErrProcessingCancelled
	}

	summaryPath := p.summarize(subtitlePath, title, baseName, logSink)
	progress(95)

	result := model.JSONMap{
		"title":         title,
		"original_file": audioFile,
		"subtitle_file": subtitlePath,
	}
	if summaryPath != "" {
		result["summary_file"] = summaryPath
	}

	p.notifier.Send(fmt.Sprintf("✅ 音频文件处理完成\n文件: %s", filepath.Base(audioFile)))
	return result, nil
}

// processUploadSubtitle 字幕已经存在，只需生成摘要
func (p *MediaTaskProcessor) processUploadSubtitle(task *model.MediaTask, logSink func(string), progress func(int), cancelled func() bool) (model.JSONMap, error) {
	subtitleFile, _ := task.Payload["subtitle_file"].(string)
	if subtitleFile == "" {
		return nil, fmt.Errorf("缺少字幕文件路径")
	}
	if _, err := os.Stat(subtitleFile); err != nil {
		return nil, fmt.Errorf("字幕文件不存在: %s", subtitleFile)
	}

	title, _ := task.Payload["title"].(string)
	if title == "" {
		title = filepath.Base(subtitleFile)
	}

	if cancelled() {
		return nil, ErrProcessingCancelled
	}

	logSink(fmt.Sprintf("开始处理上传的字幕文件: %s", filepath.Base(subtitleFile)))
	progress(20)

	baseName := p.baseName(title)
	summaryPath := p.summarize(subtitleFile, title, baseName, logSink)
	progress(95)

	result := model.JSONMap{
		"title":         title,
		"subtitle_file": subtitleFile,
	}
	if summaryPath != "" {
		result["summary_file"] = summaryPath
	}
	return result, nil
}

// transcribe 调用转录服务并把字幕写入文件，返回字幕路径
func (p *MediaTaskProcessor) transcribe(mediaPath, baseName string, logSink func(string), progress func(int)) (string, error) {
	logSink("开始转录音频")
	progress(50)

	srt, err := p.whisper.Transcribe(mediaPath)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(p.subtitleDir, 0755); err != nil {
		return "", fmt.Errorf("创建字幕目录失败: %w", err)
	}
	subtitlePath := filepath.Join(p.subtitleDir, baseName+".srt")
	if err := os.WriteFile(subtitlePath, []byte(srt), 0644); err != nil {
		return "", fmt.Errorf("保存字幕失败: %w", err)
	}

	logSink(fmt.Sprintf("字幕已保存: %s", filepath.Base(subtitlePath)))
	progress(80)
	return subtitlePath, nil
}

// summarize 读取字幕并生成摘要文件。摘要服务未配置或失败时返回空串，
// 不让摘要问题影响任务本身。
func (p *MediaTaskProcessor) summarize(subtitlePath, title, baseName string, logSink func(string)) string {
	if !p.summary.Enabled() {
		logSink("未配置摘要服务，跳过摘要生成")
		return ""
	}

	content, err := os.ReadFile(subtitlePath)
	if err != nil {
		p.log.Warnf("读取字幕失败，跳过摘要: %v", err)
		return ""
	}

	logSink("开始生成摘要")
	summaryText, err := p.summary.Summarize(string(content), title)
	if err != nil {
		p.log.Warnf("摘要生成失败: %v", err)
		logSink(fmt.Sprintf("摘要生成失败: %v", err))
		return ""
	}

	if err := os.MkdirAll(p.summaryDir, 0755); err != nil {
		p.log.Warnf("创建摘要目录失败: %v", err)
		return ""
	}
	summaryPath := filepath.Join(p.summaryDir, baseName+".txt")
	if err := os.WriteFile(summaryPath, []byte(summaryText), 0644); err != nil {
		p.log.Warnf("保存摘要失败: %v", err)
		return ""
	}

	logSink(fmt.Sprintf("摘要已保存: %s", filepath.Base(summaryPath)))
	return summaryPath
}

// baseName 生成 "日期 - 安全标题" 形式的文件基础名
func (p *MediaTaskProcessor) baseName(title string) string {
	safeTitle := namehelper.SanitizeFilename(title, namehelper.DefaultMaxFilenameLength)
	return fmt.Sprintf("%s - %s", time.Now().Format("2006.01.02"), safeTitle)
}
