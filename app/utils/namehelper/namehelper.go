package namehelper

import (
	"regexp"
	"strings"
)

// 文件名清理用的预编译正则
var (
	forbiddenCharsPattern = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	specialCharsPattern   = regexp.MustCompile("[\\[\\]{}()!@#$%^&+=~`]")
	unsafeRunesPattern    = regexp.MustCompile(`[^\p{Han}\p{L}\p{N}\s\-_.]`)
	whitespacePattern     = regexp.MustCompile(`\s+`)
	underscorePattern     = regexp.MustCompile(`_+`)
)

// DefaultMaxFilenameLength 清理后文件名的默认长度上限（按字符计）
const DefaultMaxFilenameLength = 80

// SanitizeFilename 把任意标题清理为安全的文件名：
// 移除 Windows 禁用字符和常见特殊符号，保留中日韩文字，
// 合并空白和下划线，并限制长度。
func SanitizeFilename(name string, maxLength int) string {
	if name == "" {
		return "unknown"
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxFilenameLength
	}

	name = forbiddenCharsPattern.ReplaceAllString(name, "_")
	name = specialCharsPattern.ReplaceAllString(name, "_")
	name = unsafeRunesPattern.ReplaceAllString(name, "_")
	name = whitespacePattern.ReplaceAllString(name, "_")
	name = underscorePattern.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")

	runes := []rune(name)
	if len(runes) > maxLength {
		name = string(runes[:maxLength])
		name = strings.Trim(name, "._")
	}

	if name == "" {
		return "unknown"
	}
	return name
}
