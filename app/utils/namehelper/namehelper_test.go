package namehelper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"空标题", "", "unknown"},
		{"普通标题", "My Video", "My_Video"},
		{"中文标题", "深度学习入门 第1讲", "深度学习入门_第1讲"},
		{"Windows禁用字符", `a<b>c:"d"`, "a_b_c_d"},
		{"路径分隔符", "a/b\\c", "a_b_c"},
		{"特殊符号", "hello [world] (2024)!", "hello_world_2024"},
		{"首尾点和下划线", "__.title.__", "title"},
		{"全是非法字符", "///***", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input, DefaultMaxFilenameLength))
		})
	}
}

func TestSanitizeFilename_LengthLimit(t *testing.T) {
	long := strings.Repeat("字", 200)
	result := SanitizeFilename(long, 0)
	assert.Equal(t, DefaultMaxFilenameLength, len([]rune(result)))

	result = SanitizeFilename("abcdefgh", 4)
	assert.Equal(t, "abcd", result)
}
