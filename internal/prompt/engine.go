// Package prompt 提供 Prompt 模板的纯函数：变量提取、校验、渲染与评分计算
package prompt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	apperrors "github.com/aihub/usage-core/internal/errors"
)

// 评分范围
const (
	MinRating = 1
	MaxRating = 5
)

// 名称与 slug 的最大字符数，与表结构 VARCHAR(255) 一致
const (
	MaxNameLength = 255
	MaxSlugLength = 255
)

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ValidationResult 变量校验结果
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missing"`
}

// ExtractVariables 按首次出现顺序返回去重后的占位符名称
func ExtractVariables(template string) []string {
	variables := make([]string, 0)
	seen := make(map[string]struct{})
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := match[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		variables = append(variables, name)
	}
	return variables
}

// Validate 检查 data 是否包含全部变量，只判断键是否存在，空字符串也算存在
func Validate(variables []string, data map[string]interface{}) ValidationResult {
	missing := make([]string, 0)
	for _, name := range variables {
		if _, ok := data[name]; !ok {
			missing = append(missing, name)
		}
	}
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}
}

// Render 替换所有占位符，缺失的变量替换为空字符串
func Render(template string, data map[string]interface{}) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[2 : len(token)-2]
		value, ok := data[name]
		if !ok {
			return ""
		}
		return Stringify(value)
	})
}

// Stringify 将变量值转换为字符串
func Stringify(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case json.Number:
		return v.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(data)
}

// NextRating 计算新增一个评分后的平均分与评分次数
func NextRating(avg float64, count int, rating int) (float64, int, error) {
	if rating < MinRating || rating > MaxRating {
		return avg, count, apperrors.NewInvalidInputError("rating",
			fmt.Sprintf("must be between %d and %d", MinRating, MaxRating))
	}
	newAvg := (avg*float64(count) + float64(rating)) / float64(count+1)
	return newAvg, count + 1, nil
}

// Slugify 生成URL友好的slug
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(Truncate(b.String(), MaxSlugLength), "-")
	if slug == "" {
		return "template"
	}
	return slug
}

// Truncate 按字符截断到最多 n 个字符
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// WithSuffix 追加后缀，必要时先截断 base，保证结果不超过 n 个字符
func WithSuffix(base, suffix string, n int) string {
	return Truncate(base, n-len([]rune(suffix))) + suffix
}

// UniqueSlug 在 base 冲突时依次尝试 base-1, base-2 ...
func UniqueSlug(base string, exists func(slug string) (bool, error)) (string, error) {
	candidate := base
	for i := 1; ; i++ {
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		trimmed := strings.TrimSuffix(Truncate(base, MaxSlugLength-len(fmt.Sprintf("-%d", i))), "-")
		candidate = fmt.Sprintf("%s-%d", trimmed, i)
	}
}
