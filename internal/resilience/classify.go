// Package resilience classifies operational errors and retries the
// retryable ones behind a per-key circuit breaker.
package resilience

import (
	"strings"
)

// Category groups errors by their likely cause.
type Category string

// Error categories.
const (
	CategoryNetwork        Category = "network"
	CategorySession        Category = "session"
	CategoryAuthentication Category = "authentication"
	CategoryValidation     Category = "validation"
	CategoryBusiness       Category = "business"
	CategorySystem         Category = "system"
)

// Level is the severity of an error.
type Level string

// Severity levels.
const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Classification is the outcome of Classify.
type Classification struct {
	Category   Category `json:"category"`
	Level      Level    `json:"level"`
	Retryable  bool     `json:"retryable"`
	MaxRetries int      `json:"max_retries"`
}

type rule struct {
	needles []string
	class   Classification
}

// rules are evaluated in order; the first match wins.
var rules = []rule{
	{[]string{"connection", "network"}, Classification{CategoryNetwork, LevelHigh, true, 3}},
	{[]string{"session", "未保存"}, Classification{CategorySession, LevelMedium, true, 2}},
	{[]string{"authentication", "权限"}, Classification{CategoryAuthentication, LevelHigh, false, 0}},
	{[]string{"验证", "不存在", "缺少"}, Classification{CategoryValidation, LevelLow, false, 0}},
	{[]string{"资源", "空间"}, Classification{CategoryBusiness, LevelMedium, true, 1}},
}

var fallback = Classification{CategorySystem, LevelCritical, true, 2}

// Classify maps err to a category by substring of its message.
func Classify(err error) Classification {
	if err == nil {
		return fallback
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw message.
func ClassifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)
	for _, r := range rules {
		for _, n := range r.needles {
			if strings.Contains(lower, n) {
				return r.class
			}
		}
	}
	return fallback
}

var suggestions = map[Category]string{
	CategoryNetwork:        "检查网络连接，确认服务地址正确，尝试稍后重试",
	CategorySession:        "重新建立会话，检查认证信息是否正确",
	CategoryAuthentication: "检查用户名和密码，确认账号权限正确",
	CategoryValidation:     "检查输入参数格式和完整性，参考API文档",
	CategoryBusiness:       "检查资源可用性，可能需要释放资源或联系管理员",
	CategorySystem:         "联系系统管理员，提供详细错误信息",
}

// Suggestion returns the recovery hint of category.
func Suggestion(category Category) string {
	return suggestions[category]
}
