package synthesis

import (
	"regexp"
	"strings"
)

// 常见免责声明开头（英文与中文），仅在响应起始处成段剥离。
var disclaimerPrefixes = []string{
	"as an ai",
	"as a language model",
	"i'm sorry, but as an ai",
	"i am an ai",
	"作为一个ai",
	"作为ai",
	"作为一个人工智能",
	"作为语言模型",
}

// 参考资料尾注标题，命中后该行及其后全部内容被截断。
var referenceFooters = []string{
	"references:",
	"sources:",
	"citations:",
	"参考资料：",
	"参考资料:",
	"参考文献：",
	"参考文献:",
}

var (
	blankRunRe    = regexp.MustCompile(`\n{3,}`)
	headingRe     = regexp.MustCompile(`(?m)^(#{1,6})[ \t]*(\S)`)
	bulletGapRe   = regexp.MustCompile(`(?m)^([-*+])[ \t]{2,}`)
	bulletTightRe = regexp.MustCompile(`(?m)^([-*+])(\w)`)
	orderedRe     = regexp.MustCompile(`(?m)^(\d+)[)、][ \t]*`)
	leadInPhrase  = regexp.MustCompile(`(?m)^(In summary|Overall|In conclusion|总之|综上所述|总而言之)([,:，：])`)
)

// Family 按模型标识推断模型家族。未识别的家族返回空串。
func Family(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "openai"
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "glm"), strings.HasPrefix(m, "chatglm"):
		return "glm"
	case strings.HasPrefix(m, "qwen"):
		return "qwen"
	case strings.HasPrefix(m, "deepseek"):
		return "deepseek"
	}
	return ""
}

// Normalize 对单个模型的完整响应做规范化：剥离免责声明与参考资料尾注，
// 压缩多余空行，套用模型家族格式化（未识别家族为空操作），最后做通用
// markdown 整理。对失败结果不调用。
func Normalize(model, text string) string {
	text = stripDisclaimers(text)
	text = stripReferenceFooter(text)
	text = blankRunRe.ReplaceAllString(text, "\n\n")
	text = familyPass(Family(model), text)
	text = tidyMarkdown(text)
	return strings.TrimSpace(text)
}

func stripDisclaimers(text string) string {
	lines := strings.Split(text, "\n")
	start := 0
	for start < len(lines) {
		line := strings.ToLower(strings.TrimSpace(lines[start]))
		if line == "" {
			start++
			continue
		}
		matched := false
		for _, p := range disclaimerPrefixes {
			if strings.HasPrefix(line, p) {
				matched = true
				break
			}
		}
		if !matched {
			break
		}
		start++
	}
	return strings.Join(lines[start:], "\n")
}

func stripReferenceFooter(text string) string {
	lines := strings.Split(text, "\n")
	for i, raw := range lines {
		line := strings.ToLower(strings.TrimSpace(raw))
		for _, f := range referenceFooters {
			if strings.HasPrefix(line, f) {
				return strings.Join(lines[:i], "\n")
			}
		}
	}
	return text
}

// familyPass 按家族做轻量格式化：强调行首总结性引导语，
// 或统一编号列表分隔符。
func familyPass(family, text string) string {
	switch family {
	case "openai", "glm":
		return leadInPhrase.ReplaceAllString(text, "**$1**$2")
	case "anthropic", "qwen", "deepseek":
		return orderedRe.ReplaceAllString(text, "$1. ")
	}
	return text
}

// tidyMarkdown 标题标记与列表符号后统一为单个空格。
func tidyMarkdown(text string) string {
	text = headingRe.ReplaceAllString(text, "$1 $2")
	text = bulletGapRe.ReplaceAllString(text, "$1 ")
	text = bulletTightRe.ReplaceAllString(text, "$1 $2")
	return text
}
