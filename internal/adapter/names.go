package adapter

import (
	"regexp"
	"strings"
)

// properNamePattern 从标题文本里抽取候选名称：连续1~4个首字母大写的词
var properNamePattern = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,3})\b`)

// stopWords 标题常见的非实体词，避免把"The"、"New"之类当作候选
var stopWords = map[string]struct{}{
	"The": {}, "This": {}, "That": {}, "New": {}, "How": {}, "Why": {},
	"What": {}, "When": {}, "Where": {}, "With": {}, "From": {}, "After": {},
	"Before": {}, "First": {}, "Watch": {}, "Review": {}, "Exclusive": {},
}

// ExtractProperNames 从一段标题文本抽取去重后的候选实体名
func ExtractProperNames(text string) []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range properNamePattern.FindAllString(text, -1) {
		nm := strings.TrimSpace(m)
		if nm == "" {
			continue
		}
		if _, stop := stopWords[nm]; stop {
			continue
		}
		if _, dup := seen[nm]; dup {
			continue
		}
		seen[nm] = struct{}{}
		names = append(names, nm)
	}
	return names
}
