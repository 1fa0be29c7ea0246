package codeutil

import (
	"strings"
)

const codeFence = "```"

// ExtractGo 从 LLM 的回复里取出 Go 源码。
// 优先取 ```go 围栏块；没有围栏时，若整段以 package 子句开头则原样返回。
func ExtractGo(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if code, ok := extractFromFence(raw); ok {
		return code, true
	}
	if strings.HasPrefix(raw, "package ") {
		return raw, true
	}
	if idx := strings.Index(raw, "\npackage "); idx != -1 {
		return strings.TrimSpace(raw[idx+1:]), true
	}
	return "", false
}

func extractFromFence(raw string) (string, bool) {
	search := raw
	base := 0
	for {
		start := strings.Index(search, codeFence)
		if start == -1 {
			return "", false
		}
		rest := search[start+len(codeFence):]
		end := strings.Index(rest, codeFence)
		if end == -1 {
			return "", false
		}
		block := rest[:end]
		block = strings.TrimLeft(block, "\r\n")
		if idx := strings.Index(block, "\n"); idx != -1 {
			first := strings.TrimSpace(block[:idx])
			// 围栏语言标注行（go、golang 或空）不属于源码
			if first == "go" || first == "golang" || (first != "" && !strings.Contains(first, " ") && !strings.HasPrefix(first, "package")) {
				block = block[idx+1:]
			}
		}
		block = strings.TrimSpace(block)
		if strings.Contains(block, "package ") {
			return block, true
		}
		// 回复可能带多个围栏块（解释里夹代码片段），继续找下一个
		consumed := start + len(codeFence) + end + len(codeFence)
		base += consumed
		search = search[consumed:]
		if base >= len(raw) {
			return "", false
		}
	}
}
