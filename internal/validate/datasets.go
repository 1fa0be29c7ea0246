package validate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"alphaforge/internal/dataset"
)

type keyEdit struct {
	start, end int
	from, to   string
}

// fixDatasetKeys 找出所有 .Data("...") 调用，把每个键过一遍目录：
// 合法的放行，能修复的原位改写源码，修不了的整体失败。
// 返回（可能被改写的）源码与修复说明。
func fixDatasetKeys(code string, catalog *dataset.Catalog) (string, string, error) {
	fset, file, err := parseStrategy(code)
	if err != nil {
		return "", "", err
	}

	var edits []keyEdit
	var firstErr error
	seen := 0
	walk(file, func(call callInfo) {
		if firstErr != nil || call.method != "Data" {
			return
		}
		seen++
		if call.lit == nil {
			firstErr = fmt.Errorf("第 %d 行: Data 的参数必须是字符串字面量", fset.Position(call.pos).Line)
			return
		}
		key, err := strconv.Unquote(call.lit.Value)
		if err != nil {
			firstErr = fmt.Errorf("第 %d 行: 非法字符串 %s", fset.Position(call.lit.Pos()).Line, call.lit.Value)
			return
		}
		canon, fixed, err := catalog.FixKey(key)
		if err != nil {
			firstErr = fmt.Errorf("第 %d 行: %v", fset.Position(call.lit.Pos()).Line, err)
			return
		}
		if fixed {
			edits = append(edits, keyEdit{
				start: fset.Position(call.lit.Pos()).Offset,
				end:   fset.Position(call.lit.End()).Offset,
				from:  key,
				to:    canon,
			})
		}
	})
	if firstErr != nil {
		return "", "", firstErr
	}
	if seen == 0 {
		return "", "", fmt.Errorf("策略未加载任何数据集")
	}
	if len(edits) == 0 {
		return code, "", nil
	}

	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	out := code
	notes := make([]string, 0, len(edits))
	for _, e := range edits {
		out = out[:e.start] + strconv.Quote(e.to) + out[e.end:]
		notes = append(notes, fmt.Sprintf("%q -> %q", e.from, e.to))
	}
	return out, "修复数据集键: " + strings.Join(notes, ", "), nil
}
