package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// 中文说明：
// 数据集键沿用 finlab 的「表:栏位」命名。LLM 产出的键经常有细微笔误
// （繁简混写、少个字、英文别名），FixKey 先查别名表，再做编辑距离修复。

var canonicalKeys = []string{
	"price:收盤價",
	"price:開盤價",
	"price:最高價",
	"price:最低價",
	"price:成交股數",
	"price:成交金額",
	"price:漲跌價差",
	"monthly_revenue:當月營收",
	"monthly_revenue:上月比較增減(%)",
	"monthly_revenue:去年同月增減(%)",
	"financial_statement:每股盈餘",
	"financial_statement:營業利益",
	"financial_statement:股本合計",
	"fundamental_features:營業利益率",
	"fundamental_features:ROE稅後",
	"price_earning_ratio:本益比",
	"price_earning_ratio:股價淨值比",
	"price_earning_ratio:殖利率(%)",
	"etl:market_value",
	"etl:adj_close",
}

var keyAliases = map[string]string{
	"close":            "price:收盤價",
	"open":             "price:開盤價",
	"high":             "price:最高價",
	"low":              "price:最低價",
	"volume":           "price:成交股數",
	"turnover":         "price:成交金額",
	"收盤價":              "price:收盤價",
	"開盤價":              "price:開盤價",
	"成交股數":             "price:成交股數",
	"當月營收":             "monthly_revenue:當月營收",
	"每股盈餘":             "financial_statement:每股盈餘",
	"本益比":              "price_earning_ratio:本益比",
	"股價淨值比":            "price_earning_ratio:股價淨值比",
	"market_value":     "etl:market_value",
	"adj_close":        "etl:adj_close",
	"price:收盘价":        "price:收盤價", // 简体
	"price:开盘价":        "price:開盤價",
	"monthly_revenue:营收": "monthly_revenue:當月營收",
}

// maxRepairDistance 是允许自动修复的最大编辑距离（按 rune 计）。
const maxRepairDistance = 2

type Catalog struct {
	keys    []string
	keySet  map[string]bool
	aliases map[string]string
}

func NewCatalog() *Catalog {
	c := &Catalog{
		keys:    append([]string(nil), canonicalKeys...),
		keySet:  make(map[string]bool, len(canonicalKeys)),
		aliases: keyAliases,
	}
	for _, k := range c.keys {
		c.keySet[k] = true
	}
	return c
}

func (c *Catalog) Keys() []string {
	out := append([]string(nil), c.keys...)
	sort.Strings(out)
	return out
}

func (c *Catalog) Has(key string) bool {
	return c.keySet[strings.TrimSpace(key)]
}

// FixKey 尝试把一个键规范化：
//  1. 已是合法键 → 原样返回
//  2. 别名 → 映射到规范键
//  3. 与某个规范键的编辑距离 <= maxRepairDistance → 修复
//
// 返回 (修复后的键, 是否发生改写, 错误)。
func (c *Catalog) FixKey(key string) (string, bool, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", false, fmt.Errorf("dataset: 键不能为空")
	}
	if c.keySet[trimmed] {
		return trimmed, trimmed != key, nil
	}
	if canon, ok := c.aliases[strings.ToLower(trimmed)]; ok {
		return canon, true, nil
	}
	if canon, ok := c.aliases[trimmed]; ok {
		return canon, true, nil
	}
	best, bestDist := "", maxRepairDistance+1
	for _, k := range c.keys {
		d := editDistance(trimmed, k)
		if d < bestDist {
			best, bestDist = k, d
		}
	}
	if best != "" && bestDist <= maxRepairDistance {
		return best, true, nil
	}
	return "", false, fmt.Errorf("dataset: 未知数据集键 %q", key)
}

// editDistance 按 rune 计算 Levenshtein 距离。
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = minInt(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
