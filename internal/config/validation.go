package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	for i, m := range c.LLM.Models {
		if !m.Enabled {
			continue
		}
		if strings.TrimSpace(m.Model) == "" {
			return fmt.Errorf("llm.models[%d]: model 不能为空", i)
		}
		if strings.TrimSpace(m.ID) == "" {
			c.LLM.Models[i].ID = m.Model
		}
	}
	if _, err := time.Parse("2006-01-02", c.Backtest.StartDate); err != nil {
		return fmt.Errorf("backtest.start_date 格式应为 YYYY-MM-DD: %w", err)
	}
	if c.Backtest.EndDate != "" {
		end, err := time.Parse("2006-01-02", c.Backtest.EndDate)
		if err != nil {
			return fmt.Errorf("backtest.end_date 格式应为 YYYY-MM-DD: %w", err)
		}
		start, _ := time.Parse("2006-01-02", c.Backtest.StartDate)
		if !end.After(start) {
			return fmt.Errorf("backtest.end_date 必须晚于 start_date")
		}
	}
	obj := c.Loop.Objective
	if obj.CAGRWeight < 0 || obj.SharpeWeight < 0 || obj.DrawdownWeight < 0 {
		return fmt.Errorf("loop.objective 权重不可为负")
	}
	if obj.CAGRWeight+obj.SharpeWeight+obj.DrawdownWeight == 0 {
		return fmt.Errorf("loop.objective 至少需要一个非零权重")
	}
	return nil
}
