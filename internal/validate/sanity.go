package validate

import (
	"fmt"
	"math"

	"alphaforge/internal/dataset"
)

const weightEps = 1e-6

// checkSanity 检查干跑产出的仓位矩阵：
// 不允许 Inf，单股权重落在 [0,1]，单日权重和不超过 1，
// 且后半段至少出现过一次非零仓位（全零说明策略没有信号）。
func checkSanity(f *dataset.Frame) error {
	if f == nil || f.Empty() {
		return fmt.Errorf("仓位矩阵为空")
	}
	nonzero := false
	half := len(f.Values) / 2
	for i, row := range f.Values {
		sum := 0.0
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			if math.IsInf(v, 0) {
				return fmt.Errorf("第 %d 行第 %d 列出现 Inf", i, j)
			}
			if v < -weightEps || v > 1+weightEps {
				return fmt.Errorf("第 %d 行第 %d 列权重 %.4f 越界", i, j, v)
			}
			sum += v
			if i >= half && v > weightEps {
				nonzero = true
			}
		}
		if sum > 1+weightEps {
			return fmt.Errorf("第 %d 行权重和 %.4f 超过 1", i, sum)
		}
	}
	if !nonzero {
		return fmt.Errorf("仓位矩阵后半段全为零，策略无信号")
	}
	return nil
}
