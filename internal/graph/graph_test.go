package graph

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alphaforge/internal/dataset"
	"alphaforge/internal/generate"
	"alphaforge/internal/validate"
)

func TestBuiltinTemplatesPassValidation(t *testing.T) {
	reg, err := NewRegistry("", 42)
	require.NoError(t, err)

	pipeline := validate.NewPipeline(dataset.NewCatalog(), 15*time.Second)
	for _, name := range reg.Names() {
		t.Run(name, func(t *testing.T) {
			c, err := reg.Seed(name)
			require.NoError(t, err)

			res := pipeline.Validate(context.Background(), validate.Input{
				Code:   c.Code,
				Params: c.Params,
				Schema: c.Schema,
			})
			layer, detail := res.FailedLayer()
			require.True(t, res.OK, "模板 %s 在 %s 层失败: %s\n%s", name, layer, detail, c.Code)
		})
	}
}

func TestGenerateDeterministicWithSeed(t *testing.T) {
	a, err := NewRegistry("", 7)
	require.NoError(t, err)
	b, err := NewRegistry("", 7)
	require.NoError(t, err)

	ca, err := a.Generate(context.Background(), generate.Feedback{})
	require.NoError(t, err)
	cb, err := b.Generate(context.Background(), generate.Feedback{})
	require.NoError(t, err)

	assert.Equal(t, ca.Template, cb.Template)
	assert.Equal(t, ca.Params, cb.Params)
	assert.Equal(t, ca.Code, cb.Code)
}

func TestSampledParamsSatisfySchema(t *testing.T) {
	reg, err := NewRegistry("", 99)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		c, err := reg.Generate(context.Background(), generate.Feedback{})
		require.NoError(t, err)
		require.NotNil(t, c.Schema)

		doc := make(map[string]any, len(c.Params))
		for k, v := range c.Params {
			switch x := v.(type) {
			case int:
				doc[k] = float64(x)
			default:
				doc[k] = v
			}
		}
		assert.NoError(t, c.Schema.Validate(doc), "模板 %s 采样参数 %v", c.Template, c.Params)
	}
}

func TestLoadFileMergesWithBuiltins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := `templates:
  - name: turtle
    weight: 9
    params:
      window:
        type: int
        min: 5
        max: 30
        step: 5
    source: |
      package strategy

      import "alphaforge/sdk"

      func Build(ctx *sdk.Context) (*sdk.Frame, error) {
      	close := ctx.Data("etl:adj_close")
      	return close.Pct({{.window}}).Rank().TopN(5).Weight(), nil
      }
  - name: mini
    weight: 2
    params:
      window:
        type: int
        min: 5
        max: 30
        step: 5
    source: |
      package strategy

      import "alphaforge/sdk"

      func Build(ctx *sdk.Context) (*sdk.Frame, error) {
      	close := ctx.Data("price:收盤價")
      	return close.Pct({{.window}}).Rank().TopN(5).Weight(), nil
      }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := NewRegistry(path, 1)
	require.NoError(t, err)

	// 未被文件覆盖的内置骨架仍在，文件新增的模板追加在后
	assert.Equal(t, []string{"turtle", "mastiff", "factor", "momentum", "mini"}, reg.Names())

	// 同名文件模板覆盖内置版本
	turtle, err := reg.Seed("turtle")
	require.NoError(t, err)
	assert.Contains(t, turtle.Code, "etl:adj_close")
	assert.NotContains(t, turtle.Code, "RollingMax")

	// 保底骨架不因叠加层而消失
	seed, err := reg.Seed("factor")
	require.NoError(t, err)
	assert.Contains(t, seed.Code, "financial_statement:每股盈餘")

	c, err := reg.Generate(context.Background(), generate.Feedback{})
	require.NoError(t, err)
	assert.NotEmpty(t, c.Template)
}

func TestSeedUnknownTemplate(t *testing.T) {
	reg, err := NewRegistry("", 1)
	require.NoError(t, err)

	_, err = reg.Seed("不存在")
	assert.Error(t, err)
}
