package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"alphaforge/internal/dataset"
	"alphaforge/internal/logger"
	"alphaforge/internal/sandbox"
	"alphaforge/sdk"
)

// 七层校验流水线。候选策略按顺序过 syntax → safety → datasets →
// structure → params → dryrun → sanity，任何一层失败即短路。
// datasets 层可能改写源码（修复数据集键），后续层使用改写后的版本。

type Layer string

const (
	LayerSyntax    Layer = "syntax"
	LayerSafety    Layer = "safety"
	LayerDatasets  Layer = "datasets"
	LayerStructure Layer = "structure"
	LayerParams    Layer = "params"
	LayerDryRun    Layer = "dryrun"
	LayerSanity    Layer = "sanity"
)

type LayerResult struct {
	Layer   Layer         `json:"layer"`
	Passed  bool          `json:"passed"`
	Detail  string        `json:"detail,omitempty"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

type Result struct {
	OK     bool          `json:"ok"`
	Code   string        `json:"code"`
	Layers []LayerResult `json:"layers"`
}

// FailedLayer 返回第一个未通过的层；全部通过时返回空串。
func (r *Result) FailedLayer() (Layer, string) {
	for _, l := range r.Layers {
		if !l.Passed {
			return l.Layer, l.Detail
		}
	}
	return "", ""
}

type Input struct {
	Code   string
	Params map[string]any
	// Schema 非空时在 params 层校验参数，模板候选才有
	Schema *jsonschema.Schema
}

type Pipeline struct {
	catalog      *dataset.Catalog
	exec         *sandbox.Executor
	dryRunFrames map[string]*dataset.Frame
}

func NewPipeline(catalog *dataset.Catalog, dryRunTimeout time.Duration) *Pipeline {
	if catalog == nil {
		catalog = dataset.NewCatalog()
	}
	return &Pipeline{
		catalog:      catalog,
		exec:         sandbox.New(dryRunTimeout),
		dryRunFrames: dataset.SyntheticFrames(0, 0),
	}
}

func (p *Pipeline) Validate(ctx context.Context, in Input) *Result {
	res := &Result{Code: in.Code}
	code := in.Code

	run := func(layer Layer, fn func() (string, error)) bool {
		start := time.Now()
		detail, err := fn()
		lr := LayerResult{Layer: layer, Passed: err == nil, Elapsed: time.Since(start)}
		if err != nil {
			lr.Detail = err.Error()
			logger.Debugf("[validate] %s 层失败: %v", layer, err)
		} else if detail != "" {
			lr.Detail = detail
		}
		res.Layers = append(res.Layers, lr)
		return err == nil
	}

	if !run(LayerSyntax, func() (string, error) {
		return "", checkSyntax(code)
	}) {
		return res
	}
	if !run(LayerSafety, func() (string, error) {
		return "", checkSafety(code)
	}) {
		return res
	}
	if !run(LayerDatasets, func() (string, error) {
		fixed, detail, err := fixDatasetKeys(code, p.catalog)
		if err != nil {
			return "", err
		}
		code = fixed
		res.Code = fixed
		return detail, nil
	}) {
		return res
	}
	if !run(LayerStructure, func() (string, error) {
		return "", checkStructure(code)
	}) {
		return res
	}
	if !run(LayerParams, func() (string, error) {
		return "", checkParams(in.Schema, in.Params)
	}) {
		return res
	}

	var positions *dataset.Frame
	if !run(LayerDryRun, func() (string, error) {
		loader := dataset.NewStaticLoader(p.dryRunFrames)
		sctx := sdk.NewContext(ctx, loader, in.Params)
		f, err := p.exec.Run(ctx, code, sctx)
		if err != nil {
			return "", err
		}
		positions = f
		return "", nil
	}) {
		return res
	}
	if !run(LayerSanity, func() (string, error) {
		return "", checkSanity(positions)
	}) {
		return res
	}

	res.OK = true
	return res
}

func checkParams(schema *jsonschema.Schema, params map[string]any) error {
	if schema == nil {
		return nil
	}
	// jsonschema 只认 json.Unmarshal 的产物，int 参数先转 float64
	doc := make(map[string]any, len(params))
	for k, v := range params {
		switch x := v.(type) {
		case int:
			doc[k] = float64(x)
		case int64:
			doc[k] = float64(x)
		default:
			doc[k] = v
		}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("参数不符合模板约束: %w", err)
	}
	return nil
}
