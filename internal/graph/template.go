package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"text/template"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Template 是一个策略骨架：带参数占位符的 Go 源码模板，
// 加上每个参数的取值空间。采样出一组参数即可渲染成候选策略。
type Template struct {
	Name   string               `yaml:"name"`
	Weight float64              `yaml:"weight"`
	Params map[string]ParamSpec `yaml:"params"`
	Source string               `yaml:"source"`

	tmpl   *template.Template
	schema *jsonschema.Schema
}

type ParamSpec struct {
	Type    string    `yaml:"type"` // int / float / choice
	Min     float64   `yaml:"min"`
	Max     float64   `yaml:"max"`
	Step    float64   `yaml:"step"`
	Choices []float64 `yaml:"choices"`
}

func (t *Template) compile() error {
	if t.Name == "" {
		return fmt.Errorf("graph: 模板缺少 name")
	}
	if t.Weight <= 0 {
		t.Weight = 1
	}
	tmpl, err := template.New(t.Name).Option("missingkey=error").Parse(t.Source)
	if err != nil {
		return fmt.Errorf("graph: 模板 %s 解析失败: %w", t.Name, err)
	}
	t.tmpl = tmpl

	schema, err := jsonschema.CompileString(t.Name+".json", t.schemaJSON())
	if err != nil {
		return fmt.Errorf("graph: 模板 %s 参数 schema 非法: %w", t.Name, err)
	}
	t.schema = schema
	return nil
}

func (t *Template) Schema() *jsonschema.Schema { return t.schema }

// Sample 用给定随机源在参数空间里采一组参数。
func (t *Template) Sample(rng *rand.Rand) map[string]any {
	out := make(map[string]any, len(t.Params))
	for _, name := range t.paramNames() {
		spec := t.Params[name]
		out[name] = spec.sample(rng)
	}
	return out
}

// Defaults 取每个参数空间的中点，做种子策略时使用。
func (t *Template) Defaults() map[string]any {
	out := make(map[string]any, len(t.Params))
	for _, name := range t.paramNames() {
		spec := t.Params[name]
		out[name] = spec.defaultValue()
	}
	return out
}

func (t *Template) Render(params map[string]any) (string, error) {
	vars := make(map[string]any, len(params))
	for k, v := range params {
		vars[k] = renderValue(v)
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("graph: 渲染模板 %s 失败: %w", t.Name, err)
	}
	return buf.String(), nil
}

// paramNames 固定遍历顺序，保证同一随机种子产出同一组参数。
func (t *Template) paramNames() []string {
	names := make([]string, 0, len(t.Params))
	for name := range t.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s ParamSpec) sample(rng *rand.Rand) any {
	switch s.Type {
	case "choice":
		if len(s.Choices) == 0 {
			return 0
		}
		v := s.Choices[rng.Intn(len(s.Choices))]
		if v == math.Trunc(v) {
			return int(v)
		}
		return v
	case "float":
		v := s.Min + rng.Float64()*(s.Max-s.Min)
		if s.Step > 0 {
			v = s.Min + math.Round((v-s.Min)/s.Step)*s.Step
		}
		return math.Round(v*1000) / 1000
	default: // int
		step := int(s.Step)
		if step <= 0 {
			step = 1
		}
		span := (int(s.Max)-int(s.Min))/step + 1
		if span < 1 {
			span = 1
		}
		return int(s.Min) + rng.Intn(span)*step
	}
}

func (s ParamSpec) defaultValue() any {
	switch s.Type {
	case "choice":
		if len(s.Choices) == 0 {
			return 0
		}
		v := s.Choices[len(s.Choices)/2]
		if v == math.Trunc(v) {
			return int(v)
		}
		return v
	case "float":
		return math.Round((s.Min+s.Max)/2*1000) / 1000
	default:
		return int((s.Min + s.Max) / 2)
	}
}

func (t *Template) schemaJSON() string {
	props := map[string]any{}
	required := t.paramNames()
	for name, spec := range t.Params {
		switch spec.Type {
		case "choice":
			props[name] = map[string]any{"enum": spec.Choices}
		case "float":
			props[name] = map[string]any{"type": "number", "minimum": spec.Min, "maximum": spec.Max}
		default:
			props[name] = map[string]any{"type": "integer", "minimum": spec.Min, "maximum": spec.Max}
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	b, _ := json.Marshal(doc)
	return string(b)
}

// renderValue 保证浮点参数渲染进源码后仍是合法的 Go 浮点字面量。
func renderValue(v any) string {
	switch x := v.(type) {
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		return s
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprintf("%v", x)
	}
}
