package graph

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"alphaforge/internal/generate"
	"alphaforge/internal/logger"
)

// Registry 管理策略骨架库。启动时装载内置模板，
// 配置文件里的模板按名字合并进来（同名覆盖内置版本），
// 运行期间监听文件变更热替换。
type Registry struct {
	path string

	builtin []*Template

	mu        sync.RWMutex
	templates []*Template

	rngMu sync.Mutex
	rng   *rand.Rand
}

type templatesFile struct {
	Templates []*Template `yaml:"templates"`
}

func NewRegistry(path string, seed int64) (*Registry, error) {
	r := &Registry{path: path, rng: rand.New(rand.NewSource(seed))}

	builtin := builtinTemplates()
	for _, t := range builtin {
		if err := t.compile(); err != nil {
			return nil, err
		}
	}
	r.builtin = builtin
	r.templates = builtin

	if path != "" {
		if err := r.loadFile(); err != nil {
			if os.IsNotExist(err) {
				logger.Infof("[graph] 模板文件 %s 不存在，使用内置骨架", path)
			} else {
				return nil, err
			}
		}
	}
	return r, nil
}

func (r *Registry) loadFile() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	var file templatesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("graph: 解析 %s 失败: %w", r.path, err)
	}
	if len(file.Templates) == 0 {
		return fmt.Errorf("graph: %s 未定义任何模板", r.path)
	}
	for _, t := range file.Templates {
		if err := t.compile(); err != nil {
			return err
		}
	}

	// 内置骨架保底：文件模板按名字覆盖，其余追加在后
	override := make(map[string]*Template, len(file.Templates))
	for _, t := range file.Templates {
		override[t.Name] = t
	}
	merged := make([]*Template, 0, len(r.builtin)+len(file.Templates))
	for _, b := range r.builtin {
		if t, ok := override[b.Name]; ok {
			merged = append(merged, t)
			delete(override, b.Name)
		} else {
			merged = append(merged, b)
		}
	}
	for _, t := range file.Templates {
		if _, ok := override[t.Name]; ok {
			merged = append(merged, t)
		}
	}

	r.mu.Lock()
	r.templates = merged
	r.mu.Unlock()
	logger.Infof("[graph] 合并 %d 个文件模板，骨架库共 %d 个 (%s)", len(file.Templates), len(merged), r.path)
	return nil
}

// Watch 监听模板文件变更并热替换，解析失败时保留旧版本。
// 监听目录而不是文件本身，编辑器的原子改名也能捕获。
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("graph: 监听 %s 失败: %w", dir, err)
	}
	target := filepath.Clean(r.path)

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// 编辑器往往连发多个事件，压到 200ms 内只重载一次
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, func() {
				if err := r.loadFile(); err != nil {
					logger.Warnf("[graph] 热重载失败，沿用旧模板: %v", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("[graph] 文件监听错误: %v", err)
		}
	}
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.templates))
	for i, t := range r.templates {
		out[i] = t.Name
	}
	return out
}

func (r *Registry) byName(name string) *Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.templates {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func (r *Registry) pick() *Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0.0
	for _, t := range r.templates {
		total += t.Weight
	}
	r.rngMu.Lock()
	x := r.rng.Float64() * total
	r.rngMu.Unlock()
	for _, t := range r.templates {
		x -= t.Weight
		if x <= 0 {
			return t
		}
	}
	return r.templates[len(r.templates)-1]
}

func (r *Registry) Name() string { return "factor-graph" }

// Generate 按权重挑一个骨架，在参数空间里采样后渲染成候选。
func (r *Registry) Generate(_ context.Context, _ generate.Feedback) (*generate.Candidate, error) {
	t := r.pick()
	r.rngMu.Lock()
	params := t.Sample(r.rng)
	r.rngMu.Unlock()
	code, err := t.Render(params)
	if err != nil {
		return nil, err
	}
	c := generate.NewCandidate(generate.SourceGraph, code)
	c.Template = t.Name
	c.Params = params
	c.Schema = t.Schema()
	return c, nil
}

// Seed 用默认参数渲染指定骨架，作为没有冠军可退时的保底策略。
func (r *Registry) Seed(name string) (*generate.Candidate, error) {
	t := r.byName(name)
	if t == nil {
		return nil, fmt.Errorf("graph: 模板 %s 不存在", name)
	}
	params := t.Defaults()
	code, err := t.Render(params)
	if err != nil {
		return nil, err
	}
	c := generate.NewCandidate(generate.SourceSeed, code)
	c.Template = t.Name
	c.Params = params
	c.Schema = t.Schema()
	return c, nil
}
