package dataset

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"alphaforge/internal/logger"
)

// Loader 是策略代码取数的唯一入口。
type Loader interface {
	Load(ctx context.Context, key string) (*Frame, error)
}

// Service 组合目录、缓存与远端数据源：键先经 FixKey 规范化，
// 再查内存、SQLite 缓存，最后才打数据服务。
type Service struct {
	catalog *Catalog
	cache   *Cache
	source  Source
	ttl     time.Duration

	mu  sync.RWMutex
	mem map[string]*Frame
}

func NewService(catalog *Catalog, cache *Cache, source Source, ttl time.Duration) *Service {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Service{
		catalog: catalog,
		cache:   cache,
		source:  source,
		ttl:     ttl,
		mem:     make(map[string]*Frame),
	}
}

func (s *Service) Catalog() *Catalog { return s.catalog }

func (s *Service) Load(ctx context.Context, key string) (*Frame, error) {
	canon, fixed, err := s.catalog.FixKey(key)
	if err != nil {
		return nil, err
	}
	if fixed {
		logger.Debugf("[dataset] 键 %q 修复为 %q", key, canon)
	}

	s.mu.RLock()
	if f, ok := s.mem[canon]; ok {
		s.mu.RUnlock()
		return f, nil
	}
	s.mu.RUnlock()

	if s.cache != nil {
		f, ok, err := s.cache.Get(ctx, canon, s.ttl)
		if err != nil {
			logger.Warnf("[dataset] 读缓存 %s 失败: %v", canon, err)
		} else if ok {
			s.remember(canon, f)
			return f, nil
		}
	}
	if s.source == nil {
		return nil, fmt.Errorf("dataset: %s 不在缓存且未配置数据源", canon)
	}
	f, err := s.source.Fetch(ctx, canon)
	if err != nil {
		return nil, err
	}
	if f.Empty() {
		return nil, fmt.Errorf("dataset: %s 返回空矩阵", canon)
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, canon, f); err != nil {
			logger.Warnf("[dataset] 写缓存 %s 失败: %v", canon, err)
		}
	}
	s.remember(canon, f)
	return f, nil
}

func (s *Service) remember(key string, f *Frame) {
	s.mu.Lock()
	s.mem[key] = f
	s.mu.Unlock()
}

// StaticLoader 以内存映射提供数据集，供干跑与测试使用。
type StaticLoader struct {
	catalog *Catalog
	Frames  map[string]*Frame
}

func NewStaticLoader(frames map[string]*Frame) *StaticLoader {
	return &StaticLoader{catalog: NewCatalog(), Frames: frames}
}

func (l *StaticLoader) Load(_ context.Context, key string) (*Frame, error) {
	canon, _, err := l.catalog.FixKey(key)
	if err != nil {
		return nil, err
	}
	f, ok := l.Frames[canon]
	if !ok {
		return nil, fmt.Errorf("dataset: 静态数据缺少 %s", canon)
	}
	return f, nil
}

// SyntheticFrames 生成确定性的小矩阵集合，覆盖目录中的所有键，
// 用于验证流水线的干跑层。默认长度要盖过模板参数空间里最大的
// 回看窗口，否则顶格窗口的候选会在干跑后被误杀。
func SyntheticFrames(days, stocks int) map[string]*Frame {
	if days <= 0 {
		days = 250
	}
	if stocks <= 0 {
		stocks = 8
	}
	dates := make([]time.Time, days)
	base := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i)
	}
	ids := make([]string, stocks)
	for j := range ids {
		ids[j] = fmt.Sprintf("%d", 1101+j*17)
	}
	out := make(map[string]*Frame, len(canonicalKeys))
	for ki, key := range canonicalKeys {
		f := NewFrame(dates, ids)
		for i := range dates {
			for j := range ids {
				// 可复现的波动序列；各键共享相位，保证价量类信号能同时触发
				v := 100 + 10*float64(j) + float64(ki) +
					5*math.Sin(float64(i+j*3)/9.0) + 0.05*float64(i)
				f.Values[i][j] = v
			}
		}
		out[key] = f
	}
	return out
}
