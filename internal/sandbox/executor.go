package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"alphaforge/internal/dataset"
	"alphaforge/internal/logger"
	"alphaforge/sdk"
)

// AllowedImports 是策略代码可以 import 的全部包。
// 白名单在静态校验与解释器符号表两处同时生效。
var AllowedImports = []string{
	"math",
	"sort",
	"alphaforge/sdk",
}

// Executor 在 yaegi 解释器里运行策略源码。
// 每次执行新建解释器，符号表只含白名单内的标准库与 sdk 包，
// 策略既碰不到宿主进程的文件与网络，也带不走上一次执行的状态。
type Executor struct {
	timeout time.Duration
}

func New(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{timeout: timeout}
}

type evalResult struct {
	frame *dataset.Frame
	err   error
}

// Run 执行一份策略源码并返回仓位矩阵。
// 源码必须是 package strategy，且定义
// func Build(ctx *sdk.Context) (*sdk.Frame, error)。
func (e *Executor) Run(ctx context.Context, code string, sctx *sdk.Context) (*dataset.Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- evalResult{err: fmt.Errorf("sandbox: 策略 panic: %v", r)}
			}
		}()
		f, err := evalStrategy(code, sctx)
		ch <- evalResult{frame: f, err: err}
	}()

	select {
	case res := <-ch:
		return res.frame, res.err
	case <-ctx.Done():
		// 解释器协程无法强杀，超时后弃置，靠沙箱无副作用兜底
		logger.Warnf("[sandbox] 策略执行超时 (%s)，丢弃该协程", e.timeout)
		return nil, fmt.Errorf("sandbox: 执行超时 (%s): %w", e.timeout, ctx.Err())
	}
}

func evalStrategy(code string, sctx *sdk.Context) (*dataset.Frame, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(restrictedSymbols()); err != nil {
		return nil, fmt.Errorf("sandbox: 装载标准库符号失败: %w", err)
	}
	if err := i.Use(sdkExports()); err != nil {
		return nil, fmt.Errorf("sandbox: 装载 sdk 符号失败: %w", err)
	}

	if _, err := i.Eval(code); err != nil {
		return nil, fmt.Errorf("sandbox: 装载策略失败: %w", err)
	}
	v, err := i.Eval("strategy.Build")
	if err != nil {
		return nil, fmt.Errorf("sandbox: 找不到 strategy.Build: %w", err)
	}
	build, ok := v.Interface().(func(*sdk.Context) (*sdk.Frame, error))
	if !ok {
		return nil, fmt.Errorf("sandbox: Build 签名不符: %T", v.Interface())
	}
	f, err := build(sctx)
	if err != nil {
		return nil, fmt.Errorf("sandbox: 策略返回错误: %w", err)
	}
	if f == nil || f.Empty() {
		return nil, fmt.Errorf("sandbox: 策略返回空仓位矩阵")
	}
	return f, nil
}

// restrictedSymbols 按白名单过滤 yaegi 的标准库符号表。
func restrictedSymbols() interp.Exports {
	allowed := make(map[string]bool, len(AllowedImports))
	for _, p := range AllowedImports {
		allowed[p] = true
	}
	out := make(interp.Exports)
	for path, symbols := range stdlib.Symbols {
		// stdlib.Symbols 的键形如 "math/math"
		pkg := path
		if idx := strings.LastIndex(path, "/"); idx != -1 {
			pkg = path[:idx]
		}
		if allowed[pkg] {
			out[path] = symbols
		}
	}
	return out
}

func sdkExports() interp.Exports {
	return interp.Exports{
		"alphaforge/sdk/sdk": {
			"Context":    reflect.ValueOf((*sdk.Context)(nil)),
			"Frame":      reflect.ValueOf((*sdk.Frame)(nil)),
			"NewContext": reflect.ValueOf(sdk.NewContext),
			"SMA":        reflect.ValueOf(sdk.SMA),
			"EMA":        reflect.ValueOf(sdk.EMA),
			"RSI":        reflect.ValueOf(sdk.RSI),
			"ATR":        reflect.ValueOf(sdk.ATR),
			"Winsorize":  reflect.ValueOf(sdk.Winsorize),
		},
	}
}
