package validate

import (
	"fmt"
	"go/ast"
	"go/token"
)

type callInfo struct {
	method string
	pos    token.Pos
	lit    *ast.BasicLit // 单个字符串字面量参数，否则为 nil
	args   []ast.Expr
}

func walk(file *ast.File, fn func(callInfo)) {
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		info := callInfo{method: sel.Sel.Name, pos: call.Pos(), args: call.Args}
		if len(call.Args) == 1 {
			if lit, ok := call.Args[0].(*ast.BasicLit); ok && lit.Kind == token.STRING {
				info.lit = lit
			}
		}
		fn(info)
		return true
	})
}

// checkStructure 校验策略骨架：包名 strategy、唯一的 Build 入口、
// 正确的签名，以及不允许负向 Shift（等价于引用未来数据）。
func checkStructure(code string) error {
	fset, file, err := parseStrategy(code)
	if err != nil {
		return err
	}
	if file.Name.Name != "strategy" {
		return fmt.Errorf("包名必须是 strategy，当前是 %s", file.Name.Name)
	}

	var build *ast.FuncDecl
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name.Name != "Build" {
			continue
		}
		if build != nil {
			return fmt.Errorf("存在多个 Build 函数")
		}
		build = fn
	}
	if build == nil {
		return fmt.Errorf("缺少 Build 函数")
	}
	if build.Recv != nil {
		return fmt.Errorf("Build 不允许有接收者")
	}
	if err := checkBuildSignature(build.Type); err != nil {
		return err
	}

	var violation error
	walk(file, func(call callInfo) {
		if violation != nil || call.method != "Shift" {
			return
		}
		if len(call.args) != 1 {
			return
		}
		if unary, ok := call.args[0].(*ast.UnaryExpr); ok && unary.Op == token.SUB {
			violation = fmt.Errorf("第 %d 行: Shift 不允许负数参数", fset.Position(call.pos).Line)
		}
	})
	return violation
}

func checkBuildSignature(ft *ast.FuncType) error {
	bad := fmt.Errorf("Build 签名必须是 func(ctx *sdk.Context) (*sdk.Frame, error)")
	if ft.Params == nil || len(ft.Params.List) != 1 {
		return bad
	}
	if !isStarSelector(ft.Params.List[0].Type, "sdk", "Context") {
		return bad
	}
	if ft.Results == nil || len(ft.Results.List) != 2 {
		return bad
	}
	if !isStarSelector(ft.Results.List[0].Type, "sdk", "Frame") {
		return bad
	}
	if ident, ok := ft.Results.List[1].Type.(*ast.Ident); !ok || ident.Name != "error" {
		return bad
	}
	return nil
}

func isStarSelector(expr ast.Expr, pkg, name string) bool {
	star, ok := expr.(*ast.StarExpr)
	if !ok {
		return false
	}
	sel, ok := star.X.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	return ok && ident.Name == pkg && sel.Sel.Name == name
}
