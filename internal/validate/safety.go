package validate

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"alphaforge/internal/sandbox"
)

func parseStrategy(code string) (*token.FileSet, *ast.File, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "strategy.go", code, parser.AllErrors)
	if err != nil {
		return nil, nil, err
	}
	return fset, file, nil
}

func checkSyntax(code string) error {
	if _, _, err := parseStrategy(code); err != nil {
		return fmt.Errorf("语法错误: %w", err)
	}
	return nil
}

// checkSafety 强制 import 白名单，并拒绝 go 语句与 channel。
// 白名单与沙箱符号表一致，这里提前拦截能给出更可读的错误。
func checkSafety(code string) error {
	fset, file, err := parseStrategy(code)
	if err != nil {
		return err
	}
	allowed := make(map[string]bool, len(sandbox.AllowedImports))
	for _, p := range sandbox.AllowedImports {
		allowed[p] = true
	}
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("非法 import 路径 %s", imp.Path.Value)
		}
		if path == "C" {
			return fmt.Errorf("禁止 cgo")
		}
		if !allowed[path] {
			return fmt.Errorf("禁止 import %q，白名单: %v", path, sandbox.AllowedImports)
		}
		if imp.Name != nil && imp.Name.Name == "." {
			return fmt.Errorf("禁止 dot import")
		}
	}

	var violation error
	ast.Inspect(file, func(n ast.Node) bool {
		if violation != nil {
			return false
		}
		switch node := n.(type) {
		case *ast.GoStmt:
			violation = fmt.Errorf("第 %d 行: 禁止 go 语句", fset.Position(node.Pos()).Line)
			return false
		case *ast.ChanType:
			violation = fmt.Errorf("第 %d 行: 禁止 channel", fset.Position(node.Pos()).Line)
			return false
		case *ast.SelectStmt:
			violation = fmt.Errorf("第 %d 行: 禁止 select 语句", fset.Position(node.Pos()).Line)
			return false
		}
		return true
	})
	return violation
}
