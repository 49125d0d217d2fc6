package kast

import "testing"

func TestExprLineAttribution(t *testing.T) {
	exprs := []Expr{
		&LiteralExpr{Line: 1, Kind: LitInt, Int: 7},
		&VariableExpr{Line: 2, Name: "x"},
		&BinaryExpr{Line: 3, Op: BinAdd, Left: &LiteralExpr{Line: 3}, Right: &LiteralExpr{Line: 3}},
		&CallExpr{Line: 4, Callee: &VariableExpr{Line: 4, Name: "f"}},
	}
	for i, e := range exprs {
		if e.exprLine() != i+1 {
			t.Errorf("expr %d: line = %d want %d", i, e.exprLine(), i+1)
		}
	}
}

func TestStmtLineAttribution(t *testing.T) {
	stmts := []Stmt{
		&ExpressionStmt{Line: 1},
		&VarDeclStmt{Line: 2, Name: "x"},
		&IfStmt{Line: 3},
		&ForInStmt{Line: 4, Name: "i"},
	}
	for i, s := range stmts {
		if s.stmtLine() != i+1 {
			t.Errorf("stmt %d: line = %d want %d", i, s.stmtLine(), i+1)
		}
	}
}

func TestStructLiteralFieldOrder(t *testing.T) {
	lit := &StructLiteralExpr{
		Line: 1,
		Name: "V",
		Fields: []StructFieldInit{
			{Name: "x", Value: &LiteralExpr{Kind: LitInt, Int: 1}},
			{Name: "y", Value: &LiteralExpr{Kind: LitInt, Int: 2}},
		},
	}
	if lit.Fields[0].Name != "x" || lit.Fields[1].Name != "y" {
		t.Fatal("struct literal field order should be preserved")
	}
}
