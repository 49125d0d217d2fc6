// Package compiler implements the Compiler (C4): a single-pass walk of
// the kast AST that emits a bytecode.Chunk, resolving locals and
// upvalues as it goes and allocating shape ids for user structs.
//
// Grounded on the teacher's internal/compiler (compiler.go's
// visitor-style expression lowering, stmt_compiler.go's local-slot
// bookkeeping and jump-patch arithmetic), generalized to spec.md
// §4.3's exact local/upvalue resolution order, short-circuit and/or,
// and cache-indexed operator opcodes — none of which the teacher's
// compiler has (its locals are a flat name list with no upvalues, no
// closures, no shapes). kast declares visitor interfaces but its nodes
// carry no Accept method, so dispatch here is a type switch rather
// than the teacher's double-dispatch visitor.
package compiler

import (
	"fmt"

	"kaubo/internal/bytecode"
	kerrors "kaubo/internal/errors"
	"kaubo/internal/kast"
	"kaubo/internal/object"
	"kaubo/internal/operators"
	"kaubo/internal/value"
)

const (
	maxLocals   = 256
	maxUpvalues = 256
)

// localVar is one slot in a funcState's local-variable list. depth is
// the lexical block depth at which it was declared; initialized is
// false only in the narrow window between a var-decl reserving its
// slot and its initializer finishing compilation, which is what lets
// the compiler reject `var a = a;` as a compile-time
// UninitializedVariable rather than silently reading garbage.
type localVar struct {
	name        string
	depth       int
	initialized bool
	isCaptured  bool
}

// upvalueRef is one entry in a funcState's upvalue list: either a
// direct capture of the enclosing function's local at index, or a
// forwarded reference to the enclosing function's own upvalue at
// index — spec.md §4.3's "deduplicating by captured-slot identity".
type upvalueRef struct {
	index   uint8
	isLocal bool
}

// loopContext tracks the jump targets a break/continue inside the
// loop currently being compiled needs: continueTarget for WriteLoop,
// and the pending forward jumps break emits (patched once the loop's
// exit point is known). popOnBreak is set for for-in loops, whose
// iterator lives on the operand stack for the loop's duration and
// must be discarded before a break jumps past it.
type loopContext struct {
	continueTarget int
	breakJumps     []int
	popOnBreak     bool
}

// funcState is the compiler's per-function context: its target chunk,
// its block-scoped local-variable list, and the upvalues it captures
// from whatever function encloses it. The top-level program is itself
// a funcState with enclosing == nil.
type funcState struct {
	enclosing *funcState
	chunk     *bytecode.Chunk
	name      string

	locals     []localVar
	maxLocals  int
	scopeDepth int

	upvalues []upvalueRef
	loops    []*loopContext
}

func (fs *funcState) addLocal(name string, line int) (int, error) {
	if len(fs.locals) >= maxLocals {
		return 0, kerrors.NewCompileError(kerrors.TooManyLocals, line, name)
	}
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].depth < fs.scopeDepth {
			break
		}
		if fs.locals[i].name == name {
			return 0, kerrors.NewCompileError(kerrors.VariableAlreadyExists, line, name)
		}
	}
	fs.locals = append(fs.locals, localVar{name: name, depth: fs.scopeDepth})
	if len(fs.locals) > fs.maxLocals {
		fs.maxLocals = len(fs.locals)
	}
	return len(fs.locals) - 1, nil
}

// structInfo tracks one declared struct's shape across the whole
// compilation: its allocated Shape object (id, name, field layout)
// and the method names registered on it so far, whose slice position
// doubles as the MethodTableEntry.MethodIdx handed to the VM.
type structInfo struct {
	shape       *object.Shape
	methodNames []string
}

// Compiler performs spec.md §4.3's AST-to-bytecode compilation. One
// instance compiles one top-level program; every nested function and
// struct/impl block it contains shares the same shape-id counter and
// struct registry.
type Compiler struct {
	fn          *funcState
	structs     map[string]*structInfo
	shapes      []*object.Shape
	nextShapeID uint16
}

// Result is what Compile hands back to the orchestrator boundary,
// spec.md §6's `compile(ast) -> (Chunk, local_count, shapes)`.
type Result struct {
	Chunk      *bytecode.Chunk
	LocalCount int
	Shapes     []*object.Shape
}

// Compile lowers an entire module to a single top-level chunk.
func Compile(mod *kast.Module) (*Result, error) {
	c := &Compiler{
		structs:     make(map[string]*structInfo),
		nextShapeID: operators.FirstUserShapeID,
	}
	c.fn = &funcState{chunk: bytecode.New(), name: "<script>"}

	for _, stmt := range mod.Statements {
		if err := c.compileStmt(stmt); err != nil {
			return nil, err
		}
	}

	return &Result{
		Chunk:      c.fn.chunk,
		LocalCount: c.fn.maxLocals,
		Shapes:     c.shapes,
	}, nil
}

// --- scope management ---

func (c *Compiler) beginScope() { c.fn.scopeDepth++ }

// endScope pops every local declared at the scope just left. Locals
// here are not operand-stack slots (they live in the VM's separate
// per-frame Locals array), so there is nothing to Pop off the operand
// stack on scope exit — the only runtime effect needed is closing any
// local that an inner closure captured, so a later local that reuses
// its slot index doesn't corrupt an escaped upvalue.
func (c *Compiler) endScope(line int) {
	fs := c.fn
	fs.scopeDepth--
	for len(fs.locals) > 0 && fs.locals[len(fs.locals)-1].depth > fs.scopeDepth {
		idx := len(fs.locals) - 1
		if fs.locals[idx].isCaptured {
			fs.chunk.WriteOpByte(bytecode.OpCloseUpvalue, byte(idx), line)
		}
		fs.locals = fs.locals[:idx]
	}
}

// pushHiddenLocal/popHiddenLocal reserve and release a compiler-only
// local slot, used by compileSwappedComparison to hold a duplicate of
// the left operand across the right operand's evaluation without
// reordering either operand's side effects (see compileSwappedComparison).
func (c *Compiler) pushHiddenLocal(line int) (int, error) {
	fs := c.fn
	if len(fs.locals) >= maxLocals {
		return 0, kerrors.NewCompileError(kerrors.TooManyLocals, line, "$cmp")
	}
	fs.locals = append(fs.locals, localVar{name: fmt.Sprintf("$cmp%d", len(fs.locals)), depth: fs.scopeDepth, initialized: true})
	if len(fs.locals) > fs.maxLocals {
		fs.maxLocals = len(fs.locals)
	}
	return len(fs.locals) - 1, nil
}

func (c *Compiler) popHiddenLocal() {
	c.fn.locals = c.fn.locals[:len(c.fn.locals)-1]
}

// --- variable resolution (spec.md §4.3) ---

func resolveLocalRaw(fs *funcState, name string, line int) (int, bool, error) {
	for i := len(fs.locals) - 1; i >= 0; i-- {
		if fs.locals[i].name != name {
			continue
		}
		if !fs.locals[i].initialized {
			return 0, false, kerrors.NewCompileError(kerrors.UninitializedVariable, line, name)
		}
		return i, true, nil
	}
	return 0, false, nil
}

func addUpvalue(fs *funcState, index uint8, isLocal bool, line int) (int, error) {
	for i, uv := range fs.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i, nil
		}
	}
	if len(fs.upvalues) >= maxUpvalues {
		return 0, kerrors.NewCompileError(kerrors.TooManyLocals, line, "too many captured variables")
	}
	fs.upvalues = append(fs.upvalues, upvalueRef{index: index, isLocal: isLocal})
	return len(fs.upvalues) - 1, nil
}

func resolveUpvalue(fs *funcState, name string, line int) (int, bool, error) {
	if fs.enclosing == nil {
		return 0, false, nil
	}
	if idx, found, err := resolveLocalRaw(fs.enclosing, name, line); err != nil {
		return 0, false, err
	} else if found {
		fs.enclosing.locals[idx].isCaptured = true
		upIdx, err := addUpvalue(fs, uint8(idx), true, line)
		return upIdx, err == nil, err
	}
	if upIdx, found, err := resolveUpvalue(fs.enclosing, name, line); err != nil {
		return 0, false, err
	} else if found {
		idx, err := addUpvalue(fs, uint8(upIdx), false, line)
		return idx, err == nil, err
	}
	return 0, false, nil
}

func (c *Compiler) emitGetVariable(name string, line int) error {
	fs := c.fn
	if idx, found, err := resolveLocalRaw(fs, name, line); err != nil {
		return err
	} else if found {
		fs.chunk.WriteOpByte(bytecode.OpGetLocal, byte(idx), line)
		return nil
	}
	if idx, found, err := resolveUpvalue(fs, name, line); err != nil {
		return err
	} else if found {
		fs.chunk.WriteOpByte(bytecode.OpGetUpvalue, byte(idx), line)
		return nil
	}
	nameConst, err := fs.chunk.AddConstantWide(object.NewString(name).Value())
	if err != nil {
		return err
	}
	fs.chunk.WriteOpU16(bytecode.OpGetGlobal, nameConst, line)
	return nil
}

func (c *Compiler) emitSetVariable(name string, line int) error {
	fs := c.fn
	if idx, found, err := resolveLocalRaw(fs, name, line); err != nil {
		return err
	} else if found {
		fs.chunk.WriteOpByte(bytecode.OpSetLocal, byte(idx), line)
		return nil
	}
	if idx, found, err := resolveUpvalue(fs, name, line); err != nil {
		return err
	} else if found {
		fs.chunk.WriteOpByte(bytecode.OpSetUpvalue, byte(idx), line)
		return nil
	}
	nameConst, err := fs.chunk.AddConstantWide(object.NewString(name).Value())
	if err != nil {
		return err
	}
	fs.chunk.WriteOpU16(bytecode.OpSetGlobal, nameConst, line)
	return nil
}

// --- inline caches / constants ---

func (c *Compiler) allocateCache(line int) (byte, error) {
	idx, err := c.fn.chunk.AllocateInlineCache()
	if err != nil {
		return 0, kerrors.NewCompileError(kerrors.TooManyConstants, line, err.Error())
	}
	return idx, nil
}

func (c *Compiler) emitConstant(v value.Value, line int) error {
	chunk := c.fn.chunk
	if len(chunk.Constants) < 256 {
		idx, err := chunk.AddConstant(v)
		if err != nil {
			return kerrors.NewCompileError(kerrors.TooManyConstants, line, err.Error())
		}
		chunk.WriteOpByte(bytecode.OpConstant, idx, line)
		return nil
	}
	idx, err := chunk.AddConstantWide(v)
	if err != nil {
		return kerrors.NewCompileError(kerrors.TooManyConstants, line, err.Error())
	}
	chunk.WriteOpU16(bytecode.OpConstantWide, idx, line)
	return nil
}

// --- functions & closures ---

// compileFunction compiles body as a fresh nested chunk and returns
// the resulting prototype plus the upvalues its body captured from
// this (the currently-enclosing) function — spec.md §4.3's "function
// declaration compiles a fresh Chunk in a nested compiler".
func (c *Compiler) compileFunction(name string, params []string, body []kast.Stmt, line int) (*object.Function, []upvalueRef, error) {
	parent := c.fn
	fs := &funcState{enclosing: parent, chunk: bytecode.New(), name: name}
	c.fn = fs

	for _, p := range params {
		idx, err := fs.addLocal(p, line)
		if err != nil {
			c.fn = parent
			return nil, nil, err
		}
		fs.locals[idx].initialized = true
	}

	for _, stmt := range body {
		if err := c.compileStmt(stmt); err != nil {
			c.fn = parent
			return nil, nil, err
		}
	}

	c.fn = parent
	fn := &object.Function{
		Name:         name,
		Arity:        len(params),
		Chunk:        fs.chunk,
		LocalCount:   fs.maxLocals,
		UpvalueCount: len(fs.upvalues),
		UpvalueDescs: upvalueDescs(fs.upvalues),
	}
	return fn, fs.upvalues, nil
}

func upvalueDescs(ups []upvalueRef) []object.UpvalueDesc {
	if len(ups) == 0 {
		return nil
	}
	descs := make([]object.UpvalueDesc, len(ups))
	for i, u := range ups {
		descs[i] = object.UpvalueDesc{IsLocal: u.isLocal, Index: u.index}
	}
	return descs
}

// emitClosure emits `Closure const_idx` followed by one (is_local,
// index) byte pair per captured upvalue, which the VM reads
// immediately after the opcode (spec.md §4.4's Upvalues note).
func (c *Compiler) emitClosure(fn *object.Function, ups []upvalueRef, line int) error {
	chunk := c.fn.chunk
	idx, err := chunk.AddConstantWide(fn.Value())
	if err != nil {
		return kerrors.NewCompileError(kerrors.TooManyConstants, line, err.Error())
	}
	chunk.WriteOpU16(bytecode.OpClosure, idx, line)
	for _, uv := range ups {
		var isLocal byte
		if uv.isLocal {
			isLocal = 1
		}
		chunk.WriteByte(isLocal, line)
		chunk.WriteByte(uv.index, line)
	}
	return nil
}

// --- expression dispatch ---

func (c *Compiler) compileExpr(e kast.Expr) error {
	switch expr := e.(type) {
	case *kast.LiteralExpr:
		return c.compileLiteral(expr)
	case *kast.VariableExpr:
		return c.emitGetVariable(expr.Name, expr.Line)
	case *kast.AssignExpr:
		return c.compileAssignExpr(expr)
	case *kast.BinaryExpr:
		return c.compileBinaryExpr(expr)
	case *kast.UnaryExpr:
		return c.compileUnaryExpr(expr)
	case *kast.LogicalExpr:
		return c.compileLogicalExpr(expr)
	case *kast.CallExpr:
		return c.compileCallExpr(expr)
	case *kast.ArrayExpr:
		return c.compileArrayExpr(expr)
	case *kast.IndexExpr:
		return c.compileIndexExpr(expr)
	case *kast.SetIndexExpr:
		return c.compileSetIndexExpr(expr)
	case *kast.LambdaExpr:
		return c.compileLambdaExpr(expr)
	case *kast.PropertyExpr:
		return c.compilePropertyExpr(expr)
	case *kast.SetPropertyExpr:
		return c.compileSetPropertyExpr(expr)
	case *kast.StructLiteralExpr:
		return c.compileStructLiteral(expr)
	case *kast.IfExpr:
		return c.compileIfExprNode(expr)
	case *kast.BlockExpr:
		return c.compileExprBody(expr.Statements, expr.Line)
	default:
		return kerrors.NewCompileError(kerrors.Unimplemented, exprLine(e), fmt.Sprintf("%T", e))
	}
}

func (c *Compiler) compileLiteral(e *kast.LiteralExpr) error {
	switch e.Kind {
	case kast.LitNull:
		c.fn.chunk.WriteOp(bytecode.OpNull, e.Line)
		return nil
	case kast.LitBool:
		if e.Bool {
			c.fn.chunk.WriteOp(bytecode.OpTrue, e.Line)
		} else {
			c.fn.chunk.WriteOp(bytecode.OpFalse, e.Line)
		}
		return nil
	case kast.LitInt:
		return c.emitConstant(value.Int(e.Int), e.Line)
	case kast.LitFloat:
		return c.emitConstant(value.Float(e.Float), e.Line)
	case kast.LitString:
		return c.emitConstant(object.NewString(e.Str).Value(), e.Line)
	default:
		return kerrors.NewCompileError(kerrors.Unimplemented, e.Line, "unknown literal kind")
	}
}

func (c *Compiler) compileAssignExpr(e *kast.AssignExpr) error {
	if err := c.compileExpr(e.Value); err != nil {
		return err
	}
	return c.emitSetVariable(e.Name, e.Line)
}

func binaryOpcode(op kast.BinaryOp) bytecode.OpCode {
	switch op {
	case kast.BinAdd:
		return bytecode.OpAdd
	case kast.BinSub:
		return bytecode.OpSub
	case kast.BinMul:
		return bytecode.OpMul
	case kast.BinDiv:
		return bytecode.OpDiv
	case kast.BinMod:
		return bytecode.OpMod
	case kast.BinEq:
		return bytecode.OpEq
	case kast.BinLt:
		return bytecode.OpLt
	case kast.BinLe:
		return bytecode.OpLe
	default:
		panic("compiler: binaryOpcode called with a non-direct operator")
	}
}

func (c *Compiler) compileBinaryExpr(e *kast.BinaryExpr) error {
	switch e.Op {
	case kast.BinAdd, kast.BinSub, kast.BinMul, kast.BinDiv, kast.BinMod, kast.BinEq, kast.BinLt, kast.BinLe:
		if err := c.compileExpr(e.Left); err != nil {
			return err
		}
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		cache, err := c.allocateCache(e.Line)
		if err != nil {
			return err
		}
		c.fn.chunk.WriteOpByte(binaryOpcode(e.Op), cache, e.Line)
		return nil
	case kast.BinNeq:
		if err := c.compileExpr(e.Left); err != nil {
			return err
		}
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		cache, err := c.allocateCache(e.Line)
		if err != nil {
			return err
		}
		c.fn.chunk.WriteOpByte(bytecode.OpEq, cache, e.Line)
		return c.emitLogicalNot(e.Line)
	case kast.BinGt, kast.BinGe:
		return c.compileSwappedComparison(e)
	default:
		return kerrors.NewCompileError(kerrors.InvalidOperator, e.Line, "unknown binary operator")
	}
}

// compileSwappedComparison implements `>` and `>=` without a
// dedicated opcode by reducing to `<`/`<=` with the operands swapped
// at the value level rather than the evaluation-order level: Left is
// evaluated first (as source order requires) and stashed in a hidden
// local, then Right is evaluated, then both are fed to Lt/Le in
// reversed position. No source-visible side effect ordering changes.
func (c *Compiler) compileSwappedComparison(e *kast.BinaryExpr) error {
	fs := c.fn
	if err := c.compileExpr(e.Left); err != nil {
		return err
	}
	tmp, err := c.pushHiddenLocal(e.Line)
	if err != nil {
		return err
	}
	fs.chunk.WriteOpByte(bytecode.OpSetLocal, byte(tmp), e.Line)
	fs.chunk.WriteOp(bytecode.OpPop, e.Line)

	if err := c.compileExpr(e.Right); err != nil {
		return err
	}
	fs.chunk.WriteOpByte(bytecode.OpGetLocal, byte(tmp), e.Line)

	cache, err := c.allocateCache(e.Line)
	if err != nil {
		return err
	}
	op := bytecode.OpLt
	if e.Op == kast.BinGe {
		op = bytecode.OpLe
	}
	fs.chunk.WriteOpByte(op, cache, e.Line)
	c.popHiddenLocal()
	return nil
}

// emitLogicalNot negates the truthiness of the value on top of the
// stack. There is no dedicated Not opcode (spec.md §4.4's instruction
// set has none), so `!v` is synthesized the same way a `not`-less
// stack machine always does: branch on the value, push the opposite
// boolean literal on each arm.
func (c *Compiler) emitLogicalNot(line int) error {
	chunk := c.fn.chunk
	falseJump := chunk.WriteJump(bytecode.OpJumpIfFalse, line)
	chunk.WriteOp(bytecode.OpPop, line)
	chunk.WriteOp(bytecode.OpFalse, line)
	endJump := chunk.WriteJump(bytecode.OpJump, line)
	if err := chunk.PatchJump(falseJump); err != nil {
		return err
	}
	chunk.WriteOp(bytecode.OpPop, line)
	chunk.WriteOp(bytecode.OpTrue, line)
	return chunk.PatchJump(endJump)
}

func (c *Compiler) compileUnaryExpr(e *kast.UnaryExpr) error {
	if err := c.compileExpr(e.Operand); err != nil {
		return err
	}
	switch e.Op {
	case kast.UnaryNeg:
		cache, err := c.allocateCache(e.Line)
		if err != nil {
			return err
		}
		c.fn.chunk.WriteOpByte(bytecode.OpNeg, cache, e.Line)
		return nil
	case kast.UnaryNot:
		return c.emitLogicalNot(e.Line)
	default:
		return kerrors.NewCompileError(kerrors.InvalidOperator, e.Line, "unknown unary operator")
	}
}

// compileLogicalExpr lowers `and`/`or` to short-circuit jumps rather
// than operator-dispatch opcodes, per spec.md §4.3.
func (c *Compiler) compileLogicalExpr(e *kast.LogicalExpr) error {
	fs := c.fn
	if err := c.compileExpr(e.Left); err != nil {
		return err
	}
	switch e.Op {
	case kast.LogicalAnd:
		endJump := fs.chunk.WriteJump(bytecode.OpJumpIfFalse, e.Line)
		fs.chunk.WriteOp(bytecode.OpPop, e.Line)
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		return fs.chunk.PatchJump(endJump)
	case kast.LogicalOr:
		elseJump := fs.chunk.WriteJump(bytecode.OpJumpIfFalse, e.Line)
		endJump := fs.chunk.WriteJump(bytecode.OpJump, e.Line)
		if err := fs.chunk.PatchJump(elseJump); err != nil {
			return err
		}
		fs.chunk.WriteOp(bytecode.OpPop, e.Line)
		if err := c.compileExpr(e.Right); err != nil {
			return err
		}
		return fs.chunk.PatchJump(endJump)
	default:
		return kerrors.NewCompileError(kerrors.InvalidOperator, e.Line, "unknown logical operator")
	}
}

func (c *Compiler) compileCallExpr(e *kast.CallExpr) error {
	if len(e.Args) > 255 {
		return kerrors.NewCompileError(kerrors.Unimplemented, e.Line, "more than 255 call arguments")
	}
	if err := c.compileExpr(e.Callee); err != nil {
		return err
	}
	for _, a := range e.Args {
		if err := c.compileExpr(a); err != nil {
			return err
		}
	}
	c.fn.chunk.WriteOpByte(bytecode.OpCall, byte(len(e.Args)), e.Line)
	return nil
}

func (c *Compiler) compileArrayExpr(e *kast.ArrayExpr) error {
	if len(e.Elements) > 65535 {
		return kerrors.NewCompileError(kerrors.Unimplemented, e.Line, "array literal too large")
	}
	for _, el := range e.Elements {
		if err := c.compileExpr(el); err != nil {
			return err
		}
	}
	c.fn.chunk.WriteOpU16(bytecode.OpMakeList, uint16(len(e.Elements)), e.Line)
	return nil
}

func (c *Compiler) compileIndexExpr(e *kast.IndexExpr) error {
	if err := c.compileExpr(e.Collection); err != nil {
		return err
	}
	if err := c.compileExpr(e.Index); err != nil {
		return err
	}
	cache, err := c.allocateCache(e.Line)
	if err != nil {
		return err
	}
	c.fn.chunk.WriteOpByte(bytecode.OpGetIndex, cache, e.Line)
	return nil
}

func (c *Compiler) compileSetIndexExpr(e *kast.SetIndexExpr) error {
	if err := c.compileExpr(e.Collection); err != nil {
		return err
	}
	if err := c.compileExpr(e.Index); err != nil {
		return err
	}
	if err := c.compileExpr(e.Value); err != nil {
		return err
	}
	cache, err := c.allocateCache(e.Line)
	if err != nil {
		return err
	}
	c.fn.chunk.WriteOpByte(bytecode.OpSetIndex, cache, e.Line)
	return nil
}

func (c *Compiler) compileLambdaExpr(e *kast.LambdaExpr) error {
	fn, ups, err := c.compileFunction("<lambda>", e.Params, e.Body, e.Line)
	if err != nil {
		return err
	}
	return c.emitClosure(fn, ups, e.Line)
}

func (c *Compiler) compilePropertyExpr(e *kast.PropertyExpr) error {
	fs := c.fn
	if err := c.compileExpr(e.Target); err != nil {
		return err
	}
	nameIdx, err := fs.chunk.AddConstantWide(object.NewString(e.Name).Value())
	if err != nil {
		return kerrors.NewCompileError(kerrors.TooManyConstants, e.Line, err.Error())
	}
	if e.Args != nil {
		if len(e.Args) > 255 {
			return kerrors.NewCompileError(kerrors.Unimplemented, e.Line, "more than 255 call arguments")
		}
		for _, a := range e.Args {
			if err := c.compileExpr(a); err != nil {
				return err
			}
		}
		cache, err := c.allocateCache(e.Line)
		if err != nil {
			return err
		}
		fs.chunk.WriteOp(bytecode.OpInvoke, e.Line)
		fs.chunk.WriteU16(nameIdx, e.Line)
		fs.chunk.WriteByte(byte(len(e.Args)), e.Line)
		fs.chunk.WriteByte(cache, e.Line)
		return nil
	}
	cache, err := c.allocateCache(e.Line)
	if err != nil {
		return err
	}
	fs.chunk.WriteOpU16U8(bytecode.OpGetField, nameIdx, cache, e.Line)
	return nil
}

func (c *Compiler) compileSetPropertyExpr(e *kast.SetPropertyExpr) error {
	fs := c.fn
	if err := c.compileExpr(e.Target); err != nil {
		return err
	}
	if err := c.compileExpr(e.Value); err != nil {
		return err
	}
	nameIdx, err := fs.chunk.AddConstantWide(object.NewString(e.Name).Value())
	if err != nil {
		return kerrors.NewCompileError(kerrors.TooManyConstants, e.Line, err.Error())
	}
	cache, err := c.allocateCache(e.Line)
	if err != nil {
		return err
	}
	fs.chunk.WriteOpU16U8(bytecode.OpSetField, nameIdx, cache, e.Line)
	return nil
}

// compileStructLiteral pushes field values in the *declared shape's*
// field order (missing fields default to null), since OpMakeStruct
// pops them back out in reverse — the literal's own field-init order
// in source need not match.
func (c *Compiler) compileStructLiteral(e *kast.StructLiteralExpr) error {
	info, ok := c.structs[e.Name]
	if !ok {
		return kerrors.NewCompileError(kerrors.Unimplemented, e.Line, "undeclared struct "+e.Name)
	}
	values := make(map[string]kast.Expr, len(e.Fields))
	for _, f := range e.Fields {
		values[f.Name] = f.Value
	}
	for _, fieldName := range info.shape.Fields {
		if v, ok := values[fieldName]; ok {
			if err := c.compileExpr(v); err != nil {
				return err
			}
		} else {
			c.fn.chunk.WriteOp(bytecode.OpNull, e.Line)
		}
	}
	shapeConst, err := c.fn.chunk.AddConstantWide(value.Int(int32(info.shape.ID)))
	if err != nil {
		return kerrors.NewCompileError(kerrors.TooManyConstants, e.Line, err.Error())
	}
	c.fn.chunk.WriteOpU16(bytecode.OpMakeStruct, shapeConst, e.Line)
	return nil
}

// compileExprBody compiles stmts as a value-producing block (IfExpr
// arms, BlockExpr): every statement but the last runs for effect; the
// last contributes the block's value if it is a bare expression
// statement, else the block evaluates to null.
func (c *Compiler) compileExprBody(stmts []kast.Stmt, line int) error {
	c.beginScope()
	for i, st := range stmts {
		if i == len(stmts)-1 {
			if expr, ok := st.(*kast.ExpressionStmt); ok {
				if err := c.compileExpr(expr.Expr); err != nil {
					return err
				}
				c.endScope(line)
				return nil
			}
		}
		if err := c.compileStmt(st); err != nil {
			return err
		}
	}
	c.fn.chunk.WriteOp(bytecode.OpNull, line)
	c.endScope(line)
	return nil
}

func (c *Compiler) compileIfExprNode(e *kast.IfExpr) error {
	fs := c.fn
	conds := append([]kast.Expr{e.Cond}, e.ElifConds...)
	bodies := append([][]kast.Stmt{e.Then}, e.ElifBody...)
	var endJumps []int
	for i, cond := range conds {
		line := exprLine(cond)
		if err := c.compileExpr(cond); err != nil {
			return err
		}
		elseJump := fs.chunk.WriteJump(bytecode.OpJumpIfFalse, line)
		fs.chunk.WriteOp(bytecode.OpPop, line)
		if err := c.compileExprBody(bodies[i], line); err != nil {
			return err
		}
		endJumps = append(endJumps, fs.chunk.WriteJump(bytecode.OpJump, line))
		if err := fs.chunk.PatchJump(elseJump); err != nil {
			return err
		}
		fs.chunk.WriteOp(bytecode.OpPop, line)
	}
	if err := c.compileExprBody(e.Else, e.Line); err != nil {
		return err
	}
	for _, ej := range endJumps {
		if err := fs.chunk.PatchJump(ej); err != nil {
			return err
		}
	}
	return nil
}

// --- line extraction ---
//
// kast.Expr/Stmt expose their line only through an unexported method
// (exprLine/stmtLine, declared in internal/kast), which a
// different package cannot call through the interface — but every
// concrete node has an exported Line field, reachable once a type
// switch narrows to it.

func exprLine(e kast.Expr) int {
	switch v := e.(type) {
	case *kast.LiteralExpr:
		return v.Line
	case *kast.VariableExpr:
		return v.Line
	case *kast.AssignExpr:
		return v.Line
	case *kast.BinaryExpr:
		return v.Line
	case *kast.UnaryExpr:
		return v.Line
	case *kast.LogicalExpr:
		return v.Line
	case *kast.CallExpr:
		return v.Line
	case *kast.ArrayExpr:
		return v.Line
	case *kast.IndexExpr:
		return v.Line
	case *kast.SetIndexExpr:
		return v.Line
	case *kast.LambdaExpr:
		return v.Line
	case *kast.PropertyExpr:
		return v.Line
	case *kast.SetPropertyExpr:
		return v.Line
	case *kast.StructLiteralExpr:
		return v.Line
	case *kast.IfExpr:
		return v.Line
	case *kast.BlockExpr:
		return v.Line
	default:
		return 0
	}
}

func stmtLine(s kast.Stmt) int {
	switch v := s.(type) {
	case *kast.ExpressionStmt:
		return v.Line
	case *kast.VarDeclStmt:
		return v.Line
	case *kast.BlockStmt:
		return v.Line
	case *kast.IfStmt:
		return v.Line
	case *kast.WhileStmt:
		return v.Line
	case *kast.ForInStmt:
		return v.Line
	case *kast.ReturnStmt:
		return v.Line
	case *kast.BreakStmt:
		return v.Line
	case *kast.ContinueStmt:
		return v.Line
	case *kast.FunctionStmt:
		return v.Line
	case *kast.StructStmt:
		return v.Line
	case *kast.ImplStmt:
		return v.Line
	case *kast.ImportStmt:
		return v.Line
	default:
		return 0
	}
}
