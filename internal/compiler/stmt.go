package compiler

import (
	"kaubo/internal/bytecode"
	kerrors "kaubo/internal/errors"
	"kaubo/internal/kast"
	"kaubo/internal/object"
)

func (c *Compiler) compileStmt(s kast.Stmt) error {
	switch stmt := s.(type) {
	case *kast.ExpressionStmt:
		return c.compileExpressionStmt(stmt)
	case *kast.VarDeclStmt:
		return c.compileVarDeclStmt(stmt)
	case *kast.BlockStmt:
		c.beginScope()
		for _, st := range stmt.Statements {
			if err := c.compileStmt(st); err != nil {
				return err
			}
		}
		c.endScope(stmt.Line)
		return nil
	case *kast.IfStmt:
		return c.compileIfStmt(stmt)
	case *kast.WhileStmt:
		return c.compileWhileStmt(stmt)
	case *kast.ForInStmt:
		return c.compileForInStmt(stmt)
	case *kast.ReturnStmt:
		return c.compileReturnStmt(stmt)
	case *kast.BreakStmt:
		return c.compileBreakStmt(stmt)
	case *kast.ContinueStmt:
		return c.compileContinueStmt(stmt)
	case *kast.FunctionStmt:
		return c.compileFunctionStmt(stmt)
	case *kast.StructStmt:
		return c.compileStructStmt(stmt)
	case *kast.ImplStmt:
		return c.compileImplStmt(stmt)
	case *kast.ImportStmt:
		return c.compileImportStmt(stmt)
	default:
		return kerrors.NewCompileError(kerrors.Unimplemented, stmtLine(s), "unknown statement node")
	}
}

func (c *Compiler) compileExpressionStmt(s *kast.ExpressionStmt) error {
	if err := c.compileExpr(s.Expr); err != nil {
		return err
	}
	c.fn.chunk.WriteOp(bytecode.OpPop, s.Line)
	return nil
}

// compileVarDeclStmt reserves the local slot before compiling the
// initializer, so that a self-reference like `var a = a;` resolves to
// the not-yet-initialized slot and fails with UninitializedVariable
// rather than silently reading an outer binding or garbage.
func (c *Compiler) compileVarDeclStmt(s *kast.VarDeclStmt) error {
	fs := c.fn
	idx, err := fs.addLocal(s.Name, s.Line)
	if err != nil {
		return err
	}
	if s.Init != nil {
		if err := c.compileExpr(s.Init); err != nil {
			return err
		}
	} else {
		fs.chunk.WriteOp(bytecode.OpNull, s.Line)
	}
	fs.locals[idx].initialized = true
	fs.chunk.WriteOpByte(bytecode.OpSetLocal, byte(idx), s.Line)
	fs.chunk.WriteOp(bytecode.OpPop, s.Line)
	return nil
}

// compileBlockStmts compiles a plain statement list (used for if/elif/
// else arms, which kast stores as []Stmt rather than a BlockStmt) as
// effect-only code with its own scope.
func (c *Compiler) compileBlockStmts(stmts []kast.Stmt, line int) error {
	c.beginScope()
	for _, st := range stmts {
		if err := c.compileStmt(st); err != nil {
			return err
		}
	}
	c.endScope(line)
	return nil
}

func (c *Compiler) compileIfStmt(s *kast.IfStmt) error {
	fs := c.fn
	conds := append([]kast.Expr{s.Cond}, s.ElifConds...)
	bodies := append([][]kast.Stmt{s.Then}, s.ElifBody...)
	var endJumps []int
	for i, cond := range conds {
		line := exprLine(cond)
		if err := c.compileExpr(cond); err != nil {
			return err
		}
		elseJump := fs.chunk.WriteJump(bytecode.OpJumpIfFalse, line)
		fs.chunk.WriteOp(bytecode.OpPop, line)
		if err := c.compileBlockStmts(bodies[i], line); err != nil {
			return err
		}
		endJumps = append(endJumps, fs.chunk.WriteJump(bytecode.OpJump, line))
		if err := fs.chunk.PatchJump(elseJump); err != nil {
			return err
		}
		fs.chunk.WriteOp(bytecode.OpPop, line)
	}
	if len(s.Else) > 0 {
		if err := c.compileBlockStmts(s.Else, s.Line); err != nil {
			return err
		}
	}
	for _, ej := range endJumps {
		if err := fs.chunk.PatchJump(ej); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileWhileStmt(s *kast.WhileStmt) error {
	fs := c.fn
	loopStart := fs.chunk.CurrentOffset()
	if err := c.compileExpr(s.Cond); err != nil {
		return err
	}
	exitJump := fs.chunk.WriteJump(bytecode.OpJumpIfFalse, s.Line)
	fs.chunk.WriteOp(bytecode.OpPop, s.Line)

	loop := &loopContext{continueTarget: loopStart}
	fs.loops = append(fs.loops, loop)
	c.beginScope()
	for _, st := range s.Body {
		if err := c.compileStmt(st); err != nil {
			return err
		}
	}
	c.endScope(s.Line)
	fs.loops = fs.loops[:len(fs.loops)-1]

	if err := fs.chunk.WriteLoop(loopStart, s.Line); err != nil {
		return err
	}
	if err := fs.chunk.PatchJump(exitJump); err != nil {
		return err
	}
	fs.chunk.WriteOp(bytecode.OpPop, s.Line)

	for _, bj := range loop.breakJumps {
		if err := fs.chunk.PatchJump(bj); err != nil {
			return err
		}
	}
	return nil
}

// compileForInStmt lowers `for name in iter { body }` to Iter/IterNext
// per spec.md §4.3: Iter turns the iterable into an iterator object,
// then each loop head runs IterNext, which leaves [iterator, element]
// on the stack when there's another element and pops the iterator and
// jumps past the loop when exhausted.
func (c *Compiler) compileForInStmt(s *kast.ForInStmt) error {
	fs := c.fn
	if err := c.compileExpr(s.Iter); err != nil {
		return err
	}
	fs.chunk.WriteOp(bytecode.OpIter, s.Line)

	loopStart := fs.chunk.CurrentOffset()
	exitJump := fs.chunk.WriteJump(bytecode.OpIterNext, s.Line)

	loop := &loopContext{continueTarget: loopStart, popOnBreak: true}
	fs.loops = append(fs.loops, loop)
	c.beginScope()
	idx, err := fs.addLocal(s.Name, s.Line)
	if err != nil {
		return err
	}
	fs.locals[idx].initialized = true
	fs.chunk.WriteOpByte(bytecode.OpSetLocal, byte(idx), s.Line)
	fs.chunk.WriteOp(bytecode.OpPop, s.Line)

	for _, st := range s.Body {
		if err := c.compileStmt(st); err != nil {
			return err
		}
	}
	c.endScope(s.Line)
	fs.loops = fs.loops[:len(fs.loops)-1]

	if err := fs.chunk.WriteLoop(loopStart, s.Line); err != nil {
		return err
	}
	if err := fs.chunk.PatchJump(exitJump); err != nil {
		return err
	}

	for _, bj := range loop.breakJumps {
		if err := fs.chunk.PatchJump(bj); err != nil {
			return err
		}
	}
	return nil
}

func (c *Compiler) compileReturnStmt(s *kast.ReturnStmt) error {
	if s.Value != nil {
		if err := c.compileExpr(s.Value); err != nil {
			return err
		}
	} else {
		c.fn.chunk.WriteOp(bytecode.OpNull, s.Line)
	}
	c.fn.chunk.WriteOp(bytecode.OpReturn, s.Line)
	return nil
}

func (c *Compiler) compileBreakStmt(s *kast.BreakStmt) error {
	fs := c.fn
	if len(fs.loops) == 0 {
		return kerrors.NewCompileError(kerrors.Unimplemented, s.Line, "break outside a loop")
	}
	loop := fs.loops[len(fs.loops)-1]
	if loop.popOnBreak {
		fs.chunk.WriteOp(bytecode.OpPop, s.Line)
	}
	loop.breakJumps = append(loop.breakJumps, fs.chunk.WriteJump(bytecode.OpJump, s.Line))
	return nil
}

func (c *Compiler) compileContinueStmt(s *kast.ContinueStmt) error {
	fs := c.fn
	if len(fs.loops) == 0 {
		return kerrors.NewCompileError(kerrors.Unimplemented, s.Line, "continue outside a loop")
	}
	loop := fs.loops[len(fs.loops)-1]
	return fs.chunk.WriteLoop(loop.continueTarget, s.Line)
}

// compileFunctionStmt desugars `fn name(params) { body }` as sugar for
// `var name = |params| { body };`, per kast's own doc comment on
// FunctionStmt — except the local is marked initialized before the
// body compiles, so the function can call itself recursively by name.
func (c *Compiler) compileFunctionStmt(s *kast.FunctionStmt) error {
	fs := c.fn
	idx, err := fs.addLocal(s.Name, s.Line)
	if err != nil {
		return err
	}
	fs.locals[idx].initialized = true

	fn, ups, err := c.compileFunction(s.Name, s.Params, s.Body, s.Line)
	if err != nil {
		return err
	}
	if err := c.emitClosure(fn, ups, s.Line); err != nil {
		return err
	}
	fs.chunk.WriteOpByte(bytecode.OpSetLocal, byte(idx), s.Line)
	fs.chunk.WriteOp(bytecode.OpPop, s.Line)
	return nil
}

// compileStructStmt allocates a shape id and records the struct's
// field layout; it emits no bytecode of its own, since shapes are a
// compile-time/load-time concept the VM consumes separately (spec.md
// §4.6's shape registration), not a runtime value construction.
func (c *Compiler) compileStructStmt(s *kast.StructStmt) error {
	if _, exists := c.structs[s.Name]; exists {
		return kerrors.NewCompileError(kerrors.VariableAlreadyExists, s.Line, s.Name)
	}
	id := c.nextShapeID
	c.nextShapeID++
	fields := append([]string(nil), s.Fields...)
	shape := object.NewShape(id, s.Name, fields)
	c.structs[s.Name] = &structInfo{shape: shape}
	c.shapes = append(c.shapes, shape)
	return nil
}

// compileImplStmt compiles each method of the block as its own
// function prototype and records it in the chunk's method or operator
// table, keyed by shape id, for the orchestrator to wire onto the
// shape once the chunk is loaded (spec.md §4.3's "method-table
// entries, one per impl method").
func (c *Compiler) compileImplStmt(s *kast.ImplStmt) error {
	info, ok := c.structs[s.Struct]
	if !ok {
		return kerrors.NewCompileError(kerrors.Unimplemented, s.Line, "impl for undeclared struct "+s.Struct)
	}
	for i := range s.Methods {
		m := &s.Methods[i]
		fn, _, err := c.compileFunction(m.Name, m.Params, m.Body, m.Line)
		if err != nil {
			return err
		}
		constIdx, err := c.fn.chunk.AddConstantWide(fn.Value())
		if err != nil {
			return kerrors.NewCompileError(kerrors.TooManyConstants, m.Line, err.Error())
		}
		if op, isOperator := object.OperatorFromMethodName(m.Name); isOperator {
			c.fn.chunk.OperatorTable = append(c.fn.chunk.OperatorTable, bytecode.OperatorTableEntry{
				ShapeID:      info.shape.ID,
				OperatorName: op.MethodName(),
				ConstIdx:     constIdx,
			})
			continue
		}
		methodIdx := uint8(len(info.methodNames))
		info.methodNames = append(info.methodNames, m.Name)
		c.fn.chunk.MethodTable = append(c.fn.chunk.MethodTable, bytecode.MethodTableEntry{
			ShapeID:   info.shape.ID,
			MethodIdx: methodIdx,
			ConstIdx:  constIdx,
		})
	}
	return nil
}

// compileImportStmt binds the imported module's namespace object
// (pre-populated as a global by the stdlib loader before Interpret
// runs) to a local with the import's alias or, lacking one, the
// module name itself.
func (c *Compiler) compileImportStmt(s *kast.ImportStmt) error {
	fs := c.fn
	name := s.Alias
	if name == "" {
		name = s.Module
	}
	idx, err := fs.addLocal(name, s.Line)
	if err != nil {
		return err
	}
	moduleConst, err := fs.chunk.AddConstantWide(object.NewString(s.Module).Value())
	if err != nil {
		return kerrors.NewCompileError(kerrors.TooManyConstants, s.Line, err.Error())
	}
	fs.chunk.WriteOpU16(bytecode.OpGetGlobal, moduleConst, s.Line)
	fs.locals[idx].initialized = true
	fs.chunk.WriteOpByte(bytecode.OpSetLocal, byte(idx), s.Line)
	fs.chunk.WriteOp(bytecode.OpPop, s.Line)
	return nil
}
