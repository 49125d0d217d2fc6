// Package vm implements VM Core (C5): the fetch/decode/dispatch loop,
// operand stack, call-frame stack, open-upvalue chain, global
// environment, and shape registry. It is grounded on the teacher's
// internal/vm/vm.go (EnhancedVM's frame/stack bookkeeping and
// pre-sized stack/frame slices) generalized to spec.md §4.4's exact
// calling convention and upvalue-closing rules, with NaN-boxed values
// (internal/value), heap objects (internal/object), and inline-cache
// operator dispatch (internal/operators) replacing the teacher's
// `interface{}` Value and ad hoc type switches.
package vm

import (
	"fmt"
	"io"

	"kaubo/internal/bytecode"
	"kaubo/internal/config"
	kerrors "kaubo/internal/errors"
	"kaubo/internal/object"
	"kaubo/internal/operators"
	"kaubo/internal/value"
)

// CallFrame is one activation record: the running closure, an
// instruction pointer into its chunk's code, a dense locals array
// pre-sized to the function's declared local count, and the operand
// stack index where this frame's evaluation region begins (spec.md
// §4.4). Locals are never reallocated once a frame starts running, so
// a pointer into Locals stays valid for the frame's whole lifetime —
// the property open upvalues depend on.
type CallFrame struct {
	Closure   *object.Closure
	IP        int
	Locals    []value.Value
	StackBase int
}

// VM is one self-contained interpreter instance: its operand stack,
// call-frame stack, globals, shape registry, and open-upvalue chain
// are all owned exclusively by it (spec.md §5) and constructed from
// an explicit VMConfig rather than a global singleton (spec.md §9's
// Design Note).
type VM struct {
	cfg config.VMConfig

	stack  []value.Value
	frames []*CallFrame

	globals map[string]value.Value
	shapes  map[uint16]*object.Shape

	openUpvalues []*object.Upvalue

	coroutineRuntimes map[*object.Coroutine]*coroutineRuntime
	currentYield      func(value.Value) value.Value

	instructionCount uint64
}

// New constructs a bare VM from cfg, pre-sizing its stack and frame
// slices. It installs no natives itself — internal/stdlib.Register
// does that as a separate step against the constructed VM, since
// stdlib needs to import internal/vm and the reverse would cycle.
func New(cfg config.VMConfig) *VM {
	vm := &VM{
		cfg:               cfg,
		stack:             make([]value.Value, 0, cfg.InitialStackSize),
		frames:            make([]*CallFrame, 0, cfg.InitialFrameCapacity),
		globals:           make(map[string]value.Value),
		shapes:            make(map[uint16]*object.Shape),
		coroutineRuntimes: make(map[*object.Coroutine]*coroutineRuntime),
	}
	return vm
}

// DefineGlobal installs or overwrites a global binding, per spec.md
// §4.4's "redefinition overwrites". Stdlib pre-population uses this
// at VM construction.
func (vm *VM) DefineGlobal(name string, v value.Value) {
	vm.globals[name] = v
}

// RegisterShape installs shape into the shape registry, keyed by its
// id (spec.md's register_shape).
func (vm *VM) RegisterShape(shape *object.Shape) {
	vm.shapes[shape.ID] = shape
}

// Shape looks up a previously registered shape by id.
func (vm *VM) Shape(id uint16) (*object.Shape, bool) {
	s, ok := vm.shapes[id]
	return s, ok
}

// Stdout returns the writer print-family natives should write to, per
// the VMConfig this VM was constructed with.
func (vm *VM) Stdout() io.Writer {
	return vm.cfg.Stdout
}

// Call invokes a closure with args from outside the dispatch loop —
// the entry point stdlib natives use for higher-order calls (list
// iteration callbacks, and coroutine bodies).
func (vm *VM) Call(closure *object.Closure, args []value.Value) (value.Value, error) {
	return vm.invokeClosure(closure, args)
}

// RegisterMethodToShape installs fn at methodIdx on the shape with
// shapeID (spec.md's register_method_to_shape), used by the
// orchestrator boundary after compiling a struct's impl block.
func (vm *VM) RegisterMethodToShape(shapeID uint16, methodIdx uint8, fn *object.Function) error {
	shape, ok := vm.shapes[shapeID]
	if !ok {
		return fmt.Errorf("vm: no shape registered with id %d", shapeID)
	}
	shape.RegisterMethod(methodIdx, fn)
	return nil
}

// RegisterOperatorsFromChunk walks chunk's OperatorTable, wrapping
// each referenced constant-pool function into a closure and
// installing it on the named operator of the chunk's declaring shape
// — the load-time half of spec.md §4.3's "operator methods ... go to
// the operator table instead", mirroring next_kaubo's
// register_operators_from_chunk.
func (vm *VM) RegisterOperatorsFromChunk(chunk *bytecode.Chunk) error {
	for _, entry := range chunk.OperatorTable {
		shape, ok := vm.shapes[entry.ShapeID]
		if !ok {
			return fmt.Errorf("vm: operator table references unknown shape %d", entry.ShapeID)
		}
		op, ok := object.OperatorFromMethodName(entry.OperatorName)
		if !ok {
			return kerrors.NewCompileError(kerrors.InvalidOperator, 0, entry.OperatorName)
		}
		fnVal := chunk.Constants[entry.ConstIdx]
		fn := object.AsFunction(fnVal)
		shape.RegisterOperator(op, object.NewClosure(fn))
	}
	return nil
}

// --- operand stack helpers ---

func (vm *VM) push(v value.Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() value.Value {
	top := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return top
}

func (vm *VM) peek(distanceFromTop int) value.Value {
	return vm.stack[len(vm.stack)-1-distanceFromTop]
}

// StackTop returns the top-of-stack value without popping it, per
// spec.md §6's stack_top() -> Option<Value>.
func (vm *VM) StackTop() (value.Value, bool) {
	if len(vm.stack) == 0 {
		return value.Nil(), false
	}
	return vm.stack[len(vm.stack)-1], true
}

// --- interpretation entry point ---

// Interpret runs chunk as a fresh top-level program with localCount
// pre-declared locals (all nil), per spec.md §6's
// interpret_with_locals. It returns the top-level return value (or
// null if the chunk falls off the end without an explicit return)
// and any terminating error. On any error the VM unwinds completely,
// leaving an empty call-frame stack and operand stack (spec.md §7).
func (vm *VM) Interpret(chunk *bytecode.Chunk, localCount int) (value.Value, error) {
	entryFn := &object.Function{Name: "<script>", Chunk: chunk, LocalCount: localCount}
	closure := object.NewClosure(entryFn)

	frame := &CallFrame{Closure: closure, Locals: make([]value.Value, localCount), StackBase: len(vm.stack)}
	for i := range frame.Locals {
		frame.Locals[i] = value.Nil()
	}
	vm.frames = append(vm.frames, frame)

	result, err := vm.run()
	if err != nil {
		vm.frames = vm.frames[:0]
		vm.stack = vm.stack[:0]
		return value.Nil(), err
	}
	return result, nil
}

func chunkOf(c *object.Closure) *bytecode.Chunk {
	return c.Function.Chunk.(*bytecode.Chunk)
}

// run is the fetch/decode/dispatch loop (spec.md §4.4). It drives
// frames until the outermost frame returns or a runtime error
// propagates.
func (vm *VM) run() (value.Value, error) {
	for {
		if len(vm.frames) == 0 {
			return value.Nil(), nil
		}
		frame := vm.frames[len(vm.frames)-1]
		chunk := chunkOf(frame.Closure)

		if frame.IP >= len(chunk.Code) {
			// Falling off the end of a chunk without an explicit
			// Return behaves as `return null;`.
			result, err := vm.doReturn(frame, value.Nil())
			if err != nil {
				return value.Nil(), err
			}
			if len(vm.frames) == 0 {
				return result, nil
			}
			continue
		}

		vm.instructionCount++
		op := bytecode.OpCode(chunk.Code[frame.IP])
		frame.IP++

		finished, result, err := vm.dispatch(frame, chunk, op)
		if err != nil {
			return value.Nil(), vm.attachCallStack(err)
		}
		if finished {
			return result, nil
		}
	}
}

func (vm *VM) attachCallStack(err error) error {
	rerr, ok := err.(*kerrors.RuntimeError)
	if !ok {
		return err
	}
	stack := make([]string, 0, len(vm.frames))
	for i := len(vm.frames) - 1; i >= 0; i-- {
		f := vm.frames[i]
		stack = append(stack, fmt.Sprintf("%s (ip %d)", f.Closure.Function.Name, f.IP))
	}
	return rerr.WithCallStack(stack)
}

// readU8/readU16/readI16 decode operands from chunk.Code at frame.IP,
// advancing IP past them.
func (vm *VM) readU8(frame *CallFrame, chunk *bytecode.Chunk) byte {
	b := chunk.Code[frame.IP]
	frame.IP++
	return b
}

func (vm *VM) readU16(frame *CallFrame, chunk *bytecode.Chunk) uint16 {
	lo := uint16(chunk.Code[frame.IP])
	hi := uint16(chunk.Code[frame.IP+1])
	frame.IP += 2
	return lo | hi<<8
}

func (vm *VM) readI16(frame *CallFrame, chunk *bytecode.Chunk) int16 {
	return int16(vm.readU16(frame, chunk))
}

func (vm *VM) currentLine(frame *CallFrame, chunk *bytecode.Chunk) int {
	return chunk.LineFor(frame.IP - 1)
}

// dispatch executes a single decoded instruction. It returns
// finished=true with the program's final result once the outermost
// frame returns.
func (vm *VM) dispatch(frame *CallFrame, chunk *bytecode.Chunk, op bytecode.OpCode) (finished bool, result value.Value, err error) {
	switch op {
	case bytecode.OpConstant:
		idx := vm.readU8(frame, chunk)
		vm.push(chunk.Constants[idx])

	case bytecode.OpConstantWide:
		idx := vm.readU16(frame, chunk)
		vm.push(chunk.Constants[idx])

	case bytecode.OpNull:
		vm.push(value.Nil())
	case bytecode.OpTrue:
		vm.push(value.Bool(true))
	case bytecode.OpFalse:
		vm.push(value.Bool(false))

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod, bytecode.OpEq, bytecode.OpLt, bytecode.OpLe:
		cacheIdx := vm.readU8(frame, chunk)
		right := vm.pop()
		left := vm.pop()
		v, verr := vm.resolveOperator(chunk, cacheIdx, opFor(op), left, right, frame)
		if verr != nil {
			return false, value.Nil(), verr
		}
		vm.push(v)

	case bytecode.OpNeg:
		cacheIdx := vm.readU8(frame, chunk)
		operand := vm.pop()
		v, verr := vm.resolveOperator(chunk, cacheIdx, object.OpNeg, operand, value.Nil(), frame)
		if verr != nil {
			return false, value.Nil(), verr
		}
		vm.push(v)

	case bytecode.OpPop:
		vm.pop()
	case bytecode.OpDup:
		vm.push(vm.peek(0))

	case bytecode.OpGetLocal:
		idx := vm.readU8(frame, chunk)
		vm.push(frame.Locals[idx])
	case bytecode.OpSetLocal:
		idx := vm.readU8(frame, chunk)
		frame.Locals[idx] = vm.peek(0)

	case bytecode.OpGetUpvalue:
		idx := vm.readU8(frame, chunk)
		vm.push(frame.Closure.Upvalues[idx].Get())
	case bytecode.OpSetUpvalue:
		idx := vm.readU8(frame, chunk)
		frame.Closure.Upvalues[idx].Set(vm.peek(0))

	case bytecode.OpGetGlobal:
		idx := vm.readU16(frame, chunk)
		name := object.AsString(chunk.Constants[idx]).Chars
		v, ok := vm.globals[name]
		if !ok {
			return false, value.Nil(), kerrors.NewRuntimeError(kerrors.UndefinedVariable, vm.currentLine(frame, chunk), name)
		}
		vm.push(v)
	case bytecode.OpSetGlobal:
		idx := vm.readU16(frame, chunk)
		name := object.AsString(chunk.Constants[idx]).Chars
		if _, ok := vm.globals[name]; !ok {
			return false, value.Nil(), kerrors.NewRuntimeError(kerrors.UndefinedVariable, vm.currentLine(frame, chunk), name)
		}
		vm.globals[name] = vm.peek(0)
	case bytecode.OpDefineGlobal:
		idx := vm.readU16(frame, chunk)
		name := object.AsString(chunk.Constants[idx]).Chars
		vm.globals[name] = vm.pop()

	case bytecode.OpJump:
		offset := vm.readI16(frame, chunk)
		frame.IP += int(offset)
	case bytecode.OpJumpIfFalse:
		offset := vm.readI16(frame, chunk)
		if !vm.peek(0).Truthy() {
			frame.IP += int(offset)
		}
	case bytecode.OpJumpBack:
		offset := vm.readI16(frame, chunk)
		frame.IP += int(offset)

	case bytecode.OpCall:
		argCount := int(vm.readU8(frame, chunk))
		if verr := vm.call(argCount, frame, chunk); verr != nil {
			return false, value.Nil(), verr
		}

	case bytecode.OpClosure:
		idx := vm.readU16(frame, chunk)
		fn := object.AsFunction(chunk.Constants[idx])
		closure := object.NewClosure(fn)
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal := vm.readU8(frame, chunk) != 0
			index := vm.readU8(frame, chunk)
			if isLocal {
				closure.Upvalues[i] = vm.captureUpvalue(&frame.Locals[index])
			} else {
				closure.Upvalues[i] = frame.Closure.Upvalues[index]
			}
		}
		vm.push(closure.Value())

	case bytecode.OpCloseUpvalue:
		idx := vm.readU8(frame, chunk)
		vm.closeUpvalueAt(&frame.Locals[idx])

	case bytecode.OpReturn:
		retVal := vm.pop()
		res, verr := vm.doReturn(frame, retVal)
		if verr != nil {
			return false, value.Nil(), verr
		}
		if len(vm.frames) == 0 {
			return true, res, nil
		}

	case bytecode.OpMakeList:
		count := int(vm.readU16(frame, chunk))
		elems := make([]value.Value, count)
		for i := count - 1; i >= 0; i-- {
			elems[i] = vm.pop()
		}
		vm.push(object.NewList(elems).Value())

	case bytecode.OpGetIndex:
		cacheIdx := vm.readU8(frame, chunk)
		index := vm.pop()
		collection := vm.pop()
		v, verr := vm.resolveOperator(chunk, cacheIdx, object.OpGet, collection, index, frame)
		if verr != nil {
			return false, value.Nil(), verr
		}
		vm.push(v)

	case bytecode.OpSetIndex:
		cacheIdx := vm.readU8(frame, chunk)
		newValue := vm.pop()
		index := vm.pop()
		collection := vm.pop()
		if verr := operators.ResolveSet(&chunk.InlineCaches[cacheIdx], collection, index, newValue, vm.shapes, vm.invokeClosure); verr != nil {
			return false, value.Nil(), verr
		}
		vm.push(newValue)

	case bytecode.OpMakeStruct:
		idx := vm.readU16(frame, chunk)
		shapeID := uint16(chunk.Constants[idx].AsInt())
		shape, ok := vm.shapes[shapeID]
		if !ok {
			return false, value.Nil(), fmt.Errorf("vm: MakeStruct references unknown shape %d", shapeID)
		}
		s := object.NewStruct(shape)
		for i := len(shape.Fields) - 1; i >= 0; i-- {
			s.Fields[i] = vm.pop()
		}
		vm.push(s.Value())

	case bytecode.OpGetField:
		idx := vm.readU16(frame, chunk)
		_ = vm.readU8(frame, chunk) // cache index: field access has no polymorphic fallback yet, reserved for future IC use
		name := object.AsString(chunk.Constants[idx]).Chars
		target := vm.pop()
		if !target.IsPointer() || target.Kind() != value.KindStruct {
			return false, value.Nil(), kerrors.NewRuntimeError(kerrors.TypeError, vm.currentLine(frame, chunk), "field access on a non-struct value")
		}
		v, ok := object.AsStruct(target).Get(name)
		if !ok {
			return false, value.Nil(), kerrors.NewRuntimeError(kerrors.FieldNotFound, vm.currentLine(frame, chunk), name)
		}
		vm.push(v)

	case bytecode.OpSetField:
		idx := vm.readU16(frame, chunk)
		_ = vm.readU8(frame, chunk)
		name := object.AsString(chunk.Constants[idx]).Chars
		newValue := vm.pop()
		target := vm.pop()
		if !target.IsPointer() || target.Kind() != value.KindStruct {
			return false, value.Nil(), kerrors.NewRuntimeError(kerrors.TypeError, vm.currentLine(frame, chunk), "field assignment on a non-struct value")
		}
		if !object.AsStruct(target).Set(name, newValue) {
			return false, value.Nil(), kerrors.NewRuntimeError(kerrors.FieldNotFound, vm.currentLine(frame, chunk), name)
		}
		vm.push(newValue)

	case bytecode.OpInvoke:
		nameIdx := vm.readU16(frame, chunk)
		argCount := int(vm.readU8(frame, chunk))
		_ = vm.readU8(frame, chunk) // cache index, reserved
		name := object.AsString(chunk.Constants[nameIdx]).Chars
		if verr := vm.invokeMethod(name, argCount, frame, chunk); verr != nil {
			return false, value.Nil(), verr
		}

	case bytecode.OpIter:
		collection := vm.pop()
		if !collection.IsPointer() || collection.Kind() != value.KindList {
			return false, value.Nil(), kerrors.NewRuntimeError(kerrors.TypeError, vm.currentLine(frame, chunk), "for-in target is not a list")
		}
		vm.push(object.NewIterator(object.AsList(collection)).Value())

	case bytecode.OpIterNext:
		offset := vm.readI16(frame, chunk)
		it := object.AsIterator(vm.peek(0))
		v, ok := it.Next()
		if !ok {
			vm.pop()
			frame.IP += int(offset)
		} else {
			vm.push(v)
		}

	default:
		return false, value.Nil(), fmt.Errorf("vm: unhandled opcode %s", op)
	}
	return false, value.Nil(), nil
}

func opFor(op bytecode.OpCode) object.Operator {
	switch op {
	case bytecode.OpAdd:
		return object.OpAdd
	case bytecode.OpSub:
		return object.OpSub
	case bytecode.OpMul:
		return object.OpMul
	case bytecode.OpDiv:
		return object.OpDiv
	case bytecode.OpMod:
		return object.OpMod
	case bytecode.OpEq:
		return object.OpEq
	case bytecode.OpLt:
		return object.OpLt
	case bytecode.OpLe:
		return object.OpLe
	default:
		panic(fmt.Sprintf("vm: opFor called with non-operator opcode %s", op))
	}
}

func (vm *VM) resolveOperator(chunk *bytecode.Chunk, cacheIdx byte, op object.Operator, left, right value.Value, frame *CallFrame) (value.Value, error) {
	v, err := operators.Resolve(&chunk.InlineCaches[cacheIdx], op, left, right, vm.shapes, vm.invokeClosure)
	if err != nil {
		if rerr, ok := err.(*kerrors.RuntimeError); ok && rerr.Line == 0 {
			rerr.Line = vm.currentLine(frame, chunk)
		}
		return value.Nil(), err
	}
	return v, nil
}

// invokeClosure is the Invoker callback handed to internal/operators
// for user operator methods (spec.md §4.5: "execute by setting up a
// regular call frame"). It drives a nested dispatch loop until that
// one call returns.
func (vm *VM) invokeClosure(closure *object.Closure, args []value.Value) (value.Value, error) {
	target := len(vm.frames)
	vm.push(closure.Value())
	for _, a := range args {
		vm.push(a)
	}
	if err := vm.call(len(args), nil, nil); err != nil {
		return value.Nil(), err
	}
	return vm.runNestedUntil(target)
}

// runNestedUntil drives the dispatch loop until the frame stack
// shrinks to targetDepth frames, returning the value that call's
// Return left on the stack. Used for calls issued outside the main
// dispatch switch (operator methods, stdlib callbacks).
func (vm *VM) runNestedUntil(targetDepth int) (value.Value, error) {
	for len(vm.frames) > targetDepth {
		frame := vm.frames[len(vm.frames)-1]
		chunk := chunkOf(frame.Closure)
		if frame.IP >= len(chunk.Code) {
			if _, err := vm.doReturn(frame, value.Nil()); err != nil {
				return value.Nil(), err
			}
			continue
		}
		vm.instructionCount++
		op := bytecode.OpCode(chunk.Code[frame.IP])
		frame.IP++
		finished, result, err := vm.dispatch(frame, chunk, op)
		if err != nil {
			return value.Nil(), vm.attachCallStack(err)
		}
		if finished {
			return result, nil
		}
	}
	return vm.pop(), nil
}

// call implements spec.md §4.4's calling convention for Call n: the
// callee sits at stack_top-n-1, arguments occupy the top n slots.
func (vm *VM) call(argCount int, callerFrame *CallFrame, callerChunk *bytecode.Chunk) error {
	calleeSlot := len(vm.stack) - argCount - 1
	callee := vm.stack[calleeSlot]

	if !callee.IsPointer() {
		return kerrors.NewRuntimeError(kerrors.TypeError, vm.lineOrZero(callerFrame, callerChunk), "called value is not a function")
	}

	switch callee.Kind() {
	case value.KindObject:
		if native, ok := asNative(callee); ok {
			return vm.callNative(native, calleeSlot, argCount, callerFrame, callerChunk)
		}
	case value.KindClosure:
		closure := object.AsClosure(callee)
		fn := closure.Function
		if argCount != fn.Arity {
			return kerrors.NewRuntimeError(kerrors.InvalidArity, vm.lineOrZero(callerFrame, callerChunk),
				fmt.Sprintf("%s expects %d argument(s), got %d", fn.Name, fn.Arity, argCount))
		}
		if len(vm.frames) >= vm.cfg.MaxFrames {
			return kerrors.NewRuntimeError(kerrors.StackOverflow, vm.lineOrZero(callerFrame, callerChunk), "")
		}
		locals := make([]value.Value, fn.LocalCount)
		copy(locals, vm.stack[calleeSlot+1:])
		for i := argCount; i < len(locals); i++ {
			locals[i] = value.Nil()
		}
		vm.stack = vm.stack[:calleeSlot]
		frame := &CallFrame{Closure: closure, Locals: locals, StackBase: calleeSlot}
		vm.frames = append(vm.frames, frame)
		return nil
	}
	return kerrors.NewRuntimeError(kerrors.TypeError, vm.lineOrZero(callerFrame, callerChunk), "called value is not callable")
}

func asNative(v value.Value) (*object.Native, bool) {
	if !v.IsPointer() || v.Kind() != value.KindObject {
		return nil, false
	}
	if (*object.Header)(v.Ptr()).Sub != object.SubNative {
		return nil, false
	}
	return object.AsNative(v), true
}

func (vm *VM) callNative(native *object.Native, calleeSlot, argCount int, frame *CallFrame, chunk *bytecode.Chunk) error {
	if native.Arity != object.VariadicArity && int(native.Arity) != argCount {
		return kerrors.NewRuntimeError(kerrors.InvalidArity, vm.lineOrZero(frame, chunk),
			fmt.Sprintf("%s expects %d argument(s), got %d", native.Name, native.Arity, argCount))
	}
	args := make([]value.Value, argCount)
	copy(args, vm.stack[calleeSlot+1:])
	vm.stack = vm.stack[:calleeSlot]
	result, err := native.Fn(args)
	if err != nil {
		return kerrors.NewRuntimeError(kerrors.TypeError, vm.lineOrZero(frame, chunk), err.Error())
	}
	vm.push(result)
	return nil
}

func (vm *VM) lineOrZero(frame *CallFrame, chunk *bytecode.Chunk) int {
	if frame == nil || chunk == nil {
		return 0
	}
	return vm.currentLine(frame, chunk)
}

// invokeMethod implements Invoke for the two receiver kinds that carry
// named callables: a struct, whose shape's method table is searched
// and whose receiver is rebound as argument 0; and a module (a
// stdlib/domain namespace, see internal/stdlib), whose export table is
// searched and called directly with no receiver argument — `db.open(...)`
// compiles to the same Invoke opcode as a struct method call, since the
// compiler has no static way to tell the two apart at the call site.
func (vm *VM) invokeMethod(name string, argCount int, frame *CallFrame, chunk *bytecode.Chunk) error {
	args := make([]value.Value, argCount)
	copy(args, vm.stack[len(vm.stack)-argCount:])
	vm.stack = vm.stack[:len(vm.stack)-argCount]
	receiver := vm.pop()

	if !receiver.IsPointer() {
		return kerrors.NewRuntimeError(kerrors.TypeError, vm.currentLine(frame, chunk), "method invocation on a non-object value")
	}

	switch receiver.Kind() {
	case value.KindStruct:
		s := object.AsStruct(receiver)
		var fn *object.Function
		for _, m := range s.Shape.Methods {
			if m != nil && m.Name == name {
				fn = m
				break
			}
		}
		if fn == nil {
			return kerrors.NewRuntimeError(kerrors.FieldNotFound, vm.currentLine(frame, chunk), name)
		}
		closure := object.NewClosure(fn)
		vm.push(closure.Value())
		vm.push(receiver)
		for _, a := range args {
			vm.push(a)
		}
		return vm.call(argCount+1, frame, chunk)

	case value.KindModule:
		export, ok := object.AsModule(receiver).Get(name)
		if !ok {
			return kerrors.NewRuntimeError(kerrors.FieldNotFound, vm.currentLine(frame, chunk), name)
		}
		vm.push(export)
		for _, a := range args {
			vm.push(a)
		}
		return vm.call(argCount, frame, chunk)

	default:
		return kerrors.NewRuntimeError(kerrors.TypeError, vm.currentLine(frame, chunk), "method invocation on a non-struct, non-module value")
	}
}

// doReturn implements Return: closes every open upvalue pointing into
// the returning frame's locals, pops the frame, and truncates the
// operand stack to stack_base. If a caller remains, retVal is pushed
// for it to consume; otherwise retVal is handed back directly as the
// program's result.
func (vm *VM) doReturn(frame *CallFrame, retVal value.Value) (value.Value, error) {
	vm.closeUpvaluesFrom(frame.Locals)
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.stack = vm.stack[:frame.StackBase]
	if len(vm.frames) == 0 {
		return retVal, nil
	}
	vm.push(retVal)
	return value.Nil(), nil
}

// --- upvalues ---

func (vm *VM) captureUpvalue(local *value.Value) *object.Upvalue {
	for _, up := range vm.openUpvalues {
		if up.Location == local {
			return up
		}
	}
	up := object.NewUpvalue(local)
	vm.openUpvalues = append(vm.openUpvalues, up)
	return up
}

// closeUpvalueAt closes exactly the open upvalue (if any) pointing at
// local, used by the explicit CloseUpvalue opcode on block-scope exit.
func (vm *VM) closeUpvalueAt(local *value.Value) {
	for i, up := range vm.openUpvalues {
		if up.Location == local {
			up.Close()
			vm.openUpvalues = append(vm.openUpvalues[:i], vm.openUpvalues[i+1:]...)
			return
		}
	}
}

// closeUpvaluesFrom closes every open upvalue whose Location points
// somewhere inside locals' backing array — spec.md §4.4's "Return
// implicitly closes upvalues for all of the returning frame's
// locals".
func (vm *VM) closeUpvaluesFrom(locals []value.Value) {
	if len(locals) == 0 || len(vm.openUpvalues) == 0 {
		return
	}
	remaining := vm.openUpvalues[:0]
	for _, up := range vm.openUpvalues {
		if withinSlice(up.Location, locals) {
			up.Close()
		} else {
			remaining = append(remaining, up)
		}
	}
	vm.openUpvalues = remaining
}

func withinSlice(p *value.Value, s []value.Value) bool {
	if len(s) == 0 {
		return false
	}
	for i := range s {
		if &s[i] == p {
			return true
		}
	}
	return false
}

// --- coroutines ---
//
// next_kaubo represents a suspended coroutine as a heap-allocated copy
// of its call-frame chain (spec.md §5's "Implementers may represent a
// coroutine's frame either as heap-allocated copy of call-frame
// structure or separately allocated stack segment" design note). Go
// has no way to snapshot and restore an arbitrary call stack, so this
// VM takes the other branch the note offers: each coroutine gets its
// own goroutine, a genuine separate stack segment, and Resume/Yield
// are a synchronous handshake over a pair of unbuffered channels. At
// most one goroutine ever runs unblocked at a time — Resume blocks
// until the coroutine yields or returns, and the coroutine blocks on
// every yield until resumed — so this stays the single-threaded,
// strictly-sequential execution model spec.md §5 requires; the extra
// goroutines are a stack-representation device, not a parallelism one.

type coroutineRuntime struct {
	resumeCh chan []value.Value
	yieldCh  chan coroResult
}

type coroResult struct {
	value value.Value
	err   error
	done  bool
}

// NewCoroutine wraps entry as a freshly created, not-yet-started
// coroutine.
func (vm *VM) NewCoroutine(entry *object.Closure) *object.Coroutine {
	return object.NewCoroutine(entry)
}

// Resume runs co until it yields, returns, or fails. args are the
// values passed into this resume call (the initial call arguments on
// first resume, or the yield expression's result on subsequent ones).
func (vm *VM) Resume(co *object.Coroutine, args []value.Value) (value.Value, error) {
	switch co.State {
	case object.CoroutineFinished, object.CoroutineFailed:
		return value.Nil(), kerrors.NewRuntimeError(kerrors.InvalidState, 0, "cannot resume a finished coroutine")
	case object.CoroutineRunning:
		return value.Nil(), kerrors.NewRuntimeError(kerrors.InvalidState, 0, "coroutine is already running")
	}

	prevYield := vm.currentYield
	rt, started := vm.coroutineRuntimes[co]
	if !started {
		rt = &coroutineRuntime{resumeCh: make(chan []value.Value), yieldCh: make(chan coroResult)}
		vm.coroutineRuntimes[co] = rt
		co.State = object.CoroutineRunning
		go vm.runCoroutine(co, rt, args)
	} else {
		co.State = object.CoroutineRunning
		rt.resumeCh <- args
	}

	res := <-rt.yieldCh
	vm.currentYield = prevYield
	if res.done {
		delete(vm.coroutineRuntimes, co)
		if res.err != nil {
			co.State = object.CoroutineFailed
		} else {
			co.State = object.CoroutineFinished
		}
	} else {
		co.State = object.CoroutineSuspended
	}
	co.Yielded = res.value
	co.Err = res.err
	return res.value, res.err
}

func (vm *VM) runCoroutine(co *object.Coroutine, rt *coroutineRuntime, args []value.Value) {
	var yield func(v value.Value) value.Value
	yield = func(v value.Value) value.Value {
		rt.yieldCh <- coroResult{value: v, done: false}
		resumed := <-rt.resumeCh
		// Resume restored the caller's yield on the way out; this body
		// is running again, so yield is legal here once more.
		vm.currentYield = yield
		if len(resumed) > 0 {
			return resumed[0]
		}
		return value.Nil()
	}
	vm.currentYield = yield
	result, err := vm.invokeClosure(co.Frame.Closure, args)
	rt.yieldCh <- coroResult{value: result, err: err, done: true}
}

// Yield suspends the currently running coroutine from inside a native
// call, returning the value passed to the next Resume. Calling it
// outside any coroutine panics on the nil currentYield closure;
// internal/stdlib's yield native guards against that by checking
// InCoroutine first and reporting InvalidState instead.
func (vm *VM) Yield(v value.Value) value.Value {
	return vm.currentYield(v)
}

// InCoroutine reports whether the call stack is currently executing
// inside a coroutine body, i.e. whether Yield is legal right now.
func (vm *VM) InCoroutine() bool {
	return vm.currentYield != nil
}
