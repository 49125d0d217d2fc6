// Package object implements Kaubo's heap object types: strings, lists,
// functions, closures, upvalues, shapes, structs, modules, iterators,
// coroutines, and native functions. Every heap object is owned
// exclusively by the VM instance that created it and lives until VM
// teardown — there is no garbage collector (see spec.md §1 Non-goals);
// cross-object references are plain Go pointers.
package object

import (
	"fmt"
	"strings"
	"unsafe"

	"kaubo/internal/value"
)

// Header is embedded in every heap object and carries the object's
// kind for sub-tags that don't fit in Value's 3-bit heap-kind field
// (iterator, coroutine, native, upvalue).
type Header struct {
	Sub SubKind
}

// SubKind distinguishes heap object types that all share
// value.KindObject at the Value layer.
type SubKind uint8

const (
	SubIterator SubKind = iota
	SubCoroutine
	SubNative
	SubUpvalue
)

// --- ObjString ---

// String is an owned, immutable UTF-8 byte sequence. Strings compare
// by content, not by address.
type String struct {
	Chars string
}

func NewString(s string) *String { return &String{Chars: s} }

func (s *String) Value() value.Value {
	return value.Pointer(value.KindString, unsafe.Pointer(s))
}

func AsString(v value.Value) *String {
	return (*String)(v.Ptr())
}

// --- ObjList ---

// List is an ordered, growable sequence of Values.
type List struct {
	Elements []value.Value
}

func NewList(elements []value.Value) *List { return &List{Elements: elements} }

func (l *List) Value() value.Value {
	return value.Pointer(value.KindList, unsafe.Pointer(l))
}

func AsList(v value.Value) *List {
	return (*List)(v.Ptr())
}

// --- ObjFunction ---

// Chunk is the subset of bytecode.Chunk that object needs to know
// about without importing the bytecode package, avoiding an import
// cycle (bytecode has no reason to know about heap objects, but a
// compiled Function must carry its Chunk). The VM and compiler use
// the concrete *bytecode.Chunk; this interface-free embedding is
// simply `interface{}` cast at the two call sites that need it
// (compiler construction, VM invocation), matching how the teacher's
// own internal/vm/value.go stores an opaque *bytecode.Chunk.
type Chunk interface{}

// Function is a compiled function prototype: its own chunk, arity,
// optional name, and declared local/upvalue counts (needed by the VM
// to pre-size a call frame's locals slice and a Closure's upvalue
// list).
type Function struct {
	Name          string
	Arity         int // <= 255
	Chunk         Chunk
	LocalCount    int
	UpvalueCount  int
	UpvalueDescs  []UpvalueDesc
	IsNative      bool
}

// UpvalueDesc describes, at the declaring site, whether an upvalue
// captures a local slot of the immediately enclosing function
// (IsLocal) or forwards an upvalue already captured by that enclosing
// function.
type UpvalueDesc struct {
	IsLocal bool
	Index   uint8
}

func (f *Function) Value() value.Value {
	return value.Pointer(value.KindFunction, unsafe.Pointer(f))
}

func AsFunction(v value.Value) *Function {
	return (*Function)(v.Ptr())
}

// --- ObjUpvalue ---

// Upvalue is a closure's handle to a captured variable. While open it
// holds a pointer into a specific stack slot; once closed it owns the
// captured Value inline. Open upvalues appear at most once per
// (frame, slot) pair.
type Upvalue struct {
	Header
	Location *value.Value // points into the stack while open
	Closed   value.Value  // the owned value once closed
	Next     *Upvalue     // not set by the VM, which tracks open upvalues in its own slice
}

func NewUpvalue(slot *value.Value) *Upvalue {
	return &Upvalue{Header: Header{Sub: SubUpvalue}, Location: slot}
}

func (u *Upvalue) IsOpen() bool { return u.Location != &u.Closed }

// Close copies the pointee into the upvalue's own storage and
// redirects Location to point at it, so it remains valid after the
// owning frame's stack slots are reused.
func (u *Upvalue) Close() {
	u.Closed = *u.Location
	u.Location = &u.Closed
}

func (u *Upvalue) Get() value.Value { return *u.Location }
func (u *Upvalue) Set(v value.Value) { *u.Location = v }

func (u *Upvalue) Value() value.Value {
	return value.Pointer(value.KindObject, unsafe.Pointer(u))
}

// --- ObjClosure ---

// Closure weakly references its Function prototype and owns an
// ordered set of Upvalue pointers, one per the function's declared
// upvalue count.
type Closure struct {
	Function *Function
	Upvalues []*Upvalue
}

func NewClosure(fn *Function) *Closure {
	return &Closure{Function: fn, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
}

func (c *Closure) Value() value.Value {
	return value.Pointer(value.KindClosure, unsafe.Pointer(c))
}

func AsClosure(v value.Value) *Closure {
	return (*Closure)(v.Ptr())
}

// --- Operator (operator-method dispatch surface) ---

// Operator enumerates every overloadable operator, matching the
// method-name table that next_kaubo's runtime/operators.rs defines
// (see DESIGN.md — this is the authoritative resolution of spec.md
// §4.5's non-exhaustive "add, eq, get, …" list).
type Operator uint8

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpEq
	OpLt
	OpLe
	OpGet
	OpSet
	OpStr
	OpLen
	OpCall
	OpRAdd
	OpRMul
)

var operatorNames = map[Operator]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpNeg: "neg", OpEq: "eq", OpLt: "lt", OpLe: "le", OpGet: "get",
	OpSet: "set", OpStr: "str", OpLen: "len", OpCall: "call",
	OpRAdd: "radd", OpRMul: "rmul",
}

var operatorSymbols = map[Operator]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpNeg: "-", OpEq: "==", OpLt: "<", OpLe: "<=", OpGet: "[]",
	OpSet: "[]=", OpStr: "as string", OpLen: "len()", OpCall: "()",
	OpRAdd: "+", OpRMul: "*",
}

func (op Operator) MethodName() string { return operatorNames[op] }
func (op Operator) Symbol() string     { return operatorSymbols[op] }

// OperatorFromMethodName resolves the Operator whose meta-method name
// matches, or false if name isn't an overloadable operator.
func OperatorFromMethodName(name string) (Operator, bool) {
	for op, n := range operatorNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// Reverse returns the commutative reverse of an operator (add -> radd,
// mul -> rmul), used when the left operand doesn't support the
// operator directly.
func (op Operator) Reverse() (Operator, bool) {
	switch op {
	case OpAdd:
		return OpRAdd, true
	case OpMul:
		return OpRMul, true
	default:
		return 0, false
	}
}

func (op Operator) IsUnary() bool {
	return op == OpNeg || op == OpStr || op == OpLen
}

// --- ObjShape ---

// Shape is the structural identity of a struct type: a unique id,
// field-name layout (field index = position), a method table indexed
// by compile-time method index, and an operator-overload table.
type Shape struct {
	ID      uint16
	Name    string
	Fields  []string
	Methods []*Function
	Operators map[Operator]*Closure
}

func NewShape(id uint16, name string, fields []string) *Shape {
	return &Shape{ID: id, Name: name, Fields: fields, Operators: make(map[Operator]*Closure)}
}

// FieldIndex returns the struct-relative index of a field name, or -1.
func (s *Shape) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f == name {
			return i
		}
	}
	return -1
}

// RegisterMethod places fn at method_idx, growing Methods as needed —
// compiler-assigned method indices may arrive out of declaration
// order when a struct's impl block is compiled.
func (s *Shape) RegisterMethod(methodIdx uint8, fn *Function) {
	if int(methodIdx) >= len(s.Methods) {
		grown := make([]*Function, methodIdx+1)
		copy(grown, s.Methods)
		s.Methods = grown
	}
	s.Methods[methodIdx] = fn
}

func (s *Shape) RegisterOperator(op Operator, closure *Closure) {
	s.Operators[op] = closure
}

func (s *Shape) Value() value.Value {
	return value.Pointer(value.KindShape, unsafe.Pointer(s))
}

func AsShape(v value.Value) *Shape {
	return (*Shape)(v.Ptr())
}

// --- ObjStruct ---

// Struct weakly references a Shape; field values are stored densely,
// indexed identically to the shape's field list.
type Struct struct {
	Shape  *Shape
	Fields []value.Value
}

func NewStruct(shape *Shape) *Struct {
	return &Struct{Shape: shape, Fields: make([]value.Value, len(shape.Fields))}
}

func (s *Struct) Get(field string) (value.Value, bool) {
	idx := s.Shape.FieldIndex(field)
	if idx < 0 {
		return value.Nil(), false
	}
	return s.Fields[idx], true
}

func (s *Struct) Set(field string, v value.Value) bool {
	idx := s.Shape.FieldIndex(field)
	if idx < 0 {
		return false
	}
	s.Fields[idx] = v
	return true
}

func (s *Struct) Value() value.Value {
	return value.Pointer(value.KindStruct, unsafe.Pointer(s))
}

func AsStruct(v value.Value) *Struct {
	return (*Struct)(v.Ptr())
}

// --- ObjModule ---

// Module holds a name, an exports array, and a name -> export-index
// map for O(1) lookup of re-exported symbols.
type Module struct {
	Name       string
	Exports    []value.Value
	ExportByName map[string]int
}

func NewModule(name string) *Module {
	return &Module{Name: name, ExportByName: make(map[string]int)}
}

func (m *Module) Export(name string, v value.Value) {
	idx, ok := m.ExportByName[name]
	if ok {
		m.Exports[idx] = v
		return
	}
	m.ExportByName[name] = len(m.Exports)
	m.Exports = append(m.Exports, v)
}

func (m *Module) Get(name string) (value.Value, bool) {
	idx, ok := m.ExportByName[name]
	if !ok {
		return value.Nil(), false
	}
	return m.Exports[idx], true
}

func (m *Module) Value() value.Value {
	return value.Pointer(value.KindModule, unsafe.Pointer(m))
}

func AsModule(v value.Value) *Module {
	return (*Module)(v.Ptr())
}

// --- ObjIterator ---

// Iterator wraps list-iterator state: Pending -> Yielding(value) ->
// Exhausted.
type Iterator struct {
	Header
	List  *List
	Index int
	Done  bool
}

func NewIterator(list *List) *Iterator {
	return &Iterator{Header: Header{Sub: SubIterator}, List: list}
}

// Next advances the iterator, returning the next element and true, or
// the zero Value and false once exhausted.
func (it *Iterator) Next() (value.Value, bool) {
	if it.Done || it.Index >= len(it.List.Elements) {
		it.Done = true
		return value.Nil(), false
	}
	v := it.List.Elements[it.Index]
	it.Index++
	return v, true
}

func (it *Iterator) Value() value.Value {
	return value.Pointer(value.KindObject, unsafe.Pointer(it))
}

func AsIterator(v value.Value) *Iterator {
	return (*Iterator)(v.Ptr())
}

// --- ObjCoroutine ---

// CoroutineState implements Created -> Running -> (Suspended <->
// Running) -> Finished | Failed.
type CoroutineState uint8

const (
	CoroutineCreated CoroutineState = iota
	CoroutineRunning
	CoroutineSuspended
	CoroutineFinished
	CoroutineFailed
)

// Frame mirrors vm.CallFrame structurally but is declared here (rather
// than imported from package vm) to keep object free of a dependency
// on vm. The vm package sets only Closure (the coroutine's entry
// closure); it runs the coroutine body on its own goroutine and does
// not copy call frames into or out of Frame.
type Frame struct {
	Closure   *Closure
	IP        int
	Locals    []value.Value
	StackBase int
}

// Coroutine holds a coroutine's entry frame plus resume state. The VM
// records each resume's outcome here: the yielded or returned value in
// Yielded, and the body's error, if any, in Err.
type Coroutine struct {
	Header
	State   CoroutineState
	Frame   Frame
	Operand []value.Value // not used by the VM
	Yielded value.Value
	Err     error
}

func NewCoroutine(entry *Closure) *Coroutine {
	return &Coroutine{
		Header: Header{Sub: SubCoroutine},
		State:  CoroutineCreated,
		Frame:  Frame{Closure: entry},
	}
}

func (c *Coroutine) Value() value.Value {
	return value.Pointer(value.KindObject, unsafe.Pointer(c))
}

func AsCoroutine(v value.Value) *Coroutine {
	return (*Coroutine)(v.Ptr())
}

// --- ObjNative ---

// NativeFn is the native-function ABI: args in, (Value, error) out.
// An arity of 255 denotes variadic.
type NativeFn func(args []value.Value) (value.Value, error)

// Native wraps a native function pointer with a display name and
// arity byte.
type Native struct {
	Header
	Name  string
	Arity uint8
	Fn    NativeFn
}

const VariadicArity uint8 = 255

func NewNative(name string, arity uint8, fn NativeFn) *Native {
	return &Native{Header: Header{Sub: SubNative}, Name: name, Arity: arity, Fn: fn}
}

func (n *Native) Value() value.Value {
	return value.Pointer(value.KindObject, unsafe.Pointer(n))
}

func AsNative(v value.Value) *Native {
	return (*Native)(v.Ptr())
}

// --- shared helpers: type name, truthiness, display, equality ---

// TypeName returns Kaubo's canonical type name for any Value,
// including heap-kind dispatch for pointer values.
func TypeName(v value.Value) string {
	switch {
	case v.IsNil():
		return "null"
	case v.IsBool():
		return "bool"
	case v.IsInt():
		return "int"
	case v.IsNumber():
		return "float"
	case v.IsPointer():
		switch v.Kind() {
		case value.KindString:
			return "string"
		case value.KindList:
			return "list"
		case value.KindFunction, value.KindClosure:
			return "function"
		case value.KindStruct:
			return "struct"
		case value.KindShape:
			return "shape"
		case value.KindModule:
			return "module"
		case value.KindObject:
			return objectSubTypeName(v)
		}
	}
	return "unknown"
}

func objectSubTypeName(v value.Value) string {
	hdr := (*Header)(v.Ptr())
	switch hdr.Sub {
	case SubIterator:
		return "iterator"
	case SubCoroutine:
		return "coroutine"
	case SubNative:
		return "function"
	case SubUpvalue:
		return "upvalue"
	}
	return "object"
}

// Truthy reports a value's boolean condition. Only null and false are
// falsy; every other value is truthy, including "", 0, and [].
func Truthy(v value.Value) bool {
	return v.Truthy()
}

// Equal layers content-equality for strings on top of
// value.Equal's bitwise/pointer semantics, and structural equality
// for lists.
func Equal(a, b value.Value) bool {
	if value.Equal(a, b) {
		return true
	}
	if a.IsPointer() && b.IsPointer() && a.Kind() == b.Kind() {
		switch a.Kind() {
		case value.KindString:
			return AsString(a).Chars == AsString(b).Chars
		case value.KindList:
			la, lb := AsList(a), AsList(b)
			if len(la.Elements) != len(lb.Elements) {
				return false
			}
			for i := range la.Elements {
				if !Equal(la.Elements[i], lb.Elements[i]) {
					return false
				}
			}
			return true
		}
	}
	return false
}

// Display renders v's debug/print form: numeric as native formatting,
// strings as raw contents, objects as a named debug form.
func Display(v value.Value) string {
	switch {
	case v.IsPointer():
		switch v.Kind() {
		case value.KindString:
			return AsString(v).Chars
		case value.KindList:
			l := AsList(v)
			parts := make([]string, len(l.Elements))
			for i, e := range l.Elements {
				parts[i] = Display(e)
			}
			return "[" + strings.Join(parts, ", ") + "]"
		case value.KindFunction:
			return fmt.Sprintf("<fn %s>", AsFunction(v).Name)
		case value.KindClosure:
			return fmt.Sprintf("<fn %s>", AsClosure(v).Function.Name)
		case value.KindStruct:
			s := AsStruct(v)
			parts := make([]string, len(s.Shape.Fields))
			for i, f := range s.Shape.Fields {
				parts[i] = fmt.Sprintf("%s: %s", f, Display(s.Fields[i]))
			}
			return fmt.Sprintf("%s { %s }", s.Shape.Name, strings.Join(parts, ", "))
		case value.KindShape:
			return fmt.Sprintf("<shape %s>", AsShape(v).Name)
		case value.KindModule:
			return fmt.Sprintf("<module %s>", AsModule(v).Name)
		case value.KindObject:
			return displayObjectKind(v)
		}
	}
	return v.String()
}

func displayObjectKind(v value.Value) string {
	hdr := (*Header)(v.Ptr())
	switch hdr.Sub {
	case SubIterator:
		return "<iterator>"
	case SubCoroutine:
		return "<coroutine>"
	case SubNative:
		return fmt.Sprintf("<native fn %s>", AsNative(v).Name)
	case SubUpvalue:
		return "<upvalue>"
	}
	return "<object>"
}
