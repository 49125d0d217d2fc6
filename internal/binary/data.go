package binary

import "fmt"

// StringPool is a deduplicated, index-addressed table of every string
// a container references by index rather than by embedding — chunk
// constants, shape/field names, module and export names. Mirrors
// next_kaubo's StringPool (Add/serialize/deserialize, confirmed by its
// own roundtrip test: `string_pool.add("hello")` returns the index
// later read back via `get(idx)`).
type StringPool struct {
	strings []string
	index   map[string]uint32
}

// NewStringPool returns an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{index: make(map[string]uint32)}
}

// Add interns s, returning its pool index — the same index if s was
// already present.
func (p *StringPool) Add(s string) uint32 {
	if idx, ok := p.index[s]; ok {
		return idx
	}
	idx := uint32(len(p.strings))
	p.strings = append(p.strings, s)
	p.index[s] = idx
	return idx
}

// Get returns the string at idx, or false if out of range.
func (p *StringPool) Get(idx uint32) (string, bool) {
	if int(idx) >= len(p.strings) {
		return "", false
	}
	return p.strings[idx], true
}

func (p *StringPool) serialize() []byte {
	w := &byteWriter{}
	w.u32(uint32(len(p.strings)))
	for _, s := range p.strings {
		w.str(s)
	}
	return w.Bytes()
}

func deserializeStringPool(data []byte) (*StringPool, error) {
	r := newByteReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("binary: string pool: %w", err)
	}
	p := NewStringPool()
	for i := uint32(0); i < count; i++ {
		s, err := r.str()
		if err != nil {
			return nil, fmt.Errorf("binary: string pool entry %d: %w", i, err)
		}
		p.Add(s)
	}
	return p, nil
}

// ModuleEntry is one compiled module's metadata: its name and source
// path (as StringPool indices), where its chunk lives in the
// ChunkData section, and the slice of the ShapeTable/ExportTable/
// ImportTable it owns. Field set and names match next_kaubo's
// ModuleEntry, per its own roundtrip test, plus LocalCount (the entry
// chunk's top-level local count), which this format adds.
type ModuleEntry struct {
	NameIdx       uint32
	SourcePathIdx uint32
	ChunkOffset   uint32
	ChunkSize     uint32
	LocalCount    uint32
	ShapeStart    uint32
	ShapeCount    uint32
	ExportStart   uint32
	ExportCount   uint32
	ImportStart   uint32
	ImportCount   uint32
}

func (m ModuleEntry) encode(w *byteWriter) {
	w.u32(m.NameIdx)
	w.u32(m.SourcePathIdx)
	w.u32(m.ChunkOffset)
	w.u32(m.ChunkSize)
	w.u32(m.LocalCount)
	w.u32(m.ShapeStart)
	w.u32(m.ShapeCount)
	w.u32(m.ExportStart)
	w.u32(m.ExportCount)
	w.u32(m.ImportStart)
	w.u32(m.ImportCount)
}

func decodeModuleEntry(r *byteReader) (ModuleEntry, error) {
	var m ModuleEntry
	var err error
	fields := []*uint32{
		&m.NameIdx, &m.SourcePathIdx, &m.ChunkOffset, &m.ChunkSize, &m.LocalCount,
		&m.ShapeStart, &m.ShapeCount, &m.ExportStart, &m.ExportCount,
		&m.ImportStart, &m.ImportCount,
	}
	for _, f := range fields {
		*f, err = r.u32()
		if err != nil {
			return ModuleEntry{}, err
		}
	}
	return m, nil
}

// ModuleTable is the ordered list of modules a container describes. A
// single-file Kaubo program (the only kind this implementation's
// compiler produces — see DESIGN.md) always writes exactly one entry.
type ModuleTable struct {
	Entries []ModuleEntry
}

func (t *ModuleTable) Add(e ModuleEntry) int {
	t.Entries = append(t.Entries, e)
	return len(t.Entries) - 1
}

func (t *ModuleTable) serialize() []byte {
	w := &byteWriter{}
	w.u32(uint32(len(t.Entries)))
	for _, e := range t.Entries {
		e.encode(w)
	}
	return w.Bytes()
}

func deserializeModuleTable(data []byte) (*ModuleTable, error) {
	r := newByteReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("binary: module table: %w", err)
	}
	t := &ModuleTable{Entries: make([]ModuleEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		e, err := decodeModuleEntry(r)
		if err != nil {
			return nil, fmt.Errorf("binary: module entry %d: %w", i, err)
		}
		t.Entries = append(t.Entries, e)
	}
	return t, nil
}

// ExportKind distinguishes what an export name resolves to.
type ExportKind uint8

const (
	ExportFunction ExportKind = iota
	ExportStructShape
	ExportValue
)

// ExportEntry binds a public name (spec.md has no `pub`/export syntax
// today — this table exists for a future module system the container
// format already has room for, per next_kaubo's own ExportTable) to a
// shape id or constant-pool index, depending on Kind.
type ExportEntry struct {
	NameIdx uint32
	Kind    ExportKind
	RefIdx  uint32
}

// ExportTable is always empty under the current language (no export
// syntax exists to populate it — see DESIGN.md), but the section is
// still written so a reader doesn't need a special case for "module
// has no exports" versus "file predates export support".
type ExportTable struct {
	Entries []ExportEntry
}

func (t *ExportTable) serialize() []byte {
	w := &byteWriter{}
	w.u32(uint32(len(t.Entries)))
	for _, e := range t.Entries {
		w.u32(e.NameIdx)
		w.u8(uint8(e.Kind))
		w.u32(e.RefIdx)
	}
	return w.Bytes()
}

func deserializeExportTable(data []byte) (*ExportTable, error) {
	r := newByteReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("binary: export table: %w", err)
	}
	t := &ExportTable{Entries: make([]ExportEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		nameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		refIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, ExportEntry{NameIdx: nameIdx, Kind: ExportKind(kind), RefIdx: refIdx})
		_ = i
	}
	return t, nil
}

// ImportKind distinguishes a stdlib module import (db/net/uuid, see
// internal/stdlib) from an import of another Kaubo module.
type ImportKind uint8

const (
	ImportStdlib ImportKind = iota
	ImportModule
)

// ImportEntry records one `import` statement's dependency, so a
// loader can verify or pre-resolve it before running the module.
type ImportEntry struct {
	NameIdx uint32
	Kind    ImportKind
}

// ImportTable lists every module-level import a compiled module made.
type ImportTable struct {
	Entries []ImportEntry
}

func (t *ImportTable) serialize() []byte {
	w := &byteWriter{}
	w.u32(uint32(len(t.Entries)))
	for _, e := range t.Entries {
		w.u32(e.NameIdx)
		w.u8(uint8(e.Kind))
	}
	return w.Bytes()
}

func deserializeImportTable(data []byte) (*ImportTable, error) {
	r := newByteReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("binary: import table: %w", err)
	}
	t := &ImportTable{Entries: make([]ImportEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		nameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		t.Entries = append(t.Entries, ImportEntry{NameIdx: nameIdx, Kind: ImportKind(kind)})
	}
	return t, nil
}

// ShapeEntry is a struct shape's on-disk form: its numeric id, plus
// its name and field names as StringPool indices. Methods and operator
// overloads are not carried here — they are ordinary compiled
// functions sitting in the FunctionPool, wired to this shape by the
// MethodTable/OperatorTable entries ChunkData carries alongside the
// chunk that declared them (the same split the compiler/VM already
// use at runtime; see internal/compiler and internal/vm.RegisterShape).
type ShapeEntry struct {
	ID           uint16
	NameIdx      uint32
	FieldNameIdx []uint32
}

func (t *ShapeTable) serialize() []byte {
	w := &byteWriter{}
	w.u32(uint32(len(t.Entries)))
	for _, e := range t.Entries {
		w.u16(e.ID)
		w.u32(e.NameIdx)
		w.u32(uint32(len(e.FieldNameIdx)))
		for _, idx := range e.FieldNameIdx {
			w.u32(idx)
		}
	}
	return w.Bytes()
}

// ShapeTable is the ordered list of struct shapes a module declared.
type ShapeTable struct {
	Entries []ShapeEntry
}

func deserializeShapeTable(data []byte) (*ShapeTable, error) {
	r := newByteReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("binary: shape table: %w", err)
	}
	t := &ShapeTable{Entries: make([]ShapeEntry, 0, count)}
	for i := uint32(0); i < count; i++ {
		id, err := r.u16()
		if err != nil {
			return nil, err
		}
		nameIdx, err := r.u32()
		if err != nil {
			return nil, err
		}
		fieldCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		fields := make([]uint32, fieldCount)
		for j := range fields {
			fields[j], err = r.u32()
			if err != nil {
				return nil, err
			}
		}
		t.Entries = append(t.Entries, ShapeEntry{ID: id, NameIdx: nameIdx, FieldNameIdx: fields})
	}
	return t, nil
}
