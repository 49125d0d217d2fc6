package binary

import (
	"bytes"
	"compress/gzip"
	"fmt"

	"kaubo/internal/bytecode"
	"kaubo/internal/object"
)

// WriteOptions controls how a container is assembled, named and
// grouped the way next_kaubo's own WriteOptions is (build_mode,
// compress, strip_debug, source_map_external — confirmed by its
// roundtrip test constructing exactly these four fields).
type WriteOptions struct {
	BuildMode         BuildMode
	Compress          bool
	StripDebug        bool
	SourceMapExternal bool
}

// ModuleIR is the in-memory form of one compiled module, enough to
// assemble a binary container from: its source path (for
// diagnostics), its entry chunk, and every shape it declared. Kept
// independent of internal/compiler.Result so this package doesn't need
// to import the compiler — cmd/kaubo (the orchestrator) is what
// bridges the two.
type ModuleIR struct {
	Name       string
	SourcePath string
	Chunk      *bytecode.Chunk
	LocalCount int
	Shapes     []*object.Shape
}

// BinaryWriter assembles a section directory and its payloads into one
// Kaubo binary container, following next_kaubo's BinaryWriter API
// shape (new, write_section, set_entry, finish) over this
// implementation's own section encodings.
type BinaryWriter struct {
	opts     WriteOptions
	sections []SectionEntry
	payloads [][]byte
	entryMod uint32
	entryPC  uint32
}

// NewBinaryWriter returns a writer configured by opts.
func NewBinaryWriter(opts WriteOptions) *BinaryWriter {
	return &BinaryWriter{opts: opts}
}

// WriteSection appends one section's raw payload. Compression (if
// opts.Compress is set) is applied per section, independently, so a
// reader can decompress sections one at a time without holding the
// whole file in memory.
func (w *BinaryWriter) WriteSection(kind SectionKind, data []byte) error {
	payload := data
	if w.opts.Compress {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return fmt.Errorf("binary: compressing %s section: %w", kind, err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("binary: compressing %s section: %w", kind, err)
		}
		payload = buf.Bytes()
	}
	w.sections = append(w.sections, SectionEntry{Kind: kind, Size: uint32(len(payload))})
	w.payloads = append(w.payloads, payload)
	return nil
}

// SetEntry records which module and chunk offset (within ChunkData's
// payload) execution should start at.
func (w *BinaryWriter) SetEntry(moduleIdx uint32, chunkOffset uint32) {
	w.entryMod = moduleIdx
	w.entryPC = chunkOffset
}

// Finish lays out the header, section directory, and payloads
// back-to-back and returns the complete container bytes.
func (w *BinaryWriter) Finish() []byte {
	flags := FeatureFlags(0)
	if w.opts.Compress {
		flags |= FeatureCompressed
	}
	if w.opts.StripDebug {
		flags |= FeatureDebugStripped
	}
	if w.opts.SourceMapExternal {
		flags |= FeatureSourceMapExternal
	}

	header := newHeader(w.opts.BuildMode, flags)
	header.SectionCount = uint16(len(w.sections))
	header.EntryModule = w.entryMod
	header.EntryChunkOffset = w.entryPC

	directoryOffset := HeaderSize
	payloadOffset := directoryOffset + len(w.sections)*sectionEntrySize

	entries := make([]SectionEntry, len(w.sections))
	for i, s := range w.sections {
		s.Offset = uint32(payloadOffset)
		entries[i] = s
		payloadOffset += len(w.payloads[i])
	}
	header.SectionCount = uint16(len(entries))

	var out bytes.Buffer
	out.Write(header.encode())
	for _, e := range entries {
		out.Write(e.encode())
	}
	for _, p := range w.payloads {
		out.Write(p)
	}
	return out.Bytes()
}

// WriteModule assembles a complete single-module container from ir,
// covering every section this package defines (StringPool,
// ModuleTable, ChunkData, FunctionPool, ShapeTable, ExportTable,
// ImportTable, and, unless opts.StripDebug, DebugInfo) — the
// convenience path anything holding a freshly compiled
// *bytecode.Chunk and its shapes calls to persist it.
func WriteModule(ir ModuleIR, opts WriteOptions) ([]byte, error) {
	w := NewBinaryWriter(opts)
	ctx := NewEncodeContext()

	chunkBytes, err := EncodeChunk(ir.Chunk, ctx)
	if err != nil {
		return nil, fmt.Errorf("binary: encoding entry chunk: %w", err)
	}
	poolBytes, err := FunctionPoolBytes(ctx)
	if err != nil {
		return nil, fmt.Errorf("binary: encoding function pool: %w", err)
	}
	lines := DebugLines(ir.Chunk, ctx)

	shapes := &ShapeTable{}
	for _, s := range ir.Shapes {
		fieldIdx := make([]uint32, len(s.Fields))
		for i, f := range s.Fields {
			fieldIdx[i] = ctx.Strings.Add(f)
		}
		shapes.Entries = append(shapes.Entries, ShapeEntry{
			ID:           s.ID,
			NameIdx:      ctx.Strings.Add(s.Name),
			FieldNameIdx: fieldIdx,
		})
	}

	nameIdx := ctx.Strings.Add(ir.Name)
	pathIdx := ctx.Strings.Add(ir.SourcePath)
	modules := &ModuleTable{}
	modules.Add(ModuleEntry{
		NameIdx:       nameIdx,
		SourcePathIdx: pathIdx,
		ChunkOffset:   0,
		ChunkSize:     uint32(len(chunkBytes)),
		LocalCount:    uint32(ir.LocalCount),
		ShapeStart:    0,
		ShapeCount:    uint32(len(shapes.Entries)),
		ExportStart:   0,
		ExportCount:   0,
		ImportStart:   0,
		ImportCount:   0,
	})

	// StringPool must be written after every ctx.Strings.Add call
	// above has happened, since its serialized form is a snapshot.
	if err := w.WriteSection(SectionStringPool, ctx.Strings.serialize()); err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionModuleTable, modules.serialize()); err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionChunkData, chunkBytes); err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionFunctionPool, poolBytes); err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionShapeTable, shapes.serialize()); err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionExportTable, (&ExportTable{}).serialize()); err != nil {
		return nil, err
	}
	if err := w.WriteSection(SectionImportTable, (&ImportTable{}).serialize()); err != nil {
		return nil, err
	}
	if !opts.StripDebug {
		if err := w.WriteSection(SectionDebugInfo, encodeDebugInfo(lines)); err != nil {
			return nil, err
		}
	}

	w.SetEntry(0, 0)
	return w.Finish(), nil
}
