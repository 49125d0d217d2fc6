package binary

import (
	"encoding/binary"
	"fmt"
)

// SectionKind identifies one of the container's section types, in the
// order next_kaubo's module doc diagram lists them (FunctionPool is
// folded in right after ChunkData, since a chunk's nested closures are
// encoded by reference into it — the diagram itself predates that
// detail and only shows the eight section kinds it names explicitly).
type SectionKind uint8

const (
	SectionStringPool SectionKind = iota
	SectionModuleTable
	SectionChunkData
	SectionFunctionPool
	SectionShapeTable
	SectionExportTable
	SectionImportTable
	SectionDebugInfo
	SectionSourceMap
)

func (k SectionKind) String() string {
	switch k {
	case SectionStringPool:
		return "StringPool"
	case SectionModuleTable:
		return "ModuleTable"
	case SectionChunkData:
		return "ChunkData"
	case SectionFunctionPool:
		return "FunctionPool"
	case SectionShapeTable:
		return "ShapeTable"
	case SectionExportTable:
		return "ExportTable"
	case SectionImportTable:
		return "ImportTable"
	case SectionDebugInfo:
		return "DebugInfo"
	case SectionSourceMap:
		return "SourceMap"
	default:
		return fmt.Sprintf("SectionKind(%d)", uint8(k))
	}
}

// sectionEntrySize is the on-disk size of one SectionEntry: kind (1
// byte, padded to 4), offset (4 bytes), size (4 bytes).
const sectionEntrySize = 12

// SectionEntry locates one section's payload within the file: its
// kind, its absolute byte offset from the start of the file, and its
// length. The section directory is a flat array of these, written
// immediately after the header.
type SectionEntry struct {
	Kind   SectionKind
	Offset uint32
	Size   uint32
}

func (e SectionEntry) encode() []byte {
	buf := make([]byte, sectionEntrySize)
	buf[0] = byte(e.Kind)
	binary.LittleEndian.PutUint32(buf[4:8], e.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], e.Size)
	return buf
}

func decodeSectionEntry(buf []byte) SectionEntry {
	return SectionEntry{
		Kind:   SectionKind(buf[0]),
		Offset: binary.LittleEndian.Uint32(buf[4:8]),
		Size:   binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// SectionDirectory is the in-memory form of the section table: one
// entry per section present in the file, in write order.
type SectionDirectory []SectionEntry

func (d SectionDirectory) find(kind SectionKind) (SectionEntry, bool) {
	for _, e := range d {
		if e.Kind == kind {
			return e, true
		}
	}
	return SectionEntry{}, false
}
