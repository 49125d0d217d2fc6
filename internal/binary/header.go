package binary

import (
	"encoding/binary"
	"fmt"
	"runtime"
)

// HeaderSize is the fixed on-disk size of FileHeader, padded with
// reserved bytes so a future field can be added without shifting the
// section directory that follows it.
const HeaderSize = 128

// Magic identifies a Kaubo binary container. next_kaubo's own magic
// bytes were not among the retrieved source (mod.rs only re-exports
// the MAGIC constant, never defines it) — this is an original choice,
// spelling "KAUBO\0\0\0" in ASCII, padded to 8 bytes.
var Magic = [8]byte{'K', 'A', 'U', 'B', 'O', 0, 0, 0}

// FormatVersion is the container format's own version, independent of
// the language/VM version — bumped when the section layout changes.
const FormatVersion uint16 = 1

// BuildMode distinguishes a debug build (full debug info, source map
// eligible) from a release build (may strip both).
type BuildMode uint8

const (
	BuildDebug BuildMode = iota
	BuildRelease
)

func (m BuildMode) String() string {
	if m == BuildRelease {
		return "release"
	}
	return "debug"
}

// Arch records the target architecture a build was produced for, set
// from runtime.GOARCH at write time. It is metadata only — Kaubo
// bytecode is architecture-independent; nothing in this package
// branches on it.
type Arch uint8

const (
	ArchUnknown Arch = iota
	ArchAMD64
	ArchARM64
	Arch386
)

func archFromRuntime(goarch string) Arch {
	switch goarch {
	case "amd64":
		return ArchAMD64
	case "arm64":
		return ArchARM64
	case "386":
		return Arch386
	default:
		return ArchUnknown
	}
}

// OS records the target operating system a build was produced for,
// set from runtime.GOOS at write time. Metadata only, like Arch.
type OS uint8

const (
	OSUnknown OS = iota
	OSLinux
	OSDarwin
	OSWindows
)

func osFromRuntime(goos string) OS {
	switch goos {
	case "linux":
		return OSLinux
	case "darwin":
		return OSDarwin
	case "windows":
		return OSWindows
	default:
		return OSUnknown
	}
}

// FeatureFlags is a bitmask of optional properties of the sections
// that follow the header, checked by the reader before it tries to
// interpret them.
type FeatureFlags uint32

const (
	// FeatureCompressed marks every section payload as gzip-compressed
	// individually (see writer.go/reader.go).
	FeatureCompressed FeatureFlags = 1 << iota
	// FeatureDebugStripped marks that DebugInfo was omitted from this
	// build (a release build built with strip_debug).
	FeatureDebugStripped
	// FeatureSourceMapExternal marks that source-mapping information
	// was written to a companion .kmap file instead of an embedded
	// SourceMap section.
	FeatureSourceMapExternal
)

// FileHeader is the fixed-size preamble of every Kaubo binary
// container.
type FileHeader struct {
	Magic            [8]byte
	FormatVersion    uint16
	BuildMode        BuildMode
	Arch             Arch
	OS               OS
	Flags            FeatureFlags
	SectionCount     uint16
	EntryModule      uint32 // index into the ModuleTable of the entry module
	EntryChunkOffset uint32 // byte offset, within ChunkData, of the entry chunk
}

// newHeader builds a header for the current platform; the section
// count and entry point are filled in by the writer once the section
// directory is known.
func newHeader(mode BuildMode, flags FeatureFlags) FileHeader {
	return FileHeader{
		Magic:         Magic,
		FormatVersion: FormatVersion,
		BuildMode:     mode,
		Arch:          archFromRuntime(runtime.GOARCH),
		OS:            osFromRuntime(runtime.GOOS),
		Flags:         flags,
	}
}

// encode writes h to a HeaderSize-length byte slice, little-endian,
// padding the remainder with zero bytes.
func (h FileHeader) encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.FormatVersion)
	buf[10] = byte(h.BuildMode)
	buf[11] = byte(h.Arch)
	buf[12] = byte(h.OS)
	binary.LittleEndian.PutUint32(buf[13:17], uint32(h.Flags))
	binary.LittleEndian.PutUint16(buf[17:19], h.SectionCount)
	binary.LittleEndian.PutUint32(buf[19:23], h.EntryModule)
	binary.LittleEndian.PutUint32(buf[23:27], h.EntryChunkOffset)
	// buf[27:128] stays reserved/zero.
	return buf
}

func decodeHeader(buf []byte) (FileHeader, error) {
	if len(buf) < HeaderSize {
		return FileHeader{}, fmt.Errorf("binary: header truncated: got %d bytes, want %d", len(buf), HeaderSize)
	}
	var h FileHeader
	copy(h.Magic[:], buf[0:8])
	if h.Magic != Magic {
		return FileHeader{}, fmt.Errorf("binary: bad magic %x, want %x", h.Magic, Magic)
	}
	h.FormatVersion = binary.LittleEndian.Uint16(buf[8:10])
	if h.FormatVersion > FormatVersion {
		return FileHeader{}, fmt.Errorf("binary: unsupported format version %d", h.FormatVersion)
	}
	h.BuildMode = BuildMode(buf[10])
	h.Arch = Arch(buf[11])
	h.OS = OS(buf[12])
	h.Flags = FeatureFlags(binary.LittleEndian.Uint32(buf[13:17]))
	h.SectionCount = binary.LittleEndian.Uint16(buf[17:19])
	h.EntryModule = binary.LittleEndian.Uint32(buf[19:23])
	h.EntryChunkOffset = binary.LittleEndian.Uint32(buf[23:27])
	return h, nil
}
