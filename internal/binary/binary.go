// Package binary implements Kaubo's sectioned binary container format:
// the .kaubod (debug build) and .kaubor (release build) files a
// compiled program is written to and loaded back from.
//
// Layout follows next_kaubo's kaubo-core/src/binary/mod.rs field for
// field (see DESIGN.md): a fixed 128-byte file header, a section
// directory, then the sections themselves — StringPool, ModuleTable,
// ChunkData, FunctionPool, ShapeTable, ExportTable, ImportTable,
// DebugInfo, and an optional SourceMap. The encoding style
// (length-prefixed fields, little-endian, encoding/binary) follows the
// teacher's only existing binary serializer,
// internal/buildutil/build.go, generalized from one flat bytecode file
// to the full section directory the Rust original describes.
package binary

import "path/filepath"

// File extension constants, named exactly as next_kaubo's ext module.
const (
	ExtSource    = "kaubo"
	ExtDebug     = "kaubod"
	ExtRelease   = "kaubor"
	ExtSourceMap = "kmap"
	ExtPackage   = "kpk"
)

// DetectBuildModeFromExt infers a BuildMode from a file's extension,
// mirroring next_kaubo's detect_build_mode_from_ext.
func DetectBuildModeFromExt(path string) (BuildMode, bool) {
	switch filepath.Ext(path) {
	case ".kaubod":
		return BuildDebug, true
	case ".kaubor", ".kpk":
		return BuildRelease, true
	default:
		return 0, false
	}
}
