package binary

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// BinaryReader gives random access to a decoded container's sections,
// decompressing each on demand — mirroring next_kaubo's
// BinaryReader::from_bytes/.header()/.has_section()/.read_section()
// API shape (confirmed by mod.rs's roundtrip test).
type BinaryReader struct {
	header    FileHeader
	directory SectionDirectory
	data      []byte
}

// FileInfo is the subset of a container's header a caller typically
// wants without decoding any section payload — used by cmd/kaubo's
// `dump` subcommand to print a summary.
type FileInfo struct {
	FormatVersion uint16
	BuildMode     BuildMode
	Arch          Arch
	OS            OS
	Flags         FeatureFlags
	SectionCount  uint16
}

// FromBytes parses data's header and section directory. Section
// payloads are decoded lazily by ReadSection.
func FromBytes(data []byte) (*BinaryReader, error) {
	header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	dirStart := HeaderSize
	dirEnd := dirStart + int(header.SectionCount)*sectionEntrySize
	if dirEnd > len(data) {
		return nil, fmt.Errorf("binary: section directory truncated: have %d bytes, want %d", len(data)-dirStart, dirEnd-dirStart)
	}

	dir := make(SectionDirectory, header.SectionCount)
	for i := 0; i < int(header.SectionCount); i++ {
		start := dirStart + i*sectionEntrySize
		dir[i] = decodeSectionEntry(data[start : start+sectionEntrySize])
	}

	return &BinaryReader{header: header, directory: dir, data: data}, nil
}

// Header returns the container's file header.
func (r *BinaryReader) Header() FileHeader { return r.header }

// Info summarizes the header for display.
func (r *BinaryReader) Info() FileInfo {
	return FileInfo{
		FormatVersion: r.header.FormatVersion,
		BuildMode:     r.header.BuildMode,
		Arch:          r.header.Arch,
		OS:            r.header.OS,
		Flags:         r.header.Flags,
		SectionCount:  r.header.SectionCount,
	}
}

// HasSection reports whether the container carries a section of kind.
func (r *BinaryReader) HasSection(kind SectionKind) bool {
	_, ok := r.directory.find(kind)
	return ok
}

// ReadSection returns kind's decompressed payload, or an error if the
// container doesn't carry that section.
func (r *BinaryReader) ReadSection(kind SectionKind) ([]byte, error) {
	entry, ok := r.directory.find(kind)
	if !ok {
		return nil, fmt.Errorf("binary: container has no %s section", kind)
	}
	end := int(entry.Offset) + int(entry.Size)
	if end > len(r.data) {
		return nil, fmt.Errorf("binary: %s section out of bounds", kind)
	}
	raw := r.data[entry.Offset:end]

	if r.header.Flags&FeatureCompressed == 0 {
		return raw, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("binary: %s section: %w", kind, err)
	}
	defer gz.Close()
	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("binary: %s section: %w", kind, err)
	}
	return out, nil
}
