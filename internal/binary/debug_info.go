package binary

import "fmt"

// LineTable is one chunk's per-instruction-byte source line
// attribution — bytecode.Chunk.Lines, serialized parallel to that
// chunk's Code.
type LineTable struct {
	Lines []int32
}

// DebugInfo is every chunk's line table, in the same order
// EncodeChunk/FunctionPoolBytes visit them: index 0 is the entry
// module's own chunk, index i+1 is FunctionPool entry i. A release
// build with strip_debug simply omits this section (see
// FeatureDebugStripped); next_kaubo's LocalNameTable (named-local
// debug info, for a future debugger/REPL) is not implemented here —
// the compiler's funcState discards local names once a function
// finishes compiling, so there is nothing to serialize yet; see
// DESIGN.md.
type DebugInfo struct {
	Tables []LineTable
}

func encodeDebugInfo(lines [][]int) []byte {
	w := &byteWriter{}
	w.u32(uint32(len(lines)))
	for _, table := range lines {
		w.u32(uint32(len(table)))
		for _, line := range table {
			w.u32(uint32(int32(line)))
		}
	}
	return w.Bytes()
}

func decodeDebugInfo(data []byte) (*DebugInfo, error) {
	r := newByteReader(data)
	count, err := r.u32()
	if err != nil {
		return nil, fmt.Errorf("binary: debug info: %w", err)
	}
	info := &DebugInfo{Tables: make([]LineTable, count)}
	for i := uint32(0); i < count; i++ {
		n, err := r.u32()
		if err != nil {
			return nil, fmt.Errorf("binary: debug info table %d: %w", i, err)
		}
		lines := make([]int32, n)
		for j := range lines {
			v, err := r.u32()
			if err != nil {
				return nil, err
			}
			lines[j] = int32(v)
		}
		info.Tables[i] = LineTable{Lines: lines}
	}
	return info, nil
}
