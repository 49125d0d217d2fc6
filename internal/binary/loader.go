package binary

import (
	"fmt"

	"kaubo/internal/bytecode"
	"kaubo/internal/object"
)

// LoadedModule is a fully decoded container: the entry chunk ready to
// run, every shape it declared, and its function pool (already wired
// into the chunk's Function constants by DecodeChunk). Deliberately
// free of any internal/vm import — wiring these into a running VM
// (vm.RegisterShape, vm.RegisterMethodToShape, vm.Interpret) is the
// orchestrator's job, not this package's.
type LoadedModule struct {
	Name       string
	SourcePath string
	Chunk      *bytecode.Chunk
	LocalCount int
	Shapes     []*object.Shape
	Info       FileInfo
}

// LoadModule decodes a complete single-module container produced by
// WriteModule. Only a single ModuleTable entry is supported today,
// matching the one-module-per-file compiler this implementation has
// (see DESIGN.md) — a future multi-module container would extend this
// into a slice, using ModuleEntry's ChunkOffset/ChunkSize to slice
// ChunkData per module instead of taking the whole section.
func LoadModule(data []byte) (*LoadedModule, error) {
	r, err := FromBytes(data)
	if err != nil {
		return nil, err
	}

	stringsBytes, err := r.ReadSection(SectionStringPool)
	if err != nil {
		return nil, err
	}
	strings, err := deserializeStringPool(stringsBytes)
	if err != nil {
		return nil, err
	}

	moduleBytes, err := r.ReadSection(SectionModuleTable)
	if err != nil {
		return nil, err
	}
	modules, err := deserializeModuleTable(moduleBytes)
	if err != nil {
		return nil, err
	}
	if len(modules.Entries) != 1 {
		return nil, fmt.Errorf("binary: expected exactly one module, found %d", len(modules.Entries))
	}
	mod := modules.Entries[0]

	name, ok := strings.Get(mod.NameIdx)
	if !ok {
		return nil, fmt.Errorf("binary: module entry references unknown name index %d", mod.NameIdx)
	}
	sourcePath, ok := strings.Get(mod.SourcePathIdx)
	if !ok {
		return nil, fmt.Errorf("binary: module entry references unknown source path index %d", mod.SourcePathIdx)
	}

	chunkData, err := r.ReadSection(SectionChunkData)
	if err != nil {
		return nil, err
	}
	start := mod.ChunkOffset
	end := start + mod.ChunkSize
	if int(end) > len(chunkData) {
		return nil, fmt.Errorf("binary: module %q chunk out of bounds in ChunkData section", name)
	}
	entryChunkBytes := chunkData[start:end]

	poolBytes, err := r.ReadSection(SectionFunctionPool)
	if err != nil {
		return nil, err
	}
	ctx, poolLines, err := DecodeFunctionPool(poolBytes, strings)
	if err != nil {
		return nil, err
	}

	chunk, err := DecodeChunk(entryChunkBytes, ctx)
	if err != nil {
		return nil, fmt.Errorf("binary: module %q entry chunk: %w", name, err)
	}

	if r.HasSection(SectionDebugInfo) {
		debugBytes, err := r.ReadSection(SectionDebugInfo)
		if err != nil {
			return nil, err
		}
		info, err := decodeDebugInfo(debugBytes)
		if err != nil {
			return nil, err
		}
		if len(info.Tables) > 0 {
			chunk.Lines = int32ToIntSlice(info.Tables[0].Lines)
			for i, fn := range ctx.Pool {
				if i+1 < len(info.Tables) {
					fnChunk, ok := fn.Chunk.(*bytecode.Chunk)
					if ok {
						fnChunk.Lines = int32ToIntSlice(info.Tables[i+1].Lines)
					}
				}
			}
		}
	} else {
		_ = poolLines // no DebugInfo section: the decoded chunks keep empty line tables
	}

	shapeBytes, err := r.ReadSection(SectionShapeTable)
	if err != nil {
		return nil, err
	}
	shapeTable, err := deserializeShapeTable(shapeBytes)
	if err != nil {
		return nil, err
	}
	shapes := make([]*object.Shape, 0, len(shapeTable.Entries))
	for _, e := range shapeTable.Entries {
		shapeName, ok := strings.Get(e.NameIdx)
		if !ok {
			return nil, fmt.Errorf("binary: shape entry references unknown name index %d", e.NameIdx)
		}
		fields := make([]string, len(e.FieldNameIdx))
		for i, idx := range e.FieldNameIdx {
			f, ok := strings.Get(idx)
			if !ok {
				return nil, fmt.Errorf("binary: shape %q field references unknown name index %d", shapeName, idx)
			}
			fields[i] = f
		}
		shapes = append(shapes, object.NewShape(e.ID, shapeName, fields))
	}

	return &LoadedModule{
		Name:       name,
		SourcePath: sourcePath,
		Chunk:      chunk,
		LocalCount: int(mod.LocalCount),
		Shapes:     shapes,
		Info:       r.Info(),
	}, nil
}

func int32ToIntSlice(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
