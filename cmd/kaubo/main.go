// Command kaubo is the thin CLI boundary around the Kaubo runtime
// core: load a compiled container and execute it, or inspect one
// without running it. Parsing Kaubo source text into an AST is an
// external collaborator's job (see internal/kast's package doc) —
// this binary only ever consumes already-compiled .kaubod/.kaubor
// containers, the same boundary spec.md draws around the CLI.
package main

import (
	stderrors "errors"
	"flag"
	"fmt"
	"os"

	"kaubo/internal/binary"
	"kaubo/internal/config"
	"kaubo/internal/errors"
	"kaubo/internal/object"
	"kaubo/internal/stdlib"
	"kaubo/internal/vm"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "dump":
		err = dumpCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "kaubo: "+err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kaubo run <file.kaubod|file.kaubor>")
	fmt.Fprintln(os.Stderr, "       kaubo dump <file.kaubod|file.kaubor>")
}

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("run: expected exactly one container path")
	}

	loaded, err := loadContainer(fs.Arg(0))
	if err != nil {
		return err
	}

	v := vm.New(config.Default(os.Stdout))
	stdlib.Register(v)
	if err := wireModule(v, loaded); err != nil {
		return fmt.Errorf("wiring %s: %w", loaded.Name, err)
	}

	_, err = v.Interpret(loaded.Chunk, loaded.LocalCount)
	if err != nil {
		return classifyRunError(err)
	}
	return nil
}

func dumpCmd(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("dump: expected exactly one container path")
	}

	loaded, err := loadContainer(fs.Arg(0))
	if err != nil {
		return err
	}

	info := loaded.Info
	fmt.Printf("module:        %s\n", loaded.Name)
	fmt.Printf("source path:   %s\n", loaded.SourcePath)
	fmt.Printf("format:        v%d\n", info.FormatVersion)
	fmt.Printf("build mode:    %s\n", info.BuildMode)
	fmt.Printf("sections:      %d\n", info.SectionCount)
	fmt.Printf("shapes:        %d\n", len(loaded.Shapes))
	fmt.Printf("chunk bytes:   %d\n", len(loaded.Chunk.Code))
	fmt.Printf("constants:     %d\n", len(loaded.Chunk.Constants))
	for _, s := range loaded.Shapes {
		fmt.Printf("  shape %d: %s%v\n", s.ID, s.Name, s.Fields)
	}
	return nil
}

func loadContainer(path string) (*binary.LoadedModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewVFSError(errors.NotFound, path, err)
	}
	loaded, err := binary.LoadModule(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return loaded, nil
}

// wireModule replays spec.md §6's orchestrator API against a decoded
// container: register every shape the module declared, then wire the
// entry chunk's method and operator tables onto those shapes. The
// shape and operator steps are the ones internal/compiler's own tests
// make after a live Compile call; those tests do not wire method
// tables.
func wireModule(v *vm.VM, loaded *binary.LoadedModule) error {
	for _, shape := range loaded.Shapes {
		v.RegisterShape(shape)
	}
	for _, entry := range loaded.Chunk.MethodTable {
		fn := object.AsFunction(loaded.Chunk.Constants[entry.ConstIdx])
		if err := v.RegisterMethodToShape(entry.ShapeID, entry.MethodIdx, fn); err != nil {
			return err
		}
	}
	return v.RegisterOperatorsFromChunk(loaded.Chunk)
}

// classifyRunError distinguishes the VM's two interpret-time failure
// modes in the exit message (the exit code is 1 either way), matching spec.md §6's InterpretResult
// variants (Ok/CompileError/RuntimeError) even though internal/vm
// collapses both into Go's single error return.
func classifyRunError(err error) error {
	var rerr *errors.RuntimeError
	if stderrors.As(err, &rerr) {
		return fmt.Errorf("runtime error: %w", err)
	}
	var cerr *errors.CompileError
	if stderrors.As(err, &cerr) {
		return fmt.Errorf("compile error: %w", err)
	}
	return err
}
