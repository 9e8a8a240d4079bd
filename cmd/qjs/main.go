package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/wippyai/quickjs-bridge/bridge"
	"github.com/wippyai/quickjs-bridge/engine"
	"github.com/wippyai/quickjs-bridge/errors"
	"github.com/wippyai/quickjs-bridge/marshal"
)

func main() {
	var (
		engineFile  = flag.String("engine", "", "Path to the QuickJS wasm binary")
		expr        = flag.String("e", "", "Expression to evaluate")
		name        = flag.String("name", "", "File name used in stack traces")
		timeout     = flag.Duration("timeout", 0, "Wall-clock evaluation budget (e.g. 500ms)")
		memoryLimit = flag.Int64("memory-limit", 0, "Engine heap ceiling in bytes")
		stackSize   = flag.Int64("stack-size", 0, "Engine stack ceiling in bytes")
		moduleRoot  = flag.String("module-root", "", "Directory to resolve module imports from")
		compileOut  = flag.String("c", "", "Compile to bytecode and write to file instead of running")
		interactive = flag.Bool("i", false, "Interactive REPL")
	)
	flag.Parse()

	if *engineFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: qjs -engine <quickjs.wasm> [-e expr | script.js]")
		fmt.Fprintln(os.Stderr, "       qjs -engine <quickjs.wasm> -c out.qjsc script.js")
		fmt.Fprintln(os.Stderr, "       qjs -engine <quickjs.wasm> -i  (interactive REPL)")
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(*engineFile, options(*timeout, *memoryLimit, *stackSize, *moduleRoot)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*engineFile, *expr, flag.Arg(0), *name, *compileOut,
		options(*timeout, *memoryLimit, *stackSize, *moduleRoot)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func options(timeout time.Duration, memoryLimit, stackSize int64, moduleRoot string) bridge.Options {
	opts := bridge.Options{
		Timeout:     timeout,
		MemoryLimit: memoryLimit,
		StackSize:   stackSize,
	}
	if moduleRoot != "" {
		opts.Modules = fileResolver(moduleRoot)
	}
	return opts
}

// fileResolver serves module imports from a directory tree. Specifiers
// normalize relative to the importing module and must stay inside root;
// files with the .qjsc extension load as precompiled bytecode.
func fileResolver(root string) *bridge.ModuleResolver {
	resolve := func(name string) (string, error) {
		p := filepath.Join(root, filepath.FromSlash(name))
		rel, err := filepath.Rel(root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", errors.NotFound(errors.PhaseModule, "module", name)
		}
		return p, nil
	}
	return &bridge.ModuleResolver{
		Normalize: func(base, name string) (string, error) {
			if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") {
				return path.Join(path.Dir(base), name), nil
			}
			return name, nil
		},
		IsBytecode: func(name string) (bool, error) {
			return strings.HasSuffix(name, ".qjsc"), nil
		},
		Bytecode: func(name string) ([]byte, error) {
			p, err := resolve(name)
			if err != nil {
				return nil, err
			}
			return os.ReadFile(p)
		},
		Source: func(name string) (string, error) {
			p, err := resolve(name)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return "", errors.NotFound(errors.PhaseModule, "module", name)
			}
			return string(data), nil
		},
	}
}

func newBridge(ctx context.Context, engineFile string, opts bridge.Options) (*bridge.Bridge, *engine.WazeroEngine, error) {
	wasmBytes, err := os.ReadFile(engineFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read engine: %w", err)
	}
	eng, err := engine.NewWazeroEngine(ctx, wasmBytes, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("start engine: %w", err)
	}
	b, err := bridge.New(eng, opts)
	if err != nil {
		eng.Close(ctx)
		return nil, nil, err
	}
	return b, eng, nil
}

func run(engineFile, expr, scriptFile, name, compileOut string, opts bridge.Options) error {
	ctx := context.Background()

	source := expr
	if source == "" {
		if scriptFile == "" {
			return fmt.Errorf("nothing to run: pass -e or a script file")
		}
		data, err := os.ReadFile(scriptFile)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		source = string(data)
		if name == "" {
			name = scriptFile
		}
	}
	if name == "" {
		name = "<cmdline>"
	}

	b, eng, err := newBridge(ctx, engineFile, opts)
	if err != nil {
		return err
	}
	defer eng.Close(ctx)
	defer b.Shutdown()

	if compileOut != "" {
		module := strings.HasSuffix(name, ".mjs")
		buf, err := b.Compile(source, name, module)
		if err != nil {
			return err
		}
		if err := os.WriteFile(compileOut, buf, 0o644); err != nil {
			return fmt.Errorf("write bytecode: %w", err)
		}
		fmt.Printf("Compiled %s (%d bytes)\n", compileOut, len(buf))
		return nil
	}

	evalOpts := []bridge.EvalOption{bridge.WithName(name)}
	if strings.HasSuffix(name, ".mjs") {
		evalOpts = append(evalOpts, bridge.AsModule())
	}

	result, err := b.Evaluate(source, evalOpts...)
	if err != nil {
		return err
	}
	fmt.Println(formatValue(result))
	return nil
}

// formatValue renders a host value the way a REPL would.
func formatValue(v any) string {
	switch hv := v.(type) {
	case nil:
		return "undefined"
	case string:
		return hv
	case []byte:
		return fmt.Sprintf("%x", hv)
	case *marshal.Proxy:
		if hv.Kind() == engine.KindPromise {
			return "[promise]"
		}
		return "[function]"
	default:
		return fmt.Sprintf("%v", hv)
	}
}
