// execue CLI - assembles and runs .exu programs, or serves the run service
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/execue/journal"
	"github.com/chazu/execue/pkg/asm"
	"github.com/chazu/execue/pkg/bytecode"
	"github.com/chazu/execue/profile"
	"github.com/chazu/execue/server"
	"github.com/chazu/execue/vm"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// program is an assembled input waiting to run.
type program struct {
	name   string
	module *bytecode.Module
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("execue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbosity := fs.Int("v", 0, "Log verbosity (0 = errors only, 4 = debug)")
	profileDir := fs.String("profile", ".", "Directory to search upward for execue.toml")
	journalPath := fs.String("journal", "", "Record runs in this SQLite journal")
	disasm := fs.Bool("disasm", false, "Print the disassembly instead of running")
	workers := fs.Int("j", runtime.NumCPU(), "Number of concurrent runs")
	serveMode := fs.Bool("serve", false, "Start the run service (Connect HTTP/CBOR)")
	servePort := fs.Int("port", server.DefaultPort, "Run service port (used with -serve)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: execue [options] [files...]\n\n")
		fmt.Fprintf(stderr, "Assembles and runs .exu programs. Without files, runs the chains named in execue.toml.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  execue prog.exu              # Run one program\n")
		fmt.Fprintf(stderr, "  execue -j 4 a.exu b.exu      # Run programs concurrently\n")
		fmt.Fprintf(stderr, "  execue -disasm prog.exu      # Print the canonical listing\n")
		fmt.Fprintf(stderr, "  execue -serve -port 4680     # Serve the run service\n")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	commonlog.Configure(*verbosity, nil)

	cfg, err := loadProfile(*profileDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var opts []server.PoolOption
	if *journalPath != "" {
		store, err := journal.Open(*journalPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer store.Close()
		opts = append(opts, server.WithJournal(store))
	}

	if *serveMode {
		return serve(*servePort, *workers, opts, stderr)
	}

	programs, err := loadPrograms(cfg, fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(programs) == 0 {
		fs.Usage()
		return 2
	}

	if *disasm {
		for _, p := range programs {
			fmt.Fprintf(stdout, "; %s\n%s", p.name, p.module.Disassemble())
		}
		return 0
	}

	return runPrograms(cfg, programs, *workers, opts, stdout, stderr)
}

// loadProfile finds execue.toml at or above dir, falling back to defaults.
func loadProfile(dir string) (*profile.File, error) {
	cfg, err := profile.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return profile.Default()
	}
	return cfg, nil
}

// loadPrograms assembles the named files, or the configured chains when no
// files are given.
func loadPrograms(cfg *profile.File, paths []string) ([]program, error) {
	if len(paths) == 0 {
		if !cfg.HasProgram() {
			return nil, nil
		}
		m, err := cfg.Module()
		if err != nil {
			return nil, err
		}
		return []program{{name: cfg.Chains.Hotpath, module: m}}, nil
	}

	programs := make([]program, 0, len(paths))
	for _, path := range paths {
		m, err := asm.ParseFile(path)
		if err != nil {
			return nil, err
		}
		programs = append(programs, program{name: path, module: m})
	}
	return programs, nil
}

func runPrograms(cfg *profile.File, programs []program, workers int, opts []server.PoolOption, stdout, stderr io.Writer) int {
	p, err := cfg.VMProfile()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	seeds, err := cfg.MemorySeeds()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	jobs := make([]server.Job, len(programs))
	for i, prog := range programs {
		jobs[i] = server.Job{
			Name:     prog.name,
			Program:  prog.module,
			Profile:  p,
			Bindings: cfg.Bindings,
			Memory:   seeds,
		}
	}

	pool := server.NewPool(workers, nil, opts...)
	defer pool.Stop()

	results, err := pool.RunBatch(context.Background(), jobs)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	status := 0
	for _, r := range results {
		if len(results) > 1 {
			fmt.Fprintf(stdout, "== %s ==\n", r.Name)
		}
		for _, line := range r.Output {
			fmt.Fprintln(stdout, line)
		}
		fmt.Fprintf(stdout, "%s: %s after %d step(s), %d fault(s), %d fallback(s)\n",
			r.Name, r.Run.State, r.Run.Steps, len(r.Run.Faults), r.Run.Fallbacks)
		if r.Run.State != vm.StateHalted {
			fmt.Fprintf(stderr, "%s: %v\n", r.Name, r.Run.Err())
			status = 1
		}
	}
	return status
}

func serve(port, workers int, opts []server.PoolOption, stderr io.Writer) int {
	ctx := context.Background()
	shutdown, err := server.SetupTelemetry(ctx, "execue")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = shutdown(ctx) }()

	srv := server.New(server.NewPool(workers, nil, opts...))
	defer srv.Stop()

	if err := srv.ListenAndServe(fmt.Sprintf(":%d", port)); err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}
