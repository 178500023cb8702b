// Package profile handles execue.toml run configuration.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/chazu/execue/pkg/asm"
	"github.com/chazu/execue/pkg/bytecode"
	"github.com/chazu/execue/vm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "execue.toml"

// ErrUnknownOption is returned for keys execue.toml does not define.
var ErrUnknownOption = vm.ErrUnknownOption

// File represents an execue.toml configuration.
type File struct {
	Profile  Limits           `toml:"profile"`
	Bindings map[string]int   `toml:"bindings"`
	Memory   map[string]int64 `toml:"memory"`
	Chains   Chains           `toml:"chains"`

	// Dir is the directory containing the execue.toml file (set at load time).
	Dir string `toml:"-"`
}

// Limits holds the run limits. Environment variables override file values.
type Limits struct {
	CycleBudget    int `toml:"cycle-budget" env:"EXECUE_CYCLE_BUDGET"`
	MaxFallbacks   int `toml:"max-fallbacks" env:"EXECUE_MAX_FALLBACKS"`
	MemoryCapacity int `toml:"memory-capacity" env:"EXECUE_MEMORY_CAPACITY"`
}

// Chains names the .exu files holding the program, relative to Dir.
type Chains struct {
	Hotpath   string   `toml:"hotpath"`
	Fallbacks []string `toml:"fallbacks"`
}

// Default returns the configuration used when no execue.toml exists.
// Environment overrides are applied.
func Default() (*File, error) {
	f := newFile()
	if err := f.applyEnv(); err != nil {
		return nil, err
	}
	return f, nil
}

func newFile() *File {
	d := vm.DefaultProfile()
	return &File{
		Profile: Limits{
			CycleBudget:    d.CycleBudget,
			MaxFallbacks:   d.MaxFallbacks,
			MemoryCapacity: d.MemoryCapacity,
		},
	}
}

// Load parses an execue.toml file from the given directory.
func Load(dir string) (*File, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	f, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	f.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return f, nil
}

// Parse decodes execue.toml content. Keys the format does not define are
// rejected, and the [profile] table is checked against the profile schema.
func Parse(data string) (*File, error) {
	f := newFile()
	md, err := toml.Decode(data, f)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, strings.Join(keys, ", "))
	}

	var raw struct {
		Profile map[string]any `toml:"profile"`
	}
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if err := validateLimits(raw.Profile); err != nil {
		return nil, err
	}

	if err := f.applyEnv(); err != nil {
		return nil, err
	}
	if _, err := f.MemorySeeds(); err != nil {
		return nil, err
	}
	return f, nil
}

// FindAndLoad walks up from startDir to find an execue.toml file,
// then loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*File, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// applyEnv overlays EXECUE_* variables and re-checks the merged limits.
func (f *File) applyEnv() error {
	if err := env.Parse(&f.Profile); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if _, err := f.VMProfile(); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	return nil
}

// VMProfile returns the engine profile for these limits. Fallback chains
// are attached separately from the loaded module.
func (f *File) VMProfile() (vm.Profile, error) {
	p := vm.Profile{
		CycleBudget:    f.Profile.CycleBudget,
		MaxFallbacks:   f.Profile.MaxFallbacks,
		MemoryCapacity: f.Profile.MemoryCapacity,
	}
	return p, p.Validate()
}

// MemorySeeds returns the [memory] table keyed by cell address.
func (f *File) MemorySeeds() (map[int]int64, error) {
	seeds := make(map[int]int64, len(f.Memory))
	for key, v := range f.Memory {
		addr, err := strconv.Atoi(key)
		if err != nil || addr < 0 {
			return nil, fmt.Errorf("memory: %q is not a cell address", key)
		}
		seeds[addr] = v
	}
	return seeds, nil
}

// NewContext creates an execution context sized by the profile, holding
// the configured bindings and memory seeds.
func (f *File) NewContext(opts ...vm.ContextOption) (*vm.Context, error) {
	seeds, err := f.MemorySeeds()
	if err != nil {
		return nil, err
	}
	opts = append([]vm.ContextOption{vm.WithMemory(seeds)}, opts...)
	return vm.NewContext(f.Profile.MemoryCapacity, f.Bindings, opts...)
}

// HasProgram reports whether the file names a hotpath chain.
func (f *File) HasProgram() bool {
	return f.Chains.Hotpath != ""
}

// Module assembles the configured chain files. The hotpath file supplies
// the hotpath and any fallback chains it declares; each fallbacks entry
// then adds its chains in order. Instructions a fallback file places
// outside a .chain directive become a fallback named after the file.
func (f *File) Module() (*bytecode.Module, error) {
	if !f.HasProgram() {
		return nil, fmt.Errorf("%s names no hotpath chain", FileName)
	}

	m, err := asm.ParseFile(f.path(f.Chains.Hotpath))
	if err != nil {
		return nil, err
	}

	for _, name := range f.Chains.Fallbacks {
		fm, err := asm.ParseFile(f.path(name))
		if err != nil {
			return nil, err
		}
		if fm.Hotpath.Len() > 0 {
			base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
			m.Fallbacks = append(m.Fallbacks, bytecode.Fallback(base, fm.Hotpath.Instructions...))
		}
		m.Fallbacks = append(m.Fallbacks, fm.Fallbacks...)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *File) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(f.Dir, name)
}
