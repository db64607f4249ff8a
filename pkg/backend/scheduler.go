package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

var (
	ErrUnknownModule   = errors.New("unknown module")
	ErrUnknownFunction = errors.New("function not exported")
	ErrLimitExceeded   = errors.New("execution limit exceeded")
)

// WasmScheduler runs exported functions of WebAssembly modules held in
// Storage. A module reference is its storage key. Modules get no imports:
// no filesystem, no clock, no network.
type WasmScheduler struct {
	storage      Storage
	runtime      wazero.Runtime
	defaultLimit time.Duration

	mu       sync.Mutex
	compiled map[string]wazero.CompiledModule
}

// NewWasmScheduler creates a scheduler whose modules may use at most
// memoryPages 64KiB pages.
func NewWasmScheduler(ctx context.Context, storage Storage, memoryPages uint32, defaultLimit time.Duration) *WasmScheduler {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if memoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(memoryPages)
	}
	if defaultLimit <= 0 {
		defaultLimit = time.Second
	}
	return &WasmScheduler{
		storage:      storage,
		runtime:      wazero.NewRuntimeWithConfig(ctx, cfg),
		defaultLimit: defaultLimit,
		compiled:     make(map[string]wazero.CompiledModule),
	}
}

func (s *WasmScheduler) Run(ctx context.Context, moduleRef, function string, params []uint64, limit time.Duration) ([]uint64, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	compiled, err := s.compile(ctx, moduleRef)
	if err != nil {
		return nil, err
	}

	// Anonymous instances so concurrent runs of one module do not collide.
	mod, err := s.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrLimitExceeded, limit)
		}
		return nil, Permanent(fmt.Errorf("instantiation failed: %w", err))
	}
	defer func() { _ = mod.Close(context.Background()) }()

	fn := mod.ExportedFunction(function)
	if fn == nil {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownFunction, function))
	}
	if want := len(fn.Definition().ParamTypes()); want != len(params) {
		return nil, Permanent(fmt.Errorf("%s takes %d params, got %d", function, want, len(params)))
	}

	out, err := fn.Call(ctx, params...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrLimitExceeded, limit)
		}
		return nil, Permanent(fmt.Errorf("execution trapped: %w", err))
	}
	return out, nil
}

func (s *WasmScheduler) compile(ctx context.Context, moduleRef string) (wazero.CompiledModule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.compiled[moduleRef]; ok {
		return c, nil
	}
	code, found, err := s.storage.Read(ctx, moduleRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}
	if !found {
		return nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownModule, moduleRef))
	}
	c, err := s.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, Permanent(fmt.Errorf("compilation failed: %w", err))
	}
	if len(c.ImportedFunctions()) > 0 {
		_ = c.Close(ctx)
		return nil, Permanent(errors.New("modules may not import host functions"))
	}
	s.compiled[moduleRef] = c
	return c, nil
}

// Exports lists the functions a stored module exposes.
func (s *WasmScheduler) Exports(ctx context.Context, moduleRef string) ([]api.FunctionDefinition, error) {
	c, err := s.compile(ctx, moduleRef)
	if err != nil {
		return nil, err
	}
	defs := make([]api.FunctionDefinition, 0, len(c.ExportedFunctions()))
	for _, d := range c.ExportedFunctions() {
		defs = append(defs, d)
	}
	return defs, nil
}

// Close shuts down the wazero runtime, freeing all resources.
func (s *WasmScheduler) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.runtime.Close(ctx)
}
