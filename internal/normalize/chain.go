// Package normalize runs optional WASM text-normalizer plugins over request
// text before it is chunked for generation. Plugins are sandboxed wazero
// modules; a broken plugin is skipped, never fatal.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/reeflabs/reef-tts/internal/config"
)

// Chain applies loaded plugins in filename order. An empty chain is valid
// and applies no transformation.
type Chain struct {
	rt      wazero.Runtime
	plugins []*plugin
	logger  *slog.Logger
}

type plugin struct {
	name      string
	module    api.Module
	alloc     api.Function
	normalize api.Function
}

// LoadChain loads every *.wasm module under cfg.Directory. Each module must
// export `alloc(size) -> ptr` and `normalize(ptr, len) -> packed` where
// packed is (resultPtr << 32) | resultLen. Modules that fail to load or lack
// the exports are logged and skipped.
func LoadChain(ctx context.Context, cfg config.NormalizeConfig, logger *slog.Logger) (*Chain, error) {
	chain := &Chain{logger: logger.With(slog.String("component", "normalizer"))}
	if !cfg.Enabled {
		return chain, nil
	}

	entries, err := os.ReadDir(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("read normalizer directory: %w", err)
	}

	rt := wazero.NewRuntime(ctx)
	chain.rt = rt
	if err := instantiateHostModule(ctx, rt, chain.logger); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := chain.load(ctx, filepath.Join(cfg.Directory, name))
		if err != nil {
			chain.logger.Warn("skipping normalizer plugin",
				slog.String("plugin", name),
				slog.String("error", err.Error()))
			continue
		}
		chain.plugins = append(chain.plugins, p)
		chain.logger.Info("loaded normalizer plugin", slog.String("plugin", name))
	}
	return chain, nil
}

func (c *Chain) load(ctx context.Context, path string) (*plugin, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	compiled, err := c.rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	module, err := c.rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(filepath.Base(path)))
	if err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	alloc := module.ExportedFunction("alloc")
	normalizeFn := module.ExportedFunction("normalize")
	if alloc == nil || normalizeFn == nil {
		module.Close(ctx)
		compiled.Close(ctx)
		return nil, fmt.Errorf("module must export alloc and normalize")
	}
	return &plugin{
		name:      filepath.Base(path),
		module:    module,
		alloc:     alloc,
		normalize: normalizeFn,
	}, nil
}

// Apply runs the text through every plugin in order. A plugin failure leaves
// the text as it was before that plugin.
func (c *Chain) Apply(ctx context.Context, text string) string {
	for _, p := range c.plugins {
		out, err := p.run(ctx, text)
		if err != nil {
			c.logger.Warn("normalizer plugin failed",
				slog.String("plugin", p.name),
				slog.String("error", err.Error()))
			continue
		}
		text = out
	}
	return text
}

// Len reports the number of loaded plugins.
func (c *Chain) Len() int { return len(c.plugins) }

// Close releases the runtime and all plugin modules.
func (c *Chain) Close(ctx context.Context) error {
	if c == nil || c.rt == nil {
		return nil
	}
	return c.rt.Close(ctx)
}

func (p *plugin) run(ctx context.Context, text string) (string, error) {
	input := []byte(text)
	results, err := p.alloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return "", fmt.Errorf("alloc: %w", err)
	}
	ptr := api.DecodeU32(results[0])

	mem := p.module.Memory()
	if mem == nil {
		return "", fmt.Errorf("module has no memory")
	}
	if !mem.Write(ptr, input) {
		return "", fmt.Errorf("write input at ptr=%d len=%d", ptr, len(input))
	}

	results, err = p.normalize.Call(ctx, uint64(ptr), uint64(len(input)))
	if err != nil {
		return "", fmt.Errorf("normalize: %w", err)
	}
	packed := results[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed)
	if outLen == 0 {
		return "", fmt.Errorf("plugin returned empty result")
	}
	out, ok := mem.Read(outPtr, outLen)
	if !ok {
		return "", fmt.Errorf("read result at ptr=%d len=%d", outPtr, outLen)
	}
	return string(out), nil
}

func instantiateHostModule(ctx context.Context, rt wazero.Runtime, logger *slog.Logger) error {
	hostLogFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		if len(stack) < 2 {
			return
		}
		ptr := api.DecodeU32(stack[0])
		length := api.DecodeU32(stack[1])
		if length == 0 {
			return
		}
		mem := mod.Memory()
		if mem == nil {
			return
		}
		if data, ok := mem.Read(ptr, length); ok {
			logger.Info("plugin log", slog.String("message", string(data)))
		}
	})

	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithGoModuleFunction(hostLogFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithName("host_log").
		Export("host_log").
		Instantiate(ctx)
	return err
}
