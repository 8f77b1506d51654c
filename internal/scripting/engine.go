package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. An Engine is not safe for concurrent
// use; tick workers borrow one from a Pool.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	// Core helpers first, then behaviour scripts
	for _, sub := range []string{"core", "ai"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk of Lua in the engine. Used by tests and the console.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}

// Pool hands out Engines to concurrent callers. Every Engine has the same
// scripts loaded.
type Pool struct {
	engines chan *Engine
	all     []*Engine
	log     *zap.Logger
}

// NewPool creates size engines (GOMAXPROCS when size <= 0), each loading the
// scripts under scriptsDir.
func NewPool(scriptsDir string, size int, log *zap.Logger) (*Pool, error) {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		engines: make(chan *Engine, size),
		all:     make([]*Engine, 0, size),
		log:     log,
	}
	for i := 0; i < size; i++ {
		e, err := NewEngine(scriptsDir, log)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.all = append(p.all, e)
		p.engines <- e
	}
	return p, nil
}

// Size returns the number of engines in the pool.
func (p *Pool) Size() int { return len(p.all) }

// Acquire borrows an engine, waiting until one is free.
func (p *Pool) Acquire(ctx context.Context) (*Engine, error) {
	select {
	case e := <-p.engines:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a borrowed engine.
func (p *Pool) Release(e *Engine) {
	p.engines <- e
}

// Close shuts every engine down. Engines still borrowed are closed too, so
// Close must only run after the tick loop has stopped.
func (p *Pool) Close() {
	for _, e := range p.all {
		e.Close()
	}
	p.all = nil
}
