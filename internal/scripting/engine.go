package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM. Each map actor owns one engine, so
// access is single-goroutine.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every script under scriptsDir.
// A missing directory yields an engine with no hooks; callers fall back to
// their Go defaults.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	// core first, then feature directories
	for _, sub := range []string{"core", "combat", "ai"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}
	return e, nil
}

// NewEngineFromSource builds an engine from inline Lua source.
func NewEngineFromSource(src string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState()
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	if err := vm.DoString(src); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load inline script: %w", err)
	}
	return &Engine{vm: vm, log: log}, nil
}

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
		e.log.Debug("已載入 lua 腳本", zap.String("file", path))
	}
	return nil
}

// Has reports whether a global function is defined.
func (e *Engine) Has(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// Close releases the VM.
func (e *Engine) Close() {
	e.vm.Close()
}

// call invokes a global function with one table argument and returns its
// single result. ok is false when the function is missing or errors.
func (e *Engine) call(name string, arg *lua.LTable) (lua.LValue, bool) {
	fn, isFn := e.vm.GetGlobal(name).(*lua.LFunction)
	if !isFn {
		return lua.LNil, false
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, arg); err != nil {
		e.log.Error("lua 呼叫失敗", zap.String("fn", name), zap.Error(err))
		return lua.LNil, false
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	return ret, true
}
