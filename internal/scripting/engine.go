package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/handle"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ErrNoFunction is returned when a script function is not defined.
var ErrNoFunction = errors.New("lua function not defined")

// Engine wraps a single gopher-lua VM bound to one World. Calls are
// serialized; world access from Lua is only possible inside Call, which
// runs under the caller's write scope.
type Engine struct {
	mu     sync.Mutex
	vm     *lua.LState
	w      *ecs.World
	log    *zap.Logger
	ws     *ecs.WriteScope // set only for the duration of Call
	loaded []string
}

// NewEngine creates a Lua VM for w and runs every .lua file in dir, in name
// order. A missing dir loads nothing.
func NewEngine(w *ecs.World, dir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, w: w, log: log}
	e.openWorldLib()

	if err := e.loadDir(dir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.loaded = append(e.loaded, path)
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// Loaded lists the script files run at startup.
func (e *Engine) Loaded() []string {
	return append([]string(nil), e.loaded...)
}

// DoString runs a chunk of Lua outside any world access, for setup and tests.
func (e *Engine) DoString(src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vm.DoString(src)
}

// Has reports whether a global function fn is defined.
func (e *Engine) Has(fn string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.vm.GetGlobal(fn).(*lua.LFunction)
	return ok
}

// Call invokes the global Lua function fn with obj as its only argument.
// The script may read and change the World through ws until Call returns.
func (e *Engine) Call(ws *ecs.WriteScope, fn string, obj handle.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.vm.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoFunction, fn)
	}
	e.ws = ws
	defer func() { e.ws = nil }()

	if err := e.vm.CallByParam(lua.P{
		Fn:      f,
		NRet:    0,
		Protect: true,
	}, e.pushHandle(obj)); err != nil {
		e.log.Error("lua call failed", zap.String("fn", fn), zap.Stringer("object", obj), zap.Error(err))
		return fmt.Errorf("lua %s: %w", fn, err)
	}
	return nil
}

// Invoke is Call under a fresh write scope.
func (e *Engine) Invoke(fn string, obj handle.Handle) error {
	return e.w.Update(func(ws *ecs.WriteScope) error {
		return e.Call(ws, fn, obj)
	})
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
	e.log.Debug("lua engine closed")
	return nil
}
