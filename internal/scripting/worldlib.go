package scripting

import (
	"github.com/google/uuid"
	"github.com/l1jgo/worldcore/internal/core/ecs"
	"github.com/l1jgo/worldcore/internal/core/handle"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

const handleTypeName = "worldcore.handle"

// openWorldLib installs the global "world" table. Handles cross into Lua as
// userdata so their 64 bits survive; Lua numbers would not hold them.
func (e *Engine) openWorldLib() {
	L := e.vm
	mt := L.NewTypeMetatable(handleTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(checkHandle(L, 1).String()))
		return 1
	}))
	L.SetField(mt, "__eq", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(checkHandle(L, 1) == checkHandle(L, 2)))
		return 1
	}))

	lib := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"create":          e.luaCreate,
		"destroy":         e.luaDestroy,
		"alive":           e.luaAlive,
		"parent":          e.luaParent,
		"set_parent":      e.luaSetParent,
		"children":        e.luaChildren,
		"name":            e.luaName,
		"set_name":        e.luaSetName,
		"active":          e.luaActive,
		"set_active":      e.luaSetActive,
		"position":        e.luaPosition,
		"set_position":    e.luaSetPosition,
		"global_position": e.luaGlobalPosition,
		"id":              e.luaID,
		"find":            e.luaFind,
		"tick":            e.luaTick,
		"log":             e.luaLog,
	})
	L.SetGlobal("world", lib)
}

func (e *Engine) pushHandle(h handle.Handle) lua.LValue {
	ud := e.vm.NewUserData()
	ud.Value = h
	e.vm.SetMetatable(ud, e.vm.GetTypeMetatable(handleTypeName))
	return ud
}

func checkHandle(L *lua.LState, n int) handle.Handle {
	ud := L.CheckUserData(n)
	h, ok := ud.Value.(handle.Handle)
	if !ok {
		L.ArgError(n, "handle expected")
	}
	return h
}

// optHandle treats a missing or nil argument as handle.Nil.
func optHandle(L *lua.LState, n int) handle.Handle {
	if L.Get(n) == lua.LNil {
		return handle.Nil
	}
	return checkHandle(L, n)
}

func (e *Engine) scope(L *lua.LState) *ecs.WriteScope {
	if e.ws == nil {
		L.RaiseError("world access outside a script call")
	}
	return e.ws
}

func (e *Engine) luaCreate(L *lua.LState) int {
	ws := e.scope(L)
	h, err := ws.CreateObject(optHandle(L, 1))
	if err != nil {
		L.RaiseError("create: %s", err.Error())
	}
	if name := L.OptString(2, ""); name != "" {
		ws.SetName(h, name)
	}
	L.Push(e.pushHandle(h))
	return 1
}

func (e *Engine) luaDestroy(L *lua.LState) int {
	L.Push(lua.LBool(e.scope(L).DestroyObject(checkHandle(L, 1))))
	return 1
}

func (e *Engine) luaAlive(L *lua.LState) int {
	L.Push(lua.LBool(e.scope(L).Alive(checkHandle(L, 1))))
	return 1
}

func (e *Engine) luaParent(L *lua.LState) int {
	p, ok := e.scope(L).Parent(checkHandle(L, 1))
	if !ok || p.IsZero() {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(e.pushHandle(p))
	return 1
}

// set_parent(child, parent) returns true, or false and a message.
func (e *Engine) luaSetParent(L *lua.LState) int {
	if err := e.scope(L).SetParent(checkHandle(L, 1), optHandle(L, 2)); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (e *Engine) luaChildren(L *lua.LState) int {
	t := L.NewTable()
	for _, c := range e.scope(L).Children(checkHandle(L, 1)) {
		t.Append(e.pushHandle(c))
	}
	L.Push(t)
	return 1
}

func (e *Engine) luaName(L *lua.LState) int {
	name, ok := e.scope(L).Name(checkHandle(L, 1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(name))
	return 1
}

func (e *Engine) luaSetName(L *lua.LState) int {
	L.Push(lua.LBool(e.scope(L).SetName(checkHandle(L, 1), L.CheckString(2))))
	return 1
}

func (e *Engine) luaActive(L *lua.LState) int {
	L.Push(lua.LBool(e.scope(L).ActiveInHierarchy(checkHandle(L, 1))))
	return 1
}

func (e *Engine) luaSetActive(L *lua.LState) int {
	L.Push(lua.LBool(e.scope(L).SetActive(checkHandle(L, 1), L.CheckBool(2))))
	return 1
}

func (e *Engine) luaPosition(L *lua.LState) int {
	t, ok := e.scope(L).LocalTransform(checkHandle(L, 1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(t.Position.X))
	L.Push(lua.LNumber(t.Position.Y))
	L.Push(lua.LNumber(t.Position.Z))
	return 3
}

func (e *Engine) luaSetPosition(L *lua.LState) int {
	ws := e.scope(L)
	h := checkHandle(L, 1)
	t, ok := ws.LocalTransform(h)
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	t.Position.X = float64(L.CheckNumber(2))
	t.Position.Y = float64(L.CheckNumber(3))
	t.Position.Z = float64(L.CheckNumber(4))
	L.Push(lua.LBool(ws.SetLocalTransform(h, t)))
	return 1
}

func (e *Engine) luaGlobalPosition(L *lua.LState) int {
	t, ok := e.scope(L).ComputeGlobalTransform(checkHandle(L, 1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(t.Position.X))
	L.Push(lua.LNumber(t.Position.Y))
	L.Push(lua.LNumber(t.Position.Z))
	return 3
}

func (e *Engine) luaID(L *lua.LState) int {
	id, ok := e.scope(L).StableID(checkHandle(L, 1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(id.String()))
	return 1
}

func (e *Engine) luaFind(L *lua.LState) int {
	ws := e.scope(L)
	id, err := uuid.Parse(L.CheckString(1))
	if err != nil {
		L.ArgError(1, "invalid id")
	}
	h, ok := ws.LookupStable(id)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(e.pushHandle(h))
	return 1
}

func (e *Engine) luaTick(L *lua.LState) int {
	L.Push(lua.LNumber(e.w.TickCount()))
	return 1
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}
