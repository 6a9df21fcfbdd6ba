package modules

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ServiceCaller issues backend service calls.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Invocation describes the lock action a script is running for.
type Invocation struct {
	LockID  string
	Entity  string
	Trigger string
	Data    map[string]any
}

// LockModule gives scripts access to the triggering lock and to service calls:
//
//	local lock = require("lock")
//	lock.call_service("lock.unlock", { entity_id = lock.entity() })
type LockModule struct {
	caller  ServiceCaller
	current func() Invocation
}

// NewLockModule creates a lock module. current returns the invocation of the
// running script.
func NewLockModule(caller ServiceCaller, current func() Invocation) *LockModule {
	return &LockModule{caller: caller, current: current}
}

// Loader is the module loader for Lua
func (m *LockModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "id", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(m.current().LockID))
		return 1
	}))
	L.SetField(mod, "entity", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(m.current().Entity))
		return 1
	}))
	L.SetField(mod, "trigger", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(m.current().Trigger))
		return 1
	}))
	L.SetField(mod, "data", L.NewFunction(func(L *lua.LState) int {
		L.Push(MapToTable(L, m.current().Data))
		return 1
	}))
	L.SetField(mod, "call_service", L.NewFunction(m.callService))

	L.Push(mod)
	return 1
}

// call_service("domain.service", data?) returns true or false, err.
func (m *LockModule) callService(L *lua.LState) int {
	domain, service, ok := strings.Cut(L.CheckString(1), ".")
	if !ok || domain == "" || service == "" {
		L.ArgError(1, "expected domain.service")
		return 0
	}

	data := map[string]any{}
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		data = TableToMap(tbl)
	}
	if _, set := data["entity_id"]; !set {
		data["entity_id"] = m.current().Entity
	}

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := m.caller.CallService(ctx, domain, service, data); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}
