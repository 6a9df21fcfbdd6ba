package modules

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LogModule exposes zerolog to scripts as log.debug/info/warn/error(msg, fields).
type LogModule struct {
	fields func() map[string]string
}

// NewLogModule creates a log module. fields, if set, supplies context added
// to every entry (e.g. the lock id of the running script).
func NewLogModule(fields func() map[string]string) *LogModule {
	return &LogModule{fields: fields}
}

// Loader is the module loader for Lua
func (m *LogModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.at(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.at(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.at(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.at(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

func (m *LogModule) at(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).Str("source", "lua")
		if m.fields != nil {
			for k, v := range m.fields() {
				event = event.Str(k, v)
			}
		}
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			for k, v := range TableToMap(tbl) {
				event = event.Interface(k, v)
			}
		}
		event.Msg(msg)
		return 0
	}
}
