package modules

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ToGo converts a Lua value to a Go value. Tables with only positive integer
// keys become slices, other tables become maps.
func ToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case lua.LBool:
		return bool(val)
	case *lua.LTable:
		return tableToGo(val)
	case *lua.LNilType:
		return nil
	default:
		return v.String()
	}
}

func tableToGo(tbl *lua.LTable) any {
	isArray := true
	maxIdx := 0
	tbl.ForEach(func(k, _ lua.LValue) {
		num, ok := k.(lua.LNumber)
		if !ok || num < 1 {
			isArray = false
			return
		}
		if idx := int(num); idx > maxIdx {
			maxIdx = idx
		}
	})

	if isArray && maxIdx > 0 {
		arr := make([]any, maxIdx)
		tbl.ForEach(func(k, v lua.LValue) {
			arr[int(k.(lua.LNumber))-1] = ToGo(v)
		})
		return arr
	}
	return TableToMap(tbl)
}

// TableToMap converts a Lua table's string keys to a Go map.
func TableToMap(tbl *lua.LTable) map[string]any {
	m := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		m[lua.LVAsString(k)] = ToGo(v)
	})
	return m
}

// ToLua converts a Go value to a Lua value.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, ToLua(L, item))
		}
		return tbl
	case map[string]any:
		return MapToTable(L, val)
	default:
		return lua.LString(fmt.Sprintf("%v", v))
	}
}

// MapToTable converts a Go map to a Lua table.
func MapToTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		tbl.RawSetString(k, ToLua(L, v))
	}
	return tbl
}
