package modules

import (
	"reflect"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	if err := L.DoString(`arr = {1, "two", true}; obj = {a = 1, nested = {b = "c"}}`); err != nil {
		t.Fatal(err)
	}

	if got, want := ToGo(L.GetGlobal("arr")), []any{1.0, "two", true}; !reflect.DeepEqual(got, want) {
		t.Errorf("arr = %#v, want %#v", got, want)
	}
	want := map[string]any{"a": 1.0, "nested": map[string]any{"b": "c"}}
	if got := ToGo(L.GetGlobal("obj")); !reflect.DeepEqual(got, want) {
		t.Errorf("obj = %#v, want %#v", got, want)
	}
	if got := ToGo(lua.LNil); got != nil {
		t.Errorf("nil = %#v", got)
	}
}

func TestMapToTable_RoundTrip(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	in := map[string]any{"entity_id": "lock.front", "code": 1234.0, "tags": []any{"a"}}
	if got := TableToMap(MapToTable(L, in)); !reflect.DeepEqual(got, in) {
		t.Errorf("round trip = %#v, want %#v", got, in)
	}
}
