package actions

import (
	"testing"

	"github.com/dokzlo13/lockd/internal/lock"
)

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"toggle":         KindToggle,
		" Lock ":         KindLock,
		"call-service":   KindCallService,
		"perform-action": KindCallService,
		"script":         KindScript,
		"more-info":      KindMoreInfo,
		"navigate":       KindNone,
		"":               KindNone,
	}

	for raw, want := range tests {
		if got := ParseKind(raw); got != want {
			t.Errorf("ParseKind(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		kind   Kind
		visual lock.State
		want   Kind
	}{
		{KindToggle, lock.StateLocked, KindUnlock},
		{KindToggle, lock.StateUnlocked, KindLock},
		{KindToggle, lock.StateJammed, KindNone},
		{KindLock, lock.StateLocked, KindLock},
		{KindMoreInfo, lock.StateUnknown, KindMoreInfo},
	}

	for _, tt := range tests {
		if got := Resolve(Action{Kind: tt.kind}, tt.visual); got.Kind != tt.want {
			t.Errorf("Resolve(%q, %q) = %q, want %q", tt.kind, tt.visual, got.Kind, tt.want)
		}
	}
}

func TestBindings(t *testing.T) {
	b := Bindings{
		LockedTap:   Action{Kind: KindCallService, Service: "script.unlock_front"},
		UnlockedTap: Action{Kind: KindToggle},
	}

	if got := b.ForTap(lock.StateLocked); got.Kind != KindCallService {
		t.Errorf("ForTap(locked) = %q", got.Kind)
	}
	if got := b.ForTap(lock.StateUnlocked); got.Kind != KindLock {
		t.Errorf("ForTap(unlocked) = %q", got.Kind)
	}
	if got := b.ForHold(lock.StateLocked); got.Kind != KindMoreInfo {
		t.Errorf("ForHold() default = %q", got.Kind)
	}
	if got := (Bindings{}).ForTap(lock.StateLocked); got.Kind != KindUnlock {
		t.Errorf("zero Bindings ForTap(locked) = %q, want unlock", got.Kind)
	}
}

func TestSplitService(t *testing.T) {
	d, s, ok := Action{Service: "lock.open"}.SplitService()
	if !ok || d != "lock" || s != "open" {
		t.Errorf("SplitService() = %q, %q, %v", d, s, ok)
	}
	if _, _, ok := (Action{Service: "nodot"}).SplitService(); ok {
		t.Error("SplitService accepted a service without domain")
	}
}
