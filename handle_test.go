package obs

import (
	"slices"
	"testing"
)

func TestSafeHandle_Identity(t *testing.T) {
	a := NewSafeHandle(SourcePtr(0x1000))
	b := NewSafeHandle(SourcePtr(0x1000))
	c := NewSafeHandle(SourcePtr(0x2000))

	if !a.Equal(b) || a != b {
		t.Errorf("handles to the same pointer differ: %v, %v", a, b)
	}
	if a.Equal(c) {
		t.Errorf("%v.Equal(%v) = true, want false", a, c)
	}
	if got := a.Get(); got != SourcePtr(0x1000) {
		t.Errorf("Get() = %#x, want 0x1000", got)
	}
	if got := a.String(); got != "0x1000" {
		t.Errorf("String() = %q, want %q", got, "0x1000")
	}

	var zero SafeHandle[SourcePtr]
	if !zero.IsZero() {
		t.Error("zero handle: IsZero() = false")
	}
	if a.IsZero() {
		t.Error("non-zero handle: IsZero() = true")
	}
}

func TestSafeHandle_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b FaderPtr
		want int
	}{
		{"less", 0x10, 0x20, -1},
		{"equal", 0x20, 0x20, 0},
		{"greater", 0x30, 0x20, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewSafeHandle(tt.a).Compare(NewSafeHandle(tt.b)); got != tt.want {
				t.Errorf("Compare(%#x, %#x) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSafeHandle_Ordering(t *testing.T) {
	hs := []SafeHandle[FaderPtr]{
		NewSafeHandle(FaderPtr(0x30)),
		NewSafeHandle(FaderPtr(0x10)),
		NewSafeHandle(FaderPtr(0x20)),
	}
	slices.SortFunc(hs, SafeHandle[FaderPtr].Compare)
	for i, want := range []FaderPtr{0x10, 0x20, 0x30} {
		if got := hs[i].Get(); got != want {
			t.Errorf("sorted[%d] = %#x, want %#x", i, got, want)
		}
	}
}

func TestSafeHandle_MapKey(t *testing.T) {
	seen := map[SafeHandle[SignalHandlerPtr]]int{}
	seen[NewSafeHandle(SignalHandlerPtr(1))]++
	seen[NewSafeHandle(SignalHandlerPtr(1))]++
	if got := seen[NewSafeHandle(SignalHandlerPtr(1))]; got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
}
