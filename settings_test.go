package obs

import (
	"reflect"
	"testing"
)

func TestSettings_TypedAccess(t *testing.T) {
	s := Settings{}.SetString("name", "cap").SetInt("screen", 1).SetFloat("scale", 0.5).SetBool("cursor", true)

	tests := []struct {
		name   string
		get    func() (any, bool)
		want   any
		wantOK bool
	}{
		{"string", func() (any, bool) { return s.String("name") }, "cap", true},
		{"int", func() (any, bool) { return s.Int("screen") }, int64(1), true},
		{"float", func() (any, bool) { return s.Float("scale") }, 0.5, true},
		{"bool", func() (any, bool) { return s.Bool("cursor") }, true, true},
		{"wrong type", func() (any, bool) { return s.Int("name") }, int64(0), false},
		{"missing", func() (any, bool) { return s.String("missing") }, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.get()
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("value = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestSettings_CloneMerge(t *testing.T) {
	var nilSettings Settings
	c := nilSettings.Clone()
	if c == nil {
		t.Fatal("Clone of nil settings returned nil")
	}
	c.SetBool("x", true)

	a := Settings{"a": int64(1)}
	b := a.Clone()
	b.SetInt("a", 2)
	if v, _ := a.Int("a"); v != 1 {
		t.Errorf("original changed through clone: a = %d, want 1", v)
	}

	a.Merge(Settings{"b": "two"})
	if want := (Settings{"a": int64(1), "b": "two"}); !reflect.DeepEqual(a, want) {
		t.Errorf("Merge() = %v, want %v", a, want)
	}
}
