package obs

import "maps"

// Settings is a source's configuration, the Go side of obs_data_t. Values
// are int64, float64, bool or string.
type Settings map[string]any

// SetString sets a string value and returns s.
func (s Settings) SetString(key, v string) Settings { s[key] = v; return s }

// SetInt sets an integer value and returns s.
func (s Settings) SetInt(key string, v int64) Settings { s[key] = v; return s }

// SetFloat sets a floating point value and returns s.
func (s Settings) SetFloat(key string, v float64) Settings { s[key] = v; return s }

// SetBool sets a boolean value and returns s.
func (s Settings) SetBool(key string, v bool) Settings { s[key] = v; return s }

// String returns the string value for key.
func (s Settings) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// Int returns the integer value for key.
func (s Settings) Int(key string) (int64, bool) {
	v, ok := s[key].(int64)
	return v, ok
}

// Float returns the floating point value for key.
func (s Settings) Float(key string) (float64, bool) {
	v, ok := s[key].(float64)
	return v, ok
}

// Bool returns the boolean value for key.
func (s Settings) Bool(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

// Clone returns a copy of s. Cloning nil gives an empty map.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	maps.Copy(out, s)
	return out
}

// Merge copies every value of o into s.
func (s Settings) Merge(o Settings) {
	maps.Copy(s, o)
}
