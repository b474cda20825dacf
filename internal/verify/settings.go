package verify

import "sync"

// SettingsValues is one consistent snapshot of the global verification
// fallbacks. Project-level configuration always wins over these.
type SettingsValues struct {
	CustomSearchAPIKey string
	CustomSearchCSEID  string
	DefaultGSCProperty string
}

// Settings holds the fallbacks behind a lock so the API can adjust them at
// runtime. Checkers read a fresh snapshot on every call, so updates take
// effect immediately without a restart.
type Settings struct {
	mu sync.RWMutex
	v  SettingsValues
}

// NewSettings seeds the holder, normally from the loaded configuration.
func NewSettings(v SettingsValues) *Settings {
	return &Settings{v: v}
}

// Get returns the current snapshot.
func (s *Settings) Get() SettingsValues {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Set replaces the snapshot wholesale.
func (s *Settings) Set(v SettingsValues) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}
