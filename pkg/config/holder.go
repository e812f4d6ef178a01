package config

import "sync/atomic"

// Holder publishes the current configuration snapshot.
//
// Readers call Load once per request and keep using the returned pointer;
// a concurrent Store never affects a snapshot already loaded.
type Holder struct {
	current atomic.Pointer[Config]
}

// NewHolder returns a Holder publishing cfg.
func NewHolder(cfg *Config) *Holder {
	h := &Holder{}
	h.current.Store(cfg)
	return h
}

func (h *Holder) Load() *Config {
	return h.current.Load()
}

func (h *Holder) Store(cfg *Config) {
	h.current.Store(cfg)
}

// CompareAndSwap publishes next only if old is still the current snapshot.
func (h *Holder) CompareAndSwap(old, next *Config) bool {
	return h.current.CompareAndSwap(old, next)
}
