package kv

import (
	"fmt"

	"leadrelay/platform/config"
)

// Open returns the Store selected by STORE_DRIVER.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.GetStoreDriver() {
	case "redis":
		return NewRedisStore(cfg.GetRedisURL(), cfg.GetRedisTLSInsecure())
	case "pebble":
		return NewPebbleStore(cfg.GetPebblePath())
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.GetStoreDriver())
	}
}
