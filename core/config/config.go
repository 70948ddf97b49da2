package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	loadDotenv sync.Once

	cacheMu sync.RWMutex
	cache   = make(map[reflect.Type]any)
)

// Load fills cfg from the environment. The first call loads .env if present.
// Each type is parsed once; later calls copy the cached value.
func Load[T any](cfg *T) error {
	loadDotenv.Do(func() {
		// A missing .env is fine; variables may come from the process environment.
		_ = godotenv.Load()
	})

	t := reflect.TypeFor[T]()

	cacheMu.RLock()
	cached, ok := cache[t]
	cacheMu.RUnlock()
	if ok {
		*cfg = cached.(T)
		return nil
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached, ok := cache[t]; ok {
		*cfg = cached.(T)
		return nil
	}

	var parsed T
	if err := env.Parse(&parsed); err != nil {
		return fmt.Errorf("failed to parse %s config: %w", t, err)
	}
	cache[t] = parsed
	*cfg = parsed
	return nil
}

// MustLoad is Load that panics on error.
func MustLoad[T any](cfg *T) {
	if err := Load(cfg); err != nil {
		panic(err)
	}
}
