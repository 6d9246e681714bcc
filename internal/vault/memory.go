package vault

import (
	"context"
	"fmt"
	"sync"
)

// MemoryVault is a map-backed Vault for tests and ephemeral profiles. It can
// inject storage failures to exercise the unavailable paths.
type MemoryVault struct {
	mu       sync.Mutex
	entries  map[string]string
	failNext int
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{entries: map[string]string{}}
}

// FailNext makes the next n operations fail with ErrUnavailable.
func (v *MemoryVault) FailNext(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = n
}

func (v *MemoryVault) Get(ctx context.Context, key string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.maybeFail(); err != nil {
		return "", err
	}
	value, ok := v.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (v *MemoryVault) Set(ctx context.Context, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.maybeFail(); err != nil {
		return err
	}
	v.entries[key] = value
	return nil
}

func (v *MemoryVault) Delete(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.maybeFail(); err != nil {
		return err
	}
	delete(v.entries, key)
	return nil
}

func (v *MemoryVault) ClearSession(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.maybeFail(); err != nil {
		return err
	}
	for _, key := range SessionKeys() {
		delete(v.entries, key)
	}
	return nil
}

func (v *MemoryVault) maybeFail() error {
	if v.failNext > 0 {
		v.failNext--
		return fmt.Errorf("%w: injected failure", ErrUnavailable)
	}
	return nil
}
