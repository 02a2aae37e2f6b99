package fflags

import (
	"fmt"
	"sync"

	"github.com/hercules-io/hercules/internal/util"
	"go.uber.org/zap"
)

// FFlags holds named feature flags.  Flags are evaluated on every read.
type FFlags struct {
	logger *zap.SugaredLogger
	mu     sync.RWMutex
	flags  map[string]func() bool
}

func NewFFlags(logger *zap.SugaredLogger) *FFlags {
	return &FFlags{
		logger: logger,
		flags:  map[string]func() bool{},
	}
}

// RegisterEnvFlag registers a flag backed by an environment variable.
func (f *FFlags) RegisterEnvFlag(name, env string, defaultValue bool) {
	f.RegisterFlag(name, func() bool {
		return util.GetenvBool(env, defaultValue)
	})
}

// RegisterFlag registers a flag computed by fn.
func (f *FFlags) RegisterFlag(name string, fn func() bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[name] = fn
}

// ListFlags returns a map of all currently defined feature flags and
// whether those features are enabled (true) or not (false).
func (f *FFlags) ListFlags() map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := map[string]bool{}
	for name, fn := range f.flags {
		result[name] = fn()
	}
	return result
}

// GetFlag returns whether the feature named by the string parameter
// flag is enabled (true) or not (false). An error is returned if
// the flag name is invalid.
func (f *FFlags) GetFlag(name string) (bool, error) {
	f.mu.RLock()
	fn, ok := f.flags[name]
	f.mu.RUnlock()
	if !ok {
		f.logger.Errorf("Invalid feature flag name: %s", name)
		return false, fmt.Errorf("invalid feature flag name: %s", name)
	}
	return fn(), nil
}

// Enabled is GetFlag for callers that treat unknown flags as disabled.
func (f *FFlags) Enabled(name string) bool {
	enabled, err := f.GetFlag(name)
	return err == nil && enabled
}
