package indexer

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
)

// Factory creates the projection for one configured indexer.
type Factory func(cfg config.IndexerConfig, log *logger.Logger) (Projection, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register registers a projection factory with the given type name.
// This is typically called in init() functions of projection packages.
// The type name is case-insensitive and will be stored in lowercase.
func Register(indexerType string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	name := strings.ToLower(indexerType)
	if _, exists := registry[name]; exists {
		logger.GetDefaultLogger().Infof("projection type %s already in registry. "+
			"It will be overwritten.", name)
	}

	registry[name] = factory
}

// GetFactory returns the factory for the given projection type.
// Returns nil if the type is not registered.
// The lookup is case-insensitive.
func GetFactory(indexerType string) Factory {
	mu.RLock()
	defer mu.RUnlock()
	return registry[strings.ToLower(indexerType)]
}

// ListRegistered returns the registered projection types in sorted order.
func ListRegistered() []string {
	mu.RLock()
	defer mu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Create builds the projection for cfg using the factory registered for indexerType.
// Returns an error if the type is not registered or if creation fails.
// The type lookup is case-insensitive.
func Create(indexerType string, cfg config.IndexerConfig, log *logger.Logger) (Projection, error) {
	factory := GetFactory(indexerType)
	if factory == nil {
		return nil, fmt.Errorf("unknown projection type: %s (registered types: %v)", indexerType, ListRegistered())
	}

	return factory(cfg, log)
}
