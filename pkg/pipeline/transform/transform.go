package transform

import (
	"fmt"
	"sync"

	"github.com/edgeflare/txeventq/pkg/pipeline/record"
	"github.com/mitchellh/mapstructure"
)

// Func is the signature for all transformation functions. Returning a nil
// record and nil error drops the record.
type Func func(*record.Record) (*record.Record, error)

// Transformation represents a single transformation step (like Kafka SMT)
type Transformation struct {
	Config map[string]any `mapstructure:"config"`
	Type   string         `mapstructure:"type"`
}

// Config is the interface that all transformations must implement
type Config interface {
	// Validate validates the configuration
	Validate() error
	// Type returns the transformation type
	Type() string
}

// Built-in transformation types
const (
	TypeFilter      = "filter"
	TypeReplace     = "replace"
	TypeHeaderToKey = "set.header.to.key"
)

// Registry is a collection of transformation functions
type Registry struct {
	transforms sync.Map // map[string]func(Config) Func
}

// Register adds a transformation to the registry
func (r *Registry) Register(name string, factory func(Config) Func) {
	r.transforms.Store(name, factory)
}

// Get returns a transformation from the registry
func (r *Registry) Get(name string) (func(Config) Func, error) {
	if value, ok := r.transforms.Load(name); ok {
		return value.(func(Config) Func), nil
	}
	return nil, fmt.Errorf("transformation %s not found", name)
}

func NewRegistry() *Registry {
	return &Registry{
		transforms: sync.Map{},
	}
}

type Manager struct {
	registry *Registry
}

func NewManager() *Manager {
	return &Manager{
		registry: NewRegistry(),
	}
}

func invalidConfig(name string) Func {
	return func(r *record.Record) (*record.Record, error) {
		return r, fmt.Errorf("invalid config type for %s transformation", name)
	}
}

// RegisterBuiltins registers all built-in transformations
func (m *Manager) RegisterBuiltins() {
	m.registry.Register(TypeFilter, func(config Config) Func {
		if c, ok := config.(*FilterConfig); ok {
			return Filter(c)
		}
		return invalidConfig(TypeFilter)
	})

	m.registry.Register(TypeReplace, func(config Config) Func {
		if c, ok := config.(*ReplaceConfig); ok {
			return Replace(c)
		}
		return invalidConfig(TypeReplace)
	})

	m.registry.Register(TypeHeaderToKey, func(config Config) Func {
		if c, ok := config.(*HeaderToKeyConfig); ok {
			return HeaderToKey(c)
		}
		return invalidConfig(TypeHeaderToKey)
	})
}

// Chain creates a transformation chain from a list of configs
func (m *Manager) Chain(configs []Transformation) (Func, error) {
	var transforms []Func

	for _, cfg := range configs {
		factory, err := m.registry.Get(cfg.Type)
		if err != nil {
			return nil, fmt.Errorf("error getting transformation %s: %w", cfg.Type, err)
		}

		transformConfig, err := cfg.ToConfig()
		if err != nil {
			return nil, fmt.Errorf("error converting config for %s: %w", cfg.Type, err)
		}
		if err := transformConfig.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s config: %w", cfg.Type, err)
		}

		transforms = append(transforms, factory(transformConfig))
	}

	return func(r *record.Record) (*record.Record, error) {
		current := r
		var err error
		for _, t := range transforms {
			current, err = t(current)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, nil // dropped
			}
		}
		return current, nil
	}, nil
}

// ToConfig decodes the raw config map into the config type of t.Type.
func (t *Transformation) ToConfig() (Config, error) {
	var cfg Config
	switch t.Type {
	case TypeFilter:
		cfg = &FilterConfig{}
	case TypeReplace:
		cfg = &ReplaceConfig{}
	case TypeHeaderToKey:
		cfg = &HeaderToKeyConfig{}
	default:
		return nil, fmt.Errorf("unknown transformation type: %s", t.Type)
	}
	if err := mapstructure.Decode(t.Config, cfg); err != nil {
		return nil, fmt.Errorf("error decoding %s config: %w", t.Type, err)
	}
	return cfg, nil
}
