package storage

import (
	"fmt"
	"sync"
)

// Manager resolves named storages. Instances are built lazily from their
// config and cached, so every lookup of a name returns the same storage.
type Manager struct {
	mu         sync.Mutex
	defaultKey string
	configs    map[string]Config
	drivers    map[string]Factory
	instances  map[string]Storage
}

// NewManager creates a manager with the given default storage name and configs.
func NewManager(defaultName string, configs map[string]Config) *Manager {
	m := &Manager{
		defaultKey: defaultName,
		configs:    make(map[string]Config, len(configs)),
		drivers:    make(map[string]Factory),
		instances:  make(map[string]Storage),
	}
	for name, cfg := range configs {
		m.configs[name] = cfg
	}
	return m
}

// RegisterDriver makes a driver available under name, replacing any previous one.
func (m *Manager) RegisterDriver(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[name] = factory
}

// Drivers returns the registered driver names.
func (m *Manager) Drivers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.drivers))
	for name := range m.drivers {
		names = append(names, name)
	}
	return names
}

// AddStorage adds a storage config. Names are unique.
func (m *Manager) AddStorage(name string, cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.configs[name]; exists {
		return InvalidConfig(fmt.Sprintf("A storage named %s is already defined", name))
	}
	m.configs[name] = cfg
	return nil
}

// Default returns the default storage name.
func (m *Manager) Default() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultKey
}

// SetDefault resolves name and makes it the default storage.
func (m *Manager) SetDefault(name string) (Storage, error) {
	s, err := m.Storage(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.defaultKey = name
	m.mu.Unlock()
	return s, nil
}

// Storage returns the storage called name, or the default when name is empty.
func (m *Manager) Storage(name string) (Storage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		name = m.defaultKey
	}
	if name == "" {
		return nil, InvalidConfig("Make sure to define a default storage name inside config file")
	}
	if s, ok := m.instances[name]; ok {
		return s, nil
	}

	cfg, ok := m.configs[name]
	if !ok {
		return nil, InvalidConfig(fmt.Sprintf("Make sure to define config for %s storage", name))
	}
	if cfg.Driver == "" {
		return nil, InvalidConfig(fmt.Sprintf("Make sure to define driver for %s storage", name))
	}
	factory, ok := m.drivers[cfg.Driver]
	if !ok {
		return nil, DriverNotSupported(cfg.Driver)
	}

	s, err := factory(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("create %s storage: %w", name, err)
	}
	m.instances[name] = s
	return s, nil
}
