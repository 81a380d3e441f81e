package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	yml "gopkg.in/yaml.v2"
)

// ErrNoConfig is returned by a Store that holds nothing yet
var ErrNoConfig = errors.New("no stored configuration")

// Store persists the machine configuration. Load is called at startup and
// by M501, Save by M500.
type Store interface {
	Load() (*MachineConfig, error)
	Save(cfg *MachineConfig) error
}

// FileStore keeps the configuration in a YAML file
type FileStore struct {
	Path string
}

// Load reads and validates the file. A missing file reports ErrNoConfig.
func (s *FileStore) Load() (*MachineConfig, error) {
	if _, err := os.Stat(s.Path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoConfig
	}
	return LoadFile(s.Path)
}

// Save writes cfg to the file, replacing it atomically
func (s *FileStore) Save(cfg *MachineConfig) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML in the format LoadConfig reads
func Marshal(cfg *MachineConfig) ([]byte, error) {
	data, err := yml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// MemoryStore keeps the configuration in memory. Load returns a copy of
// the last saved configuration.
type MemoryStore struct {
	mu  sync.Mutex
	cfg *MachineConfig
}

// NewMemoryStore creates a store holding cfg, which may be nil
func NewMemoryStore(cfg *MachineConfig) *MemoryStore {
	s := &MemoryStore{}
	if cfg != nil {
		s.cfg = cfg.Clone()
	}
	return s
}

// Load returns the stored configuration
func (s *MemoryStore) Load() (*MachineConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg == nil {
		return nil, ErrNoConfig
	}
	return s.cfg.Clone(), nil
}

// Save replaces the stored configuration
func (s *MemoryStore) Save(cfg *MachineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.mu.Unlock()
	return nil
}
