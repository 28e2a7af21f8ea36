package agentsim

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// LoadState replaces the simulated entities with the contents of path. A
// missing file leaves the agent empty.
func (a *Agent) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	var entities map[string]map[string]*Entity
	if err := json.Unmarshal(data, &entities); err != nil {
		return fmt.Errorf("failed to parse state %s: %w", path, err)
	}
	if entities == nil {
		entities = make(map[string]map[string]*Entity)
	}

	a.mu.Lock()
	a.entities = entities
	a.mu.Unlock()
	return nil
}

// SaveState writes the simulated entities to path.
func (a *Agent) SaveState(path string) error {
	a.mu.Lock()
	data, err := json.MarshalIndent(a.entities, "", "  ")
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp, path)
}
