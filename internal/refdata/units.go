// Package refdata loads the static reference set of balancing mechanism
// units. External records are filtered to units present in this set.
package refdata

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Unit describes one tracked generation unit.
type Unit struct {
	Name       string  `yaml:"name"`
	FuelType   string  `yaml:"fuelType"`
	CapacityMW float64 `yaml:"capacityMW"`
	LeadParty  string  `yaml:"leadParty"`
}

// UnitSet is the reference mapping keyed by unit identifier.
// Loaded once per process lifetime and read-only afterwards.
type UnitSet struct {
	units map[string]Unit
}

// Load reads the unit set from a YAML file. A missing or empty file is a
// configuration error: the engine cannot filter external records without it.
func Load(path string) (*UnitSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit set %s: %w", path, err)
	}

	var units map[string]Unit
	if err := yaml.Unmarshal(raw, &units); err != nil {
		return nil, fmt.Errorf("parse unit set %s: %w", path, err)
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("unit set %s is empty", path)
	}

	return &UnitSet{units: units}, nil
}

// FromMap builds a UnitSet directly. Used by tests and the stub pipeline.
func FromMap(units map[string]Unit) *UnitSet {
	cp := make(map[string]Unit, len(units))
	for k, v := range units {
		cp[k] = v
	}
	return &UnitSet{units: cp}
}

// Contains reports whether the unit ID is in the reference set.
func (s *UnitSet) Contains(unitID string) bool {
	_, ok := s.units[unitID]
	return ok
}

// Get returns the unit details. The bool is false when absent.
func (s *UnitSet) Get(unitID string) (Unit, bool) {
	u, ok := s.units[unitID]
	return u, ok
}

// Len returns the number of tracked units.
func (s *UnitSet) Len() int { return len(s.units) }

// cache implements the load-once-per-process behavior.
var (
	cacheMu   sync.Mutex
	cached    *UnitSet
	cachePath string
)

// LoadCached returns the process-wide unit set, loading it on first use.
// Subsequent calls with the same path return the cached set.
func LoadCached(path string) (*UnitSet, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if cached != nil && cachePath == path {
		return cached, nil
	}

	set, err := Load(path)
	if err != nil {
		return nil, err
	}
	cached = set
	cachePath = path
	return set, nil
}
