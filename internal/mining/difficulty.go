package mining

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"curtailmine/internal/domain"
)

// DefaultDifficulty is used when no difficulty is known for a date. A wrong
// difficulty silently corrupts every derived estimate for the date, so every
// use of this fallback is logged.
const DefaultDifficulty = 88.1e12

// DifficultySource resolves the network difficulty effective at a date.
type DifficultySource interface {
	DifficultyFor(ctx context.Context, date domain.SettlementDate) (float64, error)
}

// StaticSource is a date-indexed difficulty table with a logged default
// fallback for dates the table does not cover.
type StaticSource struct {
	mu     sync.RWMutex
	table  map[domain.SettlementDate]float64
	logger logrus.FieldLogger
}

// NewStaticSource creates a StaticSource over the given table. A nil table
// is allowed; every lookup then falls back to DefaultDifficulty.
func NewStaticSource(table map[domain.SettlementDate]float64, logger logrus.FieldLogger) *StaticSource {
	if table == nil {
		table = make(map[domain.SettlementDate]float64)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StaticSource{table: table, logger: logger}
}

// Compile-time interface check.
var _ DifficultySource = (*StaticSource)(nil)

// Set records the difficulty for a date.
func (s *StaticSource) Set(date domain.SettlementDate, difficulty float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table[date] = difficulty
}

// DifficultyFor returns the table value for the date, or DefaultDifficulty
// with a warning log when the date is absent.
func (s *StaticSource) DifficultyFor(_ context.Context, date domain.SettlementDate) (float64, error) {
	s.mu.RLock()
	d, ok := s.table[date]
	s.mu.RUnlock()

	if !ok {
		s.logger.WithFields(logrus.Fields{
			"settlement_date": date.String(),
			"default":         DefaultDifficulty,
		}).Warn("no difficulty for date, using default")
		return DefaultDifficulty, nil
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive difficulty %v for %s", d, date)
	}
	return d, nil
}

// difficultyFile is the YAML shape of a difficulty table file.
type difficultyFile struct {
	Difficulties map[string]float64 `yaml:"difficulties"`
}

// LoadTable reads a YAML difficulty table keyed by settlement date.
func LoadTable(path string) (map[domain.SettlementDate]float64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read difficulty table: %w", err)
	}

	var file difficultyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse difficulty table: %w", err)
	}

	table := make(map[domain.SettlementDate]float64, len(file.Difficulties))
	for k, v := range file.Difficulties {
		date, err := domain.ParseSettlementDate(k)
		if err != nil {
			return nil, fmt.Errorf("difficulty table key %q: %w", k, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("difficulty table %s: non-positive value %v", k, v)
		}
		table[date] = v
	}
	return table, nil
}
