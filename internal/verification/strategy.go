package verification

import (
	"fmt"
	"strconv"
	"strings"

	"curtailmine/internal/domain"
)

// Strategy chooses which settlement periods to sample.
type Strategy interface {
	// Name identifies the strategy in verdicts and logs.
	Name() string

	// InitialPeriods returns the first sample set.
	InitialPeriods(randIntn func(int) int) []int

	// Escalate may return additional periods to sample after the current
	// round, given the verdict so far and the periods already sampled.
	// Returning nil ends the run.
	Escalate(v *Verdict, sampled map[int]bool, randIntn func(int) int) []int
}

// Fixed samples a constant small set of periods spread across the day.
func Fixed() Strategy { return fixedStrategy{} }

type fixedStrategy struct{}

func (fixedStrategy) Name() string { return "fixed" }

func (fixedStrategy) InitialPeriods(func(int) int) []int {
	out := make([]int, len(fixedPeriods))
	copy(out, fixedPeriods)
	return out
}

func (fixedStrategy) Escalate(*Verdict, map[int]bool, func(int) int) []int { return nil }

// Random samples n distinct random periods.
func Random(n int) Strategy { return randomStrategy{n: n} }

type randomStrategy struct{ n int }

func (s randomStrategy) Name() string { return fmt.Sprintf("random(%d)", s.n) }

func (s randomStrategy) InitialPeriods(randIntn func(int) int) []int {
	return randomPeriods(s.n, map[int]bool{}, randIntn)
}

func (randomStrategy) Escalate(*Verdict, map[int]bool, func(int) int) []int { return nil }

// Full samples all 48 periods.
func Full() Strategy { return fullStrategy{} }

type fullStrategy struct{}

func (fullStrategy) Name() string { return "full" }

func (fullStrategy) InitialPeriods(func(int) int) []int {
	out := make([]int, domain.PeriodsPerDay)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func (fullStrategy) Escalate(*Verdict, map[int]bool, func(int) int) []int { return nil }

// Progressive starts with the fixed set and, when any mismatch or missing
// period is found, escalates once with n additional random unsampled periods.
func Progressive(n int) Strategy {
	if n <= 0 {
		n = DefaultEscalation
	}
	return &progressiveStrategy{n: n}
}

type progressiveStrategy struct {
	n         int
	escalated bool
}

func (s *progressiveStrategy) Name() string { return fmt.Sprintf("progressive(%d)", s.n) }

func (s *progressiveStrategy) InitialPeriods(func(int) int) []int {
	s.escalated = false
	out := make([]int, len(fixedPeriods))
	copy(out, fixedPeriods)
	return out
}

func (s *progressiveStrategy) Escalate(v *Verdict, sampled map[int]bool, randIntn func(int) int) []int {
	if s.escalated || v.IsPassing() {
		return nil
	}
	s.escalated = true
	return randomPeriods(s.n, sampled, randIntn)
}

// randomPeriods picks up to n distinct periods not already sampled.
func randomPeriods(n int, sampled map[int]bool, randIntn func(int) int) []int {
	var pool []int
	for p := 1; p <= domain.PeriodsPerDay; p++ {
		if !sampled[p] {
			pool = append(pool, p)
		}
	}
	if n > len(pool) {
		n = len(pool)
	}

	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		idx := randIntn(len(pool))
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

// ParseStrategy builds a strategy from its command-line form:
// fixed | random[:n] | full | progressive[:n].
func ParseStrategy(s string) (Strategy, error) {
	name, arg, hasArg := strings.Cut(s, ":")

	n := 0
	if hasArg {
		parsed, err := strconv.Atoi(arg)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid strategy argument %q", arg)
		}
		n = parsed
	}

	switch name {
	case "", "fixed":
		return Fixed(), nil
	case "random":
		if n == 0 {
			n = len(fixedPeriods)
		}
		return Random(n), nil
	case "full":
		return Full(), nil
	case "progressive":
		return Progressive(n), nil
	default:
		return nil, fmt.Errorf("unknown sampling strategy %q", name)
	}
}
