package progress

import "fmt"

// Phase is one named, weighted stage of a job type's execution.
type Phase struct {
	Name   string
	Weight int
}

// Plan is the ordered phase sequence of a job type. Weights must sum to 100
// so that Overall maps phase-local completion straight to a percentage.
type Plan struct {
	phases []Phase
}

func NewPlan(phases ...Phase) (Plan, error) {
	if len(phases) == 0 {
		return Plan{}, fmt.Errorf("progress: plan needs at least one phase")
	}
	sum := 0
	seen := map[string]bool{}
	for _, p := range phases {
		if p.Name == "" {
			return Plan{}, fmt.Errorf("progress: phase with empty name")
		}
		if p.Weight <= 0 {
			return Plan{}, fmt.Errorf("progress: phase %q has non-positive weight %d", p.Name, p.Weight)
		}
		if seen[p.Name] {
			return Plan{}, fmt.Errorf("progress: duplicate phase %q", p.Name)
		}
		seen[p.Name] = true
		sum += p.Weight
	}
	if sum != 100 {
		return Plan{}, fmt.Errorf("progress: phase weights sum to %d, want 100", sum)
	}
	return Plan{phases: phases}, nil
}

// MustPlan is NewPlan for package-level handler definitions.
func MustPlan(phases ...Phase) Plan {
	p, err := NewPlan(phases...)
	if err != nil {
		panic(err)
	}
	return p
}

// Phases returns the ordered phase list.
func (p Plan) Phases() []Phase {
	return p.phases
}

// Overall maps completion pct (0-100) within the named phase to the job's
// overall percentage: the full weight of every earlier phase plus the
// proportional share of the current one. The result is clamped to [0,100].
// An unknown phase name yields 0.
func (p Plan) Overall(phase string, pct int) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	before := 0
	for _, ph := range p.phases {
		if ph.Name == phase {
			v := before + (pct*ph.Weight+50)/100
			if v > 100 {
				v = 100
			}
			return v
		}
		before += ph.Weight
	}
	return 0
}
