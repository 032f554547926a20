package resource

import "github.com/opsani/kubecore/pkg/errs"

// Kind identifies which Description value type (§6) a Setting reports
// as — CPU and Memory are floats (vCPU fractions / GiB fractions),
// Replicas is an integer.
type Kind string

const (
	KindCPU      Kind = "cpu"
	KindMemory   Kind = "mem"
	KindReplicas Kind = "replicas"
)

// Setting is the tunable knob bound to a single optimization target:
// {min, max, step, value, pinned} plus the set of resource requirement
// flags it controls. Pinned settings may not be adjusted.
type Setting struct {
	Name         string
	Kind         Kind
	Min          float64
	Max          float64
	Step         float64
	Value        float64
	Pinned       bool
	Requirements Requirement
}

// Validate reports an error if value falls outside [Min, Max] or the
// setting is pinned.
func (s *Setting) Validate(value float64) error {
	if s.Pinned {
		return errs.NewConfigurationError("setting %q is pinned and cannot be adjusted", s.Name)
	}
	if value < s.Min || value > s.Max {
		return errs.NewConfigurationError("setting %q value %v is outside range [%v, %v]", s.Name, value, s.Min, s.Max)
	}
	return nil
}

// Adjust sets the setting's value, honoring Validate's constraints.
func (s *Setting) Adjust(value float64) error {
	if err := s.Validate(value); err != nil {
		return err
	}
	s.Value = value
	return nil
}
