package resource

import (
	"fmt"
	"strconv"
	"strings"
)

// Millicore is an integer count of one-thousandths of a vCPU, the unit
// Kubernetes uses for CPU requests and limits.
type Millicore int64

// ParseMillicore parses a Kubernetes CPU quantity string, or a bare
// numeric value, into Millicore units.
//
//   - "100m"  -> 100       (literal millicore suffix)
//   - "0.5"   -> 500       (fractional vCPU)
//   - "1"     -> 1000      (whole vCPU)
func ParseMillicore(v string) (Millicore, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("resource: could not parse empty millicore value")
	}
	if strings.HasSuffix(v, "m") {
		n, err := strconv.ParseInt(v[:len(v)-1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("resource: could not parse millicore value %q: %w", v, err)
		}
		return Millicore(n), nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("resource: could not parse millicore value %q: %w", v, err)
	}
	return MillicoreFromFloat(f), nil
}

// MillicoreFromFloat converts a vCPU fraction (e.g. 0.5 vCPU) into
// Millicore units, matching the numeric branch of the original parser.
func MillicoreFromFloat(vcpu float64) Millicore {
	return Millicore(int64(vcpu * 1000))
}

// Float64 returns the value as a fraction of a vCPU.
func (m Millicore) Float64() float64 {
	return float64(m) / 1000.0
}

// String renders the value the way Kubernetes expects: a bare integer
// when the value is a whole number of vCPUs (divisible by 1000), and an
// "Nm" millicore literal otherwise.
func (m Millicore) String() string {
	if m%1000 == 0 {
		return strconv.FormatInt(int64(m)/1000, 10)
	}
	return fmt.Sprintf("%dm", int64(m))
}
