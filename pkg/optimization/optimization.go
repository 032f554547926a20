// Package optimization implements the two optimization strategies bound
// to a single configured controller: DirectOptimization, which patches
// the target controller in place, and CanaryOptimization, which adjusts
// a standalone tuning pod cloned from the target's template.
package optimization

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/opsani/kubecore/pkg/cluster"
	"github.com/opsani/kubecore/pkg/config"
	"github.com/opsani/kubecore/pkg/container"
	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/resource"
)

// Component is the optimizer-facing description of one target's
// tunables: a name and the settings bound to it.
type Component struct {
	Name     string
	Settings []resource.Setting
}

// Adjustment is a single requested change, addressed by component and
// setting name.
type Adjustment struct {
	Component string
	Setting   string
	Value     float64
}

// Optimization is the shared contract both strategies implement.
type Optimization interface {
	// Name identifies this optimization's component, used to address
	// Adjustments and to label it in the emitted Description.
	Name() string
	// ToComponents returns the optimizer-facing description of this
	// target's tunables.
	ToComponents() []Component
	// Adjust records an in-memory mutation against the named setting.
	// No cluster I/O happens here.
	Adjust(settingName string, value float64) error
	// Apply commits all pending mutations to the cluster and waits for
	// convergence.
	Apply(ctx context.Context) error
	// IsReady reports whether the underlying workload is ready and
	// reports a restart count of zero.
	IsReady(ctx context.Context) (bool, error)
	// Rollback performs strategy-specific recovery after a failed apply.
	Rollback(ctx context.Context, cause error) error
	// Destroy performs strategy-specific teardown after a failed apply.
	Destroy(ctx context.Context, cause error) error
	// HandleError dispatches cause to rollback/destroy/ignore/crash per
	// mode, always re-raising cause unless mode is ignore.
	HandleError(ctx context.Context, cause error, mode config.FailureMode) error
	// Controller exposes the underlying controller wrapper so the
	// orchestrator can compute its stable state hashes without either
	// strategy needing to know about hashing.
	Controller() cluster.Controller
}

// base holds the state and helpers shared by DirectOptimization and
// CanaryOptimization.
type base struct {
	name          string
	ctrl          cluster.Controller
	containerName string
	settings      []resource.Setting
	log           logr.Logger
}

// toSettings decodes a controller configuration's setting list into
// their resource.Setting runtime form.
func toSettings(cfg config.ControllerConfig) []resource.Setting {
	out := make([]resource.Setting, len(cfg.Settings))
	for i, s := range cfg.Settings {
		out[i] = s.ToSetting()
	}
	return out
}

func newBase(name string, ctrl cluster.Controller, containerName string, settings []resource.Setting, log logr.Logger) base {
	cp := make([]resource.Setting, len(settings))
	copy(cp, settings)
	return base{name: name, ctrl: ctrl, containerName: containerName, settings: cp, log: log}
}

func (b *base) Name() string { return b.name }

func (b *base) Controller() cluster.Controller { return b.ctrl }

func (b *base) ToComponents() []Component {
	settings := make([]resource.Setting, len(b.settings))
	copy(settings, b.settings)
	return []Component{{Name: b.name, Settings: settings}}
}

func (b *base) Adjust(settingName string, value float64) error {
	for i := range b.settings {
		if b.settings[i].Name == settingName {
			return b.settings[i].Adjust(value)
		}
	}
	return errs.NewConfigurationError("component %q has no setting named %q", b.name, settingName)
}

// findContainer locates the configured container on the controller's
// pod template, or fails listing what is actually present.
func findContainer(ctrl cluster.Controller, containerName string) (*container.View, error) {
	c, ok := ctrl.ContainerByName(containerName)
	if !ok {
		names := make([]string, 0, len(ctrl.Containers()))
		for _, existing := range ctrl.Containers() {
			names = append(names, existing.Name)
		}
		return nil, errs.NewConfigurationError("controller %q has no container named %q (available: %v)", ctrl.Name(), containerName, names)
	}
	return container.New(c), nil
}

// populateCurrentValues reads each setting's live value off the
// container (CPU/Memory) or the controller (Replicas) so ToComponents
// reports the cluster's actual current state rather than a zero value,
// before any Adjust call has run.
func populateCurrentValues(ctrl cluster.Controller, view *container.View, settings []resource.Setting) error {
	for i := range settings {
		s := &settings[i]
		switch s.Kind {
		case resource.KindCPU:
			values, err := view.Get("cpu", s.Requirements, true, false, "0")
			if err != nil {
				return err
			}
			m, err := resource.ParseMillicore(values[0])
			if err != nil {
				return errs.NewAdjustmentFailure("parse current cpu value for setting %q: %v", s.Name, err)
			}
			s.Value = m.Float64()
		case resource.KindMemory:
			values, err := view.Get("memory", s.Requirements, true, false, "0")
			if err != nil {
				return err
			}
			b, err := resource.ParseShortByteSize(values[0])
			if err != nil {
				return errs.NewAdjustmentFailure("parse current memory value for setting %q: %v", s.Name, err)
			}
			s.Value = b.GiB64()
		case resource.KindReplicas:
			s.Value = float64(ctrl.Replicas())
		default:
			return errs.NewAdjustmentFailure("setting %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// writeSettings applies every non-pinned setting's current value onto
// either the container view (CPU/Memory) or the controller's replica
// count (Replicas).
func writeSettings(ctrl cluster.Controller, view *container.View, settings []resource.Setting) error {
	for i := range settings {
		s := &settings[i]
		if s.Pinned {
			continue
		}
		switch s.Kind {
		case resource.KindCPU:
			value := resource.MillicoreFromFloat(s.Value).String()
			if err := view.Set("cpu", []string{value}, s.Requirements, true); err != nil {
				return errs.NewAdjustmentFailure("write cpu setting %q: %v", s.Name, err)
			}
		case resource.KindMemory:
			value := resource.ShortByteSizeFromGiB(s.Value).String()
			if err := view.Set("memory", []string{value}, s.Requirements, true); err != nil {
				return errs.NewAdjustmentFailure("write memory setting %q: %v", s.Name, err)
			}
		case resource.KindReplicas:
			ctrl.SetReplicas(int32(s.Value))
		default:
			return errs.NewAdjustmentFailure("setting %q has unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}

// dispatchFailure implements the failure-mode dispatch table shared by
// both strategies: crash re-raises, ignore swallows, rollback/destroy
// invoke the corresponding recovery and then re-raise cause regardless
// of the recovery's own outcome.
func dispatchFailure(ctx context.Context, o Optimization, cause error, mode config.FailureMode, log logr.Logger) error {
	switch mode {
	case config.FailureModeIgnore:
		log.Info("ignoring failed adjustment", "component", o.Name(), "error", cause)
		return nil
	case config.FailureModeRollback:
		if err := o.Rollback(ctx, cause); err != nil {
			log.Error(err, "rollback after failed adjustment did not succeed", "component", o.Name())
		}
		return cause
	case config.FailureModeDestroy:
		if err := o.Destroy(ctx, cause); err != nil {
			log.Error(err, "destroy after failed adjustment did not succeed", "component", o.Name())
		}
		return cause
	case config.FailureModeCrash:
		return cause
	default:
		return multierr.Append(cause, fmt.Errorf("unknown failure mode %q", mode))
	}
}
