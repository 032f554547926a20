// Package config implements the configuration cascade: namespace,
// timeout, settlement, and on-failure mode propagate from the top-level
// KubernetesConfig down into each ControllerConfig for any field the
// user did not explicitly set, unless overwrite mode is requested.
package config

import (
	"time"

	"github.com/imdario/mergo"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/opsani/kubecore/pkg/cluster"
	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/resource"
)

// FailureMode names the recovery strategy the orchestrator dispatches
// to when an optimization's apply fails.
type FailureMode string

const (
	FailureModeCrash FailureMode = "crash"
	FailureModeIgnore FailureMode = "ignore"
	FailureModeRollback FailureMode = "rollback"
	FailureModeDestroy FailureMode = "destroy"
)

// Strategy names which optimization strategy a controller uses.
type Strategy string

const (
	StrategyDirect Strategy = "direct"
	StrategyCanary Strategy = "canary"
)

// SettingConfig is the user-facing configuration of a single tunable,
// decoded straight into a resource.Setting plus the requirement flags
// that select which container resource fields it reads/writes.
type SettingConfig struct {
	Name string `json:"name"`
	Kind resource.Kind `json:"kind"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Step float64 `json:"step"`
	Pinned bool `json:"pinned,omitempty"`
	Requirements resource.Requirement `json:"requirements,omitempty"`
}

func (s SettingConfig) ToSetting() resource.Setting {
	return resource.Setting{
		Name: s.Name,
		Kind: s.Kind,
		Min: s.Min,
		Max: s.Max,
		Step: s.Step,
		Pinned: s.Pinned,
		Requirements: s.Requirements,
	}
}

// cascadable holds the fields that propagate from KubernetesConfig down
// into each ControllerConfig. Pointer fields double as the "was this
// set by the user" bit: a nil field was never set, and is the only one
// mergo's default (non-WithOverride) merge will fill from the parent.
type cascadable struct {
	Namespace *string `json:"namespace,omitempty"`
	Timeout *metav1.Duration `json:"timeout,omitempty"`
	Settlement *metav1.Duration `json:"settlement,omitempty"`
	OnFailure *FailureMode `json:"onFailure,omitempty"`
}

// ControllerConfig configures one target controller (Deployment or
// Rollout) and the optimization strategy bound to it.
type ControllerConfig struct {
	cascadable `json:",inline"`

	Name string `json:"name"`
	Kind cluster.ControllerKind `json:"kind"`
	ContainerName string `json:"container"`
	Strategy Strategy `json:"strategy"`
	Settings []SettingConfig `json:"settings"`
}

// Resolved returns the effective (non-pointer) values after cascading.
func (c ControllerConfig) Resolved() (namespace string, timeout, settlement time.Duration, onFailure FailureMode) {
	if c.Namespace != nil {
		namespace = *c.Namespace
	}
	if c.Timeout != nil {
		timeout = c.Timeout.Duration
	}
	if c.Settlement != nil {
		settlement = c.Settlement.Duration
	}
	if c.OnFailure != nil {
		onFailure = *c.OnFailure
	}
	return
}

// KubernetesConfig is the top-level configuration for the control core.
type KubernetesConfig struct {
	Namespace string `json:"namespace"`
	Timeout metav1.Duration `json:"timeout"`
	Settlement metav1.Duration `json:"settlement,omitempty"`
	OnFailure FailureMode `json:"onFailure"`
	Kubeconfig string `json:"kubeconfig,omitempty"`
	Context string `json:"context,omitempty"`
	Overwrite bool `json:"overwrite,omitempty"`
	Controllers []ControllerConfig `json:"controllers"`
}

// Decode parses YAML (or JSON, sigs.k8s.io/yaml accepts both) into a
// KubernetesConfig, validates it, and runs the cascade once.
func Decode(data []byte) (*KubernetesConfig, error) {
	var cfg KubernetesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.NewConfigurationError("decode kubernetes configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Cascade()
	return &cfg, nil
}

// Validate checks the invariants the cascade requires before it runs:
// every controller must name a target and a strategy.
func (k *KubernetesConfig) Validate() error {
	seen := make(map[string]bool, len(k.Controllers))
	for _, c := range k.Controllers {
		if c.Name == "" {
			return errs.NewConfigurationError("controller configuration is missing a name")
		}
		if seen[c.Name] {
			return errs.NewConfigurationError("duplicate controller name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Strategy != StrategyDirect && c.Strategy != StrategyCanary {
			return errs.NewConfigurationError("controller %q has unknown strategy %q", c.Name, c.Strategy)
		}
	}
	return nil
}

// Cascade propagates namespace/timeout/settlement/on_failure from k
// into every controller configuration. Overwrite mode forces the
// parent's value regardless of whether the child set its own; default
// mode only fills fields the child left unset.
func (k *KubernetesConfig) Cascade() {
	parent := cascadable{
		Namespace: &k.Namespace,
		Timeout: &k.Timeout,
		Settlement: &k.Settlement,
		OnFailure: &k.OnFailure,
	}
	for i := range k.Controllers {
		child := &k.Controllers[i].cascadable
		if k.Overwrite {
			_ = mergo.Merge(child, parent, mergo.WithOverride)
		} else {
			_ = mergo.Merge(child, parent)
		}
	}
}
