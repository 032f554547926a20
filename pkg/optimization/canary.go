package optimization

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/agentidentity"
	"github.com/opsani/kubecore/pkg/cluster"
	"github.com/opsani/kubecore/pkg/config"
	"github.com/opsani/kubecore/pkg/container"
	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/metrics"
	"github.com/opsani/kubecore/pkg/resource"
)

// CanaryOptimization adjusts a standalone tuning pod cloned from the
// target controller's pod template, instead of mutating the target
// controller directly. Three invariants hold throughout its lifetime:
// the target controller is never patched; the canary's replica count is
// fixed at one; and settings target exactly the one container this
// optimization is bound to.
type CanaryOptimization struct {
	base
	client       client.Client
	identity     agentidentity.Identity
	ownerName    string
	ownerUID     string
	readyTimeout time.Duration
	canaryName   string
}

// CreateCanaryOptimization reads cfg's target controller (read-only:
// CanaryOptimization never patches it), locates the configured
// container on its pod template, resolves the agent's own owning
// Deployment (so the canary can be garbage-collected with it), and
// ensures a canary pod exists to adjust against.
func CreateCanaryOptimization(ctx context.Context, c client.Client, cfg config.ControllerConfig, namespace string, identity agentidentity.Identity, readyTimeout time.Duration, log logr.Logger) (*CanaryOptimization, error) {
	ctrl, err := cluster.ReadController(ctx, c, cfg.Kind, cfg.Name, namespace)
	if err != nil {
		return nil, err
	}
	if _, err := findContainer(ctrl, cfg.ContainerName); err != nil {
		return nil, err
	}

	ownerName, ownerUID, err := cluster.ResolveAgentOwner(ctx, c, identity)
	if err != nil {
		return nil, err
	}

	if readyTimeout <= 0 {
		readyTimeout = cluster.DefaultCanaryReadyTimeout
	}

	canary, err := cluster.EnsureCanaryPod(ctx, c, ctrl, identity, ownerName, ownerUID, ctrl.CurrentPodHash(), readyTimeout)
	if err != nil {
		return nil, err
	}

	settings := toSettings(cfg)
	canaryView, err := findContainerInPod(canary.Obj, cfg.ContainerName)
	if err != nil {
		return nil, err
	}
	for i := range settings {
		if settings[i].Kind == resource.KindReplicas {
			settings[i].Value = 1
			continue
		}
		if err := populateCurrentValues(ctrl, canaryView, settings[i:i+1]); err != nil {
			return nil, err
		}
	}

	return &CanaryOptimization{
		base:         newBase(cfg.Name, ctrl, cfg.ContainerName, settings, log),
		client:       c,
		identity:     identity,
		ownerName:    ownerName,
		ownerUID:     ownerUID,
		readyTimeout: readyTimeout,
		canaryName:   canary.Obj.Name,
	}, nil
}

// Adjust overrides base.Adjust to enforce the replicas-pinned-at-one
// invariant: any attempt to set a replicas setting to a value other
// than 1 is logged and ignored rather than rejected.
func (o *CanaryOptimization) Adjust(settingName string, value float64) error {
	for i := range o.settings {
		if o.settings[i].Name != settingName {
			continue
		}
		if o.settings[i].Kind == resource.KindReplicas {
			if value != 1 {
				o.log.Info("ignoring attempt to set canary replicas away from 1", "component", o.name, "setting", settingName, "value", value)
			}
			return nil
		}
		break
	}
	return o.base.Adjust(settingName, value)
}

// Apply snapshots the existing canary pod, writes the pending settings
// into the snapshot's container, deletes the existing canary (tolerating
// a 404), recreates it from the mutated snapshot, and waits for
// readiness.
func (o *CanaryOptimization) Apply(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failed"
		}
		metrics.AdjustmentDurationSeconds.WithLabelValues(o.name, outcome).Observe(time.Since(start).Seconds())
	}()

	existing, err := cluster.ReadPod(ctx, o.client, o.canaryName, o.ctrl.Namespace())
	if err != nil {
		return err
	}

	snapshot := existing.Obj.DeepCopy()
	snapshot.ResourceVersion = ""
	snapshot.UID = ""
	snapshot.Status = corev1.PodStatus{}

	view, err := findContainerInPod(snapshot, o.containerName)
	if err != nil {
		return err
	}
	// Replicas has no meaning on a standalone pod and is never written
	// here; Adjust already refuses to move it away from 1.
	containerSettings := make([]resource.Setting, 0, len(o.settings))
	for _, s := range o.settings {
		if s.Kind != resource.KindReplicas {
			containerSettings = append(containerSettings, s)
		}
	}
	if err := writeSettings(o.ctrl, view, containerSettings); err != nil {
		return err
	}

	if err := existing.Delete(ctx); err != nil {
		return err
	}

	if err := o.client.Create(ctx, snapshot); err != nil {
		return errs.NewClusterAPIError("create canary pod", err)
	}
	pod := cluster.WrapPod(o.client, snapshot)

	timeout := o.readyTimeout
	if timeout <= 0 {
		timeout = cluster.DefaultCanaryReadyTimeout
	}
	if err := pod.WaitUntilReady(ctx, timeout, func(ctx context.Context) (bool, error) {
		return pod.IsReady(ctx)
	}, nil); err != nil {
		return errs.NewAdjustmentFailure("canary pod %q did not become ready: %v", o.canaryName, err)
	}
	return nil
}

// IsReady reports the canary pod's readiness together with a zero
// restart count.
func (o *CanaryOptimization) IsReady(ctx context.Context) (bool, error) {
	canary, err := cluster.ReadPod(ctx, o.client, o.canaryName, o.ctrl.Namespace())
	if err != nil {
		return false, err
	}
	ready, err := canary.IsReady(ctx)
	if err != nil {
		return false, err
	}
	return ready && canary.RestartCount() == 0, nil
}

// Rollback is not semantically meaningful for a standalone pod and
// degrades to Destroy.
func (o *CanaryOptimization) Rollback(ctx context.Context, cause error) error {
	return o.Destroy(ctx, cause)
}

// Destroy deletes the canary, waits for its deletion, and recreates a
// baseline canary from the target's current pod template so the next
// optimization cycle has something to adjust against.
func (o *CanaryOptimization) Destroy(ctx context.Context, cause error) error {
	existing, err := cluster.ReadPod(ctx, o.client, o.canaryName, o.ctrl.Namespace())
	if err == nil {
		if err := existing.Delete(ctx); err != nil {
			return err
		}
		if err := existing.WaitUntilDeleted(ctx, o.readyTimeout); err != nil {
			return err
		}
	} else if !apierrors.IsNotFound(err) {
		return err
	}

	recreated, err := cluster.EnsureCanaryPod(ctx, o.client, o.ctrl, o.identity, o.ownerName, o.ownerUID, o.ctrl.CurrentPodHash(), o.readyTimeout)
	if err != nil {
		return err
	}
	o.canaryName = recreated.Obj.Name
	return nil
}

// HandleError dispatches cause per mode, sharing the table both
// strategies use.
func (o *CanaryOptimization) HandleError(ctx context.Context, cause error, mode config.FailureMode) error {
	return dispatchFailure(ctx, o, cause, mode, o.log)
}

func findContainerInPod(pod *corev1.Pod, name string) (*container.View, error) {
	for i := range pod.Spec.Containers {
		if pod.Spec.Containers[i].Name == name {
			return container.New(&pod.Spec.Containers[i]), nil
		}
	}
	return nil, errs.NewConfigurationError("canary pod %q has no container named %q", pod.Name, name)
}
