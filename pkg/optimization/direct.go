package optimization

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/cluster"
	"github.com/opsani/kubecore/pkg/config"
	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/metrics"
	"github.com/opsani/kubecore/pkg/observer"
)

// DirectOptimization patches its target controller in place: the
// controller it wraps is the only workload the optimizer's adjustments
// ever touch.
type DirectOptimization struct {
	base
	client  client.WithWatch
	timeout time.Duration
}

// CreateDirectOptimization reads cfg's target controller and locates its
// configured container, failing with *errs.ConfigurationError if the
// container is missing; a missing controller surfaces as the
// *errs.ClusterAPIError returned by the read.
func CreateDirectOptimization(ctx context.Context, c client.WithWatch, cfg config.ControllerConfig, namespace string, timeout time.Duration, log logr.Logger) (*DirectOptimization, error) {
	ctrl, err := cluster.ReadController(ctx, c, cfg.Kind, cfg.Name, namespace)
	if err != nil {
		return nil, err
	}
	view, err := findContainer(ctrl, cfg.ContainerName)
	if err != nil {
		return nil, err
	}
	settings := toSettings(cfg)
	if err := populateCurrentValues(ctrl, view, settings); err != nil {
		return nil, err
	}
	out := &DirectOptimization{
		base:    newBase(cfg.Name, ctrl, cfg.ContainerName, settings, log),
		client:  c,
		timeout: timeout,
	}
	return out, nil
}

// Apply commits the pending in-memory mutations (container resources or
// replica count) and waits for the rollout observer to converge. After
// convergence, if the restart count observed strictly after the
// baseline was captured is non-zero, the adjustment is rejected as
// unstable.
func (d *DirectOptimization) Apply(ctx context.Context) (err error) {
	start := time.Now()
	outcome := "success"
	defer func() {
		metrics.AdjustmentDurationSeconds.WithLabelValues(d.name, outcome).Observe(time.Since(start).Seconds())
	}()

	prePods, err := d.ctrl.GetPods(ctx)
	if err != nil {
		outcome = "failed"
		return err
	}
	baseline := make(map[string]int32, len(prePods))
	for _, p := range prePods {
		baseline[string(p.Obj.UID)] = p.RestartCount()
	}

	mutate := func() error {
		view, err := findContainer(d.ctrl, d.containerName)
		if err != nil {
			return err
		}
		return writeSettings(d.ctrl, view, d.settings)
	}

	if err := observer.Observe(ctx, d.client, d.ctrl, observer.Options{Timeout: d.timeout, Logger: d.log}, mutate); err != nil {
		outcome = "rejected"
		return err
	}

	postPods, err := d.ctrl.GetPods(ctx)
	if err != nil {
		outcome = "failed"
		return err
	}
	var restarted int32
	for _, p := range postPods {
		restarted += p.RestartCount() - baseline[string(p.Obj.UID)]
	}
	if restarted > 0 {
		outcome = "rejected"
		return errs.NewAdjustmentRejected(errs.ReasonUnstable, "controller %q restarted %d time(s) after the adjustment settled", d.ctrl.Name(), restarted)
	}
	return nil
}

// IsReady refreshes the target controller from the cluster, then
// reports its native readiness rule together with a zero restart
// count. The refresh matters: the controller wrapper otherwise still
// reflects whatever status was read at CreateDirectOptimization (or
// the last Apply), so without it a readiness change occurring on its
// own — outside an Apply cycle — would never be observed.
func (d *DirectOptimization) IsReady(ctx context.Context) (bool, error) {
	deleted, err := d.ctrl.Refresh(ctx)
	if err != nil {
		return false, err
	}
	if deleted || !d.ctrl.IsReady() {
		return false, nil
	}
	restarts, err := d.ctrl.GetRestartCount(ctx)
	if err != nil {
		return false, err
	}
	return restarts == 0, nil
}

// Rollback invokes the controller's native rollback, which fails with
// *errs.UnsupportedOperation for Argo Rollouts.
func (d *DirectOptimization) Rollback(ctx context.Context, cause error) error {
	return d.ctrl.Rollback(ctx)
}

// Destroy deletes the target controller outright.
func (d *DirectOptimization) Destroy(ctx context.Context, cause error) error {
	return d.ctrl.Delete(ctx)
}

// HandleError dispatches cause per mode, sharing the table both
// strategies use.
func (d *DirectOptimization) HandleError(ctx context.Context, cause error, mode config.FailureMode) error {
	return dispatchFailure(ctx, d, cause, mode, d.log)
}
