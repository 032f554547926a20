// Package observer implements the rollout observation state machine: a
// scoped operation that patches a controller, then watches (Deployment)
// or polls (Rollout) until the cluster converges on the desired state,
// detects instability, or times out.
package observer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	rolloutsv1alpha1 "github.com/opsani/kubecore/api/rollouts/v1alpha1"
	"github.com/opsani/kubecore/pkg/cluster"
	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/metrics"
)

// rolloutPollInterval is the fixed polling cadence for Argo Rollouts,
// which have no native watch-based convergence signal in this module.
const rolloutPollInterval = 15 * time.Second

// baseline is the state captured before the caller's mutation runs.
type baseline struct {
	resourceVersion string
	observedGeneration int64
	desiredReplicas int32
}

// Options configures a single Observe call.
type Options struct {
	Timeout time.Duration
	Logger logr.Logger
}

func (o Options) logger() logr.Logger {
	if o.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return o.Logger
}

// Observe runs a scoped rollout observation: capture a baseline, run
// mutate (which is expected to mutate ctrl's in-memory state only),
// commit the patch, and wait for convergence.
func Observe(ctx context.Context, c client.WithWatch, ctrl cluster.Controller, opts Options, mutate func() error) error {
	base := baseline{
		resourceVersion: ctrl.ResourceVersion(),
		observedGeneration: ctrl.ObservedGeneration(),
		desiredReplicas: ctrl.Replicas(),
	}

	if err := mutate(); err != nil {
		return err
	}

	if err := ctrl.CommitPatch(ctx); err != nil {
		return err
	}

	after := ctrl.ResourceVersion()
	if after != "" && after == base.resourceVersion {
		return nil
	}

	switch ctrl.Kind() {
	case cluster.ControllerKindDeployment:
		return observeDeployment(ctx, c, ctrl, base, opts)
	case cluster.ControllerKindRollout:
		return observeRollout(ctx, c, ctrl, base, opts)
	default:
		return errs.NewConfigurationError("unknown controller kind %q", ctrl.Kind())
	}
}

// observeDeployment watches Deployments in the controller's namespace,
// filtered by label selector and starting resource version, until
// status converges, fails, or the watch times out.
func observeDeployment(ctx context.Context, c client.WithWatch, ctrl cluster.Controller, base baseline, opts Options) error {
	log := opts.logger()
	selector, err := metav1.LabelSelectorAsSelector(ctrl.LabelSelector())
	if err != nil {
		return errs.NewConfigurationError("invalid label selector: %v", err)
	}
	timeoutSeconds := int64(math.Ceil(opts.Timeout.Seconds()))

	watchCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	w, err := c.Watch(watchCtx, &appsv1.DeploymentList{}, &client.ListOptions{
		Namespace: ctrl.Namespace(),
		LabelSelector: selector,
		Raw: &metav1.ListOptions{
			ResourceVersion: base.resourceVersion,
			TimeoutSeconds: &timeoutSeconds,
		},
	})
	if err != nil {
		return errs.NewClusterAPIError("watch deployments", err)
	}
	defer w.Stop()

	for {
		select {
		case <-watchCtx.Done():
			return errs.NewAdjustmentRejected(errs.ReasonTimeout, "watch exhausted without convergence for deployment %q", ctrl.Name())
		case event, ok := <-w.ResultChan():
			if !ok {
				return errs.NewAdjustmentRejected(errs.ReasonTimeout, "watch closed without convergence for deployment %q", ctrl.Name())
			}
			dep, ok := event.Object.(*appsv1.Deployment)
			if !ok {
				continue
			}
			done, err := evaluateDeploymentEvent(ctx, ctrl, dep, base, log)
			if err != nil {
				metrics.RolloutObserverEventsTotal.WithLabelValues("Deployment", "rejected").Inc()
				return err
			}
			if done {
				metrics.RolloutObserverEventsTotal.WithLabelValues("Deployment", "converged").Inc()
				return nil
			}
			metrics.RolloutObserverEventsTotal.WithLabelValues("Deployment", "progressing").Inc()
		}
	}
}

func evaluateDeploymentEvent(ctx context.Context, ctrl cluster.Controller, dep *appsv1.Deployment, base baseline, log logr.Logger) (bool, error) {
	for _, cond := range dep.Status.Conditions {
		switch cond.Type {
		case appsv1.DeploymentAvailable:
			if cond.Status != corev1.ConditionTrue {
				log.Info("deployment not yet available", "reason", cond.Reason, "message", cond.Message)
			}
		case appsv1.DeploymentReplicaFailure:
			if cond.Status == corev1.ConditionTrue {
				return false, errs.NewAdjustmentRejected(errs.ReasonReplicaFailure, "%s", cond.Message)
			}
		case appsv1.DeploymentProgressing:
			if cond.Status == corev1.ConditionFalse {
				return false, errs.NewAdjustmentRejected(errs.ReasonProgressionFailure, "%s", cond.Message)
			}
		}
	}

	latest, err := ctrl.GetLatestPods(ctx)
	if err != nil {
		return false, err
	}
	if msg, unschedulable := unschedulableSummary(latest); unschedulable {
		return false, errs.NewAdjustmentRejected(errs.ReasonSchedulingFailed, "%s", msg)
	}

	if dep.Status.ObservedGeneration == base.observedGeneration {
		return false, nil
	}
	if dep.Status.UnavailableReplicas > 0 {
		return false, nil
	}
	if dep.Status.Replicas == base.desiredReplicas &&
		dep.Status.AvailableReplicas == base.desiredReplicas &&
		dep.Status.ReadyReplicas == base.desiredReplicas &&
		dep.Status.UpdatedReplicas == base.desiredReplicas {
		return true, nil
	}
	return false, nil
}

// observeRollout polls an Argo Rollout at a fixed 15s cadence,
// evaluating the newest status condition and blue/green convergence.
func observeRollout(ctx context.Context, c client.Client, ctrl cluster.Controller, base baseline, opts Options) error {
	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(rolloutPollInterval)
	defer ticker.Stop()

	check := func() (bool, error) {
		ro := &rolloutsv1alpha1.Rollout{}
		if err := c.Get(ctx, client.ObjectKey{Name: ctrl.Name(), Namespace: ctrl.Namespace()}, ro); err != nil {
			return false, errs.NewClusterAPIError("get rollout", err)
		}
		conds := append([]rolloutsv1alpha1.RolloutCondition(nil), ro.Status.Conditions...)
		sort.Slice(conds, func(i, j int) bool {
			return conds[j].LastUpdateTime.Before(&conds[i].LastUpdateTime)
		})
		if len(conds) > 0 {
			newest := conds[0]
			if newest.Type != rolloutsv1alpha1.RolloutConditionAvailable && newest.Type != rolloutsv1alpha1.RolloutConditionProgressing {
				reason := string(newest.Type)
				if strings.Contains(strings.ToLower(newest.Message), "exceeded quota") {
					return false, errs.NewAdjustmentRejected(errs.ReasonSchedulingFailed, "%s", newest.Message)
				}
				return false, errs.NewAdjustmentRejected(errs.Reason(reason), "%s", newest.Message)
			}
		}
		return ro.Status.BlueGreen.ActiveSelector != "" && ro.Status.BlueGreen.ActiveSelector == ro.Status.BlueGreen.PreviewSelector, nil
	}

	if ok, err := check(); err != nil {
		metrics.RolloutObserverEventsTotal.WithLabelValues("Rollout", "rejected").Inc()
		return err
	} else if ok {
		metrics.RolloutObserverEventsTotal.WithLabelValues("Rollout", "converged").Inc()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(deadline)):
			return errs.NewAdjustmentRejected(errs.ReasonTimeout, "rollout %q did not converge within %s", ctrl.Name(), opts.Timeout)
		case <-ticker.C:
			ok, err := check()
			if err != nil {
				metrics.RolloutObserverEventsTotal.WithLabelValues("Rollout", "rejected").Inc()
				return err
			}
			if ok {
				metrics.RolloutObserverEventsTotal.WithLabelValues("Rollout", "converged").Inc()
				return nil
			}
			metrics.RolloutObserverEventsTotal.WithLabelValues("Rollout", "progressing").Inc()
			if time.Now().After(deadline) {
				return errs.NewAdjustmentRejected(errs.ReasonTimeout, "rollout %q did not converge within %s", ctrl.Name(), opts.Timeout)
			}
		}
	}
}

func unschedulableSummary(pods []*cluster.Pod) (string, bool) {
	var messages []string
	for _, p := range pods {
		if msg, unschedulable := p.Unschedulable(); unschedulable {
			messages = append(messages, fmt.Sprintf("%s: %s", p.Obj.Name, msg))
		}
	}
	if len(messages) == 0 {
		return "", false
	}
	return strings.Join(messages, "; "), true
}
