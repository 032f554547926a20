package cluster

import (
	"context"
	"sort"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	rolloutsv1alpha1 "github.com/opsani/kubecore/api/rollouts/v1alpha1"
	"github.com/opsani/kubecore/pkg/errs"
)

// Rollout wraps an Argo Rollout. Readiness follows the
// same replicas == ready_replicas rule as Deployment, plus (for
// blue/green rollouts) convergence of the active and preview selectors.
type Rollout struct {
	*Wrapper[*rolloutsv1alpha1.Rollout]
}

// ReadRollout reads a Rollout from the cluster by name/namespace.
func ReadRollout(ctx context.Context, c client.Client, name, namespace string) (*Rollout, error) {
	obj := &rolloutsv1alpha1.Rollout{}
	if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, obj); err != nil {
		return nil, wrapGetError("rollout", err)
	}
	r := &Rollout{&Wrapper[*rolloutsv1alpha1.Rollout]{Client: c, Obj: obj}}
	r.CaptureBaseline()
	return r, nil
}

func (r *Rollout) Kind() string { return "Rollout" }

func (r *Rollout) Replicas() int32 {
	return r.Obj.Spec.Replicas
}

func (r *Rollout) SetReplicas(n int32) {
	r.Obj.Spec.Replicas = n
}

func (r *Rollout) PodTemplateSpec() *corev1.PodTemplateSpec {
	return &r.Obj.Spec.Template
}

func (r *Rollout) Containers() []corev1.Container {
	return r.Obj.Spec.Template.Spec.Containers
}

func (r *Rollout) ContainerByName(name string) (*corev1.Container, bool) {
	for i := range r.Obj.Spec.Template.Spec.Containers {
		if r.Obj.Spec.Template.Spec.Containers[i].Name == name {
			return &r.Obj.Spec.Template.Spec.Containers[i], true
		}
	}
	return nil, false
}

func (r *Rollout) ResourceVersion() string { return r.Obj.ResourceVersion }
func (r *Rollout) ObservedGeneration() int64 { return r.Obj.Status.ObservedGeneration }
func (r *Rollout) DesiredReplicas() int32 { return r.Replicas() }
func (r *Rollout) LabelSelector() *metav1.LabelSelector {
	return r.Obj.Spec.Selector
}

// IsReady evaluates the replica readiness rule and, when the rollout
// carries a blue/green status block, also requires the active and
// preview selectors to have converged.
func (r *Rollout) IsReady() bool {
	if r.Obj.Status.Replicas != r.Obj.Status.ReadyReplicas {
		return false
	}
	bg := r.Obj.Status.BlueGreen
	if bg.ActiveSelector == "" && bg.PreviewSelector == "" {
		return true
	}
	return bg.ActiveSelector != "" && bg.ActiveSelector == bg.PreviewSelector
}

// Conditions returns the Rollout's status conditions, sorted by
// LastUpdateTime so the observer can evaluate the most recent one
// first.
func (r *Rollout) Conditions() []rolloutsv1alpha1.RolloutCondition {
	conds := append([]rolloutsv1alpha1.RolloutCondition(nil), r.Obj.Status.Conditions...)
	sort.Slice(conds, func(i, j int) bool {
		return conds[j].LastUpdateTime.Before(&conds[i].LastUpdateTime)
	})
	return conds
}

// CurrentPodHash returns the current generation's pod template hash,
// used to label canary pods that should match the active rollout
// generation.
func (r *Rollout) CurrentPodHash() string { return r.Obj.Status.CurrentPodHash }

// Rollback is not supported for Argo Rollouts: there is no native
// rollback verb, only a forward-only update. Under the rollback failure
// mode, the optimization's failure handler logs this error and returns
// the original cause; no other recovery is attempted.
func (r *Rollout) Rollback(ctx context.Context) error {
	return errs.NewUnsupportedOperation("rollback", "Rollout")
}

// GetPods lists every pod selected by the Rollout's label selector.
func (r *Rollout) GetPods(ctx context.Context) ([]*Pod, error) {
	return listPodsBySelector(ctx, r.Client, r.Obj.Namespace, r.Obj.Spec.Selector)
}

// GetLatestPods returns only the pods carrying the current pod
// template hash, per Argo Rollouts variant (there is no
// ReplicaSet-ownership indirection to walk; the controller stamps
// rollouts-pod-template-hash directly on each pod it owns).
func (r *Rollout) GetLatestPods(ctx context.Context) ([]*Pod, error) {
	hash := r.Obj.Status.CurrentPodHash
	if hash == "" {
		return nil, errs.NewAdjustmentFailure("rollout %q has no current pod template hash yet", r.Obj.Name)
	}
	pods, err := r.GetPods(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Pod
	for _, p := range pods {
		if p.Obj.Labels["rollouts-pod-template-hash"] == hash {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetRestartCount sums the restart count across every pod currently
// selected by the Rollout.
func (r *Rollout) GetRestartCount(ctx context.Context) (int32, error) {
	pods, err := r.GetPods(ctx)
	if err != nil {
		return 0, err
	}
	var total int32
	for _, p := range pods {
		total += p.RestartCount()
	}
	return total, nil
}

// SchedulingFailureCondition reports whether the most recent condition
// indicates the rollout could not schedule its replica set, mapped to a
// scheduling-failed rejection by the caller.
func (r *Rollout) SchedulingFailureCondition() (message string, failed bool) {
	conds := r.Conditions()
	if len(conds) == 0 {
		return "", false
	}
	latest := conds[0]
	if latest.Reason == "ReplicaSetCreateError" || latest.Type == rolloutsv1alpha1.RolloutConditionType("ReplicaFailure") {
		return latest.Message, true
	}
	return "", false
}
