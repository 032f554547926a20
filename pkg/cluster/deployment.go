package cluster

import (
	"context"
	"sort"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/errs"
)

// replicaSetCacheTTL bounds how long a Deployment's owned-ReplicaSet
// lookup is reused across repeated GetLatestPods/Rollback calls made
// against the same wrapper during one optimization cycle.
const replicaSetCacheTTL = 2 * time.Second

const ownedReplicaSetsCacheKey = "owned-replicasets"

// Deployment wraps a standard Kubernetes Deployment. Readiness is
// status.replicas == status.ready_replicas, both non-null.
type Deployment struct {
	*Wrapper[*appsv1.Deployment]
	rsCache *gocache.Cache
}

// ReadDeployment reads a Deployment from the cluster by name/namespace.
func ReadDeployment(ctx context.Context, c client.Client, name, namespace string) (*Deployment, error) {
	obj := &appsv1.Deployment{}
	if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, obj); err != nil {
		return nil, wrapGetError("deployment", err)
	}
	d := &Deployment{
		Wrapper: &Wrapper[*appsv1.Deployment]{Client: c, Obj: obj},
		rsCache: gocache.New(replicaSetCacheTTL, 10*replicaSetCacheTTL),
	}
	d.CaptureBaseline()
	return d, nil
}

// Kind identifies this controller variant for error messages and the
// rollout observer's watch filters.
func (d *Deployment) Kind() string { return "Deployment" }

// Replicas returns the desired replica count.
func (d *Deployment) Replicas() int32 {
	if d.Obj.Spec.Replicas == nil {
		return 1
	}
	return *d.Obj.Spec.Replicas
}

// SetReplicas sets the desired replica count in memory; Patch commits it.
func (d *Deployment) SetReplicas(n int32) {
	d.Obj.Spec.Replicas = &n
}

// PodTemplateSpec returns a pointer to the Deployment's pod template,
// used by the container view and by canary pod cloning.
func (d *Deployment) PodTemplateSpec() *corev1.PodTemplateSpec {
	return &d.Obj.Spec.Template
}

// Containers returns the pod template's containers.
func (d *Deployment) Containers() []corev1.Container {
	return d.Obj.Spec.Template.Spec.Containers
}

// ContainerByName returns a pointer to the named container in the pod
// template, or false if absent.
func (d *Deployment) ContainerByName(name string) (*corev1.Container, bool) {
	for i := range d.Obj.Spec.Template.Spec.Containers {
		if d.Obj.Spec.Template.Spec.Containers[i].Name == name {
			return &d.Obj.Spec.Template.Spec.Containers[i], true
		}
	}
	return nil, false
}

// ResourceVersion, ObservedGeneration, and Generation expose the
// baseline fields the rollout observer captures before mutation (§4.5).
func (d *Deployment) ResourceVersion() string { return d.Obj.ResourceVersion }
func (d *Deployment) ObservedGeneration() int64 { return d.Obj.Status.ObservedGeneration }
func (d *Deployment) DesiredReplicas() int32 { return d.Replicas() }
func (d *Deployment) LabelSelector() *metav1.LabelSelector {
	return d.Obj.Spec.Selector
}

// IsReady evaluates the readiness rule.
func (d *Deployment) IsReady() bool {
	return d.Obj.Status.Replicas == d.Obj.Status.ReadyReplicas
}

// CurrentPodHash is always empty for a Deployment; pod generation there
// is tracked through the owning ReplicaSet, not a stamped label.
func (d *Deployment) CurrentPodHash() string { return "" }

// Conditions returns the Deployment's status conditions.
func (d *Deployment) Conditions() []appsv1.DeploymentCondition {
	return d.Obj.Status.Conditions
}

// Rollback restores the pod template of the previous ReplicaSet (the
// second-highest revision) and commits it with a full Update. Standard
// Deployments support this (unlike Argo Rollouts, which reject it with
// UnsupportedOperation — see Rollout.Rollback).
func (d *Deployment) Rollback(ctx context.Context) error {
	rsList, err := d.ownedReplicaSets(ctx)
	if err != nil {
		return err
	}
	if len(rsList) < 2 {
		return errs.NewAdjustmentFailure("deployment %q has no prior replica set to roll back to", d.Obj.Name)
	}
	sort.Slice(rsList, func(i, j int) bool {
		return replicaSetRevision(rsList[i]) > replicaSetRevision(rsList[j])
	})
	previous := rsList[1]
	d.Obj.Spec.Template = corev1.PodTemplateSpec{
		ObjectMeta: previous.Spec.Template.ObjectMeta,
		Spec: previous.Spec.Template.Spec,
	}
	return d.Update(ctx)
}

func replicaSetRevision(rs appsv1.ReplicaSet) int64 {
	rev, _ := strconv.ParseInt(rs.Annotations["deployment.kubernetes.io/revision"], 10, 64)
	return rev
}

// ownedReplicaSets lists ReplicaSets in the Deployment's namespace owned
// by this Deployment. The underlying namespace list is memoized for
// replicaSetCacheTTL so GetLatestPods and Rollback calls issued close
// together don't each pay for a fresh List, mirroring the teacher's use
// of a short-lived lookup cache for repeat provider-side reads.
func (d *Deployment) ownedReplicaSets(ctx context.Context) ([]appsv1.ReplicaSet, error) {
	items, err := d.listReplicaSets(ctx)
	if err != nil {
		return nil, err
	}
	var owned []appsv1.ReplicaSet
	for _, rs := range items {
		if isOwnedBy(rs.OwnerReferences, d.Obj.UID) {
			owned = append(owned, rs)
		}
	}
	return owned, nil
}

func (d *Deployment) listReplicaSets(ctx context.Context) ([]appsv1.ReplicaSet, error) {
	if cached, ok := d.rsCache.Get(ownedReplicaSetsCacheKey); ok {
		return cached.([]appsv1.ReplicaSet), nil
	}
	list := &appsv1.ReplicaSetList{}
	if err := d.Client.List(ctx, list, client.InNamespace(d.Obj.Namespace)); err != nil {
		return nil, errs.NewClusterAPIError("list replicasets", err)
	}
	d.rsCache.SetDefault(ownedReplicaSetsCacheKey, list.Items)
	return list.Items, nil
}

// GetPods lists every pod selected by the Deployment's label selector.
func (d *Deployment) GetPods(ctx context.Context) ([]*Pod, error) {
	return listPodsBySelector(ctx, d.Client, d.Obj.Namespace, d.Obj.Spec.Selector)
}

// GetLatestPods returns only the pods owned by the most recently
// created owning ReplicaSet (by resource version, descending). Fails
// with *errs.AdjustmentFailure if no owning ReplicaSet is found.
func (d *Deployment) GetLatestPods(ctx context.Context) ([]*Pod, error) {
	rsList, err := d.ownedReplicaSets(ctx)
	if err != nil {
		return nil, err
	}
	if len(rsList) == 0 {
		return nil, errs.NewAdjustmentFailure("no replica set owned by deployment %q was found", d.Obj.Name)
	}
	sort.Slice(rsList, func(i, j int) bool {
		return resourceVersionLess(rsList[j].ResourceVersion, rsList[i].ResourceVersion)
	})
	newest := rsList[0]

	pods := &corev1.PodList{}
	if err := d.Client.List(ctx, pods, client.InNamespace(d.Obj.Namespace)); err != nil {
		return nil, errs.NewClusterAPIError("list pods", err)
	}
	var out []*Pod
	for i := range pods.Items {
		if isOwnedBy(pods.Items[i].OwnerReferences, newest.UID) {
			out = append(out, WrapPod(d.Client, &pods.Items[i]))
		}
	}
	return out, nil
}

// GetRestartCount sums the restart count across every pod currently
// selected by the Deployment.
func (d *Deployment) GetRestartCount(ctx context.Context) (int32, error) {
	pods, err := d.GetPods(ctx)
	if err != nil {
		return 0, err
	}
	var total int32
	for _, p := range pods {
		total += p.RestartCount()
	}
	return total, nil
}

func isOwnedBy(refs []metav1.OwnerReference, uid types.UID) bool {
	for _, ref := range refs {
		if ref.UID == uid {
			return true
		}
	}
	return false
}

func resourceVersionLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

func listPodsBySelector(ctx context.Context, c client.Client, namespace string, selector *metav1.LabelSelector) ([]*Pod, error) {
	if selector == nil {
		return nil, nil
	}
	sel, err := metav1.LabelSelectorAsSelector(selector)
	if err != nil {
		return nil, errs.NewConfigurationError("invalid label selector: %v", err)
	}
	pods := &corev1.PodList{}
	if err := c.List(ctx, pods, client.InNamespace(namespace), client.MatchingLabelsSelector{Selector: sel}); err != nil {
		return nil, errs.NewClusterAPIError("list pods", err)
	}
	out := make([]*Pod, 0, len(pods.Items))
	for i := range pods.Items {
		out = append(out, WrapPod(c, &pods.Items[i]))
	}
	return out, nil
}
