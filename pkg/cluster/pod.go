package cluster

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/errs"
)

// Pod wraps a Kubernetes Pod. Readiness refreshes the pod, then
// requires a condition with type==Ready, status==True. A condition
// with reason==Unschedulable fails readiness at any time with reason
// scheduling-failed, regardless of any other condition's state.
type Pod struct {
	*Wrapper[*corev1.Pod]
}

// ReadPod reads a Pod from the cluster by name/namespace.
func ReadPod(ctx context.Context, c client.Client, name, namespace string) (*Pod, error) {
	obj := &corev1.Pod{}
	if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, obj); err != nil {
		return nil, wrapGetError("pod", err)
	}
	p := &Pod{&Wrapper[*corev1.Pod]{Client: c, Obj: obj}}
	p.CaptureBaseline()
	return p, nil
}

// WrapPod binds a wrapper to an already-fetched Pod object, used when a
// caller already has the object from a List call.
func WrapPod(c client.Client, obj *corev1.Pod) *Pod {
	p := &Pod{&Wrapper[*corev1.Pod]{Client: c, Obj: obj}}
	p.CaptureBaseline()
	return p
}

// Unschedulable reports the Unschedulable condition's message, if the
// pod currently carries one.
func (p *Pod) Unschedulable() (message string, unschedulable bool) {
	for _, cond := range p.Obj.Status.Conditions {
		if cond.Reason == "Unschedulable" {
			return cond.Message, true
		}
	}
	return "", false
}

// IsReady refreshes the pod and evaluates its readiness rule. Returns a
// *errs.AdjustmentRejected with ReasonSchedulingFailed if an
// Unschedulable condition is present.
func (p *Pod) IsReady(ctx context.Context) (bool, error) {
	deleted, err := p.Refresh(ctx)
	if err != nil {
		return false, err
	}
	if deleted {
		return false, nil
	}
	if msg, unschedulable := p.Unschedulable(); unschedulable {
		return false, errs.NewAdjustmentRejected(errs.ReasonSchedulingFailed, "pod %s/%s is unschedulable: %s", p.Obj.Namespace, p.Obj.Name, msg)
	}
	for _, cond := range p.Obj.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true, nil
		}
	}
	return false, nil
}

// RestartCount sums the restart counts of every container status on
// this pod's most recently observed status.
func (p *Pod) RestartCount() int32 {
	var total int32
	for _, status := range p.Obj.Status.ContainerStatuses {
		total += status.RestartCount
	}
	return total
}

// ContainerRestartCount returns the restart count for a single named
// container, or an error if the container has no status yet (it hasn't
// started).
func (p *Pod) ContainerRestartCount(name string) (int32, error) {
	for _, status := range p.Obj.Status.ContainerStatuses {
		if status.Name == name {
			return status.RestartCount, nil
		}
	}
	return 0, errs.NewAdjustmentFailure("unable to determine container status for %q", name)
}
