package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/agentidentity"
	"github.com/opsani/kubecore/pkg/errs"
)

// Canary annotation and label keys.
const (
	AnnotationTuningFor = "opsani.com/opsani_tuning_for"
	LabelRole = "opsani_role"
	LabelRoleValue = "tuning"
	LabelRolloutsHash = "rollouts-pod-template-hash"
)

// DefaultCanaryReadyTimeout is the default wait for a canary pod to
// become ready after creation.
const DefaultCanaryReadyTimeout = 600 * time.Second

// CanaryName derives the canary pod's name from its target controller.
func CanaryName(controllerName string) string {
	return fmt.Sprintf("%s-canary", controllerName)
}

// ResolveAgentOwner walks the agent's own Pod (named by identity) up to
// its owning Deployment, so canary pods can carry an owner reference to
// that Deployment and be garbage-collected with it. The walk follows the
// standard two-hop Kubernetes ownership chain: Pod -> ReplicaSet ->
// Deployment. Returns ("", "", nil) if identity is not in-cluster.
func ResolveAgentOwner(ctx context.Context, c client.Client, identity agentidentity.Identity) (name, uid string, err error) {
	if !identity.InCluster {
		return "", "", nil
	}
	pod := &corev1.Pod{}
	if err := c.Get(ctx, client.ObjectKey{Name: identity.PodName, Namespace: identity.Namespace}, pod); err != nil {
		return "", "", errs.NewClusterAPIError("get agent pod", err)
	}
	rsRef := findOwnerRef(pod.OwnerReferences, "ReplicaSet")
	if rsRef == nil {
		return "", "", nil
	}
	rs := &appsv1.ReplicaSet{}
	if err := c.Get(ctx, client.ObjectKey{Name: rsRef.Name, Namespace: identity.Namespace}, rs); err != nil {
		return "", "", errs.NewClusterAPIError("get agent replica set", err)
	}
	deployRef := findOwnerRef(rs.OwnerReferences, "Deployment")
	if deployRef == nil {
		return "", "", nil
	}
	return deployRef.Name, string(deployRef.UID), nil
}

func findOwnerRef(refs []metav1.OwnerReference, kind string) *metav1.OwnerReference {
	for i := range refs {
		if refs[i].Kind == kind {
			return &refs[i]
		}
	}
	return nil
}

// BuildCanaryPod clones a controller's pod template into a standalone
// canary Pod object, applying the annotations, labels, and (when the
// agent runs in-cluster) owner reference this module requires. ownerName
// and ownerUID identify the agent's own owning Deployment (resolved once
// via ResolveAgentOwner), so the canary is garbage-collected along with
// the agent; currentPodHash comes from the target controller and is
// only set for Rollout targets.
func BuildCanaryPod(ctrl Controller, identity agentidentity.Identity, ownerName, ownerUID string, currentPodHash string) *corev1.Pod {
	name := ctrl.Name()
	namespace := ctrl.Namespace()
	tmpl := ctrl.PodTemplateSpec()

	labels := map[string]string{}
	for k, v := range tmpl.Labels {
		labels[k] = v
	}
	labels[LabelRole] = LabelRoleValue
	if currentPodHash != "" {
		labels[LabelRolloutsHash] = currentPodHash
	}

	annotations := map[string]string{}
	for k, v := range tmpl.Annotations {
		annotations[k] = v
	}
	annotations[AnnotationTuningFor] = name

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: CanaryName(name),
			Namespace: namespace,
			Labels: labels,
			Annotations: annotations,
		},
		Spec: *tmpl.Spec.DeepCopy(),
	}
	if identity.InCluster && ownerUID != "" {
		pod.OwnerReferences = []metav1.OwnerReference{
			{
				APIVersion: "apps/v1",
				Kind: "Deployment",
				Name: ownerName,
				UID: types.UID(ownerUID),
			},
		}
	}
	return pod
}

// isOwnedCanary reports whether pod is a canary this module created for
// controllerName, as opposed to an unrelated pod that happens to occupy
// the deterministic canary name.
func isOwnedCanary(pod *corev1.Pod, controllerName string) bool {
	return pod.Labels[LabelRole] == LabelRoleValue && pod.Annotations[AnnotationTuningFor] == controllerName
}

// EnsureCanaryPod returns the existing canary pod if present, otherwise
// clones the target's pod template, creates it, and waits for
// readiness. If the deterministic canary name is already occupied by a
// pod this module did not create, a uuid-suffixed name is used instead
// of adopting the foreign pod.
func EnsureCanaryPod(ctx context.Context, c client.Client, ctrl Controller, identity agentidentity.Identity, ownerName, ownerUID, currentPodHash string, readyTimeout time.Duration) (*Pod, error) {
	name := ctrl.Name()
	namespace := ctrl.Namespace()
	canaryName := CanaryName(name)

	canary, err := ReadPod(ctx, c, canaryName, namespace)
	switch {
	case err == nil:
		if isOwnedCanary(canary.Obj, name) {
			return canary, nil
		}
		canaryName = fmt.Sprintf("%s-%s", canaryName, uuid.New().String()[:8])
	case !apierrors.IsNotFound(err):
		return nil, err
	}

	pod := BuildCanaryPod(ctrl, identity, ownerName, ownerUID, currentPodHash)
	pod.Name = canaryName
	if err := c.Create(ctx, pod); err != nil {
		return nil, errs.NewClusterAPIError("create canary pod", err)
	}
	canary = WrapPod(c, pod)

	if readyTimeout <= 0 {
		readyTimeout = DefaultCanaryReadyTimeout
	}
	if err := canary.WaitUntilReady(ctx, readyTimeout, func(ctx context.Context) (bool, error) {
		return canary.IsReady(ctx)
	}, nil); err != nil {
		return nil, errs.NewAdjustmentFailure("canary pod %q did not become ready: %v", canary.Obj.Name, err)
	}
	return canary, nil
}

// DeleteCanaryPod deletes the canary pod for the given controller. A
// 404 response is treated as success.
func DeleteCanaryPod(ctx context.Context, c client.Client, controllerName, namespace string) error {
	canary, err := ReadPod(ctx, c, CanaryName(controllerName), namespace)
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}
	return canary.Delete(ctx)
}
