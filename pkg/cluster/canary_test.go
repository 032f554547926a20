package cluster

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/opsani/kubecore/pkg/agentidentity"
)

// markPodsReady stands in for the kubelet: every Pod read through the
// fake client comes back with a Ready=True condition, so a canary
// created by EnsureCanaryPod passes its readiness wait.
func markPodsReady(ctx context.Context, cl client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
	if err := cl.Get(ctx, key, obj, opts...); err != nil {
		return err
	}
	if pod, ok := obj.(*corev1.Pod); ok {
		pod.Status.Conditions = append(pod.Status.Conditions, corev1.PodCondition{Type: corev1.PodReady, Status: corev1.ConditionTrue})
	}
	return nil
}

func TestBuildCanaryPodLabelsAndAnnotations(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 2, 2)
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	ctrl := NewController(d)
	pod := BuildCanaryPod(ctrl, agentidentity.Identity{}, "", "", "")

	if pod.Name != "web-canary" {
		t.Fatalf("expected canary name web-canary, got %s", pod.Name)
	}
	if pod.Labels[LabelRole] != LabelRoleValue {
		t.Fatalf("expected tuning role label")
	}
	if pod.Annotations[AnnotationTuningFor] != "web" {
		t.Fatalf("expected tuning-for annotation to name the controller")
	}
	if len(pod.OwnerReferences) != 0 {
		t.Fatalf("expected no owner reference when agent is not in-cluster")
	}
}

func TestBuildCanaryPodOwnerReferenceWhenInCluster(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 2, 2)
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	ctrl := NewController(d)
	identity := agentidentity.Identity{InCluster: true, PodName: "agent", Namespace: "default"}
	pod := BuildCanaryPod(ctrl, identity, "agent-deployment", "agent-uid", "")

	if len(pod.OwnerReferences) != 1 {
		t.Fatalf("expected one owner reference, got %d", len(pod.OwnerReferences))
	}
	if pod.OwnerReferences[0].Name != "agent-deployment" {
		t.Fatalf("expected owner reference to name the agent's owning deployment")
	}
}

func TestEnsureCanaryPodReturnsExisting(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 2, 2)
	existing := &corev1.Pod{}
	existing.Name = "web-canary"
	existing.Namespace = "default"
	existing.Labels = map[string]string{LabelRole: LabelRoleValue}
	existing.Annotations = map[string]string{AnnotationTuningFor: "web"}
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep, existing).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	ctrl := NewController(d)
	canary, err := EnsureCanaryPod(context.Background(), c, ctrl, agentidentity.Identity{}, "", "", "", 0)
	if err != nil {
		t.Fatalf("EnsureCanaryPod: %v", err)
	}
	if canary.Obj.Name != "web-canary" {
		t.Fatalf("expected existing canary to be returned")
	}
}

// TestEnsureCanaryPodFallsBackOnNameCollision confirms that a pod
// already occupying the deterministic canary name, but not carrying
// this module's tuning labels, is treated as an unrelated collision
// rather than adopted — EnsureCanaryPod must create a fresh,
// uuid-suffixed canary instead.
func TestEnsureCanaryPodFallsBackOnNameCollision(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 2, 2)
	foreign := &corev1.Pod{}
	foreign.Name = "web-canary"
	foreign.Namespace = "default"
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep, foreign).WithInterceptorFuncs(interceptor.Funcs{Get: markPodsReady}).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	ctrl := NewController(d)
	canary, err := EnsureCanaryPod(context.Background(), c, ctrl, agentidentity.Identity{}, "", "", "", 0)
	if err != nil {
		t.Fatalf("EnsureCanaryPod: %v", err)
	}
	if canary.Obj.Name == "web-canary" {
		t.Fatalf("expected a collision-safe suffixed name, got the foreign pod's name back")
	}
	if canary.Obj.Labels[LabelRole] != LabelRoleValue {
		t.Fatalf("expected the newly created canary to carry the tuning role label")
	}
}

func TestDeleteCanaryPodNotFoundIsSuccess(t *testing.T) {
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).Build()
	if err := DeleteCanaryPod(context.Background(), c, "web", "default"); err != nil {
		t.Fatalf("expected delete of missing canary to succeed, got %v", err)
	}
}

func TestResolveAgentOwnerNotInCluster(t *testing.T) {
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).Build()
	name, uid, err := ResolveAgentOwner(context.Background(), c, agentidentity.Identity{})
	if err != nil {
		t.Fatalf("ResolveAgentOwner: %v", err)
	}
	if name != "" || uid != "" {
		t.Fatalf("expected empty owner when identity is not in-cluster, got %q/%q", name, uid)
	}
}

func TestResolveAgentOwnerWalksToDeployment(t *testing.T) {
	deploy := newDeploymentFixture("agent-deployment", "default", 1, 1)
	deploy.UID = "deploy-uid"
	rs := &appsv1.ReplicaSet{}
	rs.Name = "agent-rs"
	rs.Namespace = "default"
	rs.OwnerReferences = []metav1.OwnerReference{{Kind: "Deployment", Name: deploy.Name, UID: deploy.UID}}
	pod := &corev1.Pod{}
	pod.Name = "agent"
	pod.Namespace = "default"
	pod.OwnerReferences = []metav1.OwnerReference{{Kind: "ReplicaSet", Name: rs.Name, UID: rs.UID}}

	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(deploy, rs, pod).Build()
	identity := agentidentity.Identity{InCluster: true, PodName: "agent", Namespace: "default"}

	name, uid, err := ResolveAgentOwner(context.Background(), c, identity)
	if err != nil {
		t.Fatalf("ResolveAgentOwner: %v", err)
	}
	if name != "agent-deployment" {
		t.Fatalf("expected owner name agent-deployment, got %q", name)
	}
	if uid != "deploy-uid" {
		t.Fatalf("expected owner uid deploy-uid, got %q", uid)
	}
}

func TestResolveAgentOwnerMissingOwnerChain(t *testing.T) {
	pod := &corev1.Pod{}
	pod.Name = "agent"
	pod.Namespace = "default"

	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(pod).Build()
	identity := agentidentity.Identity{InCluster: true, PodName: "agent", Namespace: "default"}

	name, uid, err := ResolveAgentOwner(context.Background(), c, identity)
	if err != nil {
		t.Fatalf("ResolveAgentOwner: %v", err)
	}
	if name != "" || uid != "" {
		t.Fatalf("expected empty owner when pod has no ReplicaSet owner, got %q/%q", name, uid)
	}
}
