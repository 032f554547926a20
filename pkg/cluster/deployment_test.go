package cluster

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newDeploymentFixture(name, namespace string, replicas, ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, UID: types.UID(name + "-uid")},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": name}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": name}},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "main", Image: "img:v1"}},
				},
			},
		},
		Status: appsv1.DeploymentStatus{Replicas: replicas, ReadyReplicas: ready},
	}
}

func TestDeploymentIsReady(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 3, 3)
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	if !d.IsReady() {
		t.Fatalf("expected deployment to be ready")
	}
}

func TestDeploymentNotReady(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 3, 1)
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	if d.IsReady() {
		t.Fatalf("expected deployment to not be ready")
	}
}

func TestDeploymentGetPods(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 1, 1)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "web-abc", Namespace: "default", Labels: map[string]string{"app": "web"}},
	}
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep, pod).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	pods, err := d.GetPods(context.Background())
	if err != nil {
		t.Fatalf("GetPods: %v", err)
	}
	if len(pods) != 1 {
		t.Fatalf("expected 1 pod, got %d", len(pods))
	}
}

func TestDeploymentGetLatestPodsNoReplicaSet(t *testing.T) {
	dep := newDeploymentFixture("web", "default", 1, 1)
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).Build()
	d, err := ReadDeployment(context.Background(), c, "web", "default")
	if err != nil {
		t.Fatalf("ReadDeployment: %v", err)
	}
	if _, err := d.GetLatestPods(context.Background()); err == nil {
		t.Fatalf("expected error when no owning replica set exists")
	}
}
