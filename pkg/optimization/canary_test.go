package optimization

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apiresource "k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/opsani/kubecore/pkg/agentidentity"
	"github.com/opsani/kubecore/pkg/cluster"
	"github.com/opsani/kubecore/pkg/config"
	"github.com/opsani/kubecore/pkg/resource"
)

// markPodsReady stands in for the kubelet: every Pod read through the
// fake client comes back with a Ready=True condition, so the canary pod
// created by CreateCanaryOptimization passes its readiness wait.
func markPodsReady(ctx context.Context, cl client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
	if err := cl.Get(ctx, key, obj, opts...); err != nil {
		return err
	}
	if pod, ok := obj.(*corev1.Pod); ok {
		pod.Status.Conditions = append(pod.Status.Conditions, corev1.PodCondition{Type: corev1.PodReady, Status: corev1.ConditionTrue})
	}
	return nil
}

func newCanaryScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		t.Fatalf("add scheme: %v", err)
	}
	return scheme
}

func newCanaryDeployment() *appsv1.Deployment {
	replicas := int32(2)
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "web"}},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{"app": "web"}},
				Spec: corev1.PodSpec{Containers: []corev1.Container{{
					Name:  "main",
					Image: "img:v1",
					Resources: corev1.ResourceRequirements{
						Requests: corev1.ResourceList{corev1.ResourceCPU: apiresource.MustParse("250m")},
						Limits:   corev1.ResourceList{corev1.ResourceCPU: apiresource.MustParse("250m")},
					},
				}}},
			},
		},
		Status: appsv1.DeploymentStatus{Replicas: replicas, ReadyReplicas: replicas},
	}
}

func canaryConfig() config.ControllerConfig {
	return config.ControllerConfig{
		Name:          "web",
		Kind:          "Deployment",
		ContainerName: "main",
		Strategy:      config.StrategyCanary,
		Settings: []config.SettingConfig{
			{Name: "cpu", Kind: resource.KindCPU, Min: 0.1, Max: 2, Step: 0.1, Requirements: resource.Compute},
			{Name: "replicas", Kind: resource.KindReplicas, Min: 1, Max: 1},
		},
	}
}

func TestCreateCanaryOptimizationEnsuresCanaryPod(t *testing.T) {
	dep := newCanaryDeployment()
	scheme := newCanaryScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).WithInterceptorFuncs(interceptor.Funcs{Get: markPodsReady}).Build()

	opt, err := CreateCanaryOptimization(context.Background(), c, canaryConfig(), "default", agentidentity.Identity{}, time.Second, logr.Discard())
	if err != nil {
		t.Fatalf("CreateCanaryOptimization: %v", err)
	}

	canary, err := cluster.ReadPod(context.Background(), c, cluster.CanaryName("web"), "default")
	if err != nil {
		t.Fatalf("expected canary pod to exist, got %v", err)
	}
	if canary.Obj.Name != "web-canary" {
		t.Fatalf("unexpected canary pod name %q", canary.Obj.Name)
	}

	for _, s := range opt.ToComponents()[0].Settings {
		if s.Kind == resource.KindReplicas && s.Value != 1 {
			t.Fatalf("expected canary replicas setting pinned to 1, got %v", s.Value)
		}
	}
}

func TestCanaryOptimizationAdjustIgnoresReplicas(t *testing.T) {
	dep := newCanaryDeployment()
	scheme := newCanaryScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).WithInterceptorFuncs(interceptor.Funcs{Get: markPodsReady}).Build()

	opt, err := CreateCanaryOptimization(context.Background(), c, canaryConfig(), "default", agentidentity.Identity{}, time.Second, logr.Discard())
	if err != nil {
		t.Fatalf("CreateCanaryOptimization: %v", err)
	}
	if err := opt.Adjust("replicas", 5); err != nil {
		t.Fatalf("expected replicas adjustment to be silently ignored, got error %v", err)
	}
	for _, s := range opt.ToComponents()[0].Settings {
		if s.Kind == resource.KindReplicas && s.Value != 1 {
			t.Fatalf("expected replicas to remain pinned at 1, got %v", s.Value)
		}
	}
}

func TestCanaryOptimizationDestroyRecreatesBaselinePod(t *testing.T) {
	dep := newCanaryDeployment()
	scheme := newCanaryScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(dep).WithInterceptorFuncs(interceptor.Funcs{Get: markPodsReady}).Build()

	opt, err := CreateCanaryOptimization(context.Background(), c, canaryConfig(), "default", agentidentity.Identity{}, time.Second, logr.Discard())
	if err != nil {
		t.Fatalf("CreateCanaryOptimization: %v", err)
	}

	existing, err := cluster.ReadPod(context.Background(), c, cluster.CanaryName("web"), "default")
	if err != nil {
		t.Fatalf("ReadPod: %v", err)
	}
	existing.Obj.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}
	if err := c.Status().Update(context.Background(), existing.Obj); err != nil {
		t.Fatalf("seed ready status: %v", err)
	}

	if err := opt.Destroy(context.Background(), nil); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	recreated, err := cluster.ReadPod(context.Background(), c, cluster.CanaryName("web"), "default")
	if err != nil {
		t.Fatalf("expected a fresh baseline canary pod after Destroy, got %v", err)
	}
	if recreated.Obj.Spec.Containers[0].Image != "img:v1" {
		t.Fatalf("expected the recreated canary to carry the target's current image")
	}
}
