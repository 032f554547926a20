package cluster

import (
	"context"
	"testing"

	authv1 "k8s.io/api/authorization/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

func TestRequiredPermissionsCoversSpecTable(t *testing.T) {
	checks := RequiredPermissions("default")
	want := map[string]bool{
		"apps/deployments/get":     false,
		"apps/replicasets/watch":   false,
		"/namespaces/list":         false,
		"/pods/create":             false,
		"/pods/status/get":         false,
	}
	for _, c := range checks {
		key := c.Group + "/" + c.Resource + "/" + c.Verb
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for key, found := range want {
		if !found {
			t.Errorf("expected required permission %q to be present", key)
		}
	}
}

// TestCheckPermissionsReportsDeniedRules fakes an apiserver that allows
// every "get" review and denies everything else, and confirms
// CheckPermissions reports exactly the denied ones back to the caller.
func TestCheckPermissionsReportsDeniedRules(t *testing.T) {
	scheme := newTestScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithInterceptorFuncs(interceptor.Funcs{
		Create: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			review, ok := obj.(*authv1.SelfSubjectAccessReview)
			if !ok {
				return cl.Create(ctx, obj, opts...)
			}
			review.Status.Allowed = review.Spec.ResourceAttributes.Verb == "get"
			return nil
		},
	}).Build()

	checks := []PermissionCheck{
		{Group: "apps", Resource: "deployments", Verb: "get"},
		{Group: "apps", Resource: "deployments", Verb: "patch"},
		{Group: "", Resource: "pods", Verb: "create"},
	}
	denied, err := CheckPermissions(context.Background(), c, "default", checks)
	if err != nil {
		t.Fatalf("CheckPermissions: %v", err)
	}
	if len(denied) != 2 {
		t.Fatalf("expected 2 denied checks, got %d: %+v", len(denied), denied)
	}
	for _, d := range denied {
		if d.Verb == "get" {
			t.Fatalf("did not expect the allowed \"get\" check to be reported denied")
		}
	}
}
