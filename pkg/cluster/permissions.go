package cluster

import (
	"context"

	authv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/errs"
)

// PermissionCheck names a single RBAC capability the control core
// requires at startup.
type PermissionCheck struct {
	Group string
	Resource string
	Verb string
}

// RequiredPermissions enumerates the RBAC rules this module requires. It is
// exported so the orchestrator can run the self-check once at startup
// and report missing grants instead of discovering them one cluster
// call at a time.
func RequiredPermissions(namespace string) []PermissionCheck {
	var checks []PermissionCheck
	for _, resource := range []string{"deployments", "replicasets"} {
		for _, verb := range []string{"get", "list", "watch", "update", "patch"} {
			checks = append(checks, PermissionCheck{Group: "apps", Resource: resource, Verb: verb})
		}
	}
	for _, verb := range []string{"get", "list"} {
		checks = append(checks, PermissionCheck{Group: "", Resource: "namespaces", Verb: verb})
	}
	for _, resource := range []string{"pods", "pods/log", "pods/status"} {
		for _, verb := range []string{"create", "delete", "get", "list", "watch"} {
			checks = append(checks, PermissionCheck{Group: "", Resource: resource, Verb: verb})
		}
	}
	return checks
}

// CheckPermissions submits one SelfSubjectAccessReview per required
// rule and reports any rule the service account is not allowed. A
// partial failure is not itself fatal to callers; it surfaces findings
// so the caller can decide whether to proceed or fail fast.
func CheckPermissions(ctx context.Context, c client.Client, namespace string, checks []PermissionCheck) ([]PermissionCheck, error) {
	var denied []PermissionCheck
	for _, check := range checks {
		review := &authv1.SelfSubjectAccessReview{
			ObjectMeta: metav1.ObjectMeta{GenerateName: "kubecore-permcheck-"},
			Spec: authv1.SelfSubjectAccessReviewSpec{
				ResourceAttributes: &authv1.ResourceAttributes{
					Namespace: namespace,
					Group: check.Group,
					Resource: check.Resource,
					Verb: check.Verb,
				},
			},
		}
		if err := c.Create(ctx, review); err != nil {
			return denied, errs.NewClusterAPIError("create selfsubjectaccessreview", err)
		}
		if !review.Status.Allowed {
			denied = append(denied, check)
		}
	}
	return denied, nil
}
