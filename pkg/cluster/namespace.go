package cluster

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Namespace wraps a Kubernetes Namespace. Readiness is
// status.phase == "Active".
type Namespace struct {
	*Wrapper[*corev1.Namespace]
}

// ReadNamespace reads a Namespace from the cluster by name.
func ReadNamespace(ctx context.Context, c client.Client, name string) (*Namespace, error) {
	obj := &corev1.Namespace{}
	if err := c.Get(ctx, client.ObjectKey{Name: name}, obj); err != nil {
		return nil, wrapGetError("namespace", err)
	}
	n := &Namespace{&Wrapper[*corev1.Namespace]{Client: c, Obj: obj}}
	n.CaptureBaseline()
	return n, nil
}

// IsReady reports whether the namespace is Active.
func (n *Namespace) IsReady() bool {
	return n.Obj.Status.Phase == corev1.NamespaceActive
}
