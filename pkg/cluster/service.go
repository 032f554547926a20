package cluster

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/errs"
)

// Service wraps a Kubernetes Service. Readiness requires the endpoints
// list to be non-empty, every subset to have at least one address, and
// no subset to have any not-ready addresses.
type Service struct {
	*Wrapper[*corev1.Service]
}

// ReadService reads a Service from the cluster by name/namespace.
func ReadService(ctx context.Context, c client.Client, name, namespace string) (*Service, error) {
	obj := &corev1.Service{}
	if err := c.Get(ctx, client.ObjectKey{Name: name, Namespace: namespace}, obj); err != nil {
		return nil, wrapGetError("service", err)
	}
	s := &Service{&Wrapper[*corev1.Service]{Client: c, Obj: obj}}
	s.CaptureBaseline()
	return s, nil
}

// Endpoints lists the Endpoints object backing this Service.
func (s *Service) Endpoints(ctx context.Context) (*corev1.Endpoints, error) {
	ep := &corev1.Endpoints{}
	if err := s.Client.Get(ctx, client.ObjectKey{Name: s.Obj.Name, Namespace: s.Obj.Namespace}, ep); err != nil {
		return nil, errs.NewClusterAPIError("get endpoints", err)
	}
	return ep, nil
}

// IsReady evaluates the endpoints readiness rule.
func (s *Service) IsReady(ctx context.Context) (bool, error) {
	ep, err := s.Endpoints(ctx)
	if err != nil {
		return false, err
	}
	if len(ep.Subsets) == 0 {
		return false, nil
	}
	for _, subset := range ep.Subsets {
		if len(subset.Addresses) == 0 {
			return false, nil
		}
		if len(subset.NotReadyAddresses) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// TargetPort resolves the Service's first target port, used by
// inject_sidecar when called with service= instead of port=.
func (s *Service) TargetPort() (int32, error) {
	if len(s.Obj.Spec.Ports) == 0 {
		return 0, errs.NewConfigurationError("service %q has no ports to resolve a target port from", s.Obj.Name)
	}
	port := s.Obj.Spec.Ports[0]
	if port.TargetPort.IntValue() != 0 {
		return int32(port.TargetPort.IntValue()), nil
	}
	return port.Port, nil
}
