package cluster

import (
	"context"
	"errors"
	"strconv"
	"time"

	retry "github.com/avast/retry-go"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/opsani/kubecore/pkg/errs"
)

// Sidecar container name and image, and the fixed ports it exposes.
const (
	SidecarContainerName = "opsani-envoy"
	SidecarImage = "opsani/envoy-proxy:latest"

	sidecarProxyPort = 9980
	sidecarMetricsPort = 9901
)

// SidecarInjectionOptions selects exactly one of Service/Port, matching
// the "exactly one of service, port must be supplied" rule. Unlike the
// original implementation's `if not service or port` guard — which,
// read literally, rejected a lone port as well as "neither" and "both",
// accepting only a lone service — the
// two booleans here are validated explicitly, preserving intent over
// literal behavior (see DESIGN.md Open Question on this point).
type SidecarInjectionOptions struct {
	Service *Service
	Port int32
	Index *int
}

func (o SidecarInjectionOptions) validate() error {
	hasService := o.Service != nil
	hasPort := o.Port != 0
	if hasService == hasPort {
		return errs.NewConfigurationError("inject_sidecar requires exactly one of service or port")
	}
	return nil
}

// resolvePort returns the container port the sidecar should proxy.
func (o SidecarInjectionOptions) resolvePort() (int32, error) {
	if o.Service != nil {
		return o.Service.TargetPort()
	}
	return o.Port, nil
}

// buildSidecarContainer constructs the fixed opsani-envoy container
// definition for the given proxied port.
func buildSidecarContainer(proxiedPort int32) corev1.Container {
	return corev1.Container{
		Name: SidecarContainerName,
		Image: SidecarImage,
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU: resource.MustParse("125m"),
				corev1.ResourceMemory: resource.MustParse("128Mi"),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU: resource.MustParse("250m"),
				corev1.ResourceMemory: resource.MustParse("256Mi"),
			},
		},
		Env: []corev1.EnvVar{
			{Name: "OPSANI_ENVOY_PROXY_SERVICE_PORT", Value: strconv.Itoa(sidecarProxyPort)},
			{Name: "OPSANI_ENVOY_PROXIED_CONTAINER_PORT", Value: strconv.Itoa(int(proxiedPort))},
			{Name: "OPSANI_ENVOY_PROXY_METRICS_PORT", Value: strconv.Itoa(sidecarMetricsPort)},
		},
	}
}

// InjectSidecar appends (or inserts at opts.Index) the fixed envoy
// sidecar container to ctrl's pod template and patches the cluster,
// retrying up to 3 times on cluster-API errors with exponential
// backoff.
func InjectSidecar(ctx context.Context, ctrl Controller, opts SidecarInjectionOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	port, err := opts.resolvePort()
	if err != nil {
		return err
	}
	container := buildSidecarContainer(port)

	tmpl := ctrl.PodTemplateSpec()
	if opts.Index != nil && *opts.Index >= 0 && *opts.Index <= len(tmpl.Spec.Containers) {
		containers := make([]corev1.Container, 0, len(tmpl.Spec.Containers)+1)
		containers = append(containers, tmpl.Spec.Containers[:*opts.Index]...)
		containers = append(containers, container)
		containers = append(containers, tmpl.Spec.Containers[*opts.Index:]...)
		tmpl.Spec.Containers = containers
	} else {
		tmpl.Spec.Containers = append(tmpl.Spec.Containers, container)
	}

	return retry.Do(
		func() error {
			err := ctrl.CommitPatch(ctx)
			if err == nil {
				return nil
			}
			var apiErr *errs.ClusterAPIError
			if !errors.As(err, &apiErr) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(3),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(250*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}

