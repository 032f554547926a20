package cluster

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/waiter"
)

// ControllerKind names which concrete wrapper a Controller dispatches
// to, so the rollout observer can pick the right watch strategy: native
// watch for Deployment, fixed-interval polling for Rollout.
type ControllerKind string

const (
	ControllerKindDeployment ControllerKind = "Deployment"
	ControllerKindRollout ControllerKind = "Rollout"
)

// Controller is the capability set the module requires of a workload
// controller regardless of whether it is backed by a native Deployment
// or an Argo Rollout: the common subset of fields the orchestrator and
// observer need, plus the operations that diverge per kind (Rollback is
// a no-op error on Rollout; GetLatestPods differs in strategy).
//
// Both deploymentController and rolloutController satisfy this purely
// through method promotion from their embedded *Deployment/*Rollout
// (and, beneath those, *Wrapper[T]) — only Kind needs an explicit
// override, since the generic wrapper has no notion of it.
type Controller interface {
	Kind() ControllerKind
	Name() string
	Namespace() string
	Replicas() int32
	SetReplicas(n int32)
	PodTemplateSpec() *corev1.PodTemplateSpec
	Containers() []corev1.Container
	ContainerByName(name string) (*corev1.Container, bool)
	LabelSelector() *metav1.LabelSelector
	ObservedGeneration() int64
	ResourceVersion() string
	IsReady() bool
	Rollback(ctx context.Context) error
	Delete(ctx context.Context) error
	// CurrentPodHash returns the rollouts-pod-template-hash of the
	// current pod generation for a Rollout, and "" for a Deployment
	// (which has no equivalent stamped label).
	CurrentPodHash() string
	GetPods(ctx context.Context) ([]*Pod, error)
	GetLatestPods(ctx context.Context) ([]*Pod, error)
	GetRestartCount(ctx context.Context) (int32, error)
	CommitPatch(ctx context.Context) error
	Refresh(ctx context.Context) (bool, error)
	WaitUntilReady(ctx context.Context, timeout time.Duration, isReady waiter.Check, onAPIError OnAPIError) error
}

type deploymentController struct{ *Deployment }

func (d deploymentController) Kind() ControllerKind { return ControllerKindDeployment }

type rolloutController struct{ *Rollout }

func (r rolloutController) Kind() ControllerKind { return ControllerKindRollout }

// NewController wraps a Deployment in the uniform Controller interface.
func NewController(d *Deployment) Controller { return deploymentController{d} }

// NewRolloutController wraps a Rollout in the uniform Controller
// interface.
func NewRolloutController(r *Rollout) Controller { return rolloutController{r} }

// ReadController reads either a Deployment or a Rollout by name,
// selected by the caller-supplied kind (the orchestrator knows the kind
// from its per-component configuration; it never needs to guess).
func ReadController(ctx context.Context, c client.Client, kind ControllerKind, name, namespace string) (Controller, error) {
	switch kind {
	case ControllerKindDeployment:
		d, err := ReadDeployment(ctx, c, name, namespace)
		if err != nil {
			return nil, err
		}
		return NewController(d), nil
	case ControllerKindRollout:
		r, err := ReadRollout(ctx, c, name, namespace)
		if err != nil {
			return nil, err
		}
		return NewRolloutController(r), nil
	default:
		return nil, errs.NewConfigurationError("unknown controller kind %q", kind)
	}
}
