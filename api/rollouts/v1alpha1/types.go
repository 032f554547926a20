// Package v1alpha1 defines the Go types for the Argo Rollouts custom
// resource (group argoproj.io, version v1alpha1, plural rollouts) that
// this module's Rollout controller wrapper reads and patches. Only the
// subset of the Rollout spec/status the optimization core needs to
// observe is modeled; fields outside that subset have no place in these
// types and are dropped when a Rollout is decoded into them.
package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Group, Version and Plural identify the Argo Rollout custom resource.
const (
	Group = "argoproj.io"
	Version = "v1alpha1"
	Plural = "rollouts"
	Kind = "Rollout"
)

// RolloutConditionType enumerates the condition types this module reads
// off a Rollout's status.
type RolloutConditionType string

const (
	RolloutConditionAvailable RolloutConditionType = "Available"
	RolloutConditionProgressing RolloutConditionType = "Progressing"
)

// RolloutCondition mirrors a single entry of status.conditions.
type RolloutCondition struct {
	Type RolloutConditionType `json:"type"`
	Status corev1.ConditionStatus `json:"status"`
	Reason string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	LastUpdateTime metav1.Time `json:"lastUpdateTime,omitempty"`
}

// BlueGreenStatus mirrors status.blueGreen, the subset of the blue/green
// strategy state the rollout observer needs.
type BlueGreenStatus struct {
	ActiveSelector string `json:"activeSelector,omitempty"`
	PreviewSelector string `json:"previewSelector,omitempty"`
}

// RolloutStatus mirrors the subset of status this module consumes.
type RolloutStatus struct {
	Replicas int32 `json:"replicas,omitempty"`
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`
	AvailableReplicas int32 `json:"availableReplicas,omitempty"`
	UpdatedReplicas int32 `json:"updatedReplicas,omitempty"`
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
	CurrentPodHash string `json:"currentPodHash,omitempty"`
	Conditions []RolloutCondition `json:"conditions,omitempty"`
	BlueGreen BlueGreenStatus `json:"blueGreen,omitempty"`
}

// RolloutSpec mirrors the subset of spec this module reads/patches.
type RolloutSpec struct {
	Replicas int32 `json:"replicas"`
	Selector *metav1.LabelSelector `json:"selector"`
	Template corev1.PodTemplateSpec `json:"template"`
}

// Rollout is the typed representation of an argoproj.io/v1alpha1
// Rollout object, registered with a runtime.Scheme so it can be read
// and patched through a sigs.k8s.io/controller-runtime client.Client
// exactly like any built-in Kubernetes type.
type Rollout struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec RolloutSpec `json:"spec,omitempty"`
	Status RolloutStatus `json:"status,omitempty"`
}

// RolloutList is the list type required for runtime.Scheme registration
// and for List() calls against the Rollout GVK.
type RolloutList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []Rollout `json:"items"`
}

func (in *Rollout) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := new(Rollout)
	*out = *in
	out.ObjectMeta = *in.ObjectMeta.DeepCopy()
	in.Spec.Template.DeepCopyInto(&out.Spec.Template)
	if in.Spec.Selector != nil {
		out.Spec.Selector = in.Spec.Selector.DeepCopy()
	}
	if in.Status.Conditions != nil {
		out.Status.Conditions = make([]RolloutCondition, len(in.Status.Conditions))
		copy(out.Status.Conditions, in.Status.Conditions)
	}
	return out
}

func (in *RolloutList) DeepCopyObject() runtime.Object {
	if in == nil {
		return nil
	}
	out := new(RolloutList)
	out.TypeMeta = in.TypeMeta
	out.ListMeta = in.ListMeta
	if in.Items != nil {
		out.Items = make([]Rollout, len(in.Items))
		for i := range in.Items {
			out.Items[i] = *in.Items[i].DeepCopyObject().(*Rollout)
		}
	}
	return out
}
