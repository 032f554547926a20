// Package container implements the read/write view over a single
// container's resource requirements, keyed by the resource.Requirement
// flag algebra.
package container

import (
	corev1 "k8s.io/api/core/v1"
	apiresource "k8s.io/apimachinery/pkg/api/resource"

	"github.com/opsani/kubecore/pkg/resource"
)

// View is a read/write accessor bound to a single Kubernetes container,
// whether that container belongs to a Deployment/Rollout pod template or
// to a standalone canary pod.
type View struct {
	obj *corev1.Container
}

// New binds a View to the given container. The container is mutated
// in place by Set.
func New(c *corev1.Container) *View {
	return &View{obj: c}
}

// Name returns the container's name.
func (v *View) Name() string { return v.obj.Name }

// Image returns the container's image reference.
func (v *View) Image() string { return v.obj.Image }

// SetImage sets the container's image reference.
func (v *View) SetImage(image string) { v.obj.Image = image }

func (v *View) requirementList(r resource.Requirement) *corev1.ResourceList {
	switch r {
	case resource.Request:
		if v.obj.Resources.Requests == nil {
			v.obj.Resources.Requests = corev1.ResourceList{}
		}
		return &v.obj.Resources.Requests
	case resource.Limit:
		if v.obj.Resources.Limits == nil {
			v.obj.Resources.Limits = corev1.ResourceList{}
		}
		return &v.obj.Resources.Limits
	default:
		panic("container: requirementList called with non-singular Requirement")
	}
}

// Get retrieves resource requirement values for the named resource
// ("cpu" or "memory"). Members of flags are walked in declaration
// order (reversed when reverse is true); when first is true, the first
// present value is returned, otherwise every member's value (or default
// when absent) is returned aligned to walk order.
func (v *View) Get(name string, flags resource.Requirement, first, reverse bool, def string) ([]string, error) {
	var values []string
	for _, member := range resource.Members(reverse) {
		if !flags.Has(member) {
			continue
		}
		list := v.requirementListReadOnly(member)
		if q, ok := list[corev1.ResourceName(name)]; ok {
			s := q.String()
			if first {
				return []string{s}, nil
			}
			values = append(values, s)
			continue
		}
		values = append(values, def)
	}
	return values, nil
}

func (v *View) requirementListReadOnly(r resource.Requirement) corev1.ResourceList {
	switch r {
	case resource.Request:
		return v.obj.Resources.Requests
	case resource.Limit:
		return v.obj.Resources.Limits
	default:
		panic("container: requirementListReadOnly called with non-singular Requirement")
	}
}

// Set assigns values to the named resource across the requirements in
// flags. A single value is broadcast to every requirement in flags; a
// slice of values is consumed in declaration order, with the last value
// reused once exhausted. When clearOthers is true, the named resource's
// key is removed from every requirement NOT in flags.
func (v *View) Set(name string, values []string, flags resource.Requirement, clearOthers bool) error {
	if len(values) == 0 {
		return nil
	}
	idx := 0
	next := func() string {
		val := values[idx]
		if idx < len(values)-1 {
			idx++
		}
		return val
	}
	for _, member := range resource.Members(false) {
		list := v.requirementList(member)
		if flags.Has(member) {
			q, err := apiresource.ParseQuantity(next())
			if err != nil {
				return err
			}
			(*list)[corev1.ResourceName(name)] = q
		} else if clearOthers {
			delete(*list, corev1.ResourceName(name))
		}
	}
	return nil
}
