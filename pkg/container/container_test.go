package container

import (
	"testing"

	corev1 "k8s.io/api/core/v1"

	"github.com/opsani/kubecore/pkg/resource"
)

func newTestContainer() *View {
	return New(&corev1.Container{Name: "app", Image: "app:v1"})
}

func TestGetSetRoundTrip(t *testing.T) {
	v := newTestContainer()
	if err := v.Set("cpu", []string{"250m"}, resource.Compute, true); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, err := v.Get("cpu", resource.Compute, false, false, "")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(got) != 2 || got[0] != "250m" || got[1] != "250m" {
		t.Errorf("Get after broadcast Set = %v, want [250m 250m]", got)
	}
}

func TestSetClearOthers(t *testing.T) {
	v := newTestContainer()
	// First establish both requirements.
	if err := v.Set("cpu", []string{"250m"}, resource.Compute, false); err != nil {
		t.Fatal(err)
	}
	// Now set only Limit, clearing Request.
	if err := v.Set("cpu", []string{"500m"}, resource.Limit, true); err != nil {
		t.Fatal(err)
	}
	got, err := v.Get("cpu", resource.Compute, false, false, "<default>")
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "<default>" {
		t.Errorf("expected request cleared to default, got %v", got)
	}
	if got[1] != "500m" {
		t.Errorf("expected limit 500m, got %v", got)
	}
}

// TestRequirementFlagAlgebra is the §8 testable property: for all
// (name, value, flags) pairs, Get(name, flags) after
// Set(name, value, flags, clearOthers=true) returns exactly value for
// every member in flags and the default for every other member.
func TestRequirementFlagAlgebra(t *testing.T) {
	for _, flags := range []resource.Requirement{resource.Request, resource.Limit, resource.Compute} {
		v := newTestContainer()
		const value = "128Mi"
		const def = "<none>"
		if err := v.Set("memory", []string{value}, flags, true); err != nil {
			t.Fatalf("flags=%v: Set returned error: %v", flags, err)
		}
		for _, member := range resource.Members(false) {
			got, err := v.Get("memory", member, true, false, def)
			if err != nil {
				t.Fatalf("flags=%v member=%v: Get returned error: %v", flags, member, err)
			}
			want := def
			if flags.Has(member) {
				want = value
			}
			if got[0] != want {
				t.Errorf("flags=%v member=%v: got %v, want %v", flags, member, got[0], want)
			}
		}
	}
}

func TestGetFirstReverse(t *testing.T) {
	v := newTestContainer()
	if err := v.Set("cpu", []string{"100m"}, resource.Limit, true); err != nil {
		t.Fatal(err)
	}
	got, err := v.Get("cpu", resource.Compute, true, true, "")
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != "100m" {
		t.Errorf("Get(first=true, reverse=true) = %v, want first present value 100m", got)
	}
}
