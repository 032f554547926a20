// Package agentidentity reifies the POD_NAME/POD_NAMESPACE-driven
// in-cluster detection flags as module-level state into an
// explicit value threaded through the orchestrator, rather than reading
// environment variables deep inside the canary-pod machinery.
package agentidentity

import (
	"os"

	"github.com/google/uuid"
)

// Identity describes whether this process is itself running inside the
// cluster it manages, and if so, the name and namespace of its own Pod,
// from which cluster.ResolveAgentOwner finds the owning Deployment used
// to set an owner reference on canary pods so they're garbage-collected
// with the agent. RunID tags the orchestrator's log lines for one run of
// this process; it carries no cluster meaning and is never
// folded into the orchestrator's state hashes.
type Identity struct {
	InCluster bool
	PodName string
	Namespace string
	RunID string
}

// FromEnvironment builds an Identity from POD_NAME and POD_NAMESPACE,
// stamping a fresh RunID. The agent is considered in-cluster only when
// both POD_NAME and POD_NAMESPACE are set; RunID is always populated,
// in-cluster or not, since it exists purely to correlate this process's
// own output.
func FromEnvironment() Identity {
	name := os.Getenv("POD_NAME")
	namespace := os.Getenv("POD_NAMESPACE")
	if name == "" || namespace == "" {
		return Identity{RunID: uuid.New().String()}
	}
	return Identity{InCluster: true, PodName: name, Namespace: namespace, RunID: uuid.New().String()}
}
