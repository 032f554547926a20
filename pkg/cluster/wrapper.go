// Package cluster implements typed wrappers over Kubernetes API
// objects: Namespace, Pod, Service, Deployment, and Rollout, each
// exposing a common CRUD contract (create, read, patch, delete,
// refresh, is-ready, wait-until-ready, wait-until-deleted).
package cluster

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/waiter"
)

// DefaultWaitInterval is the polling interval used by WaitUntilReady and
// WaitUntilDeleted when a caller doesn't specify one.
const DefaultWaitInterval = 2 * time.Second

// OnAPIError is invoked for non-fatal cluster API errors encountered
// while polling, so callers can wire in logging without this package
// taking a logging dependency.
type OnAPIError = waiter.OnAPIError

// Object is the minimal capability every cluster wrapper exposes.
// Concrete wrappers embed a *Wrapper[T] to get Patch/Delete/Refresh/
// WaitUntilReady/WaitUntilDeleted for free and add their own Read
// (a constructor, since Go has no classmethods) and IsReady (the
// per-kind readiness rule).
type Object interface {
	client.Object
}

// Wrapper is a generic CRUD helper bound to a live client.Client and a
// client.Object instance. Deletion detection is consistent across
// kinds: a NotFound during Refresh means "deleted", not an error; any
// other error during WaitUntilDeleted aborts the wait.
type Wrapper[T Object] struct {
	Client client.Client
	Obj T
	baseline T
}

// CaptureBaseline snapshots the wrapper's current state as the merge
// patch base. Every Read* constructor calls this once immediately after
// the initial fetch, so CommitPatch always diffs against the state the
// cluster had when this wrapper was created.
func (w *Wrapper[T]) CaptureBaseline() {
	w.baseline = w.Obj.DeepCopyObject().(T)
}

// Patch commits the wrapper's in-memory mutations to the cluster via a
// merge patch against an explicitly supplied base.
func (w *Wrapper[T]) Patch(ctx context.Context, base T) error {
	if err := w.Client.Patch(ctx, w.Obj, client.MergeFrom(base)); err != nil {
		return errs.NewClusterAPIError("patch", err)
	}
	return nil
}

// CommitPatch commits the wrapper's in-memory mutations via a merge
// patch against the captured baseline.
func (w *Wrapper[T]) CommitPatch(ctx context.Context) error {
	return w.Patch(ctx, w.baseline)
}

// Update commits the wrapper's in-memory mutations via a full update,
// for the small number of operations (e.g. Deployment rollback) that
// require it instead of a merge patch.
func (w *Wrapper[T]) Update(ctx context.Context) error {
	if err := w.Client.Update(ctx, w.Obj); err != nil {
		return errs.NewClusterAPIError("update", err)
	}
	return nil
}

// Delete removes the object from the cluster. A NotFound response is
// treated as success.
func (w *Wrapper[T]) Delete(ctx context.Context) error {
	if err := w.Client.Delete(ctx, w.Obj); err != nil && !apierrors.IsNotFound(err) {
		return errs.NewClusterAPIError("delete", err)
	}
	return nil
}

// Refresh re-reads the object from the cluster into Obj in place.
// Returns (deleted=true, nil) when the object is gone, matching the
// "404 during refresh means deleted, not an error" rule.
func (w *Wrapper[T]) Refresh(ctx context.Context) (deleted bool, err error) {
	key := client.ObjectKeyFromObject(w.Obj)
	if getErr := w.Client.Get(ctx, key, w.Obj); getErr != nil {
		if apierrors.IsNotFound(getErr) {
			return true, nil
		}
		return false, errs.NewClusterAPIError("refresh", getErr)
	}
	return false, nil
}

// WaitUntilReady polls isReady (a closure over Refresh + the wrapper's
// own readiness rule) until it reports true, the timeout elapses, or
// the context is cancelled.
func (w *Wrapper[T]) WaitUntilReady(ctx context.Context, timeout time.Duration, isReady waiter.Check, onAPIError OnAPIError) error {
	return waiter.Wait(ctx, waiter.Options{
		Name: "readiness",
		Timeout: timeout,
		Interval: DefaultWaitInterval,
		FailOnAPIError: true,
	}, isReady, onAPIError)
}

// Name and Namespace expose the object's identity without requiring
// callers to reach through to Obj, so the Controller interface can
// offer them uniformly across Deployment and Rollout.
func (w *Wrapper[T]) Name() string { return w.Obj.GetName() }
func (w *Wrapper[T]) Namespace() string { return w.Obj.GetNamespace() }

// wrapGetError wraps a failed initial read in a *errs.ClusterAPIError,
// tagging the operation name for diagnostics.
func wrapGetError(kind string, err error) error {
	return errs.NewClusterAPIError("read "+kind, err)
}

// WaitUntilDeleted polls Refresh until the object is gone. Any error
// other than NotFound aborts the wait immediately.
func (w *Wrapper[T]) WaitUntilDeleted(ctx context.Context, timeout time.Duration) error {
	return waiter.Wait(ctx, waiter.Options{
		Name: "deletion",
		Timeout: timeout,
		Interval: DefaultWaitInterval,
		FailOnAPIError: true,
	}, func(ctx context.Context) (bool, error) {
		deleted, err := w.Refresh(ctx)
		if err != nil {
			return false, err
		}
		return deleted, nil
	}, nil)
}
