// Package orchestrator implements the top-level coordinator bound to a
// decoded configuration: it owns one Optimization per configured
// controller, fans adjustments and readiness checks out across all of
// them concurrently, and reports a stable hash-based snapshot of what
// it is currently managing.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/opsani/kubecore/pkg/agentidentity"
	"github.com/opsani/kubecore/pkg/cluster"
	"github.com/opsani/kubecore/pkg/config"
	"github.com/opsani/kubecore/pkg/errs"
	"github.com/opsani/kubecore/pkg/metrics"
	"github.com/opsani/kubecore/pkg/optimization"
)

// stateHashVersion is bumped whenever the fields folded into the state
// hashes below change shape, so a rolling upgrade never compares a
// stale hash against a differently-computed one.
const stateHashVersion = "v1"

// State is the orchestrator's stable hash-based snapshot: spec_id and
// version_id are computed from the desired pod-template spec and
// container images respectively, and change only when the configured
// workloads themselves change; runtime_id reflects which live pods
// currently back each optimization, and changes on every rollout.
type State struct {
	Namespace string
	SpecID    string
	RuntimeID string
	VersionID string
}

// Orchestrator owns one Optimization per configured controller.
type Orchestrator struct {
	namespace     string
	optimizations map[string]optimization.Optimization
	names         []string
	config        *config.KubernetesConfig
	log           logr.Logger
}

// Create reads cfg.Namespace, instantiates one optimization per
// configured controller (Direct or Canary, per each controller's
// strategy), and computes the initial State.
func Create(ctx context.Context, c client.WithWatch, cfg *config.KubernetesConfig, identity agentidentity.Identity, log logr.Logger) (*Orchestrator, *State, error) {
	if identity.RunID != "" {
		log = log.WithValues("run_id", identity.RunID)
	}
	o := &Orchestrator{
		namespace:     cfg.Namespace,
		optimizations: make(map[string]optimization.Optimization, len(cfg.Controllers)),
		names:         make([]string, 0, len(cfg.Controllers)),
		config:        cfg,
		log:           log,
	}

	denied, err := cluster.CheckPermissions(ctx, c, cfg.Namespace, cluster.RequiredPermissions(cfg.Namespace))
	if err != nil {
		return nil, nil, err
	}
	for _, d := range denied {
		log.Info("service account is missing a required RBAC grant", "group", d.Group, "resource", d.Resource, "verb", d.Verb)
	}

	for _, ctrlCfg := range cfg.Controllers {
		namespace, timeout, _, _ := ctrlCfg.Resolved()
		if namespace == "" {
			namespace = cfg.Namespace
		}

		var opt optimization.Optimization
		var err error
		switch ctrlCfg.Strategy {
		case config.StrategyDirect:
			opt, err = optimization.CreateDirectOptimization(ctx, c, ctrlCfg, namespace, timeout, log)
		case config.StrategyCanary:
			opt, err = optimization.CreateCanaryOptimization(ctx, c, ctrlCfg, namespace, identity, timeout, log)
		default:
			err = errs.NewConfigurationError("controller %q has unknown strategy %q", ctrlCfg.Name, ctrlCfg.Strategy)
		}
		if err != nil {
			return nil, nil, err
		}

		o.optimizations[ctrlCfg.Name] = opt
		o.names = append(o.names, ctrlCfg.Name)
	}
	sort.Strings(o.names)

	state, err := o.computeState(ctx)
	if err != nil {
		return nil, nil, err
	}
	return o, state, nil
}

// computeState hashes the current desired pod-template specs, the
// current container images, and the current live pod UIDs backing
// every optimization.
func (o *Orchestrator) computeState(ctx context.Context) (*State, error) {
	type specEntry struct {
		Controller string
		Spec       interface{}
	}
	specs := make([]specEntry, 0, len(o.names))

	type imageEntry struct {
		Container string
		Image     string
	}
	var images []imageEntry

	runtime := make(map[string][]string, len(o.names))

	for _, name := range o.names {
		ctrl := o.optimizations[name].Controller()
		specs = append(specs, specEntry{Controller: ctrl.Name(), Spec: *ctrl.PodTemplateSpec()})

		for _, container := range ctrl.Containers() {
			images = append(images, imageEntry{Container: container.Name, Image: container.Image})
		}

		pods, err := ctrl.GetPods(ctx)
		if err != nil {
			return nil, err
		}
		uids := make([]string, 0, len(pods))
		for _, p := range pods {
			uids = append(uids, string(p.Obj.UID))
		}
		sort.Strings(uids)
		runtime[name] = uids
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Controller < specs[j].Controller })
	sort.Slice(images, func(i, j int) bool { return images[i].Container < images[j].Container })

	specID := lo.Must(hashstructure.Hash(specs, hashstructure.FormatV2, &hashstructure.HashOptions{
		SlicesAsSets:    true,
		IgnoreZeroValue: true,
		ZeroNil:         true,
	}))
	versionID := lo.Must(hashstructure.Hash(images, hashstructure.FormatV2, &hashstructure.HashOptions{
		SlicesAsSets: true,
	}))
	runtimeID := lo.Must(hashstructure.Hash(runtime, hashstructure.FormatV2, &hashstructure.HashOptions{
		SlicesAsSets: true,
	}))

	return &State{
		Namespace: o.namespace,
		SpecID:    fmt.Sprintf("%s-%x", stateHashVersion, specID),
		RuntimeID: fmt.Sprintf("%s-%x", stateHashVersion, runtimeID),
		VersionID: fmt.Sprintf("%s-%x", stateHashVersion, versionID),
	}, nil
}

// applyResult pairs an optimization name with the error its Apply call
// produced, if any.
type applyResult struct {
	name string
	opt  optimization.Optimization
	err  error
}

// Apply records every requested adjustment locally, then fans out
// Apply across all affected optimizations concurrently, bounded by
// config.Timeout+60s. Any optimization whose Apply fails has its
// configured failure mode dispatched in turn; the first such error (if
// any recovery still leaves one) is returned to the caller alongside
// every other failure, aggregated.
func (o *Orchestrator) Apply(ctx context.Context, adjustments []optimization.Adjustment) error {
	touched := make(map[string]bool)
	for _, adj := range adjustments {
		opt, ok := o.optimizations[adj.Component]
		if !ok {
			o.log.Info("ignoring adjustment for unknown component", "component", adj.Component)
			continue
		}
		if err := opt.Adjust(adj.Setting, adj.Value); err != nil {
			return err
		}
		touched[adj.Component] = true
	}

	ceiling := o.config.Timeout.Duration + 60*time.Second
	applyCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	results := make([]applyResult, 0, len(touched))
	resultCh := make(chan applyResult, len(touched))
	for name := range touched {
		name, opt := name, o.optimizations[name]
		go func() {
			resultCh <- applyResult{name: name, opt: opt, err: opt.Apply(applyCtx)}
		}()
	}
	for range touched {
		results = append(results, <-resultCh)
	}

	var combined error
	for _, r := range results {
		if r.err == nil {
			continue
		}
		mode := o.config.OnFailure
		for _, cc := range o.config.Controllers {
			if cc.Name == r.name {
				if _, _, _, m := cc.Resolved(); m != "" {
					mode = m
				}
				break
			}
		}
		if err := r.opt.HandleError(ctx, r.err, mode); err != nil {
			combined = multierr.Append(combined, err)
		}
	}
	return combined
}

// IsReady fans out IsReady across every optimization with a 60s
// ceiling; every one must report ready.
func (o *Orchestrator) IsReady(ctx context.Context) (bool, error) {
	readyCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(readyCtx)
	results := make([]bool, len(o.names))
	for i, name := range o.names {
		i, opt := i, o.optimizations[name]
		g.Go(func() error {
			ready, err := opt.IsReady(gCtx)
			if err != nil {
				return err
			}
			results[i] = ready
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}
	count := 0
	allReady := true
	for _, ready := range results {
		if ready {
			count++
		} else {
			allReady = false
		}
	}
	metrics.OptimizationsReadyGauge.Set(float64(count))
	return allReady, nil
}

// Settle runs a parallel readiness monitor against a duration timer:
// if readiness is lost at any point during settlement, or is found to
// be lost once at the end of the duration, it fails with
// *errs.AdjustmentRejected (reason unready_during_settlement).
func (o *Orchestrator) Settle(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	settleCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-settleCtx.Done():
			ready, err := o.IsReady(ctx)
			if err != nil {
				return err
			}
			if !ready {
				return errs.NewAdjustmentRejected(errs.ReasonUnreadyDuringSettlement, "readiness was lost by the end of the settlement window")
			}
			return nil
		case <-ticker.C:
			ready, err := o.IsReady(ctx)
			if err != nil {
				return err
			}
			if !ready {
				return errs.NewAdjustmentRejected(errs.ReasonUnreadyDuringSettlement, "readiness was lost during the settlement window")
			}
		}
	}
}

// State recomputes the orchestrator's current hash-based snapshot.
func (o *Orchestrator) State(ctx context.Context) (*State, error) {
	return o.computeState(ctx)
}

// ToComponents returns the optimizer-facing description across every
// optimization, sorted by component name.
func (o *Orchestrator) ToComponents() []optimization.Component {
	out := make([]optimization.Component, 0, len(o.names))
	for _, name := range o.names {
		out = append(out, o.optimizations[name].ToComponents()...)
	}
	return out
}
