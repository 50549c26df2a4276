package makeright

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"domainop/internal/calls"
	"domainop/internal/status"
	"domainop/internal/work"
	"domainop/pkg/apis/domain/v1alpha1"
	"domainop/pkg/logging"
)

// Options configures the external calls issued by the chains.
type Options struct {
	// Limiter bounds API calls in flight across all domains.
	Limiter *calls.Limiter

	// CallTimeout bounds a single API call. Zero means no bound.
	CallTimeout time.Duration

	// Metrics records API call latency.
	Metrics *calls.Metrics
}

func (o Options) callOptions() []calls.Option {
	opts := []calls.Option{calls.WithMetrics(o.Metrics)}
	if o.Limiter != nil {
		opts = append(opts, calls.WithLimiter(o.Limiter))
	}
	if o.CallTimeout > 0 {
		opts = append(opts, calls.WithTimeout(o.CallTimeout))
	}
	return opts
}

// ForDomain returns the chain that reconciles a Domain. The packet must hold
// the desired Domain under DomainKey.
func ForDomain(c client.Client, opts Options) *work.Step {
	return work.Chain(
		work.Link{Name: "validate-domain", Action: validateDomain},
		work.Link{Name: "apply-domain-configmap", Action: applyDomainConfigMap(c, opts)},
		work.Link{Name: "fork-clusters", Action: forkClusters(c, opts)},
		work.Link{Name: "join-clusters", Action: joinClusters},
		work.Link{Name: "prune-clusters", Action: pruneClusters(c, opts)},
	)
}

func validateDomain(_ context.Context, p *work.Packet) work.NextAction {
	d, ok := DomainKey.Get(p)
	if !ok || d == nil {
		return work.Fail(work.Fatal(ErrNoDomain))
	}
	if err := d.Validate(); err != nil {
		return work.Fail(work.Fatal(fmt.Errorf("%w %s: %w", ErrInvalidDomain, d.Key(), err)))
	}

	status.UpdatesKey.Put(p, &status.Record{ObservedGeneration: d.Generation})
	return work.Continue()
}

func applyDomainConfigMap(c client.Client, opts Options) work.Action {
	return calls.Async("apply-domain-configmap",
		func(p *work.Packet) (calls.Call[*corev1.ConfigMap], error) {
			desired := desiredDomainConfigMap(DomainKey.MustGet(p))
			return func(ctx context.Context) (*corev1.ConfigMap, error) {
				return applyConfigMap(ctx, c, desired)
			}, nil
		},
		nil,
		opts.callOptions()...,
	)
}

func forkClusters(c client.Client, opts Options) work.Action {
	child := work.Chain(
		work.Link{Name: "apply-cluster-configmap", Action: applyClusterConfigMap(c, opts)},
	)

	return func(_ context.Context, p *work.Packet) work.NextAction {
		branches := clusterBranches(p, child)
		logging.Debug("MakeRight", "Forking %d cluster chain(s) for %s", len(branches), DomainKey.MustGet(p).Key())
		return work.ForkJoin(branches...)
	}
}

// clusterBranches creates one branch per cluster. Each branch gets its own
// packet copy, and its ClusterKey points into that copy's Domain.
func clusterBranches(p *work.Packet, child *work.Step) []work.Branch {
	clusters := DomainKey.MustGet(p).Spec.Clusters
	branches := make([]work.Branch, 0, len(clusters))
	for i := range clusters {
		cp := p.Copy()
		cluster := &DomainKey.MustGet(cp).Spec.Clusters[i]
		ClusterKey.Put(cp, cluster)
		branches = append(branches, work.Branch{Name: cluster.Name, Chain: child, Packet: cp})
	}
	return branches
}

func applyClusterConfigMap(c client.Client, opts Options) work.Action {
	return calls.Async("apply-cluster-configmap",
		func(p *work.Packet) (calls.Call[*corev1.ConfigMap], error) {
			desired := desiredClusterConfigMap(DomainKey.MustGet(p), ClusterKey.MustGet(p))
			return func(ctx context.Context) (*corev1.ConfigMap, error) {
				return applyConfigMap(ctx, c, desired)
			}, nil
		},
		func(p *work.Packet, cm *corev1.ConfigMap) {
			cluster := ClusterKey.MustGet(p)
			clusterStatusKey.Put(p, v1alpha1.ClusterStatus{
				Name:      cluster.Name,
				Replicas:  cluster.Replicas,
				ConfigMap: cm.Name,
				Ready:     true,
			})
		},
		opts.callOptions()...,
	)
}

// joinClusters merges the child results into the status record. A fatal child
// failure fails the chain; otherwise a retryable one restarts it.
func joinClusters(ctx context.Context, p *work.Packet) work.NextAction {
	d := DomainKey.MustGet(p)
	results := work.JoinResults(ctx)

	rec, ok := status.UpdatesKey.Get(p)
	if !ok {
		rec = &status.Record{ObservedGeneration: d.Generation}
		status.UpdatesKey.Put(p, rec)
	}
	rec.Clusters = make([]v1alpha1.ClusterStatus, 0, len(results))
	rec.Failures = nil

	var fatal, retryable []error
	for i, r := range results {
		if r.State == work.StateCompleted {
			if cs, ok := clusterStatusKey.Get(r.Packet); ok {
				rec.Clusters = append(rec.Clusters, cs)
				continue
			}
		}

		cluster := d.Spec.Clusters[i]
		cs := v1alpha1.ClusterStatus{Name: cluster.Name, Replicas: cluster.Replicas}
		err := r.Err
		if err == nil {
			err = fmt.Errorf("cluster chain ended %s", r.State)
		}
		cs.Message = err.Error()
		rec.Clusters = append(rec.Clusters, cs)
		rec.Failures = append(rec.Failures, fmt.Sprintf("%s: %v", cluster.Name, err))

		if work.IsRetryable(err) {
			retryable = append(retryable, fmt.Errorf("cluster %s: %w", cluster.Name, err))
		} else {
			fatal = append(fatal, fmt.Errorf("cluster %s: %w", cluster.Name, err))
		}
	}

	switch {
	case len(fatal) > 0:
		return work.Fail(work.Fatal(fmt.Errorf("%d of %d cluster(s) failed: %w", len(rec.Failures), len(results), errors.Join(append(fatal, retryable...)...))))
	case len(retryable) > 0:
		return work.Retry(fmt.Errorf("%d of %d cluster(s) failed: %w", len(retryable), len(results), errors.Join(retryable...)))
	}
	return work.Continue()
}

// pruneClusters deletes cluster ConfigMaps of clusters no longer in the spec.
func pruneClusters(c client.Client, opts Options) work.Action {
	return calls.Async("prune-cluster-configmaps",
		func(p *work.Packet) (calls.Call[[]string], error) {
			d := DomainKey.MustGet(p)
			keep := make(map[string]bool, len(d.Spec.Clusters))
			for _, cluster := range d.Spec.Clusters {
				keep[cluster.Name] = true
			}
			namespace, name := d.Namespace, d.Name

			return func(ctx context.Context) ([]string, error) {
				list := &corev1.ConfigMapList{}
				if err := c.List(ctx, list,
					client.InNamespace(namespace),
					client.MatchingLabels{LabelDomain: name, LabelManagedBy: managedBy},
				); err != nil {
					return nil, fmt.Errorf("failed to list cluster configmaps: %w", err)
				}

				var pruned []string
				for i := range list.Items {
					cm := &list.Items[i]
					cluster, isCluster := cm.Labels[LabelCluster]
					if !isCluster || keep[cluster] {
						continue
					}
					if err := ctx.Err(); err != nil {
						return pruned, err
					}
					if err := calls.IgnoreNotFound(c.Delete(ctx, cm)); err != nil {
						return pruned, fmt.Errorf("failed to delete configmap %s: %w", cm.Name, err)
					}
					pruned = append(pruned, cm.Name)
				}
				return pruned, nil
			}, nil
		},
		func(p *work.Packet, pruned []string) {
			if len(pruned) > 0 {
				logging.Info("MakeRight", "Pruned configmaps of removed clusters: %s", strings.Join(pruned, ", "))
			}
		},
		opts.callOptions()...,
	)
}
