package status

import (
	"slices"

	"domainop/internal/work"
	"domainop/pkg/apis/domain/v1alpha1"
)

// UpdatesKey holds the status record a chain accumulates.
var UpdatesKey = work.NewKey[*Record]("status.updates")

// Record is what a chain observed about a domain.
type Record struct {
	// ObservedGeneration is the generation of the Domain the chain worked on.
	ObservedGeneration int64

	// Clusters holds the state of each cluster in spec order.
	Clusters []v1alpha1.ClusterStatus

	// Failures lists per-cluster failures reported by the join step.
	Failures []string

	// Deleted is set by the cleanup chain; there is no status left to write.
	Deleted bool
}

// ClonePacketValue implements work.Cloner.
func (r *Record) ClonePacketValue() any {
	if r == nil {
		return r
	}
	c := *r
	c.Clusters = slices.Clone(r.Clusters)
	c.Failures = slices.Clone(r.Failures)
	return &c
}

// Ready reports whether every recorded cluster is ready.
func (r *Record) Ready() bool {
	for _, c := range r.Clusters {
		if !c.Ready {
			return false
		}
	}
	return len(r.Failures) == 0
}
