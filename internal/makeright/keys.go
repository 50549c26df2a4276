package makeright

import (
	"errors"

	"k8s.io/apimachinery/pkg/types"

	"domainop/internal/work"
	"domainop/pkg/apis/domain/v1alpha1"
)

var (
	// DomainKey holds the desired Domain.
	DomainKey = work.NewKey[*v1alpha1.Domain]("makeright.domain")

	// RefKey holds the namespace and name of the Domain.
	RefKey = work.NewKey[types.NamespacedName]("makeright.ref")

	// ClusterKey holds the cluster a forked child works on.
	ClusterKey = work.NewKey[*v1alpha1.ClusterSpec]("makeright.cluster")

	// clusterStatusKey holds the result of a child chain.
	clusterStatusKey = work.NewKey[v1alpha1.ClusterStatus]("makeright.cluster-status")
)

var (
	// ErrNoDomain is returned when a chain runs without a desired Domain.
	ErrNoDomain = errors.New("no desired domain in packet")
	// ErrNoReference is returned when the cleanup chain runs without a Domain reference.
	ErrNoReference = errors.New("no domain reference in packet")
	// ErrInvalidDomain wraps validation failures of the desired Domain.
	ErrInvalidDomain = errors.New("invalid domain")
)

const (
	// LabelDomain is set on every generated object to the name of its Domain.
	LabelDomain = "domainop.io/domain"
	// LabelCluster is set on cluster ConfigMaps to the cluster name.
	LabelCluster = "domainop.io/cluster"
	// LabelManagedBy marks objects owned by the operator.
	LabelManagedBy = "app.kubernetes.io/managed-by"

	managedBy = "domainop"
)
