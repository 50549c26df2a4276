// Package makeright contains the step chains that bring a Domain to its
// desired state.
//
// ForDomain renders the domain ConfigMap, forks one child chain per cluster to
// render the cluster ConfigMaps, joins the cluster results into the status
// record and finally removes ConfigMaps of clusters that left the spec.
// ForDelete removes everything the operator created for a domain.
//
// The chains communicate through these packet keys:
//
//	DomainKey    the desired Domain (input)
//	RefKey       namespace and name of the Domain (input)
//	ClusterKey   the cluster a child chain works on
//	status.UpdatesKey   the status record (output)
package makeright
