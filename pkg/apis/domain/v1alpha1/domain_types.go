package v1alpha1

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ConditionReady is the condition type the operator maintains on every Domain.
const ConditionReady = "Ready"

// DomainSpec defines the desired state of Domain
type DomainSpec struct {
	// DomainUID identifies the domain in the names of generated resources.
	// Defaults to the name of the Domain.
	// +kubebuilder:validation:Pattern="^[a-z0-9]([-a-z0-9]*[a-z0-9])?$"
	// +kubebuilder:validation:MaxLength=45
	DomainUID string `json:"domainUID,omitempty" yaml:"domainUID,omitempty"`

	// Image is the server image used by all clusters of the domain.
	// +kubebuilder:validation:Required
	Image string `json:"image" yaml:"image"`

	// Config holds domain-wide settings rendered into the domain ConfigMap.
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`

	// Clusters lists the server clusters of the domain.
	// +listType=map
	// +listMapKey=name
	Clusters []ClusterSpec `json:"clusters,omitempty" yaml:"clusters,omitempty"`
}

// ClusterSpec defines one cluster of a domain
type ClusterSpec struct {
	// Name of the cluster, unique within the domain.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:Pattern="^[a-z0-9]([-a-z0-9]*[a-z0-9])?$"
	Name string `json:"name" yaml:"name"`

	// Replicas is the number of servers the cluster should run.
	// +kubebuilder:default=1
	// +kubebuilder:validation:Minimum=0
	Replicas int32 `json:"replicas,omitempty" yaml:"replicas,omitempty"`

	// Config holds cluster settings. They override domain settings with the same key.
	Config map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// DomainStatus defines the observed state of Domain
type DomainStatus struct {
	// ObservedGeneration is the generation the status was computed for.
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`

	// Clusters reports the state of every cluster handled by the last reconciliation.
	Clusters []ClusterStatus `json:"clusters,omitempty" yaml:"clusters,omitempty"`

	// Message describes the last failure, if any.
	Message string `json:"message,omitempty" yaml:"message,omitempty"`

	// LastReconcileTime is when the last reconciliation finished.
	LastReconcileTime *metav1.Time `json:"lastReconcileTime,omitempty" yaml:"lastReconcileTime,omitempty"`

	// Conditions represent the latest available observations of the Domain's current state
	Conditions []metav1.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// ClusterStatus reports the state of one cluster
type ClusterStatus struct {
	Name      string `json:"name" yaml:"name"`
	Replicas  int32  `json:"replicas" yaml:"replicas"`
	ConfigMap string `json:"configMap,omitempty" yaml:"configMap,omitempty"`
	Ready     bool   `json:"ready" yaml:"ready"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=dom
// +kubebuilder:printcolumn:name="UID",type="string",JSONPath=".spec.domainUID"
// +kubebuilder:printcolumn:name="Ready",type="string",JSONPath=".status.conditions[?(@.type=='Ready')].status"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Domain is the Schema for the domains API
type Domain struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   DomainSpec   `json:"spec,omitempty"`
	Status DomainStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// DomainList contains a list of Domain
type DomainList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Domain `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Domain{}, &DomainList{})
}

// UID returns spec.domainUID, falling back to the object name.
func (d *Domain) UID() string {
	if d.Spec.DomainUID != "" {
		return d.Spec.DomainUID
	}
	return d.Name
}

// Key returns the namespace/name key the operator serializes work on.
func (d *Domain) Key() string {
	return fmt.Sprintf("%s/%s", d.Namespace, d.Name)
}

// Validate checks the invariants the CRD schema cannot express.
func (d *Domain) Validate() error {
	if d.Spec.Image == "" {
		return fmt.Errorf("spec.image is required")
	}
	seen := make(map[string]bool, len(d.Spec.Clusters))
	for i, c := range d.Spec.Clusters {
		if c.Name == "" {
			return fmt.Errorf("spec.clusters[%d].name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("spec.clusters[%d].name %q is not unique", i, c.Name)
		}
		if c.Replicas < 0 {
			return fmt.Errorf("spec.clusters[%d].replicas must not be negative", i)
		}
		seen[c.Name] = true
	}
	return nil
}
