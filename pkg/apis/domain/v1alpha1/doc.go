// Package v1alpha1 contains API Schema definitions for the domainop v1alpha1 API group.
//
// # API Group: domainop.io/v1alpha1
//
// ## Domain
//
// Domain describes an application domain spread over one or more clusters of
// servers. The operator renders the desired configuration of the domain and
// of every cluster into ConfigMaps and reports the result in the status.
//
// Example:
//
//	apiVersion: domainop.io/v1alpha1
//	kind: Domain
//	metadata:
//	  name: sales
//	  namespace: apps
//	spec:
//	  domainUID: sales
//	  image: registry.example.com/sales:1.4.2
//	  config:
//	    logLevel: info
//	  clusters:
//	    - name: frontend
//	      replicas: 3
//	    - name: batch
//	      replicas: 1
//	      config:
//	        queue: nightly
//
// +kubebuilder:object:generate=true
// +groupName=domainop.io
package v1alpha1
