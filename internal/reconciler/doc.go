// Package reconciler drives Domain reconciliation from change events.
//
// # Overview
//
// The package detects changes of Domains, either Kubernetes custom resources
// or YAML manifests on disk, and turns each change into a chain on a
// work.Gate. The gate serializes work per Domain key: a newer change cancels
// the chain still running for the same Domain, and the successor only starts
// once its predecessor has stopped.
//
// # Architecture
//
//   - Manager: consumes change events, loads the desired Domain from a
//     DomainSource and runs the reconcile or cleanup chain for it
//   - ChangeDetector: FilesystemDetector (fsnotify) or KubernetesDetector
//     (controller-runtime informer)
//   - DomainSource: ClientSource (API server) or FileSource (manifests)
//   - status.Sink: receives every outcome after its chain is terminal
//
// The manager also runs a periodic resync that re-checks every Domain with
// Gate.RunIfIdle, so it never interrupts in-progress work, and cleans up
// Domains whose delete event was missed.
//
// # Usage
//
//	manager, err := reconciler.NewManager(config, reconciler.Options{
//	    Source:    reconciler.NewClientSource(mgr.GetClient(), namespace),
//	    Detector:  reconciler.NewKubernetesDetector(mgr.GetCache(), namespace),
//	    Sink:      status.NewWriter(mgr.GetClient(), recorder),
//	    Reconcile: makeright.ForDomain(mgr.GetClient(), opts),
//	    Cleanup:   makeright.ForDelete(mgr.GetClient(), opts),
//	    Engine:    work.GateConfig{Scheduler: scheduler, Retry: retry},
//	})
//	if err != nil {
//	    return err
//	}
//	return mgr.Add(manager.RunnableFunc(manager.Run))
//
// # Filesystem mode
//
// Manifests live in {path}/domains/{name}.yaml. The file name is the Domain
// name and all Domains are reconciled into the configured namespace. Rapid
// successive writes are debounced into one change event.
package reconciler
