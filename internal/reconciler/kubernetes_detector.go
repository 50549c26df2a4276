package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	toolscache "k8s.io/client-go/tools/cache"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"domainop/pkg/apis/domain/v1alpha1"
	"domainop/pkg/logging"
)

// KubernetesDetector implements ChangeDetector using controller-runtime informers.
//
// It watches Domain resources through the informer of a cache, normally the
// cache of the controller-runtime manager, and generates change events when
// Domains are created, updated, or deleted. Updates that do not change the
// generation (status writes, label changes) are ignored.
type KubernetesDetector struct {
	mu sync.RWMutex

	// informers provides the Domain informer
	informers cache.Informers

	// namespace restricts events to one namespace (empty for all namespaces)
	namespace string

	// changeChan is the channel to send change events to
	changeChan chan<- ChangeEvent

	// informer and registration are kept to remove the handler on Stop
	informer     cache.Informer
	registration toolscache.ResourceEventHandlerRegistration

	running bool
}

// NewKubernetesDetector creates a detector on top of informers.
func NewKubernetesDetector(informers cache.Informers, namespace string) *KubernetesDetector {
	return &KubernetesDetector{
		informers: informers,
		namespace: namespace,
	}
}

// Start registers the event handler and waits until the informer has synced.
// The cache itself is started by its owner.
func (d *KubernetesDetector) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.changeChan = changes
	d.running = true
	d.mu.Unlock()

	informer, err := d.informers.GetInformer(ctx, &v1alpha1.Domain{})
	if err != nil {
		d.setStopped()
		return fmt.Errorf("failed to get informer for domains: %w", err)
	}

	registration, err := informer.AddEventHandler(d.createEventHandler())
	if err != nil {
		d.setStopped()
		return fmt.Errorf("failed to add event handler for domains: %w", err)
	}

	d.mu.Lock()
	d.informer = informer
	d.registration = registration
	d.mu.Unlock()

	if !toolscache.WaitForCacheSync(ctx.Done(), registration.HasSynced) {
		_ = d.Stop()
		return fmt.Errorf("failed to sync domain informer")
	}

	logging.Info("KubernetesDetector", "Started watching domains in namespace: %s", d.namespaceDisplay())
	return nil
}

func (d *KubernetesDetector) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// createEventHandler creates the ResourceEventHandler for Domains.
func (d *KubernetesDetector) createEventHandler() toolscache.ResourceEventHandler {
	return toolscache.ResourceEventHandlerFuncs{
		AddFunc: func(obj interface{}) {
			d.handleAdd(obj)
		},
		UpdateFunc: func(oldObj, newObj interface{}) {
			d.handleUpdate(oldObj, newObj)
		},
		DeleteFunc: func(obj interface{}) {
			d.handleDelete(obj)
		},
	}
}

// handleAdd processes an add event from the informer.
func (d *KubernetesDetector) handleAdd(obj interface{}) {
	meta, ok := extractObjectMeta(obj)
	if !ok {
		logging.Warn("KubernetesDetector", "Failed to extract metadata from add event")
		return
	}

	d.sendChangeEvent(meta.changeEvent(OperationCreate))
}

// handleUpdate processes an update event from the informer.
func (d *KubernetesDetector) handleUpdate(oldObj, newObj interface{}) {
	meta, ok := extractObjectMeta(newObj)
	if !ok {
		logging.Warn("KubernetesDetector", "Failed to extract metadata from update event")
		return
	}
	if old, ok := extractObjectMeta(oldObj); ok && old.generation == meta.generation && meta.generation != 0 {
		return
	}

	d.sendChangeEvent(meta.changeEvent(OperationUpdate))
}

// handleDelete processes a delete event from the informer.
func (d *KubernetesDetector) handleDelete(obj interface{}) {
	// objects deleted while the watch was down arrive wrapped
	if deletedState, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = deletedState.Obj
	}

	meta, ok := extractObjectMeta(obj)
	if !ok {
		logging.Warn("KubernetesDetector", "Failed to extract metadata from delete event")
		return
	}

	d.sendChangeEvent(meta.changeEvent(OperationDelete))
}

// objectMeta holds extracted metadata from a Kubernetes object.
type objectMeta struct {
	name       string
	namespace  string
	generation int64
}

func (m objectMeta) changeEvent(op ChangeOperation) ChangeEvent {
	return ChangeEvent{
		Name:      m.name,
		Namespace: m.namespace,
		Operation: op,
		Timestamp: time.Now(),
		Source:    SourceKubernetes,
	}
}

// extractObjectMeta extracts name, namespace and generation from a Kubernetes object.
func extractObjectMeta(obj interface{}) (objectMeta, bool) {
	if clientObj, ok := obj.(client.Object); ok {
		return objectMeta{
			name:       clientObj.GetName(),
			namespace:  clientObj.GetNamespace(),
			generation: clientObj.GetGeneration(),
		}, true
	}
	return objectMeta{}, false
}

// sendChangeEvent sends a change event to the output channel.
func (d *KubernetesDetector) sendChangeEvent(event ChangeEvent) {
	d.mu.RLock()
	changeChan := d.changeChan
	running := d.running
	d.mu.RUnlock()

	if !running || changeChan == nil {
		return
	}
	if d.namespace != "" && event.Namespace != d.namespace {
		return
	}

	select {
	case changeChan <- event:
		logging.Debug("KubernetesDetector", "Emitted change event: %s %s", event.Operation, event.Key())
	default:
		logging.Warn("KubernetesDetector", "Change event channel full, dropping event for %s", event.Key())
	}
}

// Stop removes the event handler. The informer keeps running with its cache.
func (d *KubernetesDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false

	if d.informer != nil && d.registration != nil {
		if err := d.informer.RemoveEventHandler(d.registration); err != nil {
			logging.Warn("KubernetesDetector", "Failed to remove event handler: %v", err)
		}
	}
	d.informer = nil
	d.registration = nil

	logging.Info("KubernetesDetector", "Stopped Kubernetes detector")
	return nil
}

// GetSource returns the change source type.
func (d *KubernetesDetector) GetSource() ChangeSource {
	return SourceKubernetes
}

// namespaceDisplay returns a display string for the namespace.
func (d *KubernetesDetector) namespaceDisplay() string {
	if d.namespace == "" {
		return "all namespaces"
	}
	return d.namespace
}
