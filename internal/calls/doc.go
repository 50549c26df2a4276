// Package calls adapts blocking API requests to suspending steps.
//
// A step built with Async prepares a request from the packet on the fiber's
// worker, runs it on its own goroutine and resumes the fiber through its
// Completion. The request context is cancelled when the fiber is cancelled, so
// client-go requests in flight are aborted on a best-effort basis; a result
// that arrives afterwards is discarded by the engine.
//
// Failures are classified before they reach the engine:
//
//	transient API errors (conflict, timeouts, throttling, 5xx)  -> work.Retryable
//	connection resets and refusals                              -> work.Retryable
//	everything else                                             -> work.Fatal
//
// Example:
//
//	ensure := calls.Async("ensure-configmap",
//	    func(p *work.Packet) (calls.Call[*corev1.ConfigMap], error) {
//	        cm := desiredConfigMap(p)
//	        return func(ctx context.Context) (*corev1.ConfigMap, error) {
//	            return cm, c.Create(ctx, cm)
//	        }, nil
//	    },
//	    func(p *work.Packet, cm *corev1.ConfigMap) { configMapKey.Put(p, cm) },
//	    calls.WithLimiter(limiter),
//	)
package calls
