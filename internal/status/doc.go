// Package status publishes the result of a finished reconciliation.
//
// Steps collect what they observed in a Record stored under UpdatesKey. Once
// the fiber for a domain is terminal, the reconciler hands its outcome to a
// Sink. The Kubernetes sink writes the Ready condition and cluster states into
// the Domain status and emits an event; the log sink used in filesystem mode
// only logs. Outcomes of cancelled fibers, including superseded ones, are not
// published.
package status
