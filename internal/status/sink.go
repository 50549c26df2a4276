package status

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"domainop/internal/work"
	"domainop/pkg/apis/domain/v1alpha1"
	"domainop/pkg/logging"
)

// Sink publishes the outcome of a finished chain.
type Sink interface {
	Publish(ctx context.Context, o work.Outcome) error
}

// EventRecorder is the subset of record.EventRecorder the writer uses.
type EventRecorder interface {
	Eventf(object runtime.Object, eventtype, reason, messageFmt string, args ...interface{})
}

// reasonFor maps an outcome to a condition reason. Outcomes that are not
// published return false.
func reasonFor(o work.Outcome) (Reason, bool) {
	switch o.State {
	case work.StateCompleted:
		return ReasonReconcileSucceeded, true
	case work.StateFailed:
		if errors.Is(o.Err, work.ErrRetriesExhausted) {
			return ReasonRetriesExhausted, true
		}
		return ReasonReconcileFailed, true
	default:
		return "", false
	}
}

func eventData(o work.Outcome, rec *Record) EventData {
	namespace, name := SplitKey(o.Key)
	data := EventData{
		Name:      name,
		Namespace: namespace,
		Attempts:  o.Attempts,
		Duration:  o.Duration.Round(time.Millisecond),
	}
	if o.Err != nil {
		data.Error = SanitizeErrorMessage(o.Err.Error())
	}
	if rec != nil {
		data.Clusters = len(rec.Clusters)
		data.Failed = len(rec.Failures)
	}
	return data
}

func recordOf(o work.Outcome) *Record {
	if o.Packet == nil {
		return nil
	}
	rec, _ := UpdatesKey.Get(o.Packet)
	return rec
}

// SplitKey splits a namespace/name key. A key without a slash is a name.
func SplitKey(key string) (namespace, name string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// Writer publishes outcomes to the Domain status and as Kubernetes events.
type Writer struct {
	client    client.Client
	recorder  EventRecorder
	templates *MessageTemplateEngine
	now       func() time.Time
}

// NewWriter creates a writer. recorder may be nil to skip events.
func NewWriter(c client.Client, recorder EventRecorder) *Writer {
	return &Writer{
		client:    c,
		recorder:  recorder,
		templates: NewMessageTemplateEngine(),
		now:       time.Now,
	}
}

// Templates returns the engine used for messages, for customization.
func (w *Writer) Templates() *MessageTemplateEngine {
	return w.templates
}

// Publish implements Sink.
func (w *Writer) Publish(ctx context.Context, o work.Outcome) error {
	reason, ok := reasonFor(o)
	if !ok {
		return nil
	}
	rec := recordOf(o)
	if rec != nil && rec.Deleted {
		logging.Debug("Status", "Domain %s deleted, no status to write", o.Key)
		return nil
	}

	data := eventData(o, rec)
	message := w.templates.Render(reason, data)
	namespace, name := SplitKey(o.Key)

	domain := &v1alpha1.Domain{}
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if err := w.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, domain); err != nil {
			return err
		}
		w.apply(domain, o, rec, reason, message)
		return w.client.Status().Update(ctx, domain)
	})
	if apierrors.IsNotFound(err) {
		logging.Debug("Status", "Domain %s is gone, dropping status", o.Key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update status of domain %s: %w", o.Key, err)
	}

	if w.recorder != nil {
		w.recorder.Eventf(domain, reason.EventType(), string(reason), "%s", message)
	}
	logging.Debug("Status", "Updated status of %s: %s", o.Key, reason)
	return nil
}

func (w *Writer) apply(domain *v1alpha1.Domain, o work.Outcome, rec *Record, reason Reason, message string) {
	generation := domain.Generation
	if rec != nil {
		if rec.ObservedGeneration != 0 {
			generation = rec.ObservedGeneration
		}
		domain.Status.Clusters = rec.Clusters
	}

	now := metav1.NewTime(w.now())
	domain.Status.ObservedGeneration = generation
	domain.Status.LastReconcileTime = &now

	condition := metav1.Condition{
		Type:               v1alpha1.ConditionReady,
		Reason:             string(reason),
		Message:            message,
		ObservedGeneration: generation,
	}
	if o.State == work.StateCompleted {
		condition.Status = metav1.ConditionTrue
		domain.Status.Message = ""
	} else {
		condition.Status = metav1.ConditionFalse
		domain.Status.Message = SanitizeErrorMessage(o.Err.Error())
	}
	meta.SetStatusCondition(&domain.Status.Conditions, condition)
}

// LogSink publishes outcomes to the log. It is used when domains are read from
// the filesystem and there is no status to write.
type LogSink struct {
	templates *MessageTemplateEngine
}

// NewLogSink creates a log sink.
func NewLogSink() *LogSink {
	return &LogSink{templates: NewMessageTemplateEngine()}
}

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, o work.Outcome) error {
	reason, ok := reasonFor(o)
	if !ok {
		return nil
	}
	rec := recordOf(o)
	if rec != nil && rec.Deleted {
		logging.Info("Status", "Domain %s cleaned up", o.Key)
		return nil
	}

	message := s.templates.Render(reason, eventData(o, rec))
	if reason == ReasonReconcileSucceeded {
		logging.Info("Status", "%s", message)
	} else {
		logging.Warn("Status", "%s", message)
	}
	return nil
}
