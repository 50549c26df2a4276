package status

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

// Reason is the reason of a Ready condition and of the matching event.
type Reason string

const (
	// ReasonReconcileSucceeded means the chain completed.
	ReasonReconcileSucceeded Reason = "ReconcileSucceeded"

	// ReasonReconcileFailed means the chain failed without being retried.
	ReasonReconcileFailed Reason = "ReconcileFailed"

	// ReasonRetriesExhausted means the chain failed after its last allowed attempt.
	ReasonRetriesExhausted Reason = "RetriesExhausted"
)

// EventType returns the Kubernetes event type for r.
func (r Reason) EventType() string {
	if r == ReasonReconcileSucceeded {
		return "Normal"
	}
	return "Warning"
}

// EventData is the data available to message templates.
type EventData struct {
	Name      string
	Namespace string
	Error     string
	Attempts  int
	Clusters  int
	Failed    int
	Duration  time.Duration
}

var defaultTemplates = map[Reason]string{
	ReasonReconcileSucceeded: `Domain {{.Name}} reconciled{{if .Clusters}} with {{.Clusters}} cluster(s){{end}} in {{.Duration}}`,
	ReasonReconcileFailed:    `Domain {{.Name}} reconciliation failed{{if .Failed}} for {{.Failed}} cluster(s){{end}}: {{.Error | trunc 512}}`,
	ReasonRetriesExhausted:   `Domain {{.Name}} not reconciled after {{.Attempts}} {{if eq .Attempts 1}}attempt{{else}}attempts{{end}}: {{.Error | trunc 512}}`,
}

// MessageTemplateEngine renders event and condition messages.
type MessageTemplateEngine struct {
	mu        sync.RWMutex
	templates map[Reason]*template.Template
}

// NewMessageTemplateEngine creates a new message template engine with default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	e := &MessageTemplateEngine{
		templates: make(map[Reason]*template.Template),
	}
	for reason, text := range defaultTemplates {
		if err := e.SetTemplate(reason, text); err != nil {
			panic(fmt.Sprintf("default template for %s: %v", reason, err))
		}
	}
	return e
}

// SetTemplate replaces the template for reason. Templates use text/template
// syntax with the sprig function library.
func (e *MessageTemplateEngine) SetTemplate(reason Reason, text string) error {
	t, err := template.New(string(reason)).Funcs(sprig.TxtFuncMap()).Option("missingkey=zero").Parse(text)
	if err != nil {
		return fmt.Errorf("parsing template for %s: %w", reason, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[reason] = t
	return nil
}

// Render generates a message for the given reason and data.
func (e *MessageTemplateEngine) Render(reason Reason, data EventData) string {
	e.mu.RLock()
	t, exists := e.templates[reason]
	e.mu.RUnlock()

	if !exists {
		return fmt.Sprintf("Event: %s for %s/%s", reason, data.Namespace, data.Name)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fmt.Sprintf("Event: %s for %s/%s (rendering failed: %v)", reason, data.Namespace, data.Name, err)
	}
	return buf.String()
}
