package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTemplateEngine_Render(t *testing.T) {
	e := NewMessageTemplateEngine()

	tests := []struct {
		name   string
		reason Reason
		data   EventData
		want   string
	}{
		{
			name:   "succeeded with clusters",
			reason: ReasonReconcileSucceeded,
			data:   EventData{Name: "sales", Clusters: 2, Duration: 1500 * time.Millisecond},
			want:   "Domain sales reconciled with 2 cluster(s) in 1.5s",
		},
		{
			name:   "succeeded without clusters",
			reason: ReasonReconcileSucceeded,
			data:   EventData{Name: "sales", Duration: time.Second},
			want:   "Domain sales reconciled in 1s",
		},
		{
			name:   "failed",
			reason: ReasonReconcileFailed,
			data:   EventData{Name: "sales", Failed: 1, Error: "forbidden"},
			want:   "Domain sales reconciliation failed for 1 cluster(s): forbidden",
		},
		{
			name:   "exhausted single attempt",
			reason: ReasonRetriesExhausted,
			data:   EventData{Name: "sales", Attempts: 1, Error: "conflict"},
			want:   "Domain sales not reconciled after 1 attempt: conflict",
		},
		{
			name:   "exhausted",
			reason: ReasonRetriesExhausted,
			data:   EventData{Name: "sales", Attempts: 5, Error: "conflict"},
			want:   "Domain sales not reconciled after 5 attempts: conflict",
		},
		{
			name:   "unknown reason",
			reason: Reason("Other"),
			data:   EventData{Name: "sales", Namespace: "apps"},
			want:   "Event: Other for apps/sales",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Render(tt.reason, tt.data))
		})
	}
}

func TestMessageTemplateEngine_SetTemplate(t *testing.T) {
	e := NewMessageTemplateEngine()

	require.NoError(t, e.SetTemplate(ReasonReconcileFailed, `{{.Name | upper}}: {{.Error | default "unknown"}}`))
	assert.Equal(t, "SALES: unknown", e.Render(ReasonReconcileFailed, EventData{Name: "sales"}))

	assert.Error(t, e.SetTemplate(ReasonReconcileFailed, `{{.Name`))
}

func TestReason_EventType(t *testing.T) {
	assert.Equal(t, "Normal", ReasonReconcileSucceeded.EventType())
	assert.Equal(t, "Warning", ReasonReconcileFailed.EventType())
	assert.Equal(t, "Warning", ReasonRetriesExhausted.EventType())
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "a b c", SanitizeErrorMessage("  a\n\tb   c \n"))
	assert.Equal(t, "auth failed: Bearer [REDACTED] rejected", SanitizeErrorMessage("auth failed: Bearer abc.def rejected"))
	assert.Equal(t, "password=[REDACTED]", SanitizeErrorMessage("password=hunter2"))

	long := SanitizeErrorMessage(stringOf('x', 2000))
	assert.Len(t, long, maxMessageLength)
	assert.Equal(t, "...", long[len(long)-3:])
}

func stringOf(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}
