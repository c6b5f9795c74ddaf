// Package scope carries the CRM workflow context of an inbound webhook on the
// request context, so records created while serving it are stamped with the
// contact, opportunity and workflow that triggered them.
package scope

import (
	"context"
	"time"
)

// Metadata keys stamped on records.
const (
	KeyContactID     = "contact_id"
	KeyOpportunityID = "opportunity_id"
	KeyPipelineID    = "pipeline_id"
	KeyStageID       = "stage_id"
	KeyWorkflowName  = "workflow_name"
	KeyLocationID    = "location_id"
	KeyTriggeredAt   = "triggered_at"
	KeyRequestID     = "request_id"
)

// Source describes what triggered the current request.
type Source struct {
	ContactID     string
	OpportunityID string
	PipelineID    string
	StageID       string
	WorkflowName  string
	LocationID    string
	TriggeredAt   time.Time
	RequestID     string
}

// Metadata flattens the source into record metadata, skipping empty values.
func (s Source) Metadata() map[string]string {
	m := make(map[string]string, 8)
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put(KeyContactID, s.ContactID)
	put(KeyOpportunityID, s.OpportunityID)
	put(KeyPipelineID, s.PipelineID)
	put(KeyStageID, s.StageID)
	put(KeyWorkflowName, s.WorkflowName)
	put(KeyLocationID, s.LocationID)
	put(KeyRequestID, s.RequestID)
	if !s.TriggeredAt.IsZero() {
		m[KeyTriggeredAt] = s.TriggeredAt.UTC().Format(time.RFC3339)
	}
	return m
}

type ctxKey struct{}

// WithSource returns a copy of ctx carrying s.
func WithSource(ctx context.Context, s Source) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// Capture extracts the source from the context.
// Returns the zero Source when the context carries none.
func Capture(ctx context.Context) Source {
	s, _ := ctx.Value(ctxKey{}).(Source)
	return s
}

// Stamp merges the context's source into metadata. Keys already present in
// md win.
func Stamp(ctx context.Context, md map[string]string) map[string]string {
	src := Capture(ctx).Metadata()
	if len(src) == 0 {
		return md
	}
	out := make(map[string]string, len(md)+len(src))
	for k, v := range src {
		out[k] = v
	}
	for k, v := range md {
		out[k] = v
	}
	return out
}
