package api

// ---------------------------------------------------------------------------
// Automation requests
// ---------------------------------------------------------------------------

// AutomationForgeRequest binds the header and body for POST /automation.
type AutomationForgeRequest struct {
	Secret         string `description:"Shared webhook secret"         header:"X-GHL-Webhook-Secret"`
	IdempotencyKey string `description:"Fallback idempotency key"      header:"Idempotency-Key"`

	AutomationRequest
}

// AutomationHealthForgeRequest is empty: GET /automation has no parameters.
type AutomationHealthForgeRequest struct{}

// ---------------------------------------------------------------------------
// Opt-out requests
// ---------------------------------------------------------------------------

// OptOutForgeRequest binds the body for POST /sms/opt-out.
type OptOutForgeRequest struct {
	From      string `description:"Sender phone number"       json:"from"`
	Body      string `description:"Message text"              json:"body"`
	MessageID string `description:"Provider message identifier" json:"messageId,omitempty"`
}

// HealthForgeRequest is empty: GET /health has no parameters.
type HealthForgeRequest struct{}

// ---------------------------------------------------------------------------
// Admin requests
// ---------------------------------------------------------------------------

// AdminForgeRequest carries the credential every admin route requires.
type AdminForgeRequest struct {
	Secret string `description:"Shared webhook secret" header:"X-GHL-Webhook-Secret"`
}

// ListRecordsForgeRequest binds query parameters for GET /outbox/events.
type ListRecordsForgeRequest struct {
	AdminForgeRequest

	Status string `description:"Filter by status"                query:"status"`
	Action string `description:"Filter by action"                query:"action"`
	From   string `description:"Created at or after (RFC3339)"  query:"from"`
	To     string `description:"Created at or before (RFC3339)" query:"to"`
	Offset int    `description:"Pagination offset"               query:"offset"`
	Limit  int    `description:"Page size (default 50)"          query:"limit"`
}

// GetRecordForgeRequest binds the path for GET /outbox/events/:eventId.
type GetRecordForgeRequest struct {
	AdminForgeRequest

	EventID string `description:"Event identifier" path:"eventId"`
}

// ListDLQForgeRequest binds query parameters for GET /outbox/dlq.
type ListDLQForgeRequest struct {
	AdminForgeRequest

	Action string `description:"Filter by action"            query:"action"`
	From   string `description:"Created at or after (RFC3339)"  query:"from"`
	To     string `description:"Created at or before (RFC3339)" query:"to"`
	Offset int    `description:"Pagination offset"           query:"offset"`
	Limit  int    `description:"Page size (default 50)"      query:"limit"`
}

// DLQEntryForgeRequest binds the path for the /outbox/dlq/:eventId routes.
type DLQEntryForgeRequest struct {
	AdminForgeRequest

	EventID string `description:"Dead record identifier" path:"eventId"`
}

// ReplayBulkDLQForgeRequest binds the body for POST /outbox/dlq/replay.
type ReplayBulkDLQForgeRequest struct {
	AdminForgeRequest

	From string `description:"Start time (RFC3339)" json:"from"`
	To   string `description:"End time (RFC3339)"   json:"to"`
}

// ReplayBulkForgeResponse is the response for POST /outbox/dlq/replay.
type ReplayBulkForgeResponse struct {
	Replayed int64 `json:"replayed"`
}
