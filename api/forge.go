package api

import (
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/dlq"
	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
	"github.com/graniteshield/outbox/optout"
	"github.com/graniteshield/outbox/scheduler"
	"github.com/graniteshield/outbox/scope"
)

// ForgeAPI wires all Forge-style HTTP handlers together.
type ForgeAPI struct {
	outbox *outbox.Outbox
	log    forge.Logger
}

// NewForgeAPI creates a ForgeAPI serving o.
func NewForgeAPI(o *outbox.Outbox, log forge.Logger) *ForgeAPI {
	return &ForgeAPI{
		outbox: o,
		log:    log,
	}
}

// RegisterRoutes registers all outbox routes into the given Forge router
// with full OpenAPI metadata.
func (a *ForgeAPI) RegisterRoutes(router forge.Router) {
	a.registerAutomationRoutes(router)
	a.registerRecordRoutes(router)
	a.registerDLQRoutes(router)
	a.registerOpsRoutes(router)
}

// ---------------------------------------------------------------------------
// Webhook routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerAutomationRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("automation"))

	if err := g.POST("/automation", a.automation,
		forge.WithSummary("Receive workflow webhook"),
		forge.WithDescription("Validates a CRM workflow action and hands it to the outbox."),
		forge.WithOperationID("receiveAutomation"),
		forge.WithRequestSchema(AutomationForgeRequest{}),
		forge.WithResponseSchema(http.StatusAccepted, "Action accepted", AutomationResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register receiveAutomation route", forge.Error(err))
	}

	if err := g.GET("/automation", a.automationHealth,
		forge.WithSummary("Webhook health"),
		forge.WithDescription("Lists the actions the webhook accepts."),
		forge.WithOperationID("automationHealth"),
		forge.WithResponseSchema(http.StatusOK, "Webhook health", AutomationHealth{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register automationHealth route", forge.Error(err))
	}

	if err := g.POST("/sms/opt-out", a.optOut,
		forge.WithSummary("Inbound SMS keyword"),
		forge.WithDescription("Applies STOP, HELP and START keywords and queues the compliance reply."),
		forge.WithOperationID("smsOptOut"),
		forge.WithRequestSchema(OptOutForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Keyword result", OptOutResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register smsOptOut route", forge.Error(err))
	}
}

func (a *ForgeAPI) automation(ctx forge.Context, req *AutomationForgeRequest) (*AutomationResponse, error) {
	requestID := newRequestID()

	if err := a.outbox.Authorize(req.Secret); err != nil {
		return nil, mapError(err)
	}

	draft, src, err := req.draft(req.IdempotencyKey, requestID)
	if err != nil {
		return nil, mapError(err)
	}

	c := scope.WithSource(ctx.Context(), src)
	rec, created, err := a.outbox.Enqueue(c, draft)
	if err != nil {
		return nil, mapError(err)
	}

	resp := acceptedResponse(rec, created, requestID)
	if err := ctx.JSON(http.StatusAccepted, resp); err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) automationHealth(_ forge.Context, _ *AutomationHealthForgeRequest) (*AutomationHealth, error) {
	h := automationHealth()
	return &h, nil
}

func (a *ForgeAPI) optOut(ctx forge.Context, req *OptOutForgeRequest) (*OptOutResponse, error) {
	resp, status, err := inbound(ctx.Context(), a.outbox, optout.Inbound{
		From:      req.From,
		Body:      req.Body,
		MessageID: req.MessageID,
	})
	if err != nil {
		if status == http.StatusBadRequest {
			return nil, forge.BadRequest(err.Error())
		}
		return nil, forge.InternalError(err)
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Record routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerRecordRoutes(router forge.Router) {
	g := router.Group("/outbox", forge.WithGroupTags("events"))

	if err := g.GET("/events", a.listRecords,
		forge.WithSummary("List records"),
		forge.WithDescription("Returns outbox records, newest first, filtered by status, action and creation time."),
		forge.WithOperationID("listRecords"),
		forge.WithRequestSchema(ListRecordsForgeRequest{}),
		forge.WithListResponse(event.Record{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listRecords route", forge.Error(err))
	}

	if err := g.GET("/events/:eventId", a.getRecord,
		forge.WithSummary("Get record"),
		forge.WithDescription("Returns a single outbox record with its attempt state."),
		forge.WithOperationID("getRecord"),
		forge.WithResponseSchema(http.StatusOK, "Record details", event.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getRecord route", forge.Error(err))
	}
}

func (a *ForgeAPI) listRecords(ctx forge.Context, req *ListRecordsForgeRequest) ([]*event.Record, error) {
	if err := a.authorize(req.AdminForgeRequest); err != nil {
		return nil, err
	}

	opts, err := listFilter{
		Status: req.Status, Action: req.Action, From: req.From, To: req.To,
		Offset: req.Offset, Limit: req.Limit,
	}.opts()
	if err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	recs, err := a.outbox.Records(ctx.Context(), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return recs, nil
}

func (a *ForgeAPI) getRecord(ctx forge.Context, req *GetRecordForgeRequest) (*event.Record, error) {
	if err := a.authorize(req.AdminForgeRequest); err != nil {
		return nil, err
	}

	recID, err := id.ParseEventID(req.EventID)
	if err != nil {
		return nil, forge.BadRequest("invalid event ID")
	}

	rec, err := a.outbox.Record(ctx.Context(), recID)
	if err != nil {
		return nil, mapError(err)
	}

	return rec, nil
}

// ---------------------------------------------------------------------------
// DLQ routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerDLQRoutes(router forge.Router) {
	g := router.Group("/outbox", forge.WithGroupTags("dlq"))

	if err := g.GET("/dlq", a.listDLQ,
		forge.WithSummary("List DLQ entries"),
		forge.WithDescription("Returns dead-lettered records, optionally filtered by action."),
		forge.WithOperationID("listDLQ"),
		forge.WithRequestSchema(ListDLQForgeRequest{}),
		forge.WithListResponse(dlq.Entry{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listDLQ route", forge.Error(err))
	}

	if err := g.GET("/dlq/:eventId", a.getDLQ,
		forge.WithSummary("Get DLQ entry"),
		forge.WithDescription("Returns a dead-lettered record and the replay created from it, if any."),
		forge.WithOperationID("getDLQ"),
		forge.WithResponseSchema(http.StatusOK, "DLQ entry", dlq.Entry{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getDLQ route", forge.Error(err))
	}

	if err := g.POST("/dlq/:eventId/replay", a.replayDLQ,
		forge.WithSummary("Replay DLQ entry"),
		forge.WithDescription("Creates a fresh record from a dead-lettered one and dispatches it."),
		forge.WithOperationID("replayDLQ"),
		forge.WithResponseSchema(http.StatusAccepted, "Replay record", event.Record{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register replayDLQ route", forge.Error(err))
	}

	if err := g.POST("/dlq/replay", a.replayBulkDLQ,
		forge.WithSummary("Bulk replay DLQ"),
		forge.WithDescription("Replays dead-lettered records that failed within a time range."),
		forge.WithOperationID("replayBulkDLQ"),
		forge.WithRequestSchema(ReplayBulkDLQForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Replay result", ReplayBulkForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register replayBulkDLQ route", forge.Error(err))
	}
}

func (a *ForgeAPI) listDLQ(ctx forge.Context, req *ListDLQForgeRequest) ([]*dlq.Entry, error) {
	if err := a.authorize(req.AdminForgeRequest); err != nil {
		return nil, err
	}

	filter, err := listFilter{
		Action: req.Action, From: req.From, To: req.To,
		Offset: req.Offset, Limit: req.Limit,
	}.opts()
	if err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	entries, err := a.outbox.DLQ().List(ctx.Context(), dlq.ListOpts{
		Offset: filter.Offset,
		Limit:  filter.Limit,
		Action: filter.Action,
		From:   filter.From,
		To:     filter.To,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return entries, nil
}

func (a *ForgeAPI) getDLQ(ctx forge.Context, req *DLQEntryForgeRequest) (*dlq.Entry, error) {
	if err := a.authorize(req.AdminForgeRequest); err != nil {
		return nil, err
	}

	recID, err := id.ParseEventID(req.EventID)
	if err != nil {
		return nil, forge.BadRequest("invalid event ID")
	}

	entry, err := a.outbox.DLQ().Get(ctx.Context(), recID)
	if err != nil {
		return nil, mapError(err)
	}

	return entry, nil
}

func (a *ForgeAPI) replayDLQ(ctx forge.Context, req *DLQEntryForgeRequest) (*event.Record, error) {
	if err := a.authorize(req.AdminForgeRequest); err != nil {
		return nil, err
	}

	recID, err := id.ParseEventID(req.EventID)
	if err != nil {
		return nil, forge.BadRequest("invalid event ID")
	}

	rec, err := a.outbox.DLQ().Replay(ctx.Context(), recID)
	if err != nil {
		return nil, mapError(err)
	}

	if err := ctx.JSON(http.StatusAccepted, rec); err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) replayBulkDLQ(ctx forge.Context, req *ReplayBulkDLQForgeRequest) (*ReplayBulkForgeResponse, error) {
	if err := a.authorize(req.AdminForgeRequest); err != nil {
		return nil, err
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		return nil, forge.BadRequest("invalid 'from' time format (use RFC3339)")
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		return nil, forge.BadRequest("invalid 'to' time format (use RFC3339)")
	}

	count, err := a.outbox.DLQ().ReplayBulk(ctx.Context(), from, to)
	if err != nil {
		return nil, mapError(err)
	}

	return &ReplayBulkForgeResponse{Replayed: count}, nil
}

// ---------------------------------------------------------------------------
// Operations routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerOpsRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("operations"))

	if err := g.GET("/health", a.health,
		forge.WithSummary("Service health"),
		forge.WithDescription("Reports provider configuration and store reachability."),
		forge.WithOperationID("health"),
		forge.WithResponseSchema(http.StatusOK, "Health report", HealthResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register health route", forge.Error(err))
	}

	if err := g.POST("/outbox/sweep", a.sweep,
		forge.WithSummary("Run retry sweep"),
		forge.WithDescription("Re-dispatches due retryable records once. Intended for cron triggers."),
		forge.WithOperationID("sweep"),
		forge.WithRequestSchema(AdminForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Sweep report", scheduler.Report{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register sweep route", forge.Error(err))
	}

	if err := g.GET("/outbox/stats", a.getStats,
		forge.WithSummary("Outbox statistics"),
		forge.WithDescription("Returns record counts by status, the DLQ size and the queue depth."),
		forge.WithOperationID("getStats"),
		forge.WithRequestSchema(AdminForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Outbox statistics", outbox.Stats{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getStats route", forge.Error(err))
	}
}

func (a *ForgeAPI) health(ctx forge.Context, _ *HealthForgeRequest) (*HealthResponse, error) {
	h := health(ctx.Context(), a.outbox)
	return &h, nil
}

func (a *ForgeAPI) sweep(ctx forge.Context, req *AdminForgeRequest) (*scheduler.Report, error) {
	if err := a.authorize(*req); err != nil {
		return nil, err
	}

	rep, err := a.outbox.Sweep(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	return &rep, nil
}

func (a *ForgeAPI) getStats(ctx forge.Context, req *AdminForgeRequest) (*outbox.Stats, error) {
	if err := a.authorize(*req); err != nil {
		return nil, err
	}

	st, err := a.outbox.Stats(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	return &st, nil
}

func (a *ForgeAPI) authorize(req AdminForgeRequest) error {
	if err := a.outbox.Authorize(req.Secret); err != nil {
		return mapError(err)
	}
	return nil
}
