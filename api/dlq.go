package api

import (
	"net/http"
	"time"

	"github.com/graniteshield/outbox/dlq"
	"github.com/graniteshield/outbox/id"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	filter, err := queryFilter(r).opts()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.outbox.DLQ().List(r.Context(), dlq.ListOpts{
		Offset: filter.Offset,
		Limit:  filter.Limit,
		Action: filter.Action,
		From:   filter.From,
		To:     filter.To,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) getDLQ(w http.ResponseWriter, r *http.Request) {
	recID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	entry, err := h.outbox.DLQ().Get(r.Context(), recID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) replayDLQ(w http.ResponseWriter, r *http.Request) {
	recID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	rec, err := h.outbox.DLQ().Replay(r.Context(), recID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, rec)
}

type replayBulkRequest struct {
	From string `json:"from"` // RFC3339
	To   string `json:"to"`   // RFC3339
}

func (h *Handler) replayBulkDLQ(w http.ResponseWriter, r *http.Request) {
	var req replayBulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' time format (use RFC3339)")
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'to' time format (use RFC3339)")
		return
	}

	count, err := h.outbox.DLQ().ReplayBulk(r.Context(), from, to)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"replayed": count})
}
