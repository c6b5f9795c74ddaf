package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/graniteshield/outbox/event"
	"github.com/graniteshield/outbox/id"
)

// listFilter is the raw form of the record list filters.
type listFilter struct {
	Status, Action, From, To string
	Offset, Limit            int
}

func queryFilter(r *http.Request) listFilter {
	return listFilter{
		Status: queryParam(r, "status"),
		Action: queryParam(r, "action"),
		From:   queryParam(r, "from"),
		To:     queryParam(r, "to"),
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
}

// opts validates the filter. Errors are meant for the client.
func (f listFilter) opts() (event.ListOpts, error) {
	opts := event.ListOpts{Offset: f.Offset, Limit: f.Limit}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if f.Status != "" {
		opts.Status = event.Status(f.Status)
		if !opts.Status.Valid() {
			return opts, fmt.Errorf("invalid status %q", f.Status)
		}
	}
	if f.Action != "" {
		a, err := event.ParseAction(f.Action)
		if err != nil {
			return opts, err
		}
		opts.Action = a
	}
	var err error
	if opts.From, err = parseTime("from", f.From); err != nil {
		return opts, err
	}
	if opts.To, err = parseTime("to", f.To); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseTime(name, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid '%s' time format (use RFC3339)", name)
	}
	return &t, nil
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	opts, err := queryFilter(r).opts()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := h.outbox.Records(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	recID, err := id.ParseEventID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	rec, err := h.outbox.Record(r.Context(), recID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}
