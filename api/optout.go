package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/graniteshield/outbox"
	"github.com/graniteshield/outbox/internal/phone"
	"github.com/graniteshield/outbox/optout"
)

// OptOutResponse reports how an inbound SMS was handled.
type OptOutResponse struct {
	Status          string      `json:"status"`
	Reason          string      `json:"reason,omitempty"`
	Action          optout.Kind `json:"action,omitempty"`
	Phone           string      `json:"phone,omitempty"`
	ResponseMessage string      `json:"responseMessage,omitempty"`
	EventID         string      `json:"eventId,omitempty"`
}

func (h *Handler) optOut(w http.ResponseWriter, r *http.Request) {
	var in optout.Inbound
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, status, err := inbound(r.Context(), h.outbox, in)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, status, resp)
}

// inbound is shared by the net/http and Forge routes.
func inbound(ctx context.Context, o *outbox.Outbox, in optout.Inbound) (*OptOutResponse, int, error) {
	if in.From == "" || in.Body == "" {
		return nil, http.StatusBadRequest, errors.New("missing from or body")
	}
	if optout.DetectKeyword(in.Body) == optout.KindNone {
		return &OptOutResponse{Status: "ignored", Reason: "not_a_keyword"}, http.StatusOK, nil
	}

	reply, rec, err := o.HandleInbound(ctx, in)
	switch {
	case errors.Is(err, phone.ErrInvalid):
		return nil, http.StatusBadRequest, err
	case err != nil && reply.Kind == optout.KindNone:
		return nil, http.StatusInternalServerError, err
	}

	resp := &OptOutResponse{
		Status:          "processed",
		Action:          reply.Kind,
		Phone:           reply.Phone,
		ResponseMessage: reply.Message,
	}
	if rec != nil {
		resp.EventID = rec.ID.String()
	}
	// The registry is updated even when the reply could not be queued.
	if err != nil {
		resp.Reason = err.Error()
	}
	return resp, http.StatusOK, nil
}
