package api

import (
	"net/http"
)

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.outbox.Stats(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	rep, err := h.outbox.Sweep(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rep)
}
