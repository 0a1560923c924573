package handlers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tonbridge/relay/store"
)

// AttestationFetcher serves recently produced attestations from memory.
type AttestationFetcher interface {
	Attestation(id string) ([]byte, error)
}

type AttestationResponse struct {
	EventID   string `json:"eventId"`
	Signature string `json:"signature"`
}

// AttestationsHandler resolves attestations cache-first and falls back to the
// ledger for events whose cache entry has expired.
type AttestationsHandler struct {
	cache  AttestationFetcher
	ledger EventStore
}

func NewAttestationsHandler(cache AttestationFetcher, ledger EventStore) *AttestationsHandler {
	return &AttestationsHandler{
		cache:  cache,
		ledger: ledger,
	}
}

func (h *AttestationsHandler) HandleAttestation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["eventID"]

	sig, err := h.cache.Attestation(id)
	if err != nil {
		ev, err := h.ledger.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrEventNotFound) {
				JSONError(w, err, http.StatusNotFound)
				return
			}
			JSONError(w, err, http.StatusInternalServerError)
			return
		}
		if ev.Attestation == nil {
			JSONError(w, errors.New("event is not signed yet"), http.StatusNotFound)
			return
		}
		sig = ev.Attestation.Signature
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(&AttestationResponse{
		EventID:   id,
		Signature: hex.EncodeToString(sig),
	})
}
