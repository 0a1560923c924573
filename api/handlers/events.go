package handlers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tonbridge/relay/relay"
	"github.com/tonbridge/relay/store"
)

// EventStore is the ledger surface the API needs.
type EventStore interface {
	Get(id string) (*relay.BridgeEvent, error)
	ScanByState(state relay.EventState) ([]*relay.BridgeEvent, error)
	RetryFailed(id string) error
}

// EventView is the wire representation of a ledger entry.
type EventView struct {
	EventID          string `json:"eventId"`
	SourceChain      string `json:"sourceChain"`
	DestinationChain string `json:"destinationChain"`
	WatchAddress     string `json:"watchAddress"`
	SourceTxHash     string `json:"sourceTxHash"`
	LogIndex         uint64 `json:"logIndex"`
	SourceHeight     uint64 `json:"sourceHeight"`
	State            string `json:"state"`
	FailureReason    string `json:"failureReason,omitempty"`
	Payload          string `json:"payload"`
	Signature        string `json:"signature,omitempty"`
	SignerID         string `json:"signerId,omitempty"`
	DestinationTxID  string `json:"destinationTxId,omitempty"`
	AttemptCount     uint64 `json:"attemptCount"`
	LastAttemptAt    string `json:"lastAttemptAt,omitempty"`
	DetectedAt       string `json:"detectedAt"`
}

func NewEventView(ev *relay.BridgeEvent) *EventView {
	view := &EventView{
		EventID:          ev.EventID,
		SourceChain:      string(ev.SourceChain),
		DestinationChain: string(ev.DestinationChain),
		WatchAddress:     ev.WatchAddress,
		SourceTxHash:     hex.EncodeToString(ev.SourceTxHash),
		LogIndex:         ev.LogIndex,
		SourceHeight:     ev.SourceHeight,
		State:            string(ev.State),
		FailureReason:    ev.FailureReason,
		Payload:          hex.EncodeToString(ev.Payload),
		DestinationTxID:  ev.DestinationTxID,
		AttemptCount:     ev.AttemptCount,
		DetectedAt:       ev.DetectedAt.Format(time.RFC3339),
	}
	if ev.Attestation != nil {
		view.Signature = hex.EncodeToString(ev.Attestation.Signature)
		view.SignerID = hex.EncodeToString(ev.Attestation.SignerID)
	}
	if !ev.LastAttemptAt.IsZero() {
		view.LastAttemptAt = ev.LastAttemptAt.Format(time.RFC3339)
	}
	return view
}

type EventsHandler struct {
	ledger     EventStore
	allowRetry bool
}

func NewEventsHandler(ledger EventStore, allowRetry bool) *EventsHandler {
	return &EventsHandler{
		ledger:     ledger,
		allowRetry: allowRetry,
	}
}

// HandleEvent returns the ledger entry for one event ID.
func (h *EventsHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ev, err := h.ledger.Get(vars["eventID"])
	if err != nil {
		if errors.Is(err, store.ErrEventNotFound) {
			JSONError(w, err, http.StatusNotFound)
			return
		}
		JSONError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(NewEventView(ev))
}

// HandleEvents lists ledger entries, optionally filtered by state through
// the 'state' query parameter.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	states := relay.EventStates
	if stateParam := r.URL.Query().Get("state"); stateParam != "" {
		state := relay.EventState(stateParam)
		if !validState(state) {
			JSONError(w, fmt.Errorf("unknown state %s", stateParam), http.StatusBadRequest)
			return
		}
		states = []relay.EventState{state}
	}

	views := make([]*EventView, 0)
	for _, state := range states {
		events, err := h.ledger.ScanByState(state)
		if err != nil {
			JSONError(w, err, http.StatusInternalServerError)
			return
		}
		for _, ev := range events {
			views = append(views, NewEventView(ev))
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(views)
}

// HandleRetry moves a Failed event back to Signed so the submitter picks it
// up again. Disabled unless manual recovery is enabled in configuration.
func (h *EventsHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if !h.allowRetry {
		JSONError(w, errors.New("manual retry is disabled"), http.StatusForbidden)
		return
	}

	vars := mux.Vars(r)
	err := h.ledger.RetryFailed(vars["eventID"])
	if err != nil {
		switch {
		case errors.Is(err, store.ErrEventNotFound):
			JSONError(w, err, http.StatusNotFound)
		case errors.Is(err, store.ErrNotRetryable):
			JSONError(w, err, http.StatusConflict)
		default:
			JSONError(w, err, http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func validState(state relay.EventState) bool {
	for _, s := range relay.EventStates {
		if s == state {
			return true
		}
	}
	return false
}
