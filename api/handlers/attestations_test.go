// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package handlers_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"

	"github.com/tonbridge/relay/api/handlers"
	"github.com/tonbridge/relay/cache"
	"github.com/tonbridge/relay/relay"
	"github.com/tonbridge/relay/store"
)

type AttestationsHandlerTestSuite struct {
	suite.Suite

	ledger *store.Ledger
	sigChn chan interface{}
	cancel context.CancelFunc
	router *mux.Router
}

func TestRunAttestationsHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(AttestationsHandlerTestSuite))
}

func (s *AttestationsHandlerTestSuite) SetupTest() {
	ledger, err := store.NewLedger(filepath.Join(s.T().TempDir(), "ledger.db"))
	s.Nil(err)
	s.ledger = ledger

	s.sigChn = make(chan interface{})
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	attestationCache := cache.NewAttestationCache(ctx, s.sigChn)

	handler := handlers.NewAttestationsHandler(attestationCache, ledger)
	s.router = mux.NewRouter()
	s.router.HandleFunc("/v1/attestations/{eventID}", handler.HandleAttestation).Methods(http.MethodGet)
}

func (s *AttestationsHandlerTestSuite) TearDownTest() {
	s.cancel()
	_ = s.ledger.Close()
}

func (s *AttestationsHandlerTestSuite) seedEvent(state relay.EventState, attestation *relay.Attestation) *relay.BridgeEvent {
	ev := &relay.BridgeEvent{
		EventID:          relay.NewEventID(relay.ChainEthereum, []byte{0x01, 0x02}, 3),
		SourceChain:      relay.ChainEthereum,
		DestinationChain: relay.ChainTon,
		WatchAddress:     "0xbridge",
		SourceTxHash:     []byte{0x01, 0x02},
		LogIndex:         3,
		SourceHeight:     100,
		Payload:          []byte("payload"),
		State:            state,
		Attestation:      attestation,
		DetectedAt:       time.Now(),
	}
	_, err := s.ledger.InsertIfAbsent(ev)
	s.Nil(err)
	return ev
}

func (s *AttestationsHandlerTestSuite) Test_HandleAttestation_ServedFromCache() {
	signature := []byte("signature")
	s.sigChn <- relay.EventAttested{EventID: "0xevent", Signature: signature}
	time.Sleep(time.Millisecond * 100)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attestations/0xevent", nil)

	s.router.ServeHTTP(recorder, req)

	s.Equal(http.StatusOK, recorder.Code)
	var resp handlers.AttestationResponse
	s.Nil(json.Unmarshal(recorder.Body.Bytes(), &resp))
	s.Equal("0xevent", resp.EventID)
	s.Equal(hex.EncodeToString(signature), resp.Signature)
}

func (s *AttestationsHandlerTestSuite) Test_HandleAttestation_FallsBackToLedger() {
	signature := []byte("signature")
	ev := s.seedEvent(relay.StateSigned, &relay.Attestation{Signature: signature})

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attestations/"+ev.EventID, nil)

	s.router.ServeHTTP(recorder, req)

	s.Equal(http.StatusOK, recorder.Code)
	var resp handlers.AttestationResponse
	s.Nil(json.Unmarshal(recorder.Body.Bytes(), &resp))
	s.Equal(hex.EncodeToString(signature), resp.Signature)
}

func (s *AttestationsHandlerTestSuite) Test_HandleAttestation_EventNotSigned() {
	ev := s.seedEvent(relay.StateAwaitingConfirmations, nil)

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attestations/"+ev.EventID, nil)

	s.router.ServeHTTP(recorder, req)

	s.Equal(http.StatusNotFound, recorder.Code)
}

func (s *AttestationsHandlerTestSuite) Test_HandleAttestation_EventNotFound() {
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/attestations/0xmissing", nil)

	s.router.ServeHTTP(recorder, req)

	s.Equal(http.StatusNotFound, recorder.Code)
}
