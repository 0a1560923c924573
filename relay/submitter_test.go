// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/tonbridge/relay/relay"
	mock_relay "github.com/tonbridge/relay/relay/mock"
	"github.com/tonbridge/relay/store"
	"github.com/tonbridge/relay/transport"
	mock_transport "github.com/tonbridge/relay/transport/mock"
)

type SubmitterTestSuite struct {
	suite.Suite

	ledger        *store.Ledger
	mockTransport *mock_transport.MockTransport
	mockAdapter   *mock_relay.MockAdapter

	route     relay.Route
	submitter *relay.Submitter
}

func TestRunSubmitterTestSuite(t *testing.T) {
	suite.Run(t, new(SubmitterTestSuite))
}

func (s *SubmitterTestSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())

	ledger, err := store.NewLedger(filepath.Join(s.T().TempDir(), "ledger.db"))
	s.Nil(err)
	s.ledger = ledger

	s.mockTransport = mock_transport.NewMockTransport(ctrl)
	s.mockAdapter = mock_relay.NewMockAdapter(ctrl)

	s.route = relay.Route{
		SourceChain:      relay.ChainEthereum,
		DestinationChain: relay.ChainTon,
		WatchAddress:     "0xbridge",
		FinalityDepth:    12,
		MaxRetries:       3,
	}
	s.submitter = relay.NewSubmitter(log.With(), s.route, s.mockTransport, s.mockAdapter, s.ledger, newTestMetrics(s.T()), time.Millisecond)
}

func (s *SubmitterTestSuite) TearDownTest() {
	_ = s.ledger.Close()
}

func (s *SubmitterTestSuite) seedEvent(state relay.EventState, attemptCount uint64) *relay.BridgeEvent {
	ev := &relay.BridgeEvent{
		EventID:          relay.NewEventID(relay.ChainEthereum, []byte{0x01}, 1),
		SourceChain:      relay.ChainEthereum,
		DestinationChain: relay.ChainTon,
		WatchAddress:     "0xbridge",
		SourceTxHash:     []byte{0x01},
		LogIndex:         1,
		SourceHeight:     100,
		Payload:          []byte("payload"),
		State:            state,
		Attestation: &relay.Attestation{
			Signature: []byte("signature"),
			SignerID:  []byte("signer"),
		},
		AttemptCount: attemptCount,
	}
	if state == relay.StateSubmitted {
		ev.DestinationTxID = "0xtx"
	}
	_, err := s.ledger.InsertIfAbsent(ev)
	s.Nil(err)
	return ev
}

func (s *SubmitterTestSuite) Test_Sweep_SubmitsSignedEvent() {
	ev := s.seedEvent(relay.StateSigned, 0)

	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil)
	s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("0xtx", nil)

	err := s.submitter.Sweep(context.Background())
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateSubmitted, stored.State)
	s.Equal("0xtx", stored.DestinationTxID)
	s.Equal(uint64(1), stored.AttemptCount)
	s.False(stored.LastAttemptAt.IsZero())
}

func (s *SubmitterTestSuite) Test_Sweep_RetriesTransientRejection() {
	ev := s.seedEvent(relay.StateSigned, 0)

	// transaction parameters are re-derived on every attempt
	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil).Times(3)
	gomock.InOrder(
		s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("", transport.Rejected("nonce too low", false)),
		s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("", transport.Rejected("nonce too low", false)),
		s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("0xtx", nil),
	)

	err := s.submitter.Sweep(context.Background())
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateSubmitted, stored.State)
	s.Equal(uint64(3), stored.AttemptCount)
}

func (s *SubmitterTestSuite) Test_Sweep_PermanentRejectionFails() {
	ev := s.seedEvent(relay.StateSigned, 0)

	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil)
	s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("", transport.Rejected("execution reverted", true))

	err := s.submitter.Sweep(context.Background())
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateFailed, stored.State)
	s.Equal(uint64(1), stored.AttemptCount)
	s.Contains(stored.FailureReason, "execution reverted")
}

func (s *SubmitterTestSuite) Test_Sweep_RetryBudgetExhaustedFails() {
	ev := s.seedEvent(relay.StateSigned, 0)

	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil).Times(3)
	s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("", transport.Unavailable(errors.New("rpc down"))).Times(3)

	err := s.submitter.Sweep(context.Background())
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateFailed, stored.State)
	s.Equal(uint64(3), stored.AttemptCount)
}

func (s *SubmitterTestSuite) Test_Sweep_AlreadyRelayedFinalizes() {
	ev := s.seedEvent(relay.StateSigned, 0)

	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil)
	s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("", transport.ErrAlreadyRelayed)

	err := s.submitter.Sweep(context.Background())
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateFinalized, stored.State)
	s.False(stored.FinalizedAt.IsZero())
}

func (s *SubmitterTestSuite) Test_Sweep_EventsAdvanceIndependently() {
	evA := s.seedEvent(relay.StateSigned, 0)
	evB := &relay.BridgeEvent{
		EventID:          relay.NewEventID(relay.ChainEthereum, []byte{0x03}, 1),
		SourceChain:      relay.ChainEthereum,
		DestinationChain: relay.ChainTon,
		WatchAddress:     "0xbridge",
		SourceTxHash:     []byte{0x03},
		LogIndex:         1,
		SourceHeight:     100,
		Payload:          []byte("payload"),
		State:            relay.StateSigned,
		Attestation: &relay.Attestation{
			Signature: []byte("signature"),
			SignerID:  []byte("signer"),
		},
	}
	_, err := s.ledger.InsertIfAbsent(evB)
	s.Nil(err)

	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil).Times(2)

	// both submissions must be in flight at once; a sweep draining events
	// one after another would never release the barrier
	var barrier sync.WaitGroup
	barrier.Add(2)
	s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).DoAndReturn(func(ctx context.Context, txBytes []byte) (string, error) {
		barrier.Done()
		barrier.Wait()
		return "0xtx", nil
	}).Times(2)

	s.Nil(s.submitter.Sweep(context.Background()))

	for _, id := range []string{evA.EventID, evB.EventID} {
		stored, err := s.ledger.Get(id)
		s.Nil(err)
		s.Equal(relay.StateSubmitted, stored.State)
	}
}

func (s *SubmitterTestSuite) Test_Sweep_MissingAttestationFails() {
	ev := &relay.BridgeEvent{
		EventID:          relay.NewEventID(relay.ChainEthereum, []byte{0x02}, 1),
		SourceChain:      relay.ChainEthereum,
		DestinationChain: relay.ChainTon,
		WatchAddress:     "0xbridge",
		SourceTxHash:     []byte{0x02},
		LogIndex:         1,
		SourceHeight:     100,
		Payload:          []byte("payload"),
		State:            relay.StateSigned,
	}
	_, err := s.ledger.InsertIfAbsent(ev)
	s.Nil(err)

	err = s.submitter.Sweep(context.Background())
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateFailed, stored.State)
}

func (s *SubmitterTestSuite) Test_Sweep_ResumesSubmittingAfterRestart() {
	ev := s.seedEvent(relay.StateSubmitting, 1)

	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil)
	s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).Return("0xtx", nil)

	err := s.submitter.Sweep(context.Background())
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateSubmitted, stored.State)
	s.Equal(uint64(2), stored.AttemptCount)
}

func (s *SubmitterTestSuite) Test_Sweep_ShutdownLeavesEventSubmitting() {
	ev := s.seedEvent(relay.StateSigned, 0)

	ctx, cancel := context.WithCancel(context.Background())
	s.mockAdapter.EXPECT().EncodeSubmission(gomock.Any(), gomock.Any()).Return([]byte("tx"), nil)
	s.mockTransport.EXPECT().Submit(gomock.Any(), []byte("tx")).DoAndReturn(func(ctx context.Context, txBytes []byte) (string, error) {
		cancel()
		return "", transport.Unavailable(errors.New("rpc down"))
	})

	err := s.submitter.Sweep(ctx)
	s.Nil(err)

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateSubmitting, stored.State)
	s.Equal(uint64(1), stored.AttemptCount)
}

func (s *SubmitterTestSuite) Test_Sweep_TracksInclusionToFinality() {
	ev := s.seedEvent(relay.StateSubmitted, 1)

	s.mockTransport.EXPECT().Status(gomock.Any(), "0xtx").Return(transport.TxStatus{Kind: transport.StatusIncluded, IncludedAt: 100}, nil)
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(111), nil)
	s.Nil(s.submitter.Sweep(context.Background()))

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateSubmitted, stored.State)

	s.mockTransport.EXPECT().Status(gomock.Any(), "0xtx").Return(transport.TxStatus{Kind: transport.StatusIncluded, IncludedAt: 100}, nil)
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(112), nil)
	s.Nil(s.submitter.Sweep(context.Background()))

	stored, err = s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateFinalized, stored.State)
}

func (s *SubmitterTestSuite) Test_Sweep_DroppedTransactionConsumesBudget() {
	ev := s.seedEvent(relay.StateSubmitted, 1)

	s.mockTransport.EXPECT().Status(gomock.Any(), "0xtx").Return(transport.TxStatus{Kind: transport.StatusNotFound}, nil)
	s.Nil(s.submitter.Sweep(context.Background()))

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateSubmitted, stored.State)
	s.Equal(uint64(2), stored.AttemptCount)
}

func (s *SubmitterTestSuite) Test_Sweep_DroppedTransactionExhaustsBudget() {
	ev := s.seedEvent(relay.StateSubmitted, 3)

	s.mockTransport.EXPECT().Status(gomock.Any(), "0xtx").Return(transport.TxStatus{Kind: transport.StatusNotFound}, nil)
	s.Nil(s.submitter.Sweep(context.Background()))

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateFailed, stored.State)
}

func (s *SubmitterTestSuite) Test_Sweep_PendingTransactionLeftAlone() {
	ev := s.seedEvent(relay.StateSubmitted, 1)

	s.mockTransport.EXPECT().Status(gomock.Any(), "0xtx").Return(transport.TxStatus{Kind: transport.StatusPending}, nil)
	s.Nil(s.submitter.Sweep(context.Background()))

	stored, err := s.ledger.Get(ev.EventID)
	s.Nil(err)
	s.Equal(relay.StateSubmitted, stored.State)
	s.Equal(uint64(1), stored.AttemptCount)
}
