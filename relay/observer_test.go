// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel"
	"go.uber.org/mock/gomock"

	"github.com/tonbridge/relay/metrics"
	"github.com/tonbridge/relay/relay"
	mock_relay "github.com/tonbridge/relay/relay/mock"
	"github.com/tonbridge/relay/store"
	"github.com/tonbridge/relay/transport"
	mock_transport "github.com/tonbridge/relay/transport/mock"
)

func newTestMetrics(t *testing.T) *metrics.RelayMetrics {
	m, err := metrics.NewRelayMetrics(otel.GetMeterProvider().Meter("test"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

type ObserverTestSuite struct {
	suite.Suite

	ledger        *store.Ledger
	mockTransport *mock_transport.MockTransport
	mockAdapter   *mock_relay.MockAdapter

	route    relay.Route
	observer *relay.Observer
}

func TestRunObserverTestSuite(t *testing.T) {
	suite.Run(t, new(ObserverTestSuite))
}

func (s *ObserverTestSuite) SetupTest() {
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
		WindowSize:       100,
		StartHeight:      50,
	}
	s.observer = relay.NewObserver(log.With(), s.route, s.mockTransport, s.mockAdapter, s.ledger, newTestMetrics(s.T()))
}

func (s *ObserverTestSuite) TearDownTest() {
	_ = s.ledger.Close()
}

func (s *ObserverTestSuite) Test_Poll_IngestsAndPromotes() {
	raw := transport.RawEvent{
		TxHash:  []byte{0xaa},
		Index:   1,
		Height:  60,
		Address: "0xbridge",
		Data:    []byte("raw"),
	}
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(100), nil)
	s.mockTransport.EXPECT().FetchEvents(gomock.Any(), "0xbridge", uint64(50), uint64(101)).Return([]transport.RawEvent{raw}, nil)
	s.mockAdapter.EXPECT().Decode(raw).Return([]byte("payload"), nil)

	err := s.observer.Poll(context.Background())
	s.Nil(err)

	pos, err := s.ledger.Watermark(relay.ChainEthereum, "0xbridge")
	s.Nil(err)
	s.Equal(uint64(101), pos)

	events, err := s.ledger.ScanByState(relay.StateAwaitingConfirmations)
	s.Nil(err)
	s.Len(events, 1)
	s.Equal(relay.NewEventID(relay.ChainEthereum, raw.TxHash, raw.Index), events[0].EventID)
	s.Equal([]byte("payload"), events[0].Payload)
	s.Equal(uint64(60), events[0].SourceHeight)
}

func (s *ObserverTestSuite) Test_Poll_WindowCapped() {
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(1000), nil)
	s.mockTransport.EXPECT().FetchEvents(gomock.Any(), "0xbridge", uint64(50), uint64(150)).Return([]transport.RawEvent{}, nil)

	err := s.observer.Poll(context.Background())
	s.Nil(err)

	pos, err := s.ledger.Watermark(relay.ChainEthereum, "0xbridge")
	s.Nil(err)
	s.Equal(uint64(150), pos)
}

func (s *ObserverTestSuite) Test_Poll_HeadBelowWatermark() {
	s.Nil(s.ledger.AdvanceWatermark(relay.ChainEthereum, "0xbridge", 200))
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(100), nil)

	err := s.observer.Poll(context.Background())
	s.Nil(err)

	pos, err := s.ledger.Watermark(relay.ChainEthereum, "0xbridge")
	s.Nil(err)
	s.Equal(uint64(200), pos)
}

func (s *ObserverTestSuite) Test_Poll_TransportFailureLeavesWatermark() {
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(100), nil)
	s.mockTransport.EXPECT().FetchEvents(gomock.Any(), "0xbridge", uint64(50), uint64(101)).Return(nil, transport.Unavailable(errors.New("rpc down")))

	err := s.observer.Poll(context.Background())
	s.NotNil(err)

	pos, err := s.ledger.Watermark(relay.ChainEthereum, "0xbridge")
	s.Nil(err)
	s.Equal(uint64(50), pos)
}

func (s *ObserverTestSuite) Test_Poll_DeduplicatesRedeliveredEvents() {
	raw := transport.RawEvent{
		TxHash:  []byte{0xaa},
		Index:   1,
		Height:  60,
		Address: "0xbridge",
		Data:    []byte("raw"),
	}
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(100), nil)
	s.mockTransport.EXPECT().FetchEvents(gomock.Any(), "0xbridge", uint64(50), uint64(101)).Return([]transport.RawEvent{raw}, nil)
	s.mockAdapter.EXPECT().Decode(raw).Return([]byte("payload"), nil)
	s.Nil(s.observer.Poll(context.Background()))

	// transport re-delivers the same raw event in the next window
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(120), nil)
	s.mockTransport.EXPECT().FetchEvents(gomock.Any(), "0xbridge", uint64(101), uint64(121)).Return([]transport.RawEvent{raw}, nil)
	s.mockAdapter.EXPECT().Decode(raw).Return([]byte("payload"), nil)
	s.Nil(s.observer.Poll(context.Background()))

	awaiting, err := s.ledger.ScanByState(relay.StateAwaitingConfirmations)
	s.Nil(err)
	s.Len(awaiting, 1)

	detected, err := s.ledger.ScanByState(relay.StateDetected)
	s.Nil(err)
	s.Len(detected, 0)
}

func (s *ObserverTestSuite) Test_Poll_SkipsUndecodableEvents() {
	raw := transport.RawEvent{
		TxHash:  []byte{0xaa},
		Index:   1,
		Height:  60,
		Address: "0xbridge",
		Data:    []byte("garbage"),
	}
	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(100), nil)
	s.mockTransport.EXPECT().FetchEvents(gomock.Any(), "0xbridge", uint64(50), uint64(101)).Return([]transport.RawEvent{raw}, nil)
	s.mockAdapter.EXPECT().Decode(raw).Return(nil, errors.New("not a deposit"))

	err := s.observer.Poll(context.Background())
	s.Nil(err)

	pos, err := s.ledger.Watermark(relay.ChainEthereum, "0xbridge")
	s.Nil(err)
	s.Equal(uint64(101), pos)

	detected, err := s.ledger.ScanByState(relay.StateDetected)
	s.Nil(err)
	s.Len(detected, 0)
}

func (s *ObserverTestSuite) Test_Poll_PromotesOnlyOwnRoute() {
	foreign := &relay.BridgeEvent{
		EventID:          relay.NewEventID(relay.ChainEthereum, []byte{0xbb}, 0),
		SourceChain:      relay.ChainEthereum,
		DestinationChain: relay.ChainTon,
		WatchAddress:     "0xother",
		SourceTxHash:     []byte{0xbb},
		SourceHeight:     70,
		Payload:          []byte("payload"),
		State:            relay.StateDetected,
	}
	_, err := s.ledger.InsertIfAbsent(foreign)
	s.Nil(err)

	s.mockTransport.EXPECT().ChainHead(gomock.Any()).Return(uint64(100), nil)
	s.mockTransport.EXPECT().FetchEvents(gomock.Any(), "0xbridge", uint64(50), uint64(101)).Return([]transport.RawEvent{}, nil)
	s.Nil(s.observer.Poll(context.Background()))

	ev, err := s.ledger.Get(foreign.EventID)
	s.Nil(err)
	s.Equal(relay.StateDetected, ev.State)
}
