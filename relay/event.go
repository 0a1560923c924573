// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package relay

import (
	"encoding/binary"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

type Chain string

const (
	ChainEthereum Chain = "ethereum"
	ChainTon      Chain = "ton"
)

type EventState string

const (
	StateDetected              EventState = "detected"
	StateAwaitingConfirmations EventState = "awaiting_confirmations"
	StateSigned                EventState = "signed"
	StateSubmitting            EventState = "submitting"
	StateSubmitted             EventState = "submitted"
	StateFinalized             EventState = "finalized"
	StateFailed                EventState = "failed"
)

// EventStates lists every state an event can be in, in pipeline order.
var EventStates = []EventState{
	StateDetected,
	StateAwaitingConfirmations,
	StateSigned,
	StateSubmitting,
	StateSubmitted,
	StateFinalized,
	StateFailed,
}

var stateRank = map[EventState]int{
	StateDetected:              0,
	StateAwaitingConfirmations: 1,
	StateSigned:                2,
	StateSubmitting:            3,
	StateSubmitted:             4,
	StateFinalized:             5,
}

func (s EventState) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// CanTransition reports whether moving from one state to another keeps the
// pipeline monotonic. Failed is reachable from any non-terminal state and is
// terminal; re-entering the pipeline from Failed happens only through the
// ledger's explicit retry path.
func CanTransition(from, to EventState) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return stateRank[to] >= stateRank[from]
}

// Attestation is this relay's signature over the canonical event digest.
type Attestation struct {
	Signature []byte `json:"signature"`
	SignerID  []byte `json:"signerId"`
	Digest    []byte `json:"digest"`
}

// BridgeEvent is the canonical, chain-agnostic record of one relay-worthy
// occurrence on a source chain. It is keyed by EventID in the ledger and is
// the only state shared between pipeline stages.
type BridgeEvent struct {
	EventID          string `json:"eventId"`
	SourceChain      Chain  `json:"sourceChain"`
	DestinationChain Chain  `json:"destinationChain"`
	WatchAddress     string `json:"watchAddress"`

	SourceTxHash []byte `json:"sourceTxHash"`
	LogIndex     uint64 `json:"logIndex"`
	SourceHeight uint64 `json:"sourceHeight"`
	Payload      []byte `json:"payload"`

	State         EventState `json:"state"`
	FailureReason string     `json:"failureReason,omitempty"`

	Attestation     *Attestation `json:"attestation,omitempty"`
	DestinationTxID string       `json:"destinationTxId,omitempty"`

	AttemptCount  uint64    `json:"attemptCount"`
	LastAttemptAt time.Time `json:"lastAttemptAt,omitempty"`
	DetectedAt    time.Time `json:"detectedAt"`
	FinalizedAt   time.Time `json:"finalizedAt,omitempty"`
}

// NewEventID derives the deterministic ledger key for an event from its
// source-chain coordinates. The same raw event re-delivered by a transport
// always maps to the same ID.
func NewEventID(source Chain, txHash []byte, index uint64) string {
	buf := make([]byte, 0, len(source)+len(txHash)+8)
	buf = append(buf, []byte(source)...)
	buf = append(buf, txHash...)
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], index)
	buf = append(buf, idx[:]...)
	return hexutil.Encode(crypto.Keccak256(buf))
}

// AttestationDigest builds the canonical message every relay node signs for
// an event. Independent nodes observing the same event must produce
// signatures over identical bytes, so only ledger-identity fields and the
// destination chain tag participate.
func AttestationDigest(ev *BridgeEvent) []byte {
	buf := make([]byte, 0, len(ev.DestinationChain)+32+len(ev.Payload))
	buf = append(buf, []byte(ev.DestinationChain)...)
	buf = append(buf, hexutil.MustDecode(ev.EventID)...)
	buf = append(buf, ev.Payload...)
	return crypto.Keccak256(buf)
}

// EventAttested is pushed to the attestation channel once an event is signed.
type EventAttested struct {
	EventID   string
	Signature []byte
}
