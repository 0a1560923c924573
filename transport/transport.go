// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package transport

import (
	"context"
	"errors"
	"fmt"
)

// RawEvent is a single undecoded occurrence fetched from a source chain.
// Height carries the block number for EVM chains and the logical time for
// TON chains; Index disambiguates multiple events inside one transaction.
type RawEvent struct {
	TxHash  []byte
	Index   uint64
	Height  uint64
	Address string
	Data    []byte
}

type StatusKind int

const (
	StatusPending StatusKind = iota
	StatusIncluded
	StatusNotFound
)

type TxStatus struct {
	Kind       StatusKind
	IncludedAt uint64
}

// Transport is the per-chain wire contract. Implementations own connection
// handling and apply an explicit timeout to every call.
type Transport interface {
	ChainHead(ctx context.Context) (uint64, error)
	FetchEvents(ctx context.Context, watchAddress string, from uint64, to uint64) ([]RawEvent, error)
	Submit(ctx context.Context, txBytes []byte) (string, error)
	Status(ctx context.Context, txID string) (TxStatus, error)
}

type ErrorKind int

const (
	KindUnavailable ErrorKind = iota
	KindTimeout
	KindRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "rejected"
	}
}

// Error is the transport failure taxonomy. Unavailable and Timeout are
// always retryable; Rejected is retryable unless the chain reported a
// permanent cause.
type Error struct {
	Kind      ErrorKind
	Reason    string
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("transport %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Unavailable(err error) *Error {
	return &Error{Kind: KindUnavailable, Err: err}
}

func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Err: err}
}

func Rejected(reason string, permanent bool) *Error {
	return &Error{Kind: KindRejected, Reason: reason, Permanent: permanent}
}

// ErrAlreadyRelayed is returned by a destination transport when the bridged
// action was already satisfied on-chain, usually by another relay's earlier
// submission. Callers treat it as success.
var ErrAlreadyRelayed = errors.New("bridged action already relayed")

// Retryable reports whether an operation that failed with err may be retried
// with backoff. Unknown errors are treated as transient so that flaky
// infrastructure never permanently fails an event on its own.
func Retryable(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		if terr.Kind == KindRejected && terr.Permanent {
			return false
		}
		return true
	}
	return true
}
