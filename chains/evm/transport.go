// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tonbridge/relay/transport"
)

// ChainClient is the subset of the go-ethereum client the transport uses.
type ChainClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Transport implements the relay transport contract over EVM JSON-RPC.
type Transport struct {
	client  ChainClient
	topics  []common.Hash
	timeout time.Duration
}

func NewTransport(client ChainClient, topics []common.Hash, timeout time.Duration) *Transport {
	return &Transport{
		client:  client,
		topics:  topics,
		timeout: timeout,
	}
}

func Dial(endpoint string) (*ethclient.Client, error) {
	return ethclient.Dial(endpoint)
}

func (t *Transport) ChainHead(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	header, err := t.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, mapError(err)
	}
	return header.Number.Uint64(), nil
}

func (t *Transport) FetchEvents(ctx context.Context, watchAddress string, from uint64, to uint64) ([]transport.RawEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	query := ethereum.FilterQuery{
		// nolint:gosec
		FromBlock: new(big.Int).SetUint64(from),
		// the relay range is half-open, FilterLogs is inclusive
		ToBlock:   new(big.Int).SetUint64(to - 1),
		Addresses: []common.Address{common.HexToAddress(watchAddress)},
		Topics:    [][]common.Hash{t.topics},
	}
	logs, err := t.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}

	events := make([]transport.RawEvent, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		events = append(events, transport.RawEvent{
			TxHash:  l.TxHash.Bytes(),
			Index:   uint64(l.Index),
			Height:  l.BlockNumber,
			Address: l.Address.Hex(),
			Data:    l.Data,
		})
	}
	return events, nil
}

func (t *Transport) Submit(ctx context.Context, txBytes []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(txBytes); err != nil {
		return "", transport.Rejected(err.Error(), true)
	}

	if err := t.client.SendTransaction(ctx, tx); err != nil {
		return "", mapError(err)
	}
	return tx.Hash().Hex(), nil
}

func (t *Transport) Status(ctx context.Context, txID string) (transport.TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	receipt, err := t.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return transport.TxStatus{Kind: transport.StatusNotFound}, nil
		}
		return transport.TxStatus{}, mapError(err)
	}
	if receipt.BlockNumber == nil {
		return transport.TxStatus{Kind: transport.StatusPending}, nil
	}
	return transport.TxStatus{
		Kind:       transport.StatusIncluded,
		IncludedAt: receipt.BlockNumber.Uint64(),
	}, nil
}

// mapError sorts go-ethereum client errors into the relay taxonomy. Node
// error strings are the only signal JSON-RPC gives for rejection causes.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return transport.Timeout(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already confirmed"), strings.Contains(msg, "already processed"):
		return transport.ErrAlreadyRelayed
	case strings.Contains(msg, "insufficient funds"):
		return transport.Rejected(err.Error(), true)
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "already known"),
		strings.Contains(msg, "replacement transaction underpriced"):
		return transport.Rejected(err.Error(), false)
	case strings.Contains(msg, "execution reverted"):
		return transport.Rejected(err.Error(), true)
	default:
		return transport.Unavailable(err)
	}
}
