// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tonbridge/relay/keystore"
	"github.com/tonbridge/relay/relay"
	"github.com/tonbridge/relay/transport"
)

// Adapter owns the ABI boundary of the bridge contract: decoding observed
// deposit logs into canonical payload bytes and building signed confirmation
// transactions for the destination side. The canonical payload is the raw
// ABI-encoded event data; the relay core never interprets it.
type Adapter struct {
	abi      abi.ABI
	client   ChainClient
	bridge   common.Address
	gasLimit uint64
	txSigner keystore.Signer

	chainIDMu sync.Mutex
	chainID   *big.Int
}

// bridgeABI is parsed once at init; a malformed ABI constant is a programming
// error, not a runtime condition.
var bridgeABI = mustBridgeABI()

func mustBridgeABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(BridgeABI))
	if err != nil {
		panic(fmt.Errorf("parsing bridge ABI: %w", err))
	}
	return parsed
}

func NewAdapter(client ChainClient, bridge common.Address, gasLimit uint64, txSigner keystore.Signer) *Adapter {
	return &Adapter{
		abi:      bridgeABI,
		client:   client,
		bridge:   bridge,
		gasLimit: gasLimit,
		txSigner: txSigner,
	}
}

// DepositTopics returns the log topics the source transport filters on.
func DepositTopics() []common.Hash {
	return []common.Hash{bridgeABI.Events["Deposit"].ID}
}

func (a *Adapter) Decode(raw transport.RawEvent) ([]byte, error) {
	_, err := a.abi.Unpack("Deposit", raw.Data)
	if err != nil {
		return nil, fmt.Errorf("unpacking deposit log: %w", err)
	}
	return raw.Data, nil
}

// EncodeSubmission builds a signed confirmEvent transaction carrying the
// event's attestation. Nonce and gas price are fetched fresh on every call;
// cached values across attempts or restarts would risk stale-nonce double
// submission.
func (a *Adapter) EncodeSubmission(ctx context.Context, ev *relay.BridgeEvent) ([]byte, error) {
	if ev.Attestation == nil {
		return nil, fmt.Errorf("event %s carries no attestation", ev.EventID)
	}

	sender, err := a.senderAddress()
	if err != nil {
		return nil, err
	}
	chainID, err := a.destinationChainID(ctx)
	if err != nil {
		return nil, err
	}

	nonce, err := a.client.PendingNonceAt(ctx, sender)
	if err != nil {
		return nil, mapError(err)
	}
	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	calldata, err := a.abi.Pack("confirmEvent", common.HexToHash(ev.EventID), ev.Payload, ev.Attestation.Signature)
	if err != nil {
		return nil, fmt.Errorf("packing confirmEvent calldata: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      a.gasLimit,
		To:       &a.bridge,
		Data:     calldata,
	})

	signer := types.LatestSignerForChainID(chainID)
	sig, err := a.txSigner.Sign(keystore.Secp256k1Scheme, signer.Hash(tx).Bytes())
	if err != nil {
		return nil, fmt.Errorf("signing transaction: %w", err)
	}
	signed, err := tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("attaching signature: %w", err)
	}

	return signed.MarshalBinary()
}

func (a *Adapter) senderAddress() (common.Address, error) {
	pub, err := a.txSigner.Identity(keystore.Secp256k1Scheme)
	if err != nil {
		return common.Address{}, err
	}
	pubKey, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return common.Address{}, fmt.Errorf("parsing signer identity: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

func (a *Adapter) destinationChainID(ctx context.Context) (*big.Int, error) {
	a.chainIDMu.Lock()
	defer a.chainIDMu.Unlock()

	if a.chainID == nil {
		id, err := a.client.ChainID(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		a.chainID = id
	}
	return a.chainID, nil
}
