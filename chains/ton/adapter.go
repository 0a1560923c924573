// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package ton

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tonbridge/relay/keystore"
	"github.com/tonbridge/relay/relay"
	"github.com/tonbridge/relay/transport"
)

// bocMagic is the serialized bag-of-cells header every TON message starts
// with.
var bocMagic = []byte{0xb5, 0xee, 0x9c, 0x72}

// opConfirmEvent is the 32-bit op code of the bridge contract's confirmation
// handler.
const opConfirmEvent uint32 = 0x5ce28eea

// Adapter owns the message boundary of the TON bridge contract. Decoded
// payloads stay as the raw outbound message BOC; the relay core never
// interprets them.
type Adapter struct {
	bridge   string
	txSigner keystore.Signer
}

func NewAdapter(bridge string, txSigner keystore.Signer) *Adapter {
	return &Adapter{
		bridge:   bridge,
		txSigner: txSigner,
	}
}

func (a *Adapter) Decode(raw transport.RawEvent) ([]byte, error) {
	if len(raw.Data) < len(bocMagic) || !bytes.HasPrefix(raw.Data, bocMagic) {
		return nil, fmt.Errorf("message from %s is not a serialized BOC", raw.Address)
	}
	return raw.Data, nil
}

// EncodeSubmission frames the event's attestation into the external message
// body the bridge contract expects:
//
//	op (4 bytes) | event id (32 bytes) | payload len (2 bytes) | payload |
//	signature len (2 bytes) | signature | signer pubkey (32 bytes)
//
// The body is self-contained, so every submission attempt reuses it verbatim.
func (a *Adapter) EncodeSubmission(_ context.Context, ev *relay.BridgeEvent) ([]byte, error) {
	if ev.Attestation == nil {
		return nil, fmt.Errorf("event %s carries no attestation", ev.EventID)
	}

	eventID, err := hex.DecodeString(strings.TrimPrefix(ev.EventID, "0x"))
	if err != nil || len(eventID) != 32 {
		return nil, fmt.Errorf("event id %s is not a 32 byte hash", ev.EventID)
	}
	if len(ev.Payload) > 0xffff || len(ev.Attestation.Signature) > 0xffff {
		return nil, fmt.Errorf("event %s payload or signature exceeds frame capacity", ev.EventID)
	}

	pubkey, err := a.txSigner.Identity(keystore.Ed25519Scheme)
	if err != nil {
		return nil, fmt.Errorf("resolving signer identity: %w", err)
	}
	if len(pubkey) != 32 {
		return nil, fmt.Errorf("signer identity is not an ed25519 public key")
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, opConfirmEvent)
	buf.Write(eventID)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(ev.Payload)))
	buf.Write(ev.Payload)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(ev.Attestation.Signature)))
	buf.Write(ev.Attestation.Signature)
	buf.Write(pubkey)

	return buf.Bytes(), nil
}
