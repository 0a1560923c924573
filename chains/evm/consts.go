// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package evm

// BridgeABI covers the deposit event the relay observes and the confirmation
// entrypoint it submits attestations to. The bridge contract is idempotent
// on the attested event id, not on individual relay transactions.
const BridgeABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "recipient", "type": "bytes32"},
			{"indexed": false, "internalType": "address", "name": "token", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"},
			{"indexed": false, "internalType": "uint64", "name": "nonce", "type": "uint64"}
		],
		"name": "Deposit",
		"type": "event"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "eventId", "type": "bytes32"},
			{"internalType": "bytes", "name": "payload", "type": "bytes"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "confirmEvent",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`
