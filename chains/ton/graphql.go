// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package ton

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tonbridge/relay/transport"
)

const headQuery = `
query {
	blocks(
		filter: {workchain_id: {eq: -1}}
		orderBy: [{path: "seq_no", direction: DESC}]
		limit: 1
	) {
		end_lt
	}
}`

const messagesQuery = `
query($src: String!, $fromLt: String!, $toLt: String!) {
	messages(
		filter: {src: {eq: $src}, msg_type: {eq: 2}, created_lt: {ge: $fromLt, lt: $toLt}}
		orderBy: [{path: "created_lt", direction: ASC}]
	) {
		id
		boc
		created_lt
	}
}`

const statusQuery = `
query($msg: String!) {
	transactions(filter: {in_msg: {eq: $msg}}, limit: 1) {
		id
		lt
	}
}`

const sendMutation = `
mutation($id: String!, $body: String!) {
	postRequests(requests: [{id: $id, body: $body}])
}`

// GraphQlTransport implements the relay transport contract over a ton-q-server
// GraphQL endpoint. TON has no global block number usable across shards, so
// logical time of the latest masterchain block serves as the chain position;
// it is monotonic and every message carries a comparable created_lt.
type GraphQlTransport struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

func NewGraphQlTransport(url string, timeout time.Duration) *GraphQlTransport {
	return &GraphQlTransport{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (t *GraphQlTransport) ChainHead(ctx context.Context) (uint64, error) {
	var res struct {
		Blocks []struct {
			EndLt string `json:"end_lt"`
		} `json:"blocks"`
	}
	err := t.query(ctx, headQuery, nil, &res)
	if err != nil {
		return 0, err
	}
	if len(res.Blocks) == 0 {
		return 0, transport.Unavailable(fmt.Errorf("no masterchain blocks returned"))
	}

	lt, err := parseLt(res.Blocks[0].EndLt)
	if err != nil {
		return 0, transport.Unavailable(fmt.Errorf("invalid masterchain lt: %w", err))
	}
	return lt, nil
}

func (t *GraphQlTransport) FetchEvents(ctx context.Context, watchAddress string, from uint64, to uint64) ([]transport.RawEvent, error) {
	var res struct {
		Messages []struct {
			ID        string `json:"id"`
			Boc       string `json:"boc"`
			CreatedLt string `json:"created_lt"`
		} `json:"messages"`
	}
	err := t.query(ctx, messagesQuery, map[string]interface{}{
		"src":    watchAddress,
		"fromLt": strconv.FormatUint(from, 10),
		"toLt":   strconv.FormatUint(to, 10),
	}, &res)
	if err != nil {
		return nil, err
	}

	events := make([]transport.RawEvent, 0, len(res.Messages))
	for _, m := range res.Messages {
		hash, err := hex.DecodeString(strings.TrimPrefix(m.ID, "0x"))
		if err != nil {
			return nil, transport.Unavailable(fmt.Errorf("invalid message id %s: %w", m.ID, err))
		}
		boc, err := base64.StdEncoding.DecodeString(m.Boc)
		if err != nil {
			return nil, transport.Unavailable(fmt.Errorf("invalid message boc: %w", err))
		}
		lt, err := parseLt(m.CreatedLt)
		if err != nil {
			return nil, transport.Unavailable(fmt.Errorf("invalid message lt: %w", err))
		}

		events = append(events, transport.RawEvent{
			TxHash:  hash,
			Index:   0,
			Height:  lt,
			Address: watchAddress,
			Data:    boc,
		})
	}
	return events, nil
}

func (t *GraphQlTransport) Submit(ctx context.Context, txBytes []byte) (string, error) {
	// ton-q-server identifies external messages by the hash of the BOC
	hash := sha256.Sum256(txBytes)
	id := hex.EncodeToString(hash[:])

	var res struct {
		PostRequests []string `json:"postRequests"`
	}
	err := t.query(ctx, sendMutation, map[string]interface{}{
		"id":   id,
		"body": base64.StdEncoding.EncodeToString(txBytes),
	}, &res)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *GraphQlTransport) Status(ctx context.Context, txID string) (transport.TxStatus, error) {
	var res struct {
		Transactions []struct {
			ID string `json:"id"`
			Lt string `json:"lt"`
		} `json:"transactions"`
	}
	err := t.query(ctx, statusQuery, map[string]interface{}{"msg": txID}, &res)
	if err != nil {
		return transport.TxStatus{}, err
	}
	if len(res.Transactions) == 0 {
		return transport.TxStatus{Kind: transport.StatusNotFound}, nil
	}

	lt, err := parseLt(res.Transactions[0].Lt)
	if err != nil {
		return transport.TxStatus{}, transport.Unavailable(fmt.Errorf("invalid transaction lt: %w", err))
	}
	return transport.TxStatus{
		Kind:       transport.StatusIncluded,
		IncludedAt: lt,
	}, nil
}

func (t *GraphQlTransport) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return mapHTTPError(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return transport.Unavailable(fmt.Errorf("decoding GraphQL response: %w", err))
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, len(envelope.Errors))
		for i, e := range envelope.Errors {
			msgs[i] = e.Message
		}
		return transport.Rejected(strings.Join(msgs, "; "), false)
	}

	return json.Unmarshal(envelope.Data, out)
}
