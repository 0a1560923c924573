// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package ton

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tonbridge/relay/transport"
)

// NativeTransport implements the relay transport contract over the HTTP
// gateway of a locally run lite-server indexer. The gateway speaks the same
// logical-time model as the GraphQL backend, so the two are interchangeable
// per deployment.
type NativeTransport struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewNativeTransport(baseURL string, timeout time.Duration) *NativeTransport {
	return &NativeTransport{
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: timeout,
	}
}

func (t *NativeTransport) ChainHead(ctx context.Context) (uint64, error) {
	var res struct {
		EndLt string `json:"endLt"`
	}
	err := t.get(ctx, "/v2/lastBlock", nil, &res)
	if err != nil {
		return 0, err
	}

	lt, err := parseLt(res.EndLt)
	if err != nil {
		return 0, transport.Unavailable(fmt.Errorf("invalid masterchain lt: %w", err))
	}
	return lt, nil
}

func (t *NativeTransport) FetchEvents(ctx context.Context, watchAddress string, from uint64, to uint64) ([]transport.RawEvent, error) {
	var res struct {
		Messages []struct {
			Hash      string `json:"hash"`
			Boc       string `json:"boc"`
			CreatedLt string `json:"createdLt"`
		} `json:"messages"`
	}
	err := t.get(ctx, "/v2/messages", url.Values{
		"address": {watchAddress},
		"fromLt":  {strconv.FormatUint(from, 10)},
		"toLt":    {strconv.FormatUint(to, 10)},
	}, &res)
	if err != nil {
		return nil, err
	}

	events := make([]transport.RawEvent, 0, len(res.Messages))
	for _, m := range res.Messages {
		boc, err := base64.StdEncoding.DecodeString(m.Boc)
		if err != nil {
			return nil, transport.Unavailable(fmt.Errorf("invalid message boc: %w", err))
		}
		lt, err := parseLt(m.CreatedLt)
		if err != nil {
			return nil, transport.Unavailable(fmt.Errorf("invalid message lt: %w", err))
		}
		hash, err := base64.StdEncoding.DecodeString(m.Hash)
		if err != nil {
			return nil, transport.Unavailable(fmt.Errorf("invalid message hash: %w", err))
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

func (t *NativeTransport) Submit(ctx context.Context, txBytes []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"boc": base64.StdEncoding.EncodeToString(txBytes),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v2/sendBoc", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", mapHTTPError(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return "", err
	}

	var res struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", transport.Unavailable(fmt.Errorf("decoding sendBoc response: %w", err))
	}
	return res.Hash, nil
}

func (t *NativeTransport) Status(ctx context.Context, txID string) (transport.TxStatus, error) {
	var res struct {
		Found bool   `json:"found"`
		Lt    string `json:"lt"`
	}
	err := t.get(ctx, "/v2/transaction", url.Values{"messageHash": {txID}}, &res)
	if err != nil {
		return transport.TxStatus{}, err
	}
	if !res.Found {
		return transport.TxStatus{Kind: transport.StatusNotFound}, nil
	}

	lt, err := parseLt(res.Lt)
	if err != nil {
		return transport.TxStatus{}, transport.Unavailable(fmt.Errorf("invalid transaction lt: %w", err))
	}
	return transport.TxStatus{
		Kind:       transport.StatusIncluded,
		IncludedAt: lt,
	}, nil
}

func (t *NativeTransport) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	endpoint := t.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return mapHTTPError(ctx, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return transport.Unavailable(fmt.Errorf("decoding response: %w", err))
	}
	return nil
}
