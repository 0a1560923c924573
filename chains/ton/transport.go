// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package ton

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tonbridge/relay/transport"
)

// NewTransport builds the TON transport selected in configuration. Both
// backends satisfy the same relay transport contract; which one is used is a
// deployment decision, never a runtime one.
func NewTransport(cfg *TONConfig) (transport.Transport, error) {
	switch cfg.Backend {
	case GraphQlBackend:
		return NewGraphQlTransport(cfg.GeneralChainConfig.Endpoint, cfg.CallTimeout), nil
	case NativeBackend:
		return NewNativeTransport(cfg.GeneralChainConfig.Endpoint, cfg.CallTimeout), nil
	default:
		return nil, fmt.Errorf("unknown TON backend '%s'", cfg.Backend)
	}
}

// parseLt parses a logical time that TON APIs report either as a decimal or
// a 0x-prefixed hex string.
func parseLt(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") {
		return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func mapHTTPError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return transport.Timeout(err)
	}
	return transport.Unavailable(err)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return transport.Rejected(fmt.Sprintf("HTTP request failed with status code %d", resp.StatusCode), false)
	}
	return transport.Unavailable(fmt.Errorf("HTTP request failed with status code %d", resp.StatusCode))
}
