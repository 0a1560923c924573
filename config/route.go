// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package config

import (
	"fmt"
	"time"

	"github.com/tonbridge/relay/relay"
)

type RawRouteConfig struct {
	SourceChain       string `mapstructure:"sourceChain" json:"sourceChain"`
	DestinationChain  string `mapstructure:"destinationChain" json:"destinationChain"`
	WatchAddress      string `mapstructure:"watchAddress" json:"watchAddress"`
	ConfirmationDepth uint64 `mapstructure:"confirmationDepth" json:"confirmationDepth" default:"12"`
	FinalityDepth     uint64 `mapstructure:"finalityDepth" json:"finalityDepth" default:"12"`
	PollInterval      uint64 `mapstructure:"pollIntervalSeconds" json:"pollIntervalSeconds" default:"5"`
	WindowSize        uint64 `mapstructure:"windowSize" json:"windowSize" default:"100"`
	MaxRetries        uint64 `mapstructure:"maxRetries" json:"maxRetries" default:"5"`
	StartHeight       uint64 `mapstructure:"startHeight" json:"startHeight"`
}

func (c *RawRouteConfig) Validate() error {
	if c.SourceChain == "" {
		return fmt.Errorf("required field route.SourceChain empty")
	}
	if c.DestinationChain == "" {
		return fmt.Errorf("required field route.DestinationChain empty")
	}
	if c.SourceChain == c.DestinationChain {
		return fmt.Errorf("route source and destination chain are both %v", c.SourceChain)
	}
	if c.WatchAddress == "" {
		return fmt.Errorf("required field route.WatchAddress empty for route %v->%v", c.SourceChain, c.DestinationChain)
	}
	if c.WindowSize == 0 {
		return fmt.Errorf("route.WindowSize must be positive for route %v->%v", c.SourceChain, c.DestinationChain)
	}
	if c.MaxRetries == 0 {
		return fmt.Errorf("route.MaxRetries must be positive for route %v->%v", c.SourceChain, c.DestinationChain)
	}
	return nil
}

func (c *RawRouteConfig) ToRoute() relay.Route {
	return relay.Route{
		SourceChain:       relay.Chain(c.SourceChain),
		DestinationChain:  relay.Chain(c.DestinationChain),
		WatchAddress:      c.WatchAddress,
		ConfirmationDepth: c.ConfirmationDepth,
		FinalityDepth:     c.FinalityDepth,
		// nolint:gosec
		PollInterval: time.Duration(c.PollInterval) * time.Second,
		WindowSize:   c.WindowSize,
		MaxRetries:   c.MaxRetries,
		StartHeight:  c.StartHeight,
	}
}
