// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tonbridge/relay/config"
	"github.com/tonbridge/relay/relay"
)

type RouteConfigTestSuite struct {
	suite.Suite
}

func TestRunRouteConfigTestSuite(t *testing.T) {
	suite.Run(t, new(RouteConfigTestSuite))
}

func validRoute() config.RawRouteConfig {
	return config.RawRouteConfig{
		SourceChain:       "ethereum",
		DestinationChain:  "ton",
		WatchAddress:      "0xbridge",
		ConfirmationDepth: 12,
		FinalityDepth:     12,
		PollInterval:      5,
		WindowSize:        100,
		MaxRetries:        5,
		StartHeight:       50,
	}
}

func (s *RouteConfigTestSuite) Test_Validate_ValidRoute() {
	route := validRoute()

	s.Nil(route.Validate())
}

func (s *RouteConfigTestSuite) Test_Validate_MissingFields() {
	route := validRoute()
	route.SourceChain = ""
	s.NotNil(route.Validate())

	route = validRoute()
	route.DestinationChain = ""
	s.NotNil(route.Validate())

	route = validRoute()
	route.WatchAddress = ""
	s.NotNil(route.Validate())
}

func (s *RouteConfigTestSuite) Test_Validate_SameSourceAndDestination() {
	route := validRoute()
	route.DestinationChain = route.SourceChain

	s.NotNil(route.Validate())
}

func (s *RouteConfigTestSuite) Test_Validate_ZeroWindowSize() {
	route := validRoute()
	route.WindowSize = 0

	s.NotNil(route.Validate())
}

func (s *RouteConfigTestSuite) Test_Validate_ZeroMaxRetries() {
	route := validRoute()
	route.MaxRetries = 0

	s.NotNil(route.Validate())
}

func (s *RouteConfigTestSuite) Test_ToRoute() {
	raw := validRoute()
	route := raw.ToRoute()

	s.Equal(relay.Route{
		SourceChain:       relay.Chain("ethereum"),
		DestinationChain:  relay.Chain("ton"),
		WatchAddress:      "0xbridge",
		ConfirmationDepth: 12,
		FinalityDepth:     12,
		PollInterval:      time.Second * 5,
		WindowSize:        100,
		MaxRetries:        5,
		StartHeight:       50,
	}, route)
}
