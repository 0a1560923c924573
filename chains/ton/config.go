// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package ton

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"

	"github.com/tonbridge/relay/config/chain"
)

type Backend string

const (
	GraphQlBackend Backend = "graphql"
	NativeBackend  Backend = "native"
)

type TONConfig struct {
	GeneralChainConfig chain.GeneralChainConfig

	Backend     Backend
	Bridge      string
	CallTimeout time.Duration
}

type RawTONConfig struct {
	chain.GeneralChainConfig `mapstructure:",squash"`
	Backend                  string `mapstructure:"backend" default:"graphql"`
	Bridge                   string `mapstructure:"bridge"`
	CallTimeout              uint64 `mapstructure:"callTimeout" default:"15"`
}

func (c *RawTONConfig) Validate() error {
	if err := c.GeneralChainConfig.Validate(); err != nil {
		return err
	}
	if c.Bridge == "" {
		return fmt.Errorf("required field chain.Bridge empty for chain %v", c.Name)
	}
	if b := Backend(c.Backend); b != GraphQlBackend && b != NativeBackend {
		return fmt.Errorf("unknown TON backend '%s' for chain %v", c.Backend, c.Name)
	}
	return nil
}

// NewTONConfig decodes and validates an instance of a TONConfig from
// raw chain config
func NewTONConfig(chainConfig map[string]interface{}) (*TONConfig, error) {
	var c RawTONConfig
	err := mapstructure.Decode(chainConfig, &c)
	if err != nil {
		return nil, err
	}

	err = defaults.Set(&c)
	if err != nil {
		return nil, err
	}

	err = c.Validate()
	if err != nil {
		return nil, err
	}

	config := &TONConfig{
		GeneralChainConfig: c.GeneralChainConfig,
		Backend:            Backend(c.Backend),
		Bridge:             c.Bridge,
		// nolint:gosec
		CallTimeout: time.Duration(c.CallTimeout) * time.Second,
	}

	return config, nil
}
