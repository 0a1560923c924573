// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package evm

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mitchellh/mapstructure"

	"github.com/tonbridge/relay/config/chain"
)

type EVMConfig struct {
	GeneralChainConfig chain.GeneralChainConfig

	Bridge      common.Address
	GasLimit    uint64
	CallTimeout time.Duration
}

type RawEVMConfig struct {
	chain.GeneralChainConfig `mapstructure:",squash"`
	Bridge                   string `mapstructure:"bridge"`
	GasLimit                 uint64 `mapstructure:"gasLimit" default:"200000"`
	CallTimeout              uint64 `mapstructure:"callTimeout" default:"15"`
}

func (c *RawEVMConfig) Validate() error {
	if err := c.GeneralChainConfig.Validate(); err != nil {
		return err
	}
	if c.Bridge == "" {
		return fmt.Errorf("required field chain.Bridge empty for chain %v", c.Name)
	}
	return nil
}

// NewEVMConfig decodes and validates an instance of an EVMConfig from
// raw chain config
func NewEVMConfig(chainConfig map[string]interface{}) (*EVMConfig, error) {
	var c RawEVMConfig
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

	config := &EVMConfig{
		GeneralChainConfig: c.GeneralChainConfig,
		Bridge:             common.HexToAddress(c.Bridge),
		GasLimit:           c.GasLimit,
		// nolint:gosec
		CallTimeout: time.Duration(c.CallTimeout) * time.Second,
	}

	return config, nil
}
