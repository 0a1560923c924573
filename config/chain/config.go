// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package chain

import (
	"fmt"
)

type GeneralChainConfig struct {
	Name     string `mapstructure:"name"`
	Type     string `mapstructure:"type"`
	Endpoint string `mapstructure:"endpoint"`
}

func (c *GeneralChainConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("required field chain.Name empty")
	}
	if c.Type == "" {
		return fmt.Errorf("required field chain.Type empty for chain %v", c.Name)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("required field chain.Endpoint empty for chain %v", c.Name)
	}
	return nil
}
