// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	ConfigFlagName   = "config"
	LedgerFlagName   = "ledger"
	KeystoreFlagName = "keystore"
)

type Config struct {
	RelayerConfig RelayerConfig
	ChainConfigs  []map[string]interface{}
	RouteConfigs  []RawRouteConfig
}

type RelayerConfig struct {
	LogLevel         string
	LedgerPath       string
	KeystorePath     string
	ApiAddr          string
	HealthPort       uint16
	AllowManualRetry bool
	RetentionWindow  time.Duration
}

type RawConfig struct {
	RelayerConfig RawRelayerConfig         `mapstructure:"relayer" json:"relayer"`
	ChainConfigs  []map[string]interface{} `mapstructure:"chains" json:"chains"`
	RouteConfigs  []RawRouteConfig         `mapstructure:"routes" json:"routes"`
}

type RawRelayerConfig struct {
	LogLevel         string `mapstructure:"logLevel" json:"logLevel" default:"info"`
	LedgerPath       string `mapstructure:"ledgerPath" json:"ledgerPath" default:"./relaydata/ledger.db"`
	KeystorePath     string `mapstructure:"keystorePath" json:"keystorePath"`
	ApiAddr          string `mapstructure:"apiAddr" json:"apiAddr" default:":8080"`
	HealthPort       uint16 `mapstructure:"healthPort" json:"healthPort" default:"9001"`
	AllowManualRetry bool   `mapstructure:"allowManualRetry" json:"allowManualRetry"`
	RetentionWindow  uint64 `mapstructure:"retentionWindowHours" json:"retentionWindowHours"`
}

func (c *RawConfig) Validate() error {
	if c.RelayerConfig.KeystorePath == "" {
		return fmt.Errorf("required field relayer.KeystorePath empty")
	}
	if len(c.ChainConfigs) == 0 {
		return fmt.Errorf("config must contain at least one chain")
	}
	if len(c.RouteConfigs) == 0 {
		return fmt.Errorf("config must contain at least one route")
	}
	for _, chain := range c.ChainConfigs {
		if chain["type"] == "" || chain["type"] == nil {
			return fmt.Errorf("chain 'type' must be provided for every configured chain")
		}
	}
	for _, route := range c.RouteConfigs {
		if err := route.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// GetConfigFromFile reads config from file, validates it and parses
// it into config structure
func GetConfigFromFile(path string, config *Config) (*Config, error) {
	rawConfig := RawConfig{}

	viper.SetConfigFile(path)

	err := viper.ReadInConfig()
	if err != nil {
		return config, err
	}

	err = viper.Unmarshal(&rawConfig, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = false
	})
	if err != nil {
		return config, err
	}

	err = defaults.Set(&rawConfig)
	if err != nil {
		return config, err
	}

	err = rawConfig.Validate()
	if err != nil {
		return config, err
	}

	config.RelayerConfig = RelayerConfig{
		LogLevel:         rawConfig.RelayerConfig.LogLevel,
		LedgerPath:       rawConfig.RelayerConfig.LedgerPath,
		KeystorePath:     rawConfig.RelayerConfig.KeystorePath,
		ApiAddr:          rawConfig.RelayerConfig.ApiAddr,
		HealthPort:       rawConfig.RelayerConfig.HealthPort,
		AllowManualRetry: rawConfig.RelayerConfig.AllowManualRetry,
		// nolint:gosec
		RetentionWindow: time.Duration(rawConfig.RelayerConfig.RetentionWindow) * time.Hour,
	}
	config.ChainConfigs = rawConfig.ChainConfigs
	config.RouteConfigs = rawConfig.RouteConfigs

	// flags override file values
	if ledger := viper.GetString(LedgerFlagName); ledger != "" {
		config.RelayerConfig.LedgerPath = ledger
	}
	if keystore := viper.GetString(KeystoreFlagName); keystore != "" {
		config.RelayerConfig.KeystorePath = keystore
	}

	return config, nil
}

func BindFlags(rootCMD *cobra.Command) {
	rootCMD.PersistentFlags().String(ConfigFlagName, "", "Path to JSON configuration file")
	_ = viper.BindPFlag(ConfigFlagName, rootCMD.PersistentFlags().Lookup(ConfigFlagName))

	rootCMD.PersistentFlags().String(LedgerFlagName, "", "Path to the event ledger database")
	_ = viper.BindPFlag(LedgerFlagName, rootCMD.PersistentFlags().Lookup(LedgerFlagName))

	rootCMD.PersistentFlags().String(KeystoreFlagName, "", "Path to the relay keystore file")
	_ = viper.BindPFlag(KeystoreFlagName, rootCMD.PersistentFlags().Lookup(KeystoreFlagName))

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
