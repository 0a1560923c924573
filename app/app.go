// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/tonbridge/relay/api"
	"github.com/tonbridge/relay/api/handlers"
	"github.com/tonbridge/relay/cache"
	"github.com/tonbridge/relay/chains/evm"
	"github.com/tonbridge/relay/chains/ton"
	"github.com/tonbridge/relay/config"
	"github.com/tonbridge/relay/health"
	"github.com/tonbridge/relay/keystore"
	"github.com/tonbridge/relay/metrics"
	"github.com/tonbridge/relay/relay"
	"github.com/tonbridge/relay/store"
	"github.com/tonbridge/relay/transport"
)

var Version string

func Run() error {
	configFlag := viper.GetString(config.ConfigFlagName)
	configuration, err := config.GetConfigFromFile(configFlag, &config.Config{})
	panicOnError(err)

	configureLogger(configuration.RelayerConfig.LogLevel)
	log.Info().Msg("Successfully loaded configuration")

	ledger, err := store.NewLedger(configuration.RelayerConfig.LedgerPath)
	panicOnError(err)
	defer ledger.Close()

	relayKeystore, err := keystore.NewLocalKeystore(configuration.RelayerConfig.KeystorePath)
	panicOnError(err)

	relayMetrics, err := metrics.NewRelayMetrics(otel.GetMeterProvider().Meter("relay-metric-provider"))
	panicOnError(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChn := make(chan interface{})
	attestationCache := cache.NewAttestationCache(ctx, sigChn)

	transports := make(map[relay.Chain]transport.Transport)
	adapters := make(map[relay.Chain]relay.Adapter)
	for _, chainConfig := range configuration.ChainConfigs {
		switch chainConfig["type"] {
		case "evm":
			{
				config, err := evm.NewEVMConfig(chainConfig)
				panicOnError(err)

				client, err := evm.Dial(config.GeneralChainConfig.Endpoint)
				panicOnError(err)

				name := relay.Chain(config.GeneralChainConfig.Name)
				transports[name] = evm.NewTransport(client, evm.DepositTopics(), config.CallTimeout)
				adapters[name] = evm.NewAdapter(client, config.Bridge, config.GasLimit, relayKeystore)
				log.Info().Str("chain", config.GeneralChainConfig.Name).Msgf("Registered EVM chain")
			}
		case "ton":
			{
				config, err := ton.NewTONConfig(chainConfig)
				panicOnError(err)

				t, err := ton.NewTransport(config)
				panicOnError(err)

				name := relay.Chain(config.GeneralChainConfig.Name)
				transports[name] = t
				adapters[name] = ton.NewAdapter(config.Bridge, relayKeystore)
				log.Info().Str("chain", config.GeneralChainConfig.Name).Str("backend", string(config.Backend)).Msgf("Registered TON chain")
			}
		default:
			panic(fmt.Errorf("type '%s' not recognized", chainConfig["type"]))
		}
	}

	pipelines := make([]*relay.Pipeline, 0, len(configuration.RouteConfigs))
	for _, routeConfig := range configuration.RouteConfigs {
		route := routeConfig.ToRoute()

		sourceTransport, ok := transports[route.SourceChain]
		if !ok {
			panic(fmt.Errorf("route %s references unconfigured chain '%s'", route.ID(), route.SourceChain))
		}
		destinationTransport, ok := transports[route.DestinationChain]
		if !ok {
			panic(fmt.Errorf("route %s references unconfigured chain '%s'", route.ID(), route.DestinationChain))
		}

		l := log.With().Str("route", route.ID())
		pipelines = append(pipelines, &relay.Pipeline{
			Route:     route,
			Observer:  relay.NewObserver(l, route, sourceTransport, adapters[route.SourceChain], ledger, relayMetrics),
			Signer:    relay.NewSigner(l, route, sourceTransport, relayKeystore, ledger, relayMetrics, sigChn),
			Submitter: relay.NewSubmitter(l, route, destinationTransport, adapters[route.DestinationChain], ledger, relayMetrics, relay.DefaultRetryInterval),
		})
	}

	go health.StartHealthEndpoint(configuration.RelayerConfig.HealthPort, func() error {
		_, err := ledger.ScanByState(relay.StateFailed)
		return err
	})

	r := relay.NewRelayer(pipelines, ledger, configuration.RelayerConfig.RetentionWindow)
	errChn := make(chan error, 1)
	go func() {
		errChn <- r.Start(ctx)
	}()

	eventsHandler := handlers.NewEventsHandler(ledger, configuration.RelayerConfig.AllowManualRetry)
	attestationsHandler := handlers.NewAttestationsHandler(attestationCache, ledger)
	go api.Serve(ctx, configuration.RelayerConfig.ApiAddr, eventsHandler, attestationsHandler)

	sysErr := make(chan os.Signal, 1)
	signal.Notify(sysErr,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGQUIT)

	log.Info().Msgf("Started relay with %d routes. Version: v%s", len(pipelines), Version)

	select {
	case sig := <-sysErr:
		log.Info().Msgf("terminating got ` [%v] signal", sig)
		return nil
	case err := <-errChn:
		return err
	}
}

func configureLogger(logLevel string) {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func panicOnError(err error) {
	if err != nil {
		panic(err)
	}
}
