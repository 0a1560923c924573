// The Licensed Work is (c) 2022 Sygma
// SPDX-License-Identifier: LGPL-3.0-only

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tonbridge/relay/app"
)

var runCMD = &cobra.Command{
	Use:   "run",
	Short: "Run the bridge relay",
	Long:  "The run command starts the relay node: it observes bridge events on configured source chains, signs attestations and submits them to destination chains",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run()
	},
}
