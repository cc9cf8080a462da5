/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package status implements the "status" subcommand: it fetches the
// current snapshot from the control API's query/status endpoint and
// renders it, either as a short-lived terminal UI or as plain JSON.
package status

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kgol-oss/mailrelayd/cmd/mailrelayd/common"
)

// Default flag values.
var (
	DefaultControlAddress = "http://127.0.0.1:8025"
	DefaultControlAPIKey  = ""
)

// CommandStatus returns the "status" cobra command.
func CommandStatus() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status [...args]",
		Short: "Show relay daemon status",
		Run: func(cmd *cobra.Command, args []string) {
			if err := runStatus(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	statusCmd.Flags().StringVar(&DefaultControlAddress, "control-address", DefaultControlAddress, "Base URL of the control HTTP API")
	statusCmd.Flags().StringVar(&DefaultControlAPIKey, "control-api-key", DefaultControlAPIKey, "Shared-secret api_key for the control HTTP API")
	statusCmd.Flags().Bool("json", false, "Output status as JSON")

	return statusCmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := common.ApplyFlagsFromEnvFile(cmd, nil); err != nil {
		return err
	}

	return Run(cmd, args)
}
