/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kgol-oss/mailrelayd/cmd/mailrelayd/common"
	"github.com/kgol-oss/mailrelayd/cmd/mailrelayd/gen"
	"github.com/kgol-oss/mailrelayd/cmd/mailrelayd/serve"
	"github.com/kgol-oss/mailrelayd/cmd/mailrelayd/status"
	"github.com/kgol-oss/mailrelayd/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "mailrelayd",
	Short:   "mailrelayd is a store-and-forward SMTP/LMTP relay",
	Version: version.String(),
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&common.DefaultEnvConfigFile, "config", "c", common.DefaultEnvConfigFile, "Full path to env config file")

	rootCmd.AddCommand(serve.CommandServe())
	rootCmd.AddCommand(status.CommandStatus())
	rootCmd.AddCommand(gen.CommandGen())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
