/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package gen holds CLI generators: shell autocompletion scripts and man
// pages.
package gen

import (
	"github.com/spf13/cobra"
)

// DefaultRootUse defines the root command Use value the generators render
// under.
var DefaultRootUse = "mailrelayd"

// CommandGen returns the "gen" cobra command.
func CommandGen() *cobra.Command {
	genCmd := &cobra.Command{
		Use:   "gen [...args]",
		Short: "A collection of useful generators",
	}

	genCmd.AddCommand(CommandMan())
	genCmd.AddCommand(CommandAutoComplete())

	return genCmd
}
