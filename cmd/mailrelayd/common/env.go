/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

// Package common holds flag and config plumbing shared by every
// mailrelayd subcommand.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// DefaultEnvConfigFile is the env file consulted for flags left unset on
// the command line, overridable with --config.
var DefaultEnvConfigFile = os.Getenv("MAILRELAYD_DEFAULT_ENV_CONFIG")

// ApplyFlagsFromEnvFile reads DefaultEnvConfigFile and, for every flag not
// already changed on the command line, sets it from the matching env var.
// mapping may supply explicit flag-name -> env-name pairs; flags missing
// from mapping get an auto-generated env name (dashes become underscores).
func ApplyFlagsFromEnvFile(cmd *cobra.Command, mapping map[string]string) error {
	if DefaultEnvConfigFile == "" {
		return nil
	}

	envConfigFile, err := filepath.Abs(DefaultEnvConfigFile)
	if err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	envConfig, err := godotenv.Read(envConfigFile)
	if err != nil {
		return fmt.Errorf("config read error: %w", err)
	}

	if mapping == nil {
		mapping = make(map[string]string)
		cmd.Flags().VisitAll(func(flag *pflag.Flag) {
			if flag.Changed || flag.Name == "help" || flag.Name == "config" || flag.Name == "config-file" {
				return
			}
			mapping[flag.Name] = ""
		})
	}

	for flagName, envName := range mapping {
		if cmd.Flags().Changed(flagName) {
			continue
		}
		if envName == "" {
			envName = strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
		}
		if value, ok := envConfig[envName]; ok {
			if err := cmd.Flags().Set(flagName, value); err != nil {
				return fmt.Errorf("failed to apply %v config: %w", envName, err)
			}
		}
	}

	return nil
}
