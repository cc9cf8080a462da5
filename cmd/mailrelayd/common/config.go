/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package common

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ApplyFlagsFromConfigFile reads a YAML document at path and, for every
// flag not already changed on the command line or set via the env file,
// sets it from the matching top-level YAML key (dashes in the flag name
// map to the YAML key verbatim). Flags and the env file both win over the
// config file, following the same "fills unset flags" rule as
// ApplyFlagsFromEnvFile.
func ApplyFlagsFromConfigFile(cmd *cobra.Command, path string) error {
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config-file read error: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config-file parse error: %w", err)
	}

	for key, value := range doc {
		flag := cmd.Flags().Lookup(key)
		if flag == nil || flag.Changed {
			continue
		}
		if err := flag.Value.Set(fmt.Sprintf("%v", value)); err != nil {
			return fmt.Errorf("failed to apply %v from config-file: %w", key, err)
		}
	}

	return nil
}
