/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package common

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the standard CLI logger: text formatter, timestamps
// optional, level parsed from the --log-level flag value.
func NewLogger(disableTimestamp bool, level string) (logrus.FieldLogger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: disableTimestamp,
		FullTimestamp:    true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	return logger, nil
}
