/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2021 Kopano and its licensors
 */

package utils

import "strings"

// PlaceholderToken is substituted for any spool filename component that is
// missing from the message being stored.
const PlaceholderToken = "unknown"

// SanitizeForFilename replaces the characters in an e-mail address that are
// not safe to carry verbatim in a filename. Per the spool filename format,
// "@" and "." become "-".
func SanitizeForFilename(value string) string {
	if value == "" {
		return PlaceholderToken
	}
	value = strings.ReplaceAll(value, "@", "-")
	value = strings.ReplaceAll(value, ".", "-")
	return value
}

// SanitizeRecipientsForFilename joins a recipient list into the single
// sanitized token used in the spool filename.
func SanitizeRecipientsForFilename(recipients []string) string {
	if len(recipients) == 0 {
		return PlaceholderToken
	}
	sanitized := make([]string, len(recipients))
	for i, rcpt := range recipients {
		sanitized[i] = SanitizeForFilename(rcpt)
	}
	return strings.Join(sanitized, "-")
}
