package api

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxNameLen is the maximum length for name fields.
const maxNameLen = 200

// maxShortStringLen is the maximum length for short identifiers (extensions, channel names).
const maxShortStringLen = 80

// maxPasswordLen is the maximum length for passwords/secrets.
const maxPasswordLen = 256

// maxURLLen is the maximum length for URL fields.
const maxURLLen = 2048

// extensionRe validates extension numbers: digits only, 1-20 chars.
var extensionRe = regexp.MustCompile(`^\d{1,20}$`)

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateExtensionNumber checks that an extension number is digits only.
func validateExtensionNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !extensionRe.MatchString(value) {
		return field + " must contain only digits (max 20)"
	}
	return ""
}

// validateIntRange checks that an int is within [min, max].
func validateIntRange(field string, value, min, max int) string {
	if value < min || value > max {
		return field + " must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max)
	}
	return ""
}

// validateIPList checks that each comma-separated entry is a valid IP or CIDR.
func validateIPList(field, value string) string {
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return field + " contains an invalid CIDR: " + entry
			}
			continue
		}
		if net.ParseIP(entry) == nil {
			return field + " contains an invalid IP address: " + entry
		}
	}
	return ""
}
