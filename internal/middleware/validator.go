package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateSessionID validates session ID format
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid session ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateImageID validates image ID format
func ValidateImageID(id string) error {
	if id == "" {
		return fmt.Errorf("image ID cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid image ID format")
	}
	return nil
}

// ValidateFilename rejects path traversal and control characters in
// client-supplied filenames
func ValidateFilename(name string) error {
	if name == "" {
		return nil // optional, upload falls back to content sniffing
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\\x00\n\r") {
		return fmt.Errorf("invalid characters in filename")
	}
	return nil
}

// ValidateLocation bounds the free-text location field
func ValidateLocation(location string) error {
	if len(location) > 128 {
		return fmt.Errorf("location exceeds 128 characters")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
