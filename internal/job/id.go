// Package job runs a redaction request end to end: staging the input,
// resolving policy, processing, storing outputs, and recording the outcome.
package job

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Veraticus/redactor/internal/common"
)

// MaxIDLength bounds caller-supplied job ids.
const MaxIDLength = 40

var (
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
	illegalChars = regexp.MustCompile(`["\\:|<>*?]`)
)

// NewID returns a fresh job id.
func NewID() string {
	return uuid.NewString()
}

// StoragePrefix turns a job id into a folder name that is safe for blob storage.
// Control characters are removed, characters object stores reject become "-",
// and leading or trailing dots are trimmed.
func StoragePrefix(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: job id cannot be empty", common.ErrInvalidConfig)
	}
	if len(id) > MaxIDLength {
		return "", fmt.Errorf("%w: job id must be at most %d characters, but %q is %d",
			common.ErrInvalidConfig, MaxIDLength, id, len(id))
	}

	cleaned := controlChars.ReplaceAllString(id, "")
	cleaned = illegalChars.ReplaceAllString(cleaned, "-")
	cleaned = strings.ReplaceAll(cleaned, "/", "-")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "", fmt.Errorf("%w: job id %q has no usable characters", common.ErrInvalidConfig, id)
	}
	return cleaned, nil
}
