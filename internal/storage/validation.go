// Package storage provides the data persistence layer for job history.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/redactor/internal/service"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
	ErrInvalidJob   = errors.New("invalid job")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateJob checks the fields a job row cannot be saved without.
func validateJob(job *service.JobRecord) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidJob)
	}
	if job.Format == "" {
		return fmt.Errorf("%w: missing format", ErrInvalidJob)
	}
	if job.Stage == "" {
		return fmt.Errorf("%w: missing stage", ErrInvalidJob)
	}
	return nil
}
