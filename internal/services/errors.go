// Package services holds the shared error taxonomy for external tool and
// store interactions plus the typed clients under services/*.
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExternalTool marks failures of the cloaking transform or ffmpeg.
	ErrExternalTool = errors.New("external tool error")
	// ErrTransient marks store or network failures worth retrying at the
	// next natural retry point (next scan cycle, next frame).
	ErrTransient = errors.New("transient failure")
	// ErrConfiguration marks unrecoverable setup problems that should abort
	// the worker process.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing remote object where one was expected.
	ErrNotFound = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsExternalTool reports whether err is tagged as an external tool failure.
func IsExternalTool(err error) bool { return errors.Is(err, ErrExternalTool) }

// IsTransient reports whether err is tagged as retryable.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsConfiguration reports whether err is tagged as a configuration problem.
func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }

// IsNotFound reports whether err is tagged as a missing object.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
