package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("order not found")
	ErrUpstreamProvider = errors.New("payment provider call failed")
	ErrAlreadyCaptured  = errors.New("payment already captured or order already processed")
	ErrDocument         = errors.New("document generation failed")
	ErrNotification     = errors.New("notification dispatch failed")
)

// ValidationError lists every rejected field of an input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msg := range e.Fields {
		parts = append(parts, f+": "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ProviderError carries the HTTP status the payment provider answered with.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: provider status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrUpstreamProvider, e.Err} }
