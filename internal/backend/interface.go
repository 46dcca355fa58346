package backend

import (
	"context"

	"moneta/internal/sheets"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the sync sink and an optional cleanup function
type BackendResult struct {
	Sink    sheets.RecordWriter
	Cleanup CleanupFunc
}

// Close runs the cleanup function, if any.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates sync sinks based on configuration
type Factory interface {
	// CreateBackend creates a sink instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for sink creation
type Config struct {
	// Backend type
	Type BackendType

	// AMQP specific
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	// ConnectAttempts bounds the initial broker dial; later publishes redial lazily.
	ConnectAttempts int

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleTabPrefix          string
}

// BackendType represents the type of sync sink
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	AMQPBackend   BackendType = "amqp"
	SheetsBackend BackendType = "sheets"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, AMQPBackend, SheetsBackend:
		return true
	default:
		return false
	}
}
