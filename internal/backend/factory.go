package backend

import (
	"context"
	"fmt"

	"moneta/internal/amqp"
	applog "moneta/internal/log"
	gsheet "moneta/internal/sheets/google"
	"moneta/internal/sheets/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	return &DefaultFactory{
		logger: applog.OrDefault(logger, applog.ComponentBackend).WithComponent(applog.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case AMQPBackend:
		return f.createAMQPBackend(ctx, config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createAMQPBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)

	attempts := max(config.ConnectAttempts, 1)
	if err := client.Connect(ctx, attempts); err != nil {
		// Publishing redials on demand; rows stay dirty until the broker is back.
		f.logger.WarnContext(ctx, "AMQP broker unreachable, continuing with lazy reconnect",
			applog.FieldError, err)
	}

	f.logger.InfoContext(ctx, "Initialized AMQP sync backend",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	return &BackendResult{
		Sink:    client,
		Cleanup: client.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
		TabPrefix:       config.GoogleTabPrefix,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized Google Sheets sync backend",
		"spreadsheet_id", config.GoogleSpreadsheetID)

	return &BackendResult{
		Sink:    cli,
		Cleanup: nil, // No cleanup needed for sheets backend
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context) (*BackendResult, error) {
	f.logger.InfoContext(ctx, "Initialized memory sync backend")

	return &BackendResult{
		Sink:    memory.New(),
		Cleanup: nil, // No cleanup needed for memory backend
	}, nil
}
