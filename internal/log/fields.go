package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldOperation = "operation"
	FieldTable     = "table"
	FieldID        = "id"
	FieldUserID    = "user_id"
	FieldAccountID = "account_id"
	FieldCategory  = "category_id"
	FieldAmount    = "amount"
	FieldYear      = "year"
	FieldMonth     = "month"
	FieldCount     = "count"
	FieldVersion   = "version"
	FieldSink      = "sink"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentStorage     = "storage"
	ComponentSchema      = "schema"
	ComponentLedger      = "ledger"
	ComponentAggregation = "aggregation"
	ComponentWorker      = "worker"
	ComponentAMQP        = "amqp"
	ComponentSheets      = "sheets"
	ComponentBackend     = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpMigrate  = "migrate"
	OpSeed     = "seed"
	OpSync     = "sync"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecord adds table and row id fields
func (f LogFields) WithRecord(table, id string) LogFields {
	f[FieldTable] = table
	f[FieldID] = id
	return f
}

// WithUser adds the owning user id
func (f LogFields) WithUser(userID string) LogFields {
	if userID != "" {
		f[FieldUserID] = userID
	}
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
