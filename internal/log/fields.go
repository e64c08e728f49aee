package log

// Common field names for structured logging
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldStatusCode     = "status_code"
	FieldDuration       = "duration_ms"
	FieldSuccess        = "success"
	FieldError          = "error"
	FieldOperation      = "operation"
	FieldMerchantKey    = "merchant_key"
	FieldSubscriptionID = "subscription_id"
	FieldTransactionID  = "transaction_id"
	FieldEmailID        = "email_id"
	FieldAmountCents    = "amount_cents"
	FieldPeriod         = "period"
	FieldStatus         = "status"
	FieldTrigger        = "trigger"
	FieldSignalKind     = "signal_kind"
	FieldDetection      = "detection"
	FieldHorizonDays    = "horizon_days"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentDetector  = "detector"
	ComponentExtractor = "extractor"
	ComponentDashboard = "dashboard"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentExport    = "export"
	ComponentCache     = "cache"
	ComponentTrace     = "trace"
)

// Operations defines standard operation names
const (
	OpIngest   = "ingest"
	OpDetect   = "detect"
	OpApply    = "apply"
	OpDecide   = "decide"
	OpQuery    = "query"
	OpSave     = "save"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpExport   = "export"
	OpValidate = "validate"
	OpStartup  = "startup"
	OpShutdown = "shutdown"
)

// LogFields provides a builder for structured log fields
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

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithSubscription adds subscription-related fields
func (f LogFields) WithSubscription(id, merchantKey string, amountCents int64, status string) LogFields {
	f[FieldSubscriptionID] = id
	f[FieldMerchantKey] = merchantKey
	f[FieldAmountCents] = amountCents
	f[FieldStatus] = status
	return f
}

// WithTransaction adds transaction-related fields
func (f LogFields) WithTransaction(id string, amountCents int64) LogFields {
	f[FieldTransactionID] = id
	f[FieldAmountCents] = amountCents
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
