package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldOperation = "operation"

	FieldTenantID        = "tenant_id"
	FieldTenantSuffix    = "tenant_suffix"
	FieldChildID         = "child_id"
	FieldChildName       = "child_name"
	FieldTransactionID   = "transaction_id"
	FieldTransactionType = "transaction_type"
	FieldAmount          = "amount"
	FieldBalance         = "balance"
	FieldDueDate         = "due_date"
	FieldFireDate        = "fire_date"
	FieldHoldDays        = "hold_days_remaining"
	FieldProcessed       = "processed"
	FieldSkipped         = "skipped"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentLedger  = "ledger"
	ComponentChild   = "child"
	ComponentTenant  = "tenant"
	ComponentAccrual = "accrual"
	ComponentStorage = "storage"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentBackend = "backend"
)
