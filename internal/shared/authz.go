package shared

// Permissions checked by the rbac gate before any composite write.
const (
	PermOrderCreate       = "sales.order.create"
	PermPaymentCreate     = "finance.payment.create"
	PermCreditNoteCreate  = "finance.credit_note.create"
	PermCreditNoteApprove = "finance.credit_note.approve"
	PermBatchView         = "production.batch.view"
	PermBatchCreate       = "production.batch.create"
	PermMaintenance       = "maintenance.consistency"
)

// EngineScopes lists every permission used by the transaction engine.
func EngineScopes() []string {
	return []string{
		PermOrderCreate,
		PermPaymentCreate,
		PermCreditNoteCreate,
		PermCreditNoteApprove,
		PermBatchView,
		PermBatchCreate,
		PermMaintenance,
	}
}
