package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidState        = errors.New("record is not in a valid state for this operation")
	ErrOverReturn          = errors.New("batch would exceed fronted quantity")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrDuplicateScan       = errors.New("barcode already reconciled for this record")
	ErrTxConflict          = errors.New("transaction conflict, retry")
	// ErrAtomicUnsupported is returned by a repository whose backend cannot
	// execute the reconcile as one transaction. The service then decides
	// whether the guarded compensating path may run.
	ErrAtomicUnsupported = errors.New("atomic reconcile not supported by this repository")
)

// ReconcileResult is what an applied reconciliation batch produced.
type ReconcileResult struct {
	Record         domain.FrontedRecord
	GoodReturns    int
	DamagedReturns int
	ReturnedValue  decimal.Decimal
	NewBalance     decimal.Decimal
}

// Repository is the ledger's storage contract. The three balances (fronted
// record, product stock, client balance) are only ever mutated together
// through Dispatch, Reconcile, MarkPayment and Cancel; the narrower
// single-store mutators exist solely for the guarded fallback path and must
// not be called outside it.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product, initialStock int) (*domain.Product, error)
	GetProductStock(ctx context.Context, tenantID string, productID string) (*domain.ProductStock, error)
	CreateClient(ctx context.Context, client domain.Client, creditLimit decimal.Decimal) (*domain.Client, error)
	GetClientBalance(ctx context.Context, tenantID string, clientID string) (*domain.ClientBalance, error)

	// Dispatch atomically inserts the record, moves stock from available to
	// fronted and credits the client's outstanding balance.
	Dispatch(ctx context.Context, record domain.FrontedRecord) (*domain.FrontedRecord, error)
	GetFrontedRecord(ctx context.Context, id string) (*domain.FrontedRecord, error)
	ListFrontedRecords(ctx context.Context, filter domain.FrontedListFilter) ([]domain.FrontedRecord, error)

	// Reconcile applies a validated scan batch as one atomic unit: quantity
	// deltas, stock return/write-off, balance debit and the scan-log append.
	// Returns ErrAtomicUnsupported if the backend cannot guarantee atomicity.
	Reconcile(ctx context.Context, recordID string, batch []domain.ReturnScanEntry) (*ReconcileResult, error)

	// MarkPayment records a payment, recomputes the payment status, debits
	// the client balance and appends a payment-history row.
	MarkPayment(ctx context.Context, recordID string, amount decimal.Decimal, at time.Time) (*domain.FrontedRecord, error)

	// Cancel transitions an untouched active record to cancelled, restoring
	// stock and reversing the client's debt.
	Cancel(ctx context.Context, recordID string, reason string, at time.Time) (*domain.FrontedRecord, error)

	ListScanEntries(ctx context.Context, recordID string) ([]domain.ReturnScanEntry, error)
	ListPaymentsByClient(ctx context.Context, tenantID string, clientID string, since time.Time) ([]domain.Payment, error)

	// Fallback primitives (see Repository doc).
	ApplyQuantityDelta(ctx context.Context, recordID string, soldDelta int, returnedDelta int, damagedDelta int) (*domain.FrontedRecord, error)
	ReturnToStock(ctx context.Context, tenantID string, productID string, qty int) error
	WriteOffDamaged(ctx context.Context, tenantID string, productID string, qty int) error
	DebitClient(ctx context.Context, tenantID string, clientID string, amount decimal.Decimal) error
	AppendScanEntries(ctx context.Context, entries []domain.ReturnScanEntry) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	SetUserActive(ctx context.Context, username string, active bool) error
}
