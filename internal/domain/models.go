package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RecordStatusActive    = "active"
	RecordStatusCompleted = "completed"
	RecordStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
	// Overdue is derived at read time from the due date, never stored.
	PaymentStatusOverdue = "overdue"
)

const (
	ScanConditionGood    = "good"
	ScanConditionDamaged = "damaged"
)

// Admin manages the catalog and staff; ops runs the day-to-day fronted flow.
const (
	RoleAdmin = "admin"
	RoleOps   = "ops"
)

// FrontedRecord is one consignment ledger entry: stock handed to a client on
// credit, reconciled over time through scanned returns and payments.
type FrontedRecord struct {
	ID               string          `json:"id"`
	TenantID         string          `json:"tenant_id"`
	ProductID        string          `json:"product_id"`
	ClientID         string          `json:"client_id"`
	QuantityFronted  int             `json:"quantity_fronted"`
	QuantitySold     int             `json:"quantity_sold"`
	QuantityReturned int             `json:"quantity_returned"`
	QuantityDamaged  int             `json:"quantity_damaged"`
	PricePerUnit     decimal.Decimal `json:"price_per_unit"`
	ExpectedRevenue  decimal.Decimal `json:"expected_revenue"`
	PaymentReceived  decimal.Decimal `json:"payment_received"`
	PaymentStatus    string          `json:"payment_status"`
	Status           string          `json:"status"`
	Notes            string          `json:"notes,omitempty"`
	DispatchedAt     time.Time       `json:"dispatched_at"`
	PaymentDueDate   time.Time       `json:"payment_due_date"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// QuantityAccounted is the number of fronted units with a known outcome.
func (r FrontedRecord) QuantityAccounted() int {
	return r.QuantitySold + r.QuantityReturned + r.QuantityDamaged
}

// QuantityOutstanding is the number of units still in the client's hands.
func (r FrontedRecord) QuantityOutstanding() int {
	return r.QuantityFronted - r.QuantityAccounted()
}

// ReturnedValue is the money credited back for good returns. Damaged units are
// write-offs and carry no return value.
func (r FrontedRecord) ReturnedValue() decimal.Decimal {
	return r.PricePerUnit.Mul(decimal.NewFromInt(int64(r.QuantityReturned)))
}

// NetExpectedRevenue is the expected revenue after subtracting returned value.
// Payment status is computed against this, not the original expected revenue.
func (r FrontedRecord) NetExpectedRevenue() decimal.Decimal {
	net := r.ExpectedRevenue.Sub(r.ReturnedValue())
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// DerivePaymentStatus recomputes the stored payment status from the amount
// received against the net expected revenue. Overdue is never derived here;
// it is a read-time overlay only.
func (r FrontedRecord) DerivePaymentStatus() string {
	net := r.NetExpectedRevenue()
	if r.PaymentReceived.Cmp(net) >= 0 {
		return PaymentStatusPaid
	}
	if r.PaymentReceived.IsPositive() {
		return PaymentStatusPartial
	}
	return PaymentStatusPending
}

// EffectivePaymentStatus overlays the read-time overdue status on top of the
// stored payment status.
func (r FrontedRecord) EffectivePaymentStatus(now time.Time) string {
	if r.PaymentStatus != PaymentStatusPaid && now.After(r.PaymentDueDate) {
		return PaymentStatusOverdue
	}
	return r.PaymentStatus
}

// Product is a tenant-scoped catalog entry referenced by fronted records.
type Product struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// ProductStock tracks available versus fronted units per tenant and product.
// Mutated only through dispatch, reconciliation and cancellation.
type ProductStock struct {
	TenantID          string    `json:"tenant_id"`
	ProductID         string    `json:"product_id"`
	AvailableQuantity int       `json:"available_quantity"`
	FrontedQuantity   int       `json:"fronted_quantity"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Client is a reseller/driver/sub-dealer who receives fronted stock.
type Client struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientBalance is the client's receivable position. OutstandingBalance never
// goes negative; a credit limit of zero means no limit is enforced.
type ClientBalance struct {
	TenantID           string          `json:"tenant_id"`
	ClientID           string          `json:"client_id"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ReturnScanEntry is one scanned physical unit inside a reconciliation batch.
// Append-only; (fronted_record_id, barcode) is unique across batches so a
// resubmitted batch is rejected rather than double-applied.
type ReturnScanEntry struct {
	ID              string    `json:"id"`
	FrontedRecordID string    `json:"fronted_record_id"`
	BatchID         string    `json:"batch_id"`
	Barcode         string    `json:"barcode"`
	Condition       string    `json:"condition"`
	Reason          string    `json:"reason,omitempty"`
	ScannedAt       time.Time `json:"scanned_at"`
}

// Payment is one recorded payment against a fronted record. OnTime captures
// whether it landed before the record's due date, which feeds the risk scorer.
type Payment struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	FrontedRecordID string          `json:"fronted_record_id"`
	ClientID        string          `json:"client_id"`
	Amount          decimal.Decimal `json:"amount"`
	OnTime          bool            `json:"on_time"`
	PaidAt          time.Time       `json:"paid_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type DispatchRequest struct {
	TenantID       string          `json:"tenant_id"`
	ClientID       string          `json:"client_id"`
	ProductID      string          `json:"product_id"`
	Quantity       int             `json:"quantity"`
	PricePerUnit   decimal.Decimal `json:"price_per_unit"`
	PaymentDueDate time.Time       `json:"payment_due_date"`
	Notes          string          `json:"notes,omitempty"`
}

type DispatchResponse struct {
	FrontedRecordID string          `json:"fronted_record_id"`
	ExpectedRevenue decimal.Decimal `json:"expected_revenue"`
	PaymentDueDate  time.Time       `json:"payment_due_date"`
}

type ScanEntryInput struct {
	Barcode   string `json:"barcode"`
	Condition string `json:"condition"`
	Reason    string `json:"reason,omitempty"`
}

type ReconcileRequest struct {
	Entries []ScanEntryInput `json:"entries"`
	Notes   string           `json:"notes,omitempty"`
}

// ReconcileResponse is the ledger summary returned after a reconciliation
// batch is applied.
type ReconcileResponse struct {
	FrontedRecordID       string          `json:"fronted_record_id"`
	GoodReturns           int             `json:"good_returns"`
	DamagedReturns        int             `json:"damaged_returns"`
	ReturnedValue         decimal.Decimal `json:"returned_value"`
	NewOutstandingBalance decimal.Decimal `json:"new_outstanding_balance"`
	RecordStatus          string          `json:"record_status"`
	PaymentStatus         string          `json:"payment_status"`
	Degraded              bool            `json:"degraded"`
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type PaymentResponse struct {
	FrontedRecordID string          `json:"fronted_record_id"`
	PaymentReceived decimal.Decimal `json:"payment_received"`
	PaymentStatus   string          `json:"payment_status"`
	RecordStatus    string          `json:"record_status"`
}

type CancelRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type CancelResponse struct {
	FrontedRecordID string    `json:"fronted_record_id"`
	Status          string    `json:"status"`
	CancelledAt     time.Time `json:"cancelled_at"`
}

// FrontedListFilter narrows list reads. OverdueOnly filters on the read-time
// overdue computation, not on a stored column.
type FrontedListFilter struct {
	TenantID    string
	ClientID    string
	Status      string
	OverdueOnly bool
	Limit       int
}

type FrontedListResponse struct {
	Records []FrontedRecord `json:"records"`
}

type ScanLogResponse struct {
	FrontedRecordID string            `json:"fronted_record_id"`
	Entries         []ReturnScanEntry `json:"entries"`
}

type ProductCreateRequest struct {
	TenantID     string `json:"tenant_id"`
	Name         string `json:"name"`
	InitialStock int    `json:"initial_stock"`
}

type ClientCreateRequest struct {
	TenantID    string          `json:"tenant_id"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone,omitempty"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

// RecordRisk is the per-record overdue view inside a risk assessment.
type RecordRisk struct {
	FrontedRecordID  string          `json:"fronted_record_id"`
	DaysOverdue      int             `json:"days_overdue"`
	OutstandingValue decimal.Decimal `json:"outstanding_value"`
}

// RiskAssessment is the read-side risk summary for one client.
type RiskAssessment struct {
	TenantID         string       `json:"tenant_id"`
	ClientID         string       `json:"client_id"`
	ReliabilityScore int          `json:"reliability_score"`
	OnTimePayments   int          `json:"on_time_payments"`
	OverdueIncidents int          `json:"overdue_incidents"`
	OpenRecords      []RecordRisk `json:"open_records"`
	GeneratedAt      time.Time    `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffStatusRequest struct {
	Username string `json:"username"`
	Active   bool   `json:"active"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
