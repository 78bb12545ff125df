package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/metrics"
	"konsinyasi/backend/internal/risk"
	"konsinyasi/backend/internal/store"
	"konsinyasi/backend/internal/xid"
)

// ErrDegradedConsistency is returned when the compensating reconciliation
// path failed partway. Stores may be out of sync until an operator reviews
// the affected record's scan log.
var ErrDegradedConsistency = errors.New("reconciliation left stores in a possibly inconsistent state")

const maxTxAttempts = 3

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Lock is a held distributed lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out per-record locks for the compensating reconciliation path.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// ErrLockNotObtained is returned by Locker implementations when the lock is
// already held elsewhere.
var ErrLockNotObtained = errors.New("lock not obtained")

type Service struct {
	repo            store.Repository
	assessor        *risk.Assessor
	locker          Locker
	defaultTenantID string
}

func New(repo store.Repository, assessor *risk.Assessor, locker Locker, defaultTenantID string) *Service {
	if defaultTenantID == "" {
		defaultTenantID = "demo"
	}

	return &Service{
		repo:            repo,
		assessor:        assessor,
		locker:          locker,
		defaultTenantID: defaultTenantID,
	}
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		TenantID: req.TenantID,
		Name:     req.Name,
	}, req.InitialStock)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, req.TenantID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,stock=%d", created.Name, req.InitialStock))
	return *created, nil
}

func (s *Service) GetProductStock(ctx context.Context, tenantID string, productID string) (domain.ProductStock, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	stock, err := s.repo.GetProductStock(ctx, tenantID, productID)
	if err != nil {
		return domain.ProductStock{}, err
	}
	return *stock, nil
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Client{}, fmt.Errorf("admin role required")
	}

	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CreditLimit.IsNegative() {
		return domain.Client{}, store.ErrInvalidInput
	}

	created, err := s.repo.CreateClient(ctx, domain.Client{
		TenantID: req.TenantID,
		Name:     req.Name,
		Phone:    strings.TrimSpace(req.Phone),
	}, req.CreditLimit)
	if err != nil {
		return domain.Client{}, err
	}

	s.logAudit(ctx, req.TenantID, "client_create", "client", created.ID, fmt.Sprintf("name=%s,credit_limit=%s", created.Name, req.CreditLimit))
	return *created, nil
}

func (s *Service) GetClientBalance(ctx context.Context, tenantID string, clientID string) (domain.ClientBalance, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	balance, err := s.repo.GetClientBalance(ctx, tenantID, clientID)
	if err != nil {
		return domain.ClientBalance{}, err
	}
	return *balance, nil
}

// Dispatch fronts stock to a client. The store applies stock movement, balance
// increase and record creation atomically; this layer validates and retries
// serialization conflicts.
func (s *Service) Dispatch(ctx context.Context, req domain.DispatchRequest) (domain.DispatchResponse, error) {
	if req.TenantID == "" {
		req.TenantID = s.defaultTenantID
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ProductID = strings.TrimSpace(req.ProductID)

	if req.ClientID == "" || req.ProductID == "" {
		return domain.DispatchResponse{}, store.ErrInvalidInput
	}
	if req.Quantity < 1 || !req.PricePerUnit.IsPositive() {
		return domain.DispatchResponse{}, store.ErrInvalidInput
	}
	if req.PaymentDueDate.IsZero() || !req.PaymentDueDate.After(time.Now().UTC()) {
		return domain.DispatchResponse{}, store.ErrInvalidInput
	}

	var created *domain.FrontedRecord
	err := s.withTxRetry(ctx, func() error {
		var err error
		created, err = s.repo.Dispatch(ctx, domain.FrontedRecord{
			TenantID:        req.TenantID,
			ProductID:       req.ProductID,
			ClientID:        req.ClientID,
			QuantityFronted: req.Quantity,
			PricePerUnit:    req.PricePerUnit,
			PaymentDueDate:  req.PaymentDueDate.UTC(),
			Notes:           strings.TrimSpace(req.Notes),
		})
		return err
	})
	if err != nil {
		metrics.DispatchTotal.WithLabelValues("error").Inc()
		return domain.DispatchResponse{}, err
	}

	metrics.DispatchTotal.WithLabelValues("ok").Inc()
	s.logAudit(ctx, req.TenantID, "dispatch", "fronted_record", created.ID,
		fmt.Sprintf("client=%s,product=%s,qty=%d,expected=%s", req.ClientID, req.ProductID, req.Quantity, created.ExpectedRevenue))

	return domain.DispatchResponse{
		FrontedRecordID: created.ID,
		ExpectedRevenue: created.ExpectedRevenue,
		PaymentDueDate:  created.PaymentDueDate,
	}, nil
}

// Reconcile applies one scan batch against a fronted record. The whole batch
// either lands or is rejected. If the store cannot apply the batch atomically
// the guarded compensating path takes over.
func (s *Service) Reconcile(ctx context.Context, recordID string, req domain.ReconcileRequest) (domain.ReconcileResponse, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" || len(req.Entries) == 0 {
		return domain.ReconcileResponse{}, store.ErrInvalidInput
	}

	batchID := xid.New("batch")
	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(req.Entries))
	entries := make([]domain.ReturnScanEntry, 0, len(req.Entries))
	for _, input := range req.Entries {
		barcode := strings.TrimSpace(input.Barcode)
		if barcode == "" {
			return domain.ReconcileResponse{}, store.ErrInvalidInput
		}
		if _, dup := seen[barcode]; dup {
			return domain.ReconcileResponse{}, store.ErrDuplicateScan
		}
		seen[barcode] = struct{}{}

		switch input.Condition {
		case domain.ScanConditionGood:
		case domain.ScanConditionDamaged:
			if strings.TrimSpace(input.Reason) == "" {
				return domain.ReconcileResponse{}, store.ErrInvalidInput
			}
		default:
			return domain.ReconcileResponse{}, store.ErrInvalidInput
		}

		entries = append(entries, domain.ReturnScanEntry{
			ID:              xid.New("scan"),
			FrontedRecordID: recordID,
			BatchID:         batchID,
			Barcode:         barcode,
			Condition:       input.Condition,
			Reason:          strings.TrimSpace(input.Reason),
			ScannedAt:       now,
		})
	}

	var result *store.ReconcileResult
	err := s.withTxRetry(ctx, func() error {
		var err error
		result, err = s.repo.Reconcile(ctx, recordID, entries)
		return err
	})
	if errors.Is(err, store.ErrAtomicUnsupported) {
		return s.reconcileFallback(ctx, recordID, entries)
	}
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		return domain.ReconcileResponse{}, err
	}

	metrics.ReconcileTotal.WithLabelValues("ok").Inc()
	detail := fmt.Sprintf("batch=%s,good=%d,damaged=%d,returned_value=%s", batchID, result.GoodReturns, result.DamagedReturns, result.ReturnedValue)
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		detail += ",notes=" + notes
	}
	s.logAudit(ctx, result.Record.TenantID, "reconcile", "fronted_record", recordID, detail)

	return domain.ReconcileResponse{
		FrontedRecordID:       recordID,
		GoodReturns:           result.GoodReturns,
		DamagedReturns:        result.DamagedReturns,
		ReturnedValue:         result.ReturnedValue,
		NewOutstandingBalance: result.NewBalance,
		RecordStatus:          result.Record.Status,
		PaymentStatus:         result.Record.PaymentStatus,
	}, nil
}

// reconcileFallback applies a scan batch through narrow single-store
// primitives under a per-record lock. Each step is verified; a failure after
// the first mutation surfaces ErrDegradedConsistency so the caller knows the
// stores may disagree until reviewed.
func (s *Service) reconcileFallback(ctx context.Context, recordID string, entries []domain.ReturnScanEntry) (domain.ReconcileResponse, error) {
	batchID := entries[0].BatchID
	if s.locker == nil {
		log.Printf("[service] WARN: atomic reconcile unavailable and no lock backend configured, refusing batch record=%s", recordID)
		return domain.ReconcileResponse{}, ErrDegradedConsistency
	}

	lock, err := s.locker.Obtain(ctx, "fronted:"+recordID, 30*time.Second)
	if err != nil {
		if errors.Is(err, ErrLockNotObtained) {
			return domain.ReconcileResponse{}, store.ErrTxConflict
		}
		return domain.ReconcileResponse{}, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[service] WARN: failed to release reconcile lock record=%s: %v", recordID, err)
		}
	}()

	record, err := s.repo.GetFrontedRecord(ctx, recordID)
	if err != nil {
		return domain.ReconcileResponse{}, err
	}
	if record.Status != domain.RecordStatusActive {
		return domain.ReconcileResponse{}, store.ErrInvalidState
	}

	existing, err := s.repo.ListScanEntries(ctx, recordID)
	if err != nil {
		return domain.ReconcileResponse{}, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, entry := range existing {
		known[entry.Barcode] = struct{}{}
	}

	goodCount, damagedCount := 0, 0
	for _, entry := range entries {
		if _, dup := known[entry.Barcode]; dup {
			return domain.ReconcileResponse{}, store.ErrDuplicateScan
		}
		if entry.Condition == domain.ScanConditionGood {
			goodCount++
		} else {
			damagedCount++
		}
	}
	if record.QuantityAccounted()+goodCount+damagedCount > record.QuantityFronted {
		return domain.ReconcileResponse{}, store.ErrOverReturn
	}

	// The scan log goes first: if nothing else lands, an unreferenced batch
	// in the log is recoverable, whereas quantity moves without a log are not.
	if err := s.repo.AppendScanEntries(ctx, entries); err != nil {
		return domain.ReconcileResponse{}, err
	}

	updated, err := s.repo.ApplyQuantityDelta(ctx, recordID, 0, goodCount, damagedCount)
	if err != nil {
		return s.failDegraded(recordID, batchID, "apply quantity delta", err)
	}
	if err := s.repo.ReturnToStock(ctx, record.TenantID, record.ProductID, goodCount); err != nil {
		return s.failDegraded(recordID, batchID, "return to stock", err)
	}
	if err := s.repo.WriteOffDamaged(ctx, record.TenantID, record.ProductID, damagedCount); err != nil {
		return s.failDegraded(recordID, batchID, "write off damaged", err)
	}

	returnedValue := record.PricePerUnit.Mul(decimal.NewFromInt(int64(goodCount)))
	if err := s.repo.DebitClient(ctx, record.TenantID, record.ClientID, returnedValue); err != nil {
		return s.failDegraded(recordID, batchID, "debit client", err)
	}

	// Post-verification: the record must still satisfy the accounting
	// invariant after the individual steps.
	if updated.QuantityAccounted() > updated.QuantityFronted {
		return s.failDegraded(recordID, batchID, "post-verify", fmt.Errorf("accounted %d exceeds fronted %d", updated.QuantityAccounted(), updated.QuantityFronted))
	}

	balance, err := s.repo.GetClientBalance(ctx, record.TenantID, record.ClientID)
	if err != nil {
		return s.failDegraded(recordID, batchID, "post-verify balance read", err)
	}

	metrics.DegradedFallbacks.Inc()
	metrics.ReconcileTotal.WithLabelValues("degraded").Inc()
	log.Printf("[service] WARN: reconcile applied via non-atomic fallback record=%s good=%d damaged=%d", recordID, goodCount, damagedCount)
	s.logAudit(ctx, record.TenantID, "reconcile_degraded", "fronted_record", recordID,
		fmt.Sprintf("good=%d,damaged=%d,returned_value=%s", goodCount, damagedCount, returnedValue))

	return domain.ReconcileResponse{
		FrontedRecordID:       recordID,
		GoodReturns:           goodCount,
		DamagedReturns:        damagedCount,
		ReturnedValue:         returnedValue,
		NewOutstandingBalance: balance.OutstandingBalance,
		RecordStatus:          updated.Status,
		PaymentStatus:         updated.PaymentStatus,
		Degraded:              true,
	}, nil
}

// failDegraded names the batch so an operator can find and purge the scan
// rows already logged for it before retrying the reconcile.
func (s *Service) failDegraded(recordID string, batchID string, step string, cause error) (domain.ReconcileResponse, error) {
	metrics.ReconcileTotal.WithLabelValues("degraded_error").Inc()
	log.Printf("[service] ERROR: non-atomic reconcile failed at %s record=%s batch=%s: %v", step, recordID, batchID, cause)
	return domain.ReconcileResponse{}, fmt.Errorf("%s (batch=%s): %v: %w", step, batchID, cause, ErrDegradedConsistency)
}

func (s *Service) RecordPayment(ctx context.Context, recordID string, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" || !req.Amount.IsPositive() {
		return domain.PaymentResponse{}, store.ErrInvalidInput
	}

	var updated *domain.FrontedRecord
	err := s.withTxRetry(ctx, func() error {
		var err error
		updated, err = s.repo.MarkPayment(ctx, recordID, req.Amount, time.Now().UTC())
		return err
	})
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	s.logAudit(ctx, updated.TenantID, "payment", "fronted_record", recordID,
		fmt.Sprintf("amount=%s,total_received=%s,status=%s", req.Amount, updated.PaymentReceived, updated.PaymentStatus))

	return domain.PaymentResponse{
		FrontedRecordID: updated.ID,
		PaymentReceived: updated.PaymentReceived,
		PaymentStatus:   updated.PaymentStatus,
		RecordStatus:    updated.Status,
	}, nil
}

// CancelRecord reverses an untouched dispatch. The PIN gate sits in the HTTP
// layer; this layer enforces the ledger preconditions.
func (s *Service) CancelRecord(ctx context.Context, recordID string, reason string) (domain.CancelResponse, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return domain.CancelResponse{}, store.ErrInvalidInput
	}

	var cancelled *domain.FrontedRecord
	err := s.withTxRetry(ctx, func() error {
		var err error
		cancelled, err = s.repo.Cancel(ctx, recordID, strings.TrimSpace(reason), time.Now().UTC())
		return err
	})
	if err != nil {
		return domain.CancelResponse{}, err
	}

	s.logAudit(ctx, cancelled.TenantID, "cancel_dispatch", "fronted_record", recordID, strings.TrimSpace(reason))

	return domain.CancelResponse{
		FrontedRecordID: cancelled.ID,
		Status:          cancelled.Status,
		CancelledAt:     cancelled.UpdatedAt,
	}, nil
}

// GetFrontedRecord returns the record with the read-time overdue overlay
// applied to its payment status.
func (s *Service) GetFrontedRecord(ctx context.Context, recordID string) (domain.FrontedRecord, error) {
	record, err := s.repo.GetFrontedRecord(ctx, strings.TrimSpace(recordID))
	if err != nil {
		return domain.FrontedRecord{}, err
	}
	result := *record
	result.PaymentStatus = result.EffectivePaymentStatus(time.Now().UTC())
	return result, nil
}

func (s *Service) ListFrontedRecords(ctx context.Context, filter domain.FrontedListFilter) (domain.FrontedListResponse, error) {
	if filter.TenantID == "" {
		filter.TenantID = s.defaultTenantID
	}
	records, err := s.repo.ListFrontedRecords(ctx, filter)
	if err != nil {
		return domain.FrontedListResponse{}, err
	}

	now := time.Now().UTC()
	for i := range records {
		records[i].PaymentStatus = records[i].EffectivePaymentStatus(now)
	}
	return domain.FrontedListResponse{Records: records}, nil
}

func (s *Service) ListScanEntries(ctx context.Context, recordID string) (domain.ScanLogResponse, error) {
	recordID = strings.TrimSpace(recordID)
	if _, err := s.repo.GetFrontedRecord(ctx, recordID); err != nil {
		return domain.ScanLogResponse{}, err
	}
	entries, err := s.repo.ListScanEntries(ctx, recordID)
	if err != nil {
		return domain.ScanLogResponse{}, err
	}
	return domain.ScanLogResponse{FrontedRecordID: recordID, Entries: entries}, nil
}

// ClientRisk assembles the trailing payment history and open records for one
// client and scores them.
func (s *Service) ClientRisk(ctx context.Context, tenantID string, clientID string) (domain.RiskAssessment, error) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.RiskAssessment{}, store.ErrInvalidInput
	}
	if _, err := s.repo.GetClientBalance(ctx, tenantID, clientID); err != nil {
		return domain.RiskAssessment{}, err
	}

	now := time.Now().UTC()
	payments, err := s.repo.ListPaymentsByClient(ctx, tenantID, clientID, s.assessor.Window(now))
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	open, err := s.repo.ListFrontedRecords(ctx, domain.FrontedListFilter{
		TenantID: tenantID,
		ClientID: clientID,
		Status:   domain.RecordStatusActive,
		Limit:    500,
	})
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	return s.assessor.Assess(ctx, tenantID, clientID, payments, open), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, tenantID string, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}

	if tenantID == "" {
		tenantID = s.defaultTenantID
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, store.ErrInvalidInput
	}
	from := day.UTC()
	return s.repo.ListAuditLogs(ctx, tenantID, from, from.Add(24*time.Hour), limit)
}

func (s *Service) withTxRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			metrics.TxConflictRetries.Inc()
			if !sleepWithJitter(ctx, attempt) {
				return ctx.Err()
			}
		}
		err = op()
		if !errors.Is(err, store.ErrTxConflict) {
			return err
		}
	}
	return err
}

func sleepWithJitter(ctx context.Context, attempt int) bool {
	base := time.Duration(25<<attempt) * time.Millisecond
	delay := base + time.Duration(rand.Int63n(int64(base)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Service) logAudit(ctx context.Context, tenantID string, action string, entityType string, entityID string, detail string) {
	if tenantID == "" {
		tenantID = s.defaultTenantID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      tenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
