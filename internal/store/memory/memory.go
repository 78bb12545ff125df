package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/store"
	"konsinyasi/backend/internal/xid"
)

type stockKey struct {
	tenantID  string
	productID string
}

type clientKey struct {
	tenantID string
	clientID string
}

type scanKey struct {
	recordID string
	barcode  string
}

// Store is an in-memory Repository used for development and tests. All
// mutating operations take the write lock for their whole duration, so every
// multi-row update is atomic from the callers' point of view.
type Store struct {
	mu sync.RWMutex

	products  map[string]domain.Product
	stocks    map[stockKey]domain.ProductStock
	clients   map[string]domain.Client
	balances  map[clientKey]domain.ClientBalance
	records   map[string]domain.FrontedRecord
	scans     []domain.ReturnScanEntry
	scanIndex map[scanKey]struct{}
	payments  []domain.Payment
	auditLogs []domain.AuditLog
	users     map[string]domain.UserAccount

	// atomicReconcile disabled makes Reconcile report ErrAtomicUnsupported so
	// the service's compensating path can be exercised.
	atomicReconcile bool
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		stocks:          make(map[stockKey]domain.ProductStock),
		clients:         make(map[string]domain.Client),
		balances:        make(map[clientKey]domain.ClientBalance),
		records:         make(map[string]domain.FrontedRecord),
		scans:           make([]domain.ReturnScanEntry, 0, 64),
		scanIndex:       make(map[scanKey]struct{}),
		payments:        make([]domain.Payment, 0, 32),
		auditLogs:       make([]domain.AuditLog, 0, 64),
		users:           make(map[string]domain.UserAccount),
		atomicReconcile: true,
	}
}

// NewSeeded returns a store preloaded with a demo tenant, users, catalog and
// clients so the server is usable out of the box without postgres.
func NewSeeded() *Store {
	s := New()
	s.seedUsers()
	s.seedCatalog()
	return s
}

// NewSeededNonAtomic is NewSeeded with atomic reconciliation disabled.
// Test-only knob for the degraded fallback path.
func NewSeededNonAtomic() *Store {
	s := NewSeeded()
	s.atomicReconcile = false
	return s
}

func (s *Store) seedUsers() {
	now := time.Now().UTC()

	adminPassword := os.Getenv("SEED_ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "admin-ganti-segera"
		log.Printf("[memory] WARN: SEED_ADMIN_PASSWORD not set, using default dev password for admin")
	}
	opsPassword := os.Getenv("SEED_OPS_PASSWORD")
	if opsPassword == "" {
		opsPassword = "ops-ganti-segera"
		log.Printf("[memory] WARN: SEED_OPS_PASSWORD not set, using default dev password for ops")
	}

	adminHash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[memory] ERROR: failed to hash admin seed password: %v", err)
		return
	}
	opsHash, err := bcrypt.GenerateFromPassword([]byte(opsPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("[memory] ERROR: failed to hash ops seed password: %v", err)
		return
	}

	s.users["admin"] = domain.UserAccount{
		Username:  "admin",
		Password:  string(adminHash),
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: now,
	}
	s.users["ops1"] = domain.UserAccount{
		Username:  "ops1",
		Password:  string(opsHash),
		Role:      domain.RoleOps,
		Active:    true,
		CreatedAt: now,
	}
}

func (s *Store) seedCatalog() {
	now := time.Now().UTC()
	tenant := "demo"

	seedProducts := []struct {
		id    string
		name  string
		stock int
	}{
		{"prod-aqua-600", "Aqua 600ml", 240},
		{"prod-indomie-goreng", "Indomie Goreng", 400},
		{"prod-kopi-kapal-api", "Kopi Kapal Api 165g", 120},
	}
	for _, p := range seedProducts {
		s.products[p.id] = domain.Product{
			ID:        p.id,
			TenantID:  tenant,
			Name:      p.name,
			Active:    true,
			CreatedAt: now,
		}
		s.stocks[stockKey{tenant, p.id}] = domain.ProductStock{
			TenantID:          tenant,
			ProductID:         p.id,
			AvailableQuantity: p.stock,
			UpdatedAt:         now,
		}
	}

	seedClients := []struct {
		id    string
		name  string
		phone string
		limit int64
	}{
		{"cl-warung-bu-sri", "Warung Bu Sri", "0812-1111-2222", 5_000_000},
		{"cl-toko-pak-budi", "Toko Pak Budi", "0812-3333-4444", 0},
	}
	for _, c := range seedClients {
		s.clients[c.id] = domain.Client{
			ID:        c.id,
			TenantID:  tenant,
			Name:      c.name,
			Phone:     c.phone,
			CreatedAt: now,
		}
		s.balances[clientKey{tenant, c.id}] = domain.ClientBalance{
			TenantID:    tenant,
			ClientID:    c.id,
			CreditLimit: decimal.NewFromInt(c.limit),
			UpdatedAt:   now,
		}
	}
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initialStock int) (*domain.Product, error) {
	if product.TenantID == "" || strings.TrimSpace(product.Name) == "" || initialStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Name = strings.TrimSpace(product.Name)
	product.Active = true

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.products[product.ID] = product
	s.stocks[stockKey{product.TenantID, product.ID}] = domain.ProductStock{
		TenantID:          product.TenantID,
		ProductID:         product.ID,
		AvailableQuantity: initialStock,
		UpdatedAt:         product.CreatedAt,
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductStock(_ context.Context, tenantID string, productID string) (*domain.ProductStock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stock, ok := s.stocks[stockKey{tenantID, productID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := stock
	return &result, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client, creditLimit decimal.Decimal) (*domain.Client, error) {
	if client.TenantID == "" || strings.TrimSpace(client.Name) == "" || creditLimit.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if client.ID == "" {
		client.ID = xid.New("cl")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	client.Name = strings.TrimSpace(client.Name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	s.clients[client.ID] = client
	s.balances[clientKey{client.TenantID, client.ID}] = domain.ClientBalance{
		TenantID:           client.TenantID,
		ClientID:           client.ID,
		OutstandingBalance: decimal.Zero,
		CreditLimit:        creditLimit,
		UpdatedAt:          client.CreatedAt,
	}
	created := client
	return &created, nil
}

func (s *Store) GetClientBalance(_ context.Context, tenantID string, clientID string) (*domain.ClientBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.balances[clientKey{tenantID, clientID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := balance
	return &result, nil
}

func (s *Store) Dispatch(_ context.Context, record domain.FrontedRecord) (*domain.FrontedRecord, error) {
	if record.TenantID == "" || record.ProductID == "" || record.ClientID == "" {
		return nil, store.ErrInvalidInput
	}
	if record.QuantityFronted < 1 || !record.PricePerUnit.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stock, ok := s.stocks[stockKey{record.TenantID, record.ProductID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	if stock.AvailableQuantity < record.QuantityFronted {
		return nil, store.ErrInsufficientStock
	}

	balance, ok := s.balances[clientKey{record.TenantID, record.ClientID}]
	if !ok {
		return nil, store.ErrNotFound
	}

	expected := record.PricePerUnit.Mul(decimal.NewFromInt(int64(record.QuantityFronted)))
	if balance.CreditLimit.IsPositive() && balance.OutstandingBalance.Add(expected).Cmp(balance.CreditLimit) > 0 {
		return nil, store.ErrCreditLimitExceeded
	}

	if record.ID == "" {
		record.ID = xid.New("fr")
	}
	if record.DispatchedAt.IsZero() {
		record.DispatchedAt = time.Now().UTC()
	}
	record.ExpectedRevenue = expected
	record.PaymentReceived = decimal.Zero
	record.PaymentStatus = domain.PaymentStatusPending
	record.Status = domain.RecordStatusActive
	record.UpdatedAt = record.DispatchedAt

	stock.AvailableQuantity -= record.QuantityFronted
	stock.FrontedQuantity += record.QuantityFronted
	stock.UpdatedAt = record.DispatchedAt
	s.stocks[stockKey{record.TenantID, record.ProductID}] = stock

	balance.OutstandingBalance = balance.OutstandingBalance.Add(expected)
	balance.UpdatedAt = record.DispatchedAt
	s.balances[clientKey{record.TenantID, record.ClientID}] = balance

	s.records[record.ID] = record
	created := record
	return &created, nil
}

func (s *Store) GetFrontedRecord(_ context.Context, id string) (*domain.FrontedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	result := record
	return &result, nil
}

func (s *Store) ListFrontedRecords(_ context.Context, filter domain.FrontedListFilter) ([]domain.FrontedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	now := time.Now().UTC()

	result := make([]domain.FrontedRecord, 0, limit)
	for _, record := range s.records {
		if filter.TenantID != "" && record.TenantID != filter.TenantID {
			continue
		}
		if filter.ClientID != "" && record.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if filter.OverdueOnly {
			if record.Status != domain.RecordStatusActive || record.EffectivePaymentStatus(now) != domain.PaymentStatusOverdue {
				continue
			}
		}
		result = append(result, record)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DispatchedAt.After(result[j].DispatchedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) Reconcile(_ context.Context, recordID string, batch []domain.ReturnScanEntry) (*store.ReconcileResult, error) {
	if recordID == "" || len(batch) == 0 {
		return nil, store.ErrInvalidInput
	}
	if !s.atomicReconcile {
		return nil, store.ErrAtomicUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if record.Status != domain.RecordStatusActive {
		return nil, store.ErrInvalidState
	}

	goodCount, damagedCount := 0, 0
	for _, entry := range batch {
		if _, dup := s.scanIndex[scanKey{recordID, entry.Barcode}]; dup {
			return nil, store.ErrDuplicateScan
		}
		switch entry.Condition {
		case domain.ScanConditionGood:
			goodCount++
		case domain.ScanConditionDamaged:
			damagedCount++
		default:
			return nil, store.ErrInvalidInput
		}
	}

	if record.QuantityAccounted()+goodCount+damagedCount > record.QuantityFronted {
		return nil, store.ErrOverReturn
	}

	stock, ok := s.stocks[stockKey{record.TenantID, record.ProductID}]
	if !ok || stock.FrontedQuantity < goodCount+damagedCount {
		return nil, store.ErrInvalidState
	}
	balance, ok := s.balances[clientKey{record.TenantID, record.ClientID}]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	for _, entry := range batch {
		s.scans = append(s.scans, entry)
		s.scanIndex[scanKey{recordID, entry.Barcode}] = struct{}{}
	}

	record.QuantityReturned += goodCount
	record.QuantityDamaged += damagedCount
	record.PaymentStatus = record.DerivePaymentStatus()
	if record.QuantityAccounted() == record.QuantityFronted && record.PaymentStatus == domain.PaymentStatusPaid {
		record.Status = domain.RecordStatusCompleted
	}
	record.UpdatedAt = now
	s.records[recordID] = record

	stock.AvailableQuantity += goodCount
	stock.FrontedQuantity -= goodCount + damagedCount
	stock.UpdatedAt = now
	s.stocks[stockKey{record.TenantID, record.ProductID}] = stock

	returnedValue := record.PricePerUnit.Mul(decimal.NewFromInt(int64(goodCount)))
	balance.OutstandingBalance = balance.OutstandingBalance.Sub(returnedValue)
	if balance.OutstandingBalance.IsNegative() {
		balance.OutstandingBalance = decimal.Zero
	}
	balance.UpdatedAt = now
	s.balances[clientKey{record.TenantID, record.ClientID}] = balance

	return &store.ReconcileResult{
		Record:         record,
		GoodReturns:    goodCount,
		DamagedReturns: damagedCount,
		ReturnedValue:  returnedValue,
		NewBalance:     balance.OutstandingBalance,
	}, nil
}

func (s *Store) MarkPayment(_ context.Context, recordID string, amount decimal.Decimal, at time.Time) (*domain.FrontedRecord, error) {
	if recordID == "" || !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if record.Status == domain.RecordStatusCancelled {
		return nil, store.ErrInvalidState
	}

	record.PaymentReceived = record.PaymentReceived.Add(amount)
	record.PaymentStatus = record.DerivePaymentStatus()
	if record.QuantityAccounted() == record.QuantityFronted && record.PaymentStatus == domain.PaymentStatusPaid {
		record.Status = domain.RecordStatusCompleted
	}
	record.UpdatedAt = at
	s.records[recordID] = record

	key := clientKey{record.TenantID, record.ClientID}
	if balance, ok := s.balances[key]; ok {
		balance.OutstandingBalance = balance.OutstandingBalance.Sub(amount)
		if balance.OutstandingBalance.IsNegative() {
			balance.OutstandingBalance = decimal.Zero
		}
		balance.UpdatedAt = at
		s.balances[key] = balance
	}

	s.payments = append(s.payments, domain.Payment{
		ID:              xid.New("pay"),
		TenantID:        record.TenantID,
		FrontedRecordID: record.ID,
		ClientID:        record.ClientID,
		Amount:          amount,
		OnTime:          !at.After(record.PaymentDueDate),
		PaidAt:          at,
	})

	result := record
	return &result, nil
}

func (s *Store) Cancel(_ context.Context, recordID string, reason string, at time.Time) (*domain.FrontedRecord, error) {
	if recordID == "" {
		return nil, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if record.Status != domain.RecordStatusActive || record.QuantityAccounted() != 0 || record.PaymentReceived.IsPositive() {
		return nil, store.ErrInvalidState
	}

	key := stockKey{record.TenantID, record.ProductID}
	if stock, ok := s.stocks[key]; ok {
		stock.AvailableQuantity += record.QuantityFronted
		stock.FrontedQuantity -= record.QuantityFronted
		stock.UpdatedAt = at
		s.stocks[key] = stock
	}

	bKey := clientKey{record.TenantID, record.ClientID}
	if balance, ok := s.balances[bKey]; ok {
		balance.OutstandingBalance = balance.OutstandingBalance.Sub(record.ExpectedRevenue)
		if balance.OutstandingBalance.IsNegative() {
			balance.OutstandingBalance = decimal.Zero
		}
		balance.UpdatedAt = at
		s.balances[bKey] = balance
	}

	record.Status = domain.RecordStatusCancelled
	record.UpdatedAt = at
	if reason != "" {
		record.Notes = strings.TrimSpace(record.Notes + "\ncancelled: " + reason)
	}
	s.records[recordID] = record

	result := record
	return &result, nil
}

func (s *Store) ListScanEntries(_ context.Context, recordID string) ([]domain.ReturnScanEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.ReturnScanEntry, 0, 16)
	for _, entry := range s.scans {
		if entry.FrontedRecordID == recordID {
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ScannedAt.Equal(entries[j].ScannedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].ScannedAt.Before(entries[j].ScannedAt)
	})
	return entries, nil
}

func (s *Store) ListPaymentsByClient(_ context.Context, tenantID string, clientID string, since time.Time) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, 16)
	for _, p := range s.payments {
		if p.TenantID != tenantID || p.ClientID != clientID || p.PaidAt.Before(since) {
			continue
		}
		payments = append(payments, p)
	}
	sort.Slice(payments, func(i, j int) bool {
		return payments[i].PaidAt.After(payments[j].PaidAt)
	})
	return payments, nil
}

func (s *Store) ApplyQuantityDelta(_ context.Context, recordID string, soldDelta int, returnedDelta int, damagedDelta int) (*domain.FrontedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[recordID]
	if !ok {
		return nil, store.ErrNotFound
	}

	record.QuantitySold += soldDelta
	record.QuantityReturned += returnedDelta
	record.QuantityDamaged += damagedDelta
	if record.QuantitySold < 0 || record.QuantityReturned < 0 || record.QuantityDamaged < 0 {
		return nil, store.ErrInvalidInput
	}
	if record.QuantityAccounted() > record.QuantityFronted {
		return nil, store.ErrOverReturn
	}
	record.PaymentStatus = record.DerivePaymentStatus()
	if record.QuantityAccounted() == record.QuantityFronted && record.PaymentStatus == domain.PaymentStatusPaid {
		record.Status = domain.RecordStatusCompleted
	}
	record.UpdatedAt = time.Now().UTC()
	s.records[recordID] = record

	result := record
	return &result, nil
}

func (s *Store) ReturnToStock(_ context.Context, tenantID string, productID string, qty int) error {
	if qty < 0 {
		return store.ErrInvalidInput
	}
	if qty == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stockKey{tenantID, productID}
	stock, ok := s.stocks[key]
	if !ok {
		return store.ErrNotFound
	}
	if stock.FrontedQuantity < qty {
		return store.ErrInvalidState
	}
	stock.AvailableQuantity += qty
	stock.FrontedQuantity -= qty
	stock.UpdatedAt = time.Now().UTC()
	s.stocks[key] = stock
	return nil
}

func (s *Store) WriteOffDamaged(_ context.Context, tenantID string, productID string, qty int) error {
	if qty < 0 {
		return store.ErrInvalidInput
	}
	if qty == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := stockKey{tenantID, productID}
	stock, ok := s.stocks[key]
	if !ok {
		return store.ErrNotFound
	}
	if stock.FrontedQuantity < qty {
		return store.ErrInvalidState
	}
	stock.FrontedQuantity -= qty
	stock.UpdatedAt = time.Now().UTC()
	s.stocks[key] = stock
	return nil
}

func (s *Store) DebitClient(_ context.Context, tenantID string, clientID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := clientKey{tenantID, clientID}
	balance, ok := s.balances[key]
	if !ok {
		return store.ErrNotFound
	}
	balance.OutstandingBalance = balance.OutstandingBalance.Sub(amount)
	if balance.OutstandingBalance.IsNegative() {
		balance.OutstandingBalance = decimal.Zero
	}
	balance.UpdatedAt = time.Now().UTC()
	s.balances[key] = balance
	return nil
}

func (s *Store) AppendScanEntries(_ context.Context, entries []domain.ReturnScanEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if _, dup := s.scanIndex[scanKey{entry.FrontedRecordID, entry.Barcode}]; dup {
			return store.ErrDuplicateScan
		}
	}
	for _, entry := range entries {
		s.scans = append(s.scans, entry)
		s.scanIndex[scanKey{entry.FrontedRecordID, entry.Barcode}] = struct{}{}
	}
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if entry.TenantID != tenantID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("username already exists")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *Store) SetUserActive(_ context.Context, username string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Active = active
	s.users[username] = user
	return nil
}
