package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"konsinyasi/backend/internal/domain"
	"konsinyasi/backend/internal/store"
	"konsinyasi/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initialStock int) (*domain.Product, error) {
	if product.TenantID == "" || strings.TrimSpace(product.Name) == "" || initialStock < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, tenant_id, name, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, product.ID, product.TenantID, strings.TrimSpace(product.Name), product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, translateTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO product_stocks (tenant_id, product_id, available_qty, fronted_qty, updated_at)
		VALUES ($1,$2,$3,0,now())
	`, product.TenantID, product.ID, initialStock)
	if err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}
	created := product
	return &created, nil
}

func (s *Store) GetProductStock(ctx context.Context, tenantID string, productID string) (*domain.ProductStock, error) {
	var stock domain.ProductStock
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, product_id, available_qty, fronted_qty, updated_at
		FROM product_stocks
		WHERE tenant_id = $1 AND product_id = $2
	`, tenantID, productID).Scan(&stock.TenantID, &stock.ProductID, &stock.AvailableQuantity, &stock.FrontedQuantity, &stock.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	stock.UpdatedAt = stock.UpdatedAt.UTC()
	return &stock, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client, creditLimit decimal.Decimal) (*domain.Client, error) {
	if client.TenantID == "" || strings.TrimSpace(client.Name) == "" || creditLimit.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	if client.ID == "" {
		client.ID = xid.New("cl")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clients (id, tenant_id, name, phone, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, client.ID, client.TenantID, strings.TrimSpace(client.Name), nullIfEmpty(client.Phone), client.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, translateTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO client_balances (tenant_id, client_id, outstanding_balance, credit_limit, updated_at)
		VALUES ($1,$2,0,$3,now())
	`, client.TenantID, client.ID, creditLimit)
	if err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}
	created := client
	return &created, nil
}

func (s *Store) GetClientBalance(ctx context.Context, tenantID string, clientID string) (*domain.ClientBalance, error) {
	var balance domain.ClientBalance
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, client_id, outstanding_balance, credit_limit, updated_at
		FROM client_balances
		WHERE tenant_id = $1 AND client_id = $2
	`, tenantID, clientID).Scan(&balance.TenantID, &balance.ClientID, &balance.OutstandingBalance, &balance.CreditLimit, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	balance.UpdatedAt = balance.UpdatedAt.UTC()
	return &balance, nil
}

// Dispatch creates the fronted record and updates the stock and balance rows
// in one serializable transaction. Lock order is stock row, then balance row,
// the same order Reconcile and Cancel use.
func (s *Store) Dispatch(ctx context.Context, record domain.FrontedRecord) (*domain.FrontedRecord, error) {
	if record.TenantID == "" || record.ProductID == "" || record.ClientID == "" {
		return nil, store.ErrInvalidInput
	}
	if record.QuantityFronted < 1 || !record.PricePerUnit.IsPositive() {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var available, fronted int
	err = tx.QueryRowContext(ctx, `
		SELECT available_qty, fronted_qty
		FROM product_stocks
		WHERE tenant_id = $1 AND product_id = $2
		FOR UPDATE
	`, record.TenantID, record.ProductID).Scan(&available, &fronted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}
	if available < record.QuantityFronted {
		return nil, store.ErrInsufficientStock
	}

	var outstanding, creditLimit decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT outstanding_balance, credit_limit
		FROM client_balances
		WHERE tenant_id = $1 AND client_id = $2
		FOR UPDATE
	`, record.TenantID, record.ClientID).Scan(&outstanding, &creditLimit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}

	expected := record.PricePerUnit.Mul(decimal.NewFromInt(int64(record.QuantityFronted)))
	if creditLimit.IsPositive() && outstanding.Add(expected).Cmp(creditLimit) > 0 {
		return nil, store.ErrCreditLimitExceeded
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE product_stocks
		SET available_qty = available_qty - $1, fronted_qty = fronted_qty + $1, updated_at = now()
		WHERE tenant_id = $2 AND product_id = $3
	`, record.QuantityFronted, record.TenantID, record.ProductID)
	if err != nil {
		return nil, translateTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE client_balances
		SET outstanding_balance = outstanding_balance + $1, updated_at = now()
		WHERE tenant_id = $2 AND client_id = $3
	`, expected, record.TenantID, record.ClientID)
	if err != nil {
		return nil, translateTxError(err)
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO fronted_records (
			id, tenant_id, product_id, client_id,
			qty_fronted, qty_sold, qty_returned, qty_damaged,
			price_per_unit, expected_revenue, payment_received,
			payment_status, status, notes, dispatched_at, payment_due_date, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,0,0,0,$6,$7,0,$8,$9,$10,$11,$12,$13)
	`, record.ID, record.TenantID, record.ProductID, record.ClientID,
		record.QuantityFronted, record.PricePerUnit, record.ExpectedRevenue,
		record.PaymentStatus, record.Status, nullIfEmpty(record.Notes),
		record.DispatchedAt, record.PaymentDueDate, record.UpdatedAt)
	if err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}

	created := record
	return &created, nil
}

const frontedRecordColumns = `
	id, tenant_id, product_id, client_id,
	qty_fronted, qty_sold, qty_returned, qty_damaged,
	price_per_unit, expected_revenue, payment_received,
	payment_status, status, notes, dispatched_at, payment_due_date, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFrontedRecord(row rowScanner) (*domain.FrontedRecord, error) {
	var record domain.FrontedRecord
	var notes sql.NullString
	err := row.Scan(
		&record.ID, &record.TenantID, &record.ProductID, &record.ClientID,
		&record.QuantityFronted, &record.QuantitySold, &record.QuantityReturned, &record.QuantityDamaged,
		&record.PricePerUnit, &record.ExpectedRevenue, &record.PaymentReceived,
		&record.PaymentStatus, &record.Status, &notes, &record.DispatchedAt, &record.PaymentDueDate, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if notes.Valid {
		record.Notes = notes.String
	}
	record.DispatchedAt = record.DispatchedAt.UTC()
	record.PaymentDueDate = record.PaymentDueDate.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

func (s *Store) GetFrontedRecord(ctx context.Context, id string) (*domain.FrontedRecord, error) {
	record, err := scanFrontedRecord(s.db.QueryRowContext(ctx, `
		SELECT `+frontedRecordColumns+`
		FROM fronted_records
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *Store) ListFrontedRecords(ctx context.Context, filter domain.FrontedListFilter) ([]domain.FrontedRecord, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT ` + frontedRecordColumns + `
		FROM fronted_records
		WHERE ($1 = '' OR tenant_id = $1)
			AND ($2 = '' OR client_id = $2)
			AND ($3 = '' OR status = $3)
	`
	if filter.OverdueOnly {
		query += ` AND status = 'active' AND payment_status <> 'paid' AND payment_due_date < now()`
	}
	query += `
		ORDER BY dispatched_at DESC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query, filter.TenantID, filter.ClientID, filter.Status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.FrontedRecord, 0, limit)
	for rows.Next() {
		record, err := scanFrontedRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Reconcile applies a scan batch as one serializable transaction over the
// record row, its stock row and its balance row. Any failure rolls the whole
// batch back; the scan-log insert rides in the same transaction so no audit
// row can exist for an unapplied batch.
func (s *Store) Reconcile(ctx context.Context, recordID string, batch []domain.ReturnScanEntry) (*store.ReconcileResult, error) {
	if recordID == "" || len(batch) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	record, err := scanFrontedRecord(tx.QueryRowContext(ctx, `
		SELECT `+frontedRecordColumns+`
		FROM fronted_records
		WHERE id = $1
		FOR UPDATE
	`, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}
	if record.Status != domain.RecordStatusActive {
		return nil, store.ErrInvalidState
	}

	goodCount, damagedCount := 0, 0
	for _, entry := range batch {
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

	for _, entry := range batch {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO return_scans (id, fronted_record_id, batch_id, barcode, condition, reason, scanned_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, entry.ID, entry.FrontedRecordID, entry.BatchID, entry.Barcode, entry.Condition, nullIfEmpty(entry.Reason), entry.ScannedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrDuplicateScan
			}
			return nil, translateTxError(err)
		}
	}

	record.QuantityReturned += goodCount
	record.QuantityDamaged += damagedCount
	record.PaymentStatus = record.DerivePaymentStatus()
	if record.QuantityAccounted() == record.QuantityFronted && record.PaymentStatus == domain.PaymentStatusPaid {
		record.Status = domain.RecordStatusCompleted
	}
	record.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE fronted_records
		SET qty_returned = $2, qty_damaged = $3, payment_status = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, record.ID, record.QuantityReturned, record.QuantityDamaged, record.PaymentStatus, record.Status, record.UpdatedAt)
	if err != nil {
		return nil, translateTxError(err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE product_stocks
		SET available_qty = available_qty + $1,
			fronted_qty = fronted_qty - $2,
			updated_at = now()
		WHERE tenant_id = $3 AND product_id = $4 AND fronted_qty >= $2
	`, goodCount, goodCount+damagedCount, record.TenantID, record.ProductID)
	if err != nil {
		return nil, translateTxError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, translateTxError(err)
	}
	if affected == 0 {
		return nil, store.ErrInvalidState
	}

	returnedValue := record.PricePerUnit.Mul(decimal.NewFromInt(int64(goodCount)))
	var newBalance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		UPDATE client_balances
		SET outstanding_balance = GREATEST(outstanding_balance - $1, 0), updated_at = now()
		WHERE tenant_id = $2 AND client_id = $3
		RETURNING outstanding_balance
	`, returnedValue, record.TenantID, record.ClientID).Scan(&newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}

	return &store.ReconcileResult{
		Record:         *record,
		GoodReturns:    goodCount,
		DamagedReturns: damagedCount,
		ReturnedValue:  returnedValue,
		NewBalance:     newBalance,
	}, nil
}

func (s *Store) MarkPayment(ctx context.Context, recordID string, amount decimal.Decimal, at time.Time) (*domain.FrontedRecord, error) {
	if recordID == "" || !amount.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	record, err := scanFrontedRecord(tx.QueryRowContext(ctx, `
		SELECT `+frontedRecordColumns+`
		FROM fronted_records
		WHERE id = $1
		FOR UPDATE
	`, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
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

	_, err = tx.ExecContext(ctx, `
		UPDATE fronted_records
		SET payment_received = $2, payment_status = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, record.ID, record.PaymentReceived, record.PaymentStatus, record.Status, record.UpdatedAt)
	if err != nil {
		return nil, translateTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE client_balances
		SET outstanding_balance = GREATEST(outstanding_balance - $1, 0), updated_at = now()
		WHERE tenant_id = $2 AND client_id = $3
	`, amount, record.TenantID, record.ClientID)
	if err != nil {
		return nil, translateTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, tenant_id, fronted_record_id, client_id, amount, on_time, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, xid.New("pay"), record.TenantID, record.ID, record.ClientID, amount, !at.After(record.PaymentDueDate), at)
	if err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}
	return record, nil
}

// Cancel reverses an untouched dispatch: no unit may be sold, returned or
// damaged, and no payment may have been received.
func (s *Store) Cancel(ctx context.Context, recordID string, reason string, at time.Time) (*domain.FrontedRecord, error) {
	if recordID == "" {
		return nil, store.ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	record, err := scanFrontedRecord(tx.QueryRowContext(ctx, `
		SELECT `+frontedRecordColumns+`
		FROM fronted_records
		WHERE id = $1
		FOR UPDATE
	`, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
	}
	if record.Status != domain.RecordStatusActive || record.QuantityAccounted() != 0 || record.PaymentReceived.IsPositive() {
		return nil, store.ErrInvalidState
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE product_stocks
		SET available_qty = available_qty + $1, fronted_qty = fronted_qty - $1, updated_at = now()
		WHERE tenant_id = $2 AND product_id = $3
	`, record.QuantityFronted, record.TenantID, record.ProductID)
	if err != nil {
		return nil, translateTxError(err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE client_balances
		SET outstanding_balance = GREATEST(outstanding_balance - $1, 0), updated_at = now()
		WHERE tenant_id = $2 AND client_id = $3
	`, record.ExpectedRevenue, record.TenantID, record.ClientID)
	if err != nil {
		return nil, translateTxError(err)
	}

	record.Status = domain.RecordStatusCancelled
	record.UpdatedAt = at
	if reason != "" {
		record.Notes = strings.TrimSpace(record.Notes + "\ncancelled: " + reason)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE fronted_records
		SET status = $2, notes = $3, updated_at = $4
		WHERE id = $1
	`, record.ID, record.Status, nullIfEmpty(record.Notes), record.UpdatedAt)
	if err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}
	return record, nil
}

func (s *Store) ListScanEntries(ctx context.Context, recordID string) ([]domain.ReturnScanEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fronted_record_id, batch_id, barcode, condition, reason, scanned_at
		FROM return_scans
		WHERE fronted_record_id = $1
		ORDER BY scanned_at ASC, id ASC
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ReturnScanEntry, 0, 32)
	for rows.Next() {
		var entry domain.ReturnScanEntry
		var reason sql.NullString
		if err := rows.Scan(&entry.ID, &entry.FrontedRecordID, &entry.BatchID, &entry.Barcode, &entry.Condition, &reason, &entry.ScannedAt); err != nil {
			return nil, err
		}
		if reason.Valid {
			entry.Reason = reason.String
		}
		entry.ScannedAt = entry.ScannedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) ListPaymentsByClient(ctx context.Context, tenantID string, clientID string, since time.Time) ([]domain.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, fronted_record_id, client_id, amount, on_time, paid_at
		FROM payments
		WHERE tenant_id = $1 AND client_id = $2 AND paid_at >= $3
		ORDER BY paid_at DESC
	`, tenantID, clientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 32)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.TenantID, &p.FrontedRecordID, &p.ClientID, &p.Amount, &p.OnTime, &p.PaidAt); err != nil {
			return nil, err
		}
		p.PaidAt = p.PaidAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) ApplyQuantityDelta(ctx context.Context, recordID string, soldDelta int, returnedDelta int, damagedDelta int) (*domain.FrontedRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	record, err := scanFrontedRecord(tx.QueryRowContext(ctx, `
		SELECT `+frontedRecordColumns+`
		FROM fronted_records
		WHERE id = $1
		FOR UPDATE
	`, recordID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, translateTxError(err)
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

	_, err = tx.ExecContext(ctx, `
		UPDATE fronted_records
		SET qty_sold = $2, qty_returned = $3, qty_damaged = $4, payment_status = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, record.ID, record.QuantitySold, record.QuantityReturned, record.QuantityDamaged, record.PaymentStatus, record.Status, record.UpdatedAt)
	if err != nil {
		return nil, translateTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, translateTxError(err)
	}
	return record, nil
}

func (s *Store) ReturnToStock(ctx context.Context, tenantID string, productID string, qty int) error {
	if qty < 0 {
		return store.ErrInvalidInput
	}
	if qty == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_stocks
		SET available_qty = available_qty + $1, fronted_qty = fronted_qty - $1, updated_at = now()
		WHERE tenant_id = $2 AND product_id = $3 AND fronted_qty >= $1
	`, qty, tenantID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrInvalidState
	}
	return nil
}

func (s *Store) WriteOffDamaged(ctx context.Context, tenantID string, productID string, qty int) error {
	if qty < 0 {
		return store.ErrInvalidInput
	}
	if qty == 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE product_stocks
		SET fronted_qty = fronted_qty - $1, updated_at = now()
		WHERE tenant_id = $2 AND product_id = $3 AND fronted_qty >= $1
	`, qty, tenantID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrInvalidState
	}
	return nil
}

func (s *Store) DebitClient(ctx context.Context, tenantID string, clientID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE client_balances
		SET outstanding_balance = GREATEST(outstanding_balance - $1, 0), updated_at = now()
		WHERE tenant_id = $2 AND client_id = $3
	`, amount, tenantID, clientID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AppendScanEntries(ctx context.Context, entries []domain.ReturnScanEntry) error {
	for _, entry := range entries {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO return_scans (id, fronted_record_id, batch_id, barcode, condition, reason, scanned_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, entry.ID, entry.FrontedRecordID, entry.BatchID, entry.Barcode, entry.Condition, nullIfEmpty(entry.Reason), entry.ScannedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicateScan
			}
			return err
		}
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.TenantID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, tenantID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("username already exists")
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetUserActive(ctx context.Context, username string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET active = $2, updated_at = now()
		WHERE username = $1
	`, username, active)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// translateTxError maps serialization failures and deadlocks to the retryable
// conflict error the service layer knows how to back off on. Postgres can raise
// 40001 at the statement that loses the race, not only at commit, so every
// error inside a transaction body goes through here.
func translateTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return store.ErrTxConflict
		}
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
