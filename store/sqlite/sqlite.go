/*
Package sqlite provides the SQLite-backed implementation of the
agreement store.

PURPOSE:
  Production persistence for agreements and installments. The same SQL
  shapes apply to PostgreSQL with minor dialect changes; the Store
  interface keeps the swap possible.

KEY TABLES:
  agreements:    one row per financing contract, with a version counter
                 guarding status writes
  installments:  N rows per agreement, payment facts written once

GUARDED WRITES:
  - UpdateAgreementStatus: UPDATE ... WHERE id=? AND version=? - the
    compare-and-swap behind the completion invariant
  - SetInstallmentPaid:    UPDATE ... WHERE id=? AND status='PENDING'

DATE AND MONEY ENCODING:
  Jalali dates are stored in canonical zero-padded "YYYY/MM/DD" form, which
  sorts correctly as TEXT. Monetary values are whole-unit decimals stored
  as TEXT. Timestamps are RFC3339 TEXT.

WAL MODE:
  Opened with WAL and foreign keys on. A process-wide mutex serializes
  writers; WithTx wraps a callback in one database transaction and the
  inner view skips the mutex.

SEE ALSO:
  - agreement/store.go: interface definitions
  - store/memory: in-memory implementation for pure-domain tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/taqsit/installment-engine/agreement"
	"github.com/taqsit/installment-engine/jalali"
)

// Store implements agreement.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agreements (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		down_payment TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		installment_count INTEGER NOT NULL,
		annual_rate_percent TEXT NOT NULL,
		monthly_rate_percent TEXT NOT NULL,
		installment_amount TEXT NOT NULL,
		total_interest TEXT NOT NULL,
		total_payment TEXT NOT NULL,
		guarantee_type TEXT,
		origin_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_by TEXT,
		approved_by TEXT,
		cancelled_by TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_agreements_customer
		ON agreements(customer_id);
	CREATE INDEX IF NOT EXISTS idx_agreements_status
		ON agreements(status);
	CREATE INDEX IF NOT EXISTS idx_agreements_created
		ON agreements(created_at DESC);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		agreement_id TEXT NOT NULL REFERENCES agreements(id),
		number INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		interest TEXT NOT NULL,
		principal TEXT NOT NULL,
		remaining TEXT NOT NULL,
		status TEXT NOT NULL,
		paid_at TEXT,
		payment_date TEXT,
		paid_amount TEXT,
		paid_by TEXT,
		notes TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(agreement_id, number)
	);

	CREATE INDEX IF NOT EXISTS idx_installments_agreement
		ON installments(agreement_id, number);
	CREATE INDEX IF NOT EXISTS idx_installments_status
		ON installments(status);
	CREATE INDEX IF NOT EXISTS idx_installments_due
		ON installments(due_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) CreateAgreement(ctx context.Context, ag *agreement.Agreement, installments []*agreement.Installment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := createAgreement(ctx, tx, ag, installments); err != nil {
		return err
	}
	return tx.Commit()
}

func createAgreement(ctx context.Context, db dbtx, ag *agreement.Agreement, installments []*agreement.Installment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO agreements
		(id, order_id, customer_id, total_amount, down_payment, principal_amount,
		 installment_count, annual_rate_percent, monthly_rate_percent,
		 installment_amount, total_interest, total_payment, guarantee_type,
		 origin_date, status, created_by, approved_by, cancelled_by, version,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ag.ID, ag.OrderID, ag.CustomerID,
		ag.TotalAmount.String(), ag.DownPayment.String(), ag.PrincipalAmount.String(),
		ag.InstallmentCount, ag.AnnualRatePercent.String(), ag.MonthlyRatePercent.String(),
		ag.InstallmentAmount.String(), ag.TotalInterest.String(), ag.TotalPayment.String(),
		ag.GuaranteeType, ag.OriginDate.String(), ag.Status,
		nullString(ag.CreatedBy), nullString(ag.ApprovedBy), nullString(ag.CancelledBy),
		ag.Version,
		ag.CreatedAt.UTC().Format(time.RFC3339), ag.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agreement: %w", err)
	}

	for _, inst := range installments {
		_, err := db.ExecContext(ctx, `
			INSERT INTO installments
			(id, agreement_id, number, due_date, amount, interest, principal,
			 remaining, status, paid_at, payment_date, paid_amount, paid_by,
			 notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, NULL, NULL, ?)`,
			inst.ID, inst.AgreementID, inst.Number, inst.DueDate.String(),
			inst.Amount.String(), inst.Interest.String(), inst.Principal.String(),
			inst.Remaining.String(), inst.Status,
			inst.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Number, err)
		}
	}
	return nil
}

func (s *Store) UpdateAgreementStatus(ctx context.Context, id string, expectedVersion int, patch agreement.StatusPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAgreementStatus(ctx, s.db, id, expectedVersion, patch)
}

func updateAgreementStatus(ctx context.Context, db dbtx, id string, expectedVersion int, patch agreement.StatusPatch) error {
	res, err := db.ExecContext(ctx, `
		UPDATE agreements
		SET status = ?,
		    approved_by = COALESCE(NULLIF(?, ''), approved_by),
		    cancelled_by = COALESCE(NULLIF(?, ''), cancelled_by),
		    updated_at = ?,
		    version = version + 1
		WHERE id = ? AND version = ?`,
		patch.Status, patch.ApprovedBy, patch.CancelledBy,
		patch.UpdatedAt.UTC().Format(time.RFC3339),
		id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update agreement status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a lost CAS from a missing row.
		var exists int
		err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM agreements WHERE id = ?", id).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return agreement.ErrNotFound
		}
		return agreement.ErrConcurrencyConflict
	}
	return nil
}

func (s *Store) SetInstallmentPaid(ctx context.Context, id string, patch agreement.PaymentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setInstallmentPaid(ctx, s.db, id, patch)
}

func setInstallmentPaid(ctx context.Context, db dbtx, id string, patch agreement.PaymentPatch) error {
	res, err := db.ExecContext(ctx, `
		UPDATE installments
		SET status = ?, paid_at = ?, payment_date = ?, paid_amount = ?,
		    paid_by = ?, notes = ?
		WHERE id = ? AND status = ?`,
		agreement.InstallmentPaid,
		patch.PaidAt.UTC().Format(time.RFC3339),
		patch.PaymentDate.String(),
		patch.PaidAmount.String(),
		nullString(patch.PaidBy), nullString(patch.Notes),
		id, agreement.InstallmentPending,
	)
	if err != nil {
		return fmt.Errorf("failed to mark installment paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		err := db.QueryRowContext(ctx, "SELECT status FROM installments WHERE id = ?", id).Scan(&status)
		if err == sql.ErrNoRows {
			return agreement.ErrNotFound
		}
		if err != nil {
			return err
		}
		return agreement.ErrAlreadyPaid
	}
	return nil
}

func (s *Store) UpdateInstallmentDueDate(ctx context.Context, id string, due jalali.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateInstallmentDueDate(ctx, s.db, id, due)
}

func updateInstallmentDueDate(ctx context.Context, db dbtx, id string, due jalali.Date) error {
	res, err := db.ExecContext(ctx,
		"UPDATE installments SET due_date = ? WHERE id = ?", due.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update due date: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return agreement.ErrNotFound
	}
	return nil
}

// =============================================================================
// READS
// =============================================================================

const agreementColumns = `
	id, order_id, customer_id, total_amount, down_payment, principal_amount,
	installment_count, annual_rate_percent, monthly_rate_percent,
	installment_amount, total_interest, total_payment, guarantee_type,
	origin_date, status, created_by, approved_by, cancelled_by, version,
	created_at, updated_at`

func (s *Store) GetAgreement(ctx context.Context, id string) (*agreement.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAgreement(ctx, s.db, id)
}

func getAgreement(ctx context.Context, db dbtx, id string) (*agreement.Agreement, error) {
	row := db.QueryRowContext(ctx,
		"SELECT"+agreementColumns+" FROM agreements WHERE id = ?", id)
	return scanAgreementRow(row)
}

func (s *Store) GetAgreementByOrder(ctx context.Context, orderID string) (*agreement.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAgreementByOrder(ctx, s.db, orderID)
}

func getAgreementByOrder(ctx context.Context, db dbtx, orderID string) (*agreement.Agreement, error) {
	row := db.QueryRowContext(ctx,
		"SELECT"+agreementColumns+" FROM agreements WHERE order_id = ?", orderID)
	return scanAgreementRow(row)
}

func (s *Store) ListAgreements(ctx context.Context) ([]*agreement.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAgreements(ctx, s.db,
		"SELECT"+agreementColumns+" FROM agreements ORDER BY created_at DESC, rowid DESC")
}

func (s *Store) ListAgreementsByStatus(ctx context.Context, status agreement.AgreementStatus) ([]*agreement.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryAgreements(ctx, s.db,
		"SELECT"+agreementColumns+" FROM agreements WHERE status = ? ORDER BY created_at DESC, rowid DESC",
		status)
}

func (s *Store) ListAgreementsByCustomer(ctx context.Context, customerID string) ([]*agreement.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAgreementsByCustomer(ctx, s.db, customerID)
}

func listAgreementsByCustomer(ctx context.Context, db dbtx, customerID string) ([]*agreement.Agreement, error) {
	return queryAgreements(ctx, db,
		"SELECT"+agreementColumns+" FROM agreements WHERE customer_id = ? ORDER BY created_at DESC, rowid DESC",
		customerID)
}

const installmentColumns = `
	id, agreement_id, number, due_date, amount, interest, principal,
	remaining, status, paid_at, payment_date, paid_amount, paid_by, notes,
	created_at`

func (s *Store) GetInstallment(ctx context.Context, id string) (*agreement.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getInstallment(ctx, s.db, id)
}

func getInstallment(ctx context.Context, db dbtx, id string) (*agreement.Installment, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT"+installmentColumns+" FROM installments WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query installment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, agreement.ErrNotFound
	}
	return scanInstallment(rows)
}

func (s *Store) ListInstallments(ctx context.Context, agreementID string) ([]*agreement.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInstallments(ctx, s.db, agreementID)
}

func listInstallments(ctx context.Context, db dbtx, agreementID string) ([]*agreement.Installment, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT"+installmentColumns+" FROM installments WHERE agreement_id = ? ORDER BY number ASC",
		agreementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	var out []*agreement.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func queryAgreements(ctx context.Context, db dbtx, query string, args ...any) ([]*agreement.Agreement, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query agreements: %w", err)
	}
	defer rows.Close()

	var out []*agreement.Agreement
	for rows.Next() {
		ag, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ag)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a single database transaction. The store mutex
// is held for the duration, so the inner view skips locking.
func (s *Store) WithTx(ctx context.Context, fn func(agreement.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// txStore routes Store calls to one *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) CreateAgreement(ctx context.Context, ag *agreement.Agreement, installments []*agreement.Installment) error {
	return createAgreement(ctx, t.tx, ag, installments)
}

func (t *txStore) GetAgreement(ctx context.Context, id string) (*agreement.Agreement, error) {
	return getAgreement(ctx, t.tx, id)
}

func (t *txStore) GetAgreementByOrder(ctx context.Context, orderID string) (*agreement.Agreement, error) {
	return getAgreementByOrder(ctx, t.tx, orderID)
}

func (t *txStore) ListAgreements(ctx context.Context) ([]*agreement.Agreement, error) {
	return queryAgreements(ctx, t.tx,
		"SELECT"+agreementColumns+" FROM agreements ORDER BY created_at DESC, rowid DESC")
}

func (t *txStore) ListAgreementsByStatus(ctx context.Context, status agreement.AgreementStatus) ([]*agreement.Agreement, error) {
	return queryAgreements(ctx, t.tx,
		"SELECT"+agreementColumns+" FROM agreements WHERE status = ? ORDER BY created_at DESC, rowid DESC",
		status)
}

func (t *txStore) ListAgreementsByCustomer(ctx context.Context, customerID string) ([]*agreement.Agreement, error) {
	return listAgreementsByCustomer(ctx, t.tx, customerID)
}

func (t *txStore) GetInstallment(ctx context.Context, id string) (*agreement.Installment, error) {
	return getInstallment(ctx, t.tx, id)
}

func (t *txStore) ListInstallments(ctx context.Context, agreementID string) ([]*agreement.Installment, error) {
	return listInstallments(ctx, t.tx, agreementID)
}

func (t *txStore) UpdateAgreementStatus(ctx context.Context, id string, expectedVersion int, patch agreement.StatusPatch) error {
	return updateAgreementStatus(ctx, t.tx, id, expectedVersion, patch)
}

func (t *txStore) SetInstallmentPaid(ctx context.Context, id string, patch agreement.PaymentPatch) error {
	return setInstallmentPaid(ctx, t.tx, id, patch)
}

func (t *txStore) UpdateInstallmentDueDate(ctx context.Context, id string, due jalali.Date) error {
	return updateInstallmentDueDate(ctx, t.tx, id, due)
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreementRow(row *sql.Row) (*agreement.Agreement, error) {
	ag, err := scanAgreement(row)
	if err == sql.ErrNoRows {
		return nil, agreement.ErrNotFound
	}
	return ag, err
}

func scanAgreement(row rowScanner) (*agreement.Agreement, error) {
	var (
		ag                                 agreement.Agreement
		totalAmount, downPayment           string
		principalAmount, annualRate        string
		monthlyRate, installmentAmount     string
		totalInterest, totalPayment        string
		guaranteeType                      sql.NullString
		originDate                         string
		createdBy, approvedBy, cancelledBy sql.NullString
		createdAt, updatedAt               string
	)

	err := row.Scan(
		&ag.ID, &ag.OrderID, &ag.CustomerID,
		&totalAmount, &downPayment, &principalAmount,
		&ag.InstallmentCount, &annualRate, &monthlyRate,
		&installmentAmount, &totalInterest, &totalPayment,
		&guaranteeType, &originDate, &ag.Status,
		&createdBy, &approvedBy, &cancelledBy, &ag.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	ag.TotalAmount = mustDecimal(totalAmount)
	ag.DownPayment = mustDecimal(downPayment)
	ag.PrincipalAmount = mustDecimal(principalAmount)
	ag.AnnualRatePercent = mustDecimal(annualRate)
	ag.MonthlyRatePercent = mustDecimal(monthlyRate)
	ag.InstallmentAmount = mustDecimal(installmentAmount)
	ag.TotalInterest = mustDecimal(totalInterest)
	ag.TotalPayment = mustDecimal(totalPayment)
	ag.GuaranteeType = guaranteeType.String
	ag.CreatedBy = createdBy.String
	ag.ApprovedBy = approvedBy.String
	ag.CancelledBy = cancelledBy.String

	ag.OriginDate, err = jalali.Parse(originDate)
	if err != nil {
		return nil, fmt.Errorf("corrupt origin date for agreement %s: %w", ag.ID, err)
	}
	ag.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	ag.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &ag, nil
}

func scanInstallment(row rowScanner) (*agreement.Installment, error) {
	var (
		inst                      agreement.Installment
		dueDate                   string
		amount, interest          string
		principal, remaining      string
		paidAt, paymentDate       sql.NullString
		paidAmount, paidBy, notes sql.NullString
		createdAt                 string
	)

	err := row.Scan(
		&inst.ID, &inst.AgreementID, &inst.Number, &dueDate,
		&amount, &interest, &principal, &remaining, &inst.Status,
		&paidAt, &paymentDate, &paidAmount, &paidBy, &notes,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	inst.Amount = mustDecimal(amount)
	inst.Interest = mustDecimal(interest)
	inst.Principal = mustDecimal(principal)
	inst.Remaining = mustDecimal(remaining)
	inst.PaidAmount = decimal.Zero
	if paidAmount.Valid {
		inst.PaidAmount = mustDecimal(paidAmount.String)
	}
	inst.PaidBy = paidBy.String
	inst.Notes = notes.String

	inst.DueDate, err = jalali.Parse(dueDate)
	if err != nil {
		return nil, fmt.Errorf("corrupt due date for installment %s: %w", inst.ID, err)
	}
	if paymentDate.Valid && paymentDate.String != "" {
		inst.PaymentDate, err = jalali.Parse(paymentDate.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt payment date for installment %s: %w", inst.ID, err)
		}
	}
	if paidAt.Valid && paidAt.String != "" {
		t, err := time.Parse(time.RFC3339, paidAt.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt paid_at for installment %s: %w", inst.ID, err)
		}
		inst.PaidAt = &t
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &inst, nil
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ agreement.TxStore = (*Store)(nil)
