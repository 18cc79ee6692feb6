// Package memory provides an in-memory agreement.TxStore for tests and dev.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/taqsit/installment-engine/agreement"
	"github.com/taqsit/installment-engine/jalali"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store keeps everything under one mutex. WithTx runs the callback while
// holding the lock against a deep-copied snapshot for rollback, which makes
// every transaction trivially serializable.
type Store struct {
	mu sync.Mutex

	agreements   map[string]*agreement.Agreement
	installments map[string]*agreement.Installment
	byAgreement  map[string][]string // agreement id -> installment ids, number order
	byOrder      map[string]string   // order id -> agreement id
	seq          map[string]int      // agreement id -> insertion sequence, for stable newest-first
	nextSeq      int
}

func New() *Store {
	return &Store{
		agreements:   make(map[string]*agreement.Agreement),
		installments: make(map[string]*agreement.Installment),
		byAgreement:  make(map[string][]string),
		byOrder:      make(map[string]string),
		seq:          make(map[string]int),
	}
}

// =============================================================================
// WRITES
// =============================================================================

func (m *Store) CreateAgreement(_ context.Context, ag *agreement.Agreement, installments []*agreement.Installment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createAgreementLocked(ag, installments)
}

func (m *Store) createAgreementLocked(ag *agreement.Agreement, installments []*agreement.Installment) error {
	m.agreements[ag.ID] = copyAgreement(ag)
	m.byOrder[ag.OrderID] = ag.ID
	m.seq[ag.ID] = m.nextSeq
	m.nextSeq++

	ids := make([]string, 0, len(installments))
	for _, inst := range installments {
		m.installments[inst.ID] = copyInstallment(inst)
		ids = append(ids, inst.ID)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.installments[ids[i]].Number < m.installments[ids[j]].Number
	})
	m.byAgreement[ag.ID] = ids
	return nil
}

func (m *Store) UpdateAgreementStatus(_ context.Context, id string, expectedVersion int, patch agreement.StatusPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAgreementStatusLocked(id, expectedVersion, patch)
}

func (m *Store) updateAgreementStatusLocked(id string, expectedVersion int, patch agreement.StatusPatch) error {
	ag, ok := m.agreements[id]
	if !ok {
		return agreement.ErrNotFound
	}
	if ag.Version != expectedVersion {
		return agreement.ErrConcurrencyConflict
	}
	ag.Status = patch.Status
	if patch.ApprovedBy != "" {
		ag.ApprovedBy = patch.ApprovedBy
	}
	if patch.CancelledBy != "" {
		ag.CancelledBy = patch.CancelledBy
	}
	ag.UpdatedAt = patch.UpdatedAt
	ag.Version++
	return nil
}

func (m *Store) SetInstallmentPaid(_ context.Context, id string, patch agreement.PaymentPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setInstallmentPaidLocked(id, patch)
}

func (m *Store) setInstallmentPaidLocked(id string, patch agreement.PaymentPatch) error {
	inst, ok := m.installments[id]
	if !ok {
		return agreement.ErrNotFound
	}
	if inst.Status == agreement.InstallmentPaid {
		return agreement.ErrAlreadyPaid
	}
	paidAt := patch.PaidAt
	inst.Status = agreement.InstallmentPaid
	inst.PaidAt = &paidAt
	inst.PaymentDate = patch.PaymentDate
	inst.PaidAmount = patch.PaidAmount
	inst.PaidBy = patch.PaidBy
	inst.Notes = patch.Notes
	return nil
}

func (m *Store) UpdateInstallmentDueDate(_ context.Context, id string, due jalali.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateInstallmentDueDateLocked(id, due)
}

func (m *Store) updateInstallmentDueDateLocked(id string, due jalali.Date) error {
	inst, ok := m.installments[id]
	if !ok {
		return agreement.ErrNotFound
	}
	inst.DueDate = due
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Store) GetAgreement(_ context.Context, id string) (*agreement.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAgreementLocked(id)
}

func (m *Store) getAgreementLocked(id string) (*agreement.Agreement, error) {
	ag, ok := m.agreements[id]
	if !ok {
		return nil, agreement.ErrNotFound
	}
	return copyAgreement(ag), nil
}

func (m *Store) GetAgreementByOrder(_ context.Context, orderID string) (*agreement.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getAgreementByOrderLocked(orderID)
}

func (m *Store) getAgreementByOrderLocked(orderID string) (*agreement.Agreement, error) {
	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, agreement.ErrNotFound
	}
	return m.getAgreementLocked(id)
}

func (m *Store) ListAgreements(_ context.Context) ([]*agreement.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAgreementsLocked(func(*agreement.Agreement) bool { return true }), nil
}

func (m *Store) ListAgreementsByStatus(_ context.Context, status agreement.AgreementStatus) ([]*agreement.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAgreementsLocked(func(ag *agreement.Agreement) bool { return ag.Status == status }), nil
}

func (m *Store) ListAgreementsByCustomer(_ context.Context, customerID string) ([]*agreement.Agreement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAgreementsLocked(func(ag *agreement.Agreement) bool { return ag.CustomerID == customerID }), nil
}

func (m *Store) listAgreementsLocked(keep func(*agreement.Agreement) bool) []*agreement.Agreement {
	var out []*agreement.Agreement
	for _, ag := range m.agreements {
		if keep(ag) {
			out = append(out, copyAgreement(ag))
		}
	}
	// Newest-created first; insertion sequence breaks creation-time ties.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	return out
}

func (m *Store) GetInstallment(_ context.Context, id string) (*agreement.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getInstallmentLocked(id)
}

func (m *Store) getInstallmentLocked(id string) (*agreement.Installment, error) {
	inst, ok := m.installments[id]
	if !ok {
		return nil, agreement.ErrNotFound
	}
	return copyInstallment(inst), nil
}

func (m *Store) ListInstallments(_ context.Context, agreementID string) ([]*agreement.Installment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listInstallmentsLocked(agreementID), nil
}

func (m *Store) listInstallmentsLocked(agreementID string) []*agreement.Installment {
	ids := m.byAgreement[agreementID]
	out := make([]*agreement.Installment, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyInstallment(m.installments[id]))
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx holds the store lock for the whole callback and rolls the maps
// back from a snapshot if fn fails.
func (m *Store) WithTx(_ context.Context, fn func(agreement.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	if err := fn(&txView{store: m}); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

type memSnapshot struct {
	agreements   map[string]*agreement.Agreement
	installments map[string]*agreement.Installment
	byAgreement  map[string][]string
	byOrder      map[string]string
	seq          map[string]int
	nextSeq      int
}

func (m *Store) snapshotLocked() memSnapshot {
	snap := memSnapshot{
		agreements:   make(map[string]*agreement.Agreement, len(m.agreements)),
		installments: make(map[string]*agreement.Installment, len(m.installments)),
		byAgreement:  make(map[string][]string, len(m.byAgreement)),
		byOrder:      make(map[string]string, len(m.byOrder)),
		seq:          make(map[string]int, len(m.seq)),
		nextSeq:      m.nextSeq,
	}
	for k, v := range m.agreements {
		snap.agreements[k] = copyAgreement(v)
	}
	for k, v := range m.installments {
		snap.installments[k] = copyInstallment(v)
	}
	for k, v := range m.byAgreement {
		snap.byAgreement[k] = append([]string(nil), v...)
	}
	for k, v := range m.byOrder {
		snap.byOrder[k] = v
	}
	for k, v := range m.seq {
		snap.seq[k] = v
	}
	return snap
}

func (m *Store) restoreLocked(snap memSnapshot) {
	m.agreements = snap.agreements
	m.installments = snap.installments
	m.byAgreement = snap.byAgreement
	m.byOrder = snap.byOrder
	m.seq = snap.seq
	m.nextSeq = snap.nextSeq
}

// txView routes Store calls to the already-locked internals.
type txView struct {
	store *Store
}

func (t *txView) CreateAgreement(_ context.Context, ag *agreement.Agreement, installments []*agreement.Installment) error {
	return t.store.createAgreementLocked(ag, installments)
}

func (t *txView) GetAgreement(_ context.Context, id string) (*agreement.Agreement, error) {
	return t.store.getAgreementLocked(id)
}

func (t *txView) GetAgreementByOrder(_ context.Context, orderID string) (*agreement.Agreement, error) {
	return t.store.getAgreementByOrderLocked(orderID)
}

func (t *txView) ListAgreements(_ context.Context) ([]*agreement.Agreement, error) {
	return t.store.listAgreementsLocked(func(*agreement.Agreement) bool { return true }), nil
}

func (t *txView) ListAgreementsByStatus(_ context.Context, status agreement.AgreementStatus) ([]*agreement.Agreement, error) {
	return t.store.listAgreementsLocked(func(ag *agreement.Agreement) bool { return ag.Status == status }), nil
}

func (t *txView) ListAgreementsByCustomer(_ context.Context, customerID string) ([]*agreement.Agreement, error) {
	return t.store.listAgreementsLocked(func(ag *agreement.Agreement) bool { return ag.CustomerID == customerID }), nil
}

func (t *txView) GetInstallment(_ context.Context, id string) (*agreement.Installment, error) {
	return t.store.getInstallmentLocked(id)
}

func (t *txView) ListInstallments(_ context.Context, agreementID string) ([]*agreement.Installment, error) {
	return t.store.listInstallmentsLocked(agreementID), nil
}

func (t *txView) UpdateAgreementStatus(_ context.Context, id string, expectedVersion int, patch agreement.StatusPatch) error {
	return t.store.updateAgreementStatusLocked(id, expectedVersion, patch)
}

func (t *txView) SetInstallmentPaid(_ context.Context, id string, patch agreement.PaymentPatch) error {
	return t.store.setInstallmentPaidLocked(id, patch)
}

func (t *txView) UpdateInstallmentDueDate(_ context.Context, id string, due jalali.Date) error {
	return t.store.updateInstallmentDueDateLocked(id, due)
}

// =============================================================================
// COPY HELPERS - Callers never share memory with the store
// =============================================================================

func copyAgreement(ag *agreement.Agreement) *agreement.Agreement {
	cp := *ag
	return &cp
}

func copyInstallment(inst *agreement.Installment) *agreement.Installment {
	cp := *inst
	if inst.PaidAt != nil {
		paidAt := *inst.PaidAt
		cp.PaidAt = &paidAt
	}
	return &cp
}

var _ agreement.TxStore = (*Store)(nil)
