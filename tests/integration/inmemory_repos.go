package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"satshunt/internal/core/domain"
	"satshunt/internal/core/ports"
	"satshunt/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- In-Memory Transactor ---

// memTransactor serializes all transactions behind one mutex, standing in
// for row-level locking. Repo methods that take a pgx.Tx are only called
// between Begin and Commit/Rollback, so check-then-write sequences stay
// atomic just like they do under FOR UPDATE.
type memTransactor struct {
	mu sync.Mutex
}

func newMemTransactor() *memTransactor {
	return &memTransactor{}
}

func (t *memTransactor) Begin(_ context.Context) (pgx.Tx, error) {
	t.mu.Lock()
	return &memTx{transactor: t}, nil
}

type memTx struct {
	pgx.Tx
	transactor *memTransactor
	mu         sync.Mutex
	done       bool
}

func (tx *memTx) Commit(_ context.Context) error {
	tx.release()
	return nil
}

func (tx *memTx) Rollback(_ context.Context) error {
	tx.release()
	return nil
}

func (tx *memTx) release() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if !tx.done {
		tx.done = true
		tx.transactor.mu.Unlock()
	}
}

// --- In-Memory Location Repo ---

type inMemoryLocationRepo struct {
	mu        sync.RWMutex
	locations map[uuid.UUID]*domain.Location
}

func newInMemoryLocationRepo() *inMemoryLocationRepo {
	return &inMemoryLocationRepo{locations: make(map[uuid.UUID]*domain.Location)}
}

func (r *inMemoryLocationRepo) Create(_ context.Context, l *domain.Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.locations[l.ID] = &cp
	return nil
}

func (r *inMemoryLocationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.locations[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r *inMemoryLocationRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Location, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryLocationRepo) List(_ context.Context) ([]domain.Location, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Location, 0, len(r.locations))
	for _, l := range r.locations {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *inMemoryLocationRepo) SetLastRefillAt(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locations[id]
	if !ok {
		return fmt.Errorf("location not found")
	}
	l.LastRefillAt = &at
	return nil
}

func (r *inMemoryLocationRepo) SetLastWithdrawAt(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locations[id]
	if !ok {
		return fmt.Errorf("location not found")
	}
	l.LastWithdrawAt = &at
	return nil
}

// --- In-Memory Card Repo ---

type inMemoryCardRepo struct {
	mu    sync.RWMutex
	cards map[uuid.UUID]*domain.NfcCard
}

func newInMemoryCardRepo() *inMemoryCardRepo {
	return &inMemoryCardRepo{cards: make(map[uuid.UUID]*domain.NfcCard)}
}

func (r *inMemoryCardRepo) Create(_ context.Context, c *domain.NfcCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.cards[c.ID] = &cp
	return nil
}

func (r *inMemoryCardRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.NfcCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cards[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *inMemoryCardRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.NfcCard, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryCardRepo) GetByWriteToken(_ context.Context, token string) (*domain.NfcCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cards {
		if c.WriteToken != nil && *c.WriteToken == token {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryCardRepo) MarkProgrammed(_ context.Context, id uuid.UUID, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return fmt.Errorf("card not found")
	}
	c.UID = &uid
	c.WriteToken = nil
	c.Status = domain.CardStatusProgrammed
	return nil
}

func (r *inMemoryCardRepo) AdoptUID(_ context.Context, _ pgx.Tx, id uuid.UUID, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return fmt.Errorf("adopt uid: card %s not found", id)
	}
	if c.UID != nil {
		return fmt.Errorf("adopt uid: card %s already has a uid", id)
	}
	c.UID = &uid
	return nil
}

func (r *inMemoryCardRepo) AdvanceCounter(_ context.Context, _ pgx.Tx, id uuid.UUID, counter int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return fmt.Errorf("card not found")
	}
	c.Counter = counter
	c.Status = domain.CardStatusActive
	if c.ActivatedAt == nil {
		now := time.Now().UTC()
		c.ActivatedAt = &now
	}
	return nil
}

func (r *inMemoryCardRepo) Rearm(_ context.Context, id uuid.UUID, keyVersion int, writeToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cards[id]
	if !ok {
		return fmt.Errorf("card not found")
	}
	c.KeyVersion = keyVersion
	c.WriteToken = &writeToken
	c.Status = domain.CardStatusCreated
	c.Counter = 0
	return nil
}

// --- In-Memory Scan Repo ---

type inMemoryScanRepo struct {
	mu    sync.RWMutex
	scans []domain.Scan
}

func newInMemoryScanRepo() *inMemoryScanRepo {
	return &inMemoryScanRepo{}
}

func (r *inMemoryScanRepo) Create(_ context.Context, _ pgx.Tx, s *domain.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, *s)
	return nil
}

func (r *inMemoryScanRepo) LinkClaim(_ context.Context, _ pgx.Tx, scanID, claimID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.scans {
		if r.scans[i].ID == scanID {
			id := claimID
			r.scans[i].ClaimID = &id
			return nil
		}
	}
	return fmt.Errorf("scan not found")
}

func (r *inMemoryScanRepo) CountByLocation(_ context.Context, locationID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, s := range r.scans {
		if s.LocationID == locationID {
			n++
		}
	}
	return n, nil
}

// --- In-Memory Ledger Repo ---

type inMemoryLedgerRepo struct {
	mu      sync.RWMutex
	credits []domain.PoolCredit
	claims  []domain.Claim
}

func newInMemoryLedgerRepo() *inMemoryLedgerRepo {
	return &inMemoryLedgerRepo{}
}

func (r *inMemoryLedgerRepo) CreateCredit(_ context.Context, _ pgx.Tx, c *domain.PoolCredit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.credits = append(r.credits, *c)
	return nil
}

func (r *inMemoryLedgerRepo) CreateClaim(_ context.Context, _ pgx.Tx, c *domain.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claims = append(r.claims, *c)
	return nil
}

func (r *inMemoryLedgerRepo) SumCredits(_ context.Context, _ pgx.Tx, locationID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, c := range r.credits {
		if c.LocationID == locationID {
			total += c.AmountMsat
		}
	}
	return total, nil
}

func (r *inMemoryLedgerRepo) SumClaims(_ context.Context, _ pgx.Tx, locationID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, c := range r.claims {
		if c.LocationID == locationID {
			total += c.AmountMsat
		}
	}
	return total, nil
}

func (r *inMemoryLedgerRepo) ClaimStats(_ context.Context, locationID uuid.UUID) (int64, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var count, total int64
	for _, c := range r.claims {
		if c.LocationID == locationID {
			count++
			total += c.AmountMsat
		}
	}
	return count, total, nil
}

func (r *inMemoryLedgerRepo) CreditStats(_ context.Context, locationID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, c := range r.credits {
		if c.LocationID == locationID && c.Source == domain.CreditSourceDonation {
			total += c.AmountMsat
		}
	}
	return total, nil
}

// --- In-Memory Withdrawal Repo ---

type inMemoryWithdrawalRepo struct {
	mu          sync.RWMutex
	withdrawals map[uuid.UUID]*domain.PendingWithdrawal
}

func newInMemoryWithdrawalRepo() *inMemoryWithdrawalRepo {
	return &inMemoryWithdrawalRepo{withdrawals: make(map[uuid.UUID]*domain.PendingWithdrawal)}
}

func (r *inMemoryWithdrawalRepo) Create(_ context.Context, _ pgx.Tx, w *domain.PendingWithdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.withdrawals {
		if existing.Status == domain.WithdrawalStatusPending &&
			existing.ClaimantID == w.ClaimantID && existing.Invoice == w.Invoice {
			return apperror.ErrDuplicateWithdrawal()
		}
	}
	cp := *w
	r.withdrawals[w.ID] = &cp
	return nil
}

func (r *inMemoryWithdrawalRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.PendingWithdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.withdrawals[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (r *inMemoryWithdrawalRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.PendingWithdrawal, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryWithdrawalRepo) GetByClaimantInvoice(_ context.Context, claimantID uuid.UUID, invoice string) (*domain.PendingWithdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.PendingWithdrawal
	for _, w := range r.withdrawals {
		if w.ClaimantID != claimantID || w.Invoice != invoice {
			continue
		}
		if latest == nil || w.CreatedAt.After(latest.CreatedAt) {
			latest = w
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *inMemoryWithdrawalRepo) SumPending(_ context.Context, _ pgx.Tx, locationID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, w := range r.withdrawals {
		if w.LocationID == locationID && w.Status == domain.WithdrawalStatusPending {
			total += w.AmountMsat
		}
	}
	return total, nil
}

func (r *inMemoryWithdrawalRepo) MarkCompleted(_ context.Context, _ pgx.Tx, id uuid.UUID, paymentHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[id]
	if !ok {
		return fmt.Errorf("withdrawal not found")
	}
	now := time.Now().UTC()
	w.Status = domain.WithdrawalStatusCompleted
	w.PaymentHash = &paymentHash
	w.ResolvedAt = &now
	return nil
}

func (r *inMemoryWithdrawalRepo) SetPaymentHash(_ context.Context, id uuid.UUID, paymentHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[id]
	if !ok {
		return fmt.Errorf("withdrawal not found")
	}
	w.PaymentHash = &paymentHash
	return nil
}

func (r *inMemoryWithdrawalRepo) MarkFailed(_ context.Context, _ pgx.Tx, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.withdrawals[id]
	if !ok {
		return fmt.Errorf("withdrawal not found")
	}
	now := time.Now().UTC()
	w.Status = domain.WithdrawalStatusFailed
	w.FailReason = &reason
	w.ResolvedAt = &now
	return nil
}

func (r *inMemoryWithdrawalRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]domain.PendingWithdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.PendingWithdrawal
	for _, w := range r.withdrawals {
		if w.Status == domain.WithdrawalStatusPending && w.CreatedAt.Before(cutoff) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- In-Memory Donation Repo ---

type inMemoryDonationRepo struct {
	mu        sync.RWMutex
	donations map[uuid.UUID]*domain.Donation
}

func newInMemoryDonationRepo() *inMemoryDonationRepo {
	return &inMemoryDonationRepo{donations: make(map[uuid.UUID]*domain.Donation)}
}

func (r *inMemoryDonationRepo) Create(_ context.Context, d *domain.Donation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.donations[d.ID] = &cp
	return nil
}

func (r *inMemoryDonationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.donations[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (r *inMemoryDonationRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.Donation, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryDonationRepo) ListOpen(_ context.Context, limit int) ([]domain.Donation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Donation
	for _, d := range r.donations {
		if d.Status == domain.DonationStatusCreated {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryDonationRepo) UpdateStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.DonationStatus, receivedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.donations[id]
	if !ok {
		return fmt.Errorf("donation not found")
	}
	d.Status = status
	d.ReceivedAt = receivedAt
	return nil
}

// --- In-Memory User Repo ---

type inMemoryUserRepo struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*domain.User
	transactions []domain.UserTransaction
}

func newInMemoryUserRepo() *inMemoryUserRepo {
	return &inMemoryUserRepo{users: make(map[uuid.UUID]*domain.User)}
}

func (r *inMemoryUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == u.Username {
			return fmt.Errorf("username already exists")
		}
	}
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *inMemoryUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *inMemoryUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *inMemoryUserRepo) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.User, error) {
	return r.GetByID(ctx, id)
}

func (r *inMemoryUserRepo) SumTransactions(_ context.Context, _ pgx.Tx, userID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total int64
	for _, utx := range r.transactions {
		if utx.UserID != userID {
			continue
		}
		if utx.Type == domain.UserTransactionTypeWithdraw {
			total -= utx.AmountMsat
		} else {
			total += utx.AmountMsat
		}
	}
	return total, nil
}

func (r *inMemoryUserRepo) MarkTransactionStatus(_ context.Context, _ pgx.Tx, id uuid.UUID, status domain.UserTransactionStatus, paymentHash *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.transactions {
		if r.transactions[i].ID == id {
			r.transactions[i].Status = status
			if paymentHash != nil {
				r.transactions[i].PaymentHash = paymentHash
			}
			return nil
		}
	}
	return fmt.Errorf("transaction not found")
}

func (r *inMemoryUserRepo) ListStalePendingWithdraws(_ context.Context, cutoff time.Time, limit int) ([]domain.UserTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.UserTransaction
	for _, utx := range r.transactions {
		if utx.Type == domain.UserTransactionTypeWithdraw &&
			utx.Status == domain.UserTransactionStatusPending &&
			utx.CreatedAt.Before(cutoff) {
			out = append(out, utx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *inMemoryUserRepo) CreateTransaction(_ context.Context, _ pgx.Tx, utx *domain.UserTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, *utx)
	return nil
}

func (r *inMemoryUserRepo) ListTransactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]domain.UserTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.UserTransaction
	for _, utx := range r.transactions {
		if utx.UserID == userID {
			out = append(out, utx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Fake Payer ---

const (
	payerModeSucceed = "succeed"
	payerModeFail    = "fail"
	payerModePending = "pending"
)

// fakePayer stands in for the Lightning backend. Outgoing payments
// resolve according to mode; incoming invoices settle when the test
// calls settle with the payment hash.
type fakePayer struct {
	mu       sync.Mutex
	mode     string
	settled  map[string]bool
	resolved map[string]ports.PaymentState // payment hash -> state for CheckPayment
	seq      int
}

func newFakePayer() *fakePayer {
	return &fakePayer{
		mode:     payerModeSucceed,
		settled:  make(map[string]bool),
		resolved: make(map[string]ports.PaymentState),
	}
}

func (p *fakePayer) setMode(mode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
}

func (p *fakePayer) settle(paymentHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled[paymentHash] = true
}

func (p *fakePayer) resolve(paymentHash string, state ports.PaymentState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolved[paymentHash] = state
}

func (p *fakePayer) PayInvoice(_ context.Context, invoice string) (*ports.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	hash := "hash-" + invoice
	switch p.mode {
	case payerModeFail:
		return &ports.PaymentResult{State: ports.PaymentStateFailed, FailReason: "no route"}, nil
	case payerModePending:
		p.resolved[hash] = ports.PaymentStatePending
		return &ports.PaymentResult{PaymentHash: hash, State: ports.PaymentStatePending}, nil
	default:
		return &ports.PaymentResult{PaymentHash: hash, State: ports.PaymentStateSucceeded}, nil
	}
}

func (p *fakePayer) CheckPayment(_ context.Context, paymentHash string) (*ports.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.resolved[paymentHash]
	if !ok {
		state = ports.PaymentStateSucceeded
	}
	result := &ports.PaymentResult{PaymentHash: paymentHash, State: state}
	if state == ports.PaymentStateFailed {
		result.FailReason = "no route"
	}
	return result, nil
}

func (p *fakePayer) CreateInvoice(_ context.Context, amountMsat int64, _ string, ttl time.Duration) (*ports.Invoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	hash := fmt.Sprintf("inbound-hash-%d", p.seq)
	return &ports.Invoice{
		PaymentRequest: fmt.Sprintf("lnbc%dn1fake%d", amountMsat/100, p.seq),
		PaymentHash:    hash,
		ExpiresAt:      time.Now().UTC().Add(ttl),
	}, nil
}

func (p *fakePayer) CheckInvoice(_ context.Context, paymentHash string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled[paymentHash], nil
}
