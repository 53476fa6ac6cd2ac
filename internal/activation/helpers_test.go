package activation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/models"
	"entitlement-workers/internal/notify"
	"entitlement-workers/internal/payment"
	"entitlement-workers/internal/provisioning"
)

// fakeStripe serves canned sessions and intents.
type fakeStripe struct {
	sessions map[string]*payment.CheckoutSession
	intents  map[string]*payment.PaymentIntent
}

func (f *fakeStripe) GetCheckoutSession(_ context.Context, id string) (*payment.CheckoutSession, error) {
	if s, ok := f.sessions[id]; ok {
		return s, nil
	}
	return nil, payment.ErrNotFound
}

func (f *fakeStripe) GetPaymentIntent(_ context.Context, id string) (*payment.PaymentIntent, error) {
	if pi, ok := f.intents[id]; ok {
		return pi, nil
	}
	return nil, payment.ErrNotFound
}

func (f *fakeStripe) FindCheckoutSessionByPaymentIntent(_ context.Context, intentID string) (*payment.CheckoutSession, error) {
	for _, s := range f.sessions {
		if s.PaymentIntentID == intentID {
			return s, nil
		}
	}
	return nil, nil
}

// fakePayPal captures APPROVED orders in place so later reads see COMPLETED.
type fakePayPal struct {
	mu       sync.Mutex
	orders   map[string]*payment.Order
	captures int
}

func (f *fakePayPal) GetOrder(_ context.Context, id string) (*payment.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakePayPal) CaptureOrder(_ context.Context, id string) (*payment.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, payment.ErrNotFound
	}
	if o.Status == payment.OrderCompleted {
		return nil, payment.ErrAlreadyCaptured
	}
	f.captures++

	unit := o.PurchaseUnits[0]
	unit.Payments = &struct {
		Captures []payment.Capture `json:"captures,omitempty"`
	}{Captures: []payment.Capture{{ID: "CAPTURE-" + id, Status: payment.CaptureCompleted, Amount: unit.Amount}}}
	o.PurchaseUnits = []payment.PurchaseUnit{unit}
	o.Status = payment.OrderCompleted

	return &payment.Order{
		ID:            id,
		Status:        payment.OrderCompleted,
		PurchaseUnits: []payment.PurchaseUnit{{Payments: unit.Payments}},
	}, nil
}

// memEntitlements enforces (subject, item) uniqueness like the database
// constraint. When gate is set every pre-check waits until gate callers
// have arrived, forcing them all past the pre-check together.
type memEntitlements struct {
	mu     sync.Mutex
	rows   map[[2]int64]models.Entitlement
	nextID int64
	gate   *sync.WaitGroup
}

func newMemEntitlements() *memEntitlements {
	return &memEntitlements{rows: map[[2]int64]models.Entitlement{}}
}

func (m *memEntitlements) FindBySubjectAndItem(_ context.Context, subjectID, itemID int64) (*models.Entitlement, bool, error) {
	m.mu.Lock()
	e, ok := m.rows[[2]int64{subjectID, itemID}]
	m.mu.Unlock()

	if m.gate != nil {
		m.gate.Done()
		m.gate.Wait()
	}
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (m *memEntitlements) TryInsert(_ context.Context, e models.Entitlement) (*models.Entitlement, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{e.SubjectID, e.ItemID}
	if existing, ok := m.rows[key]; ok {
		return &existing, false, nil
	}
	m.nextID++
	e.ID = m.nextID
	e.CreatedAt = time.Now().UTC()
	m.rows[key] = e
	return &e, true, nil
}

func (m *memEntitlements) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memSubjects struct {
	mu     sync.Mutex
	byID   map[int64]models.Subject
	nextID int64
}

func newMemSubjects(subjects ...models.Subject) *memSubjects {
	m := &memSubjects{byID: map[int64]models.Subject{}, nextID: 1000}
	for _, s := range subjects {
		m.byID[s.ID] = s
	}
	return m
}

func (m *memSubjects) FindByID(_ context.Context, id int64) (*models.Subject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, apperrors.NewSubjectNotFoundError(id)
	}
	return &s, nil
}

func (m *memSubjects) FindOrCreate(_ context.Context, email string, profile models.Profile) (*models.Subject, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if strings.EqualFold(s.Email, email) {
			found := s
			return &found, false, nil
		}
	}
	m.nextID++
	s := models.Subject{ID: m.nextID, Email: strings.ToLower(email), Name: profile.Name, Phone: profile.Phone}
	m.byID[s.ID] = s
	return &s, true, nil
}

type completion struct {
	id, subjectID int64
	buyer         models.BuyerDetails
}

type memPending struct {
	mu        sync.Mutex
	rows      map[string]*models.PendingPayment
	completed []completion
	findErr   error
}

func newMemPending(rows ...models.PendingPayment) *memPending {
	m := &memPending{rows: map[string]*models.PendingPayment{}}
	for i := range rows {
		row := rows[i]
		m.rows[row.ProviderReference] = &row
	}
	return m
}

func (m *memPending) FindByReference(_ context.Context, reference string) (*models.PendingPayment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, false, m.findErr
	}
	row, ok := m.rows[reference]
	if !ok {
		return nil, false, nil
	}
	cp := *row
	return &cp, true, nil
}

func (m *memPending) MarkCompleted(_ context.Context, id, subjectID int64, buyer models.BuyerDetails) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.ID == id && row.Status != models.PendingCompleted {
			row.Status = models.PendingCompleted
			row.SubjectID = &subjectID
			m.completed = append(m.completed, completion{id: id, subjectID: subjectID, buyer: buyer})
			return true, nil
		}
	}
	return false, nil
}

func (m *memPending) ListUnresolved(_ context.Context) ([]models.PendingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PendingPayment{}
	for _, row := range m.rows {
		if row.Status == models.PendingPaid {
			out = append(out, *row)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Confirmation
}

func (r *recordingNotifier) SendConfirmation(_ context.Context, c notify.Confirmation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, c)
	return true
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// countingAccounts issues the requested username with a per-call secret.
type countingAccounts struct {
	mu    sync.Mutex
	calls int
}

func (c *countingAccounts) CreateRestrictedAccount(_ context.Context, username, _ string) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return username, fmt.Sprintf("secret-%d", c.calls), nil
}

func isolatedProvisioningConfig() provisioning.Config {
	return provisioning.Config{
		Timeout: 2 * time.Second,
		Isolated: provisioning.IsolatedConfig{
			BaseURL:        "https://storage.invalid",
			APIToken:       "token",
			BoxID:          "1",
			UsernamePrefix: "vault",
			HostSuffix:     "storage.example.com",
		},
	}
}

type harness struct {
	stripe       *fakeStripe
	paypal       *fakePayPal
	entitlements *memEntitlements
	subjects     *memSubjects
	pending      *memPending
	notifier     *recordingNotifier
	accounts     *countingAccounts
	orchestrator *Orchestrator
	reconciler   *Reconciler
}

type harnessOption func(*harness, *provisioning.Config)

func withoutStorageBackends() harnessOption {
	return func(_ *harness, cfg *provisioning.Config) {
		*cfg = provisioning.Config{Timeout: time.Second}
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		stripe: &fakeStripe{
			sessions: map[string]*payment.CheckoutSession{},
			intents:  map[string]*payment.PaymentIntent{},
		},
		paypal:       &fakePayPal{orders: map[string]*payment.Order{}},
		entitlements: newMemEntitlements(),
		subjects:     newMemSubjects(),
		pending:      newMemPending(),
		notifier:     &recordingNotifier{},
		accounts:     &countingAccounts{},
	}

	provCfg := isolatedProvisioningConfig()
	for _, opt := range opts {
		opt(h, &provCfg)
	}

	log := logger.NewTestLogger(t)
	verifier := payment.NewVerifier(h.stripe, h.paypal, payment.VerifierConfig{
		Timeout:          time.Second,
		MaxAttempts:      1,
		DefaultItemID:    1,
		AllowDefaultItem: true,
	}, log)

	h.orchestrator = NewOrchestrator(Dependencies{
		Verifier:     verifier,
		Provisioner:  provisioning.NewProvisioner(provCfg, h.accounts, log),
		Entitlements: h.entitlements,
		Subjects:     h.subjects,
		Pending:      h.pending,
		Notifier:     h.notifier,
	}, log)
	h.reconciler = NewReconciler(h.orchestrator, 4, log)
	return h
}

func (h *harness) addSubject(id int64, email string) {
	h.subjects.mu.Lock()
	defer h.subjects.mu.Unlock()
	h.subjects.byID[id] = models.Subject{ID: id, Email: email}
}

func paidSession(id, email, itemID string, amount int64, currency string) *payment.CheckoutSession {
	return &payment.CheckoutSession{
		ID:              id,
		PaymentStatus:   "paid",
		PaymentIntentID: "pi_for_" + id,
		AmountTotal:     amount,
		Currency:        currency,
		CustomerDetails: &payment.Customer{Email: email},
		Metadata:        map[string]string{"item_id": itemID},
	}
}
