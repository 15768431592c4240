package services

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rentflow/rental-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================

type memBookings struct {
	mu       sync.Mutex
	rows     map[uuid.UUID]*models.Booking
	seq      int
	payments *memPayments
	clock    func() time.Time

	// beforeCreate runs inside CreateIfAvailable before the overlap check
	beforeCreate func(b *models.Booking)
}

func newMemBookings(payments *memPayments, clock func() time.Time) *memBookings {
	return &memBookings{rows: make(map[uuid.UUID]*models.Booking), payments: payments, clock: clock}
}

func copyBooking(b *models.Booking) *models.Booking {
	c := *b
	return &c
}

func (m *memBookings) put(b *models.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.SecurityDepositStatus == "" {
		b.SecurityDepositStatus = models.DepositStatusNone
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.clock()
	}
	m.rows[b.ID] = copyBooking(b)
}

func (m *memBookings) GenerateBookingNumber(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("RB-TEST-%06d", m.seq), nil
}

func (m *memBookings) overlaps(vehicleID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) bool {
	for _, b := range m.rows {
		if b.VehicleID != vehicleID || !b.Status.IsBlocking() {
			continue
		}
		if excludeID != nil && b.ID == *excludeID {
			continue
		}
		bStart, bEnd := b.RentalWindow()
		if bStart.Before(end) && bEnd.After(start) {
			return true
		}
	}
	return false
}

func (m *memBookings) CreateIfAvailable(ctx context.Context, b *models.Booking) error {
	if m.beforeCreate != nil {
		m.beforeCreate(b)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	start, end := b.RentalWindow()
	if m.overlaps(b.VehicleID, start, end, nil) {
		return &models.ConflictError{Code: models.CodeVehicleUnavailable, Message: "vehicle is not available"}
	}
	now := m.clock()
	b.CreatedAt, b.UpdatedAt = now, now
	if b.SecurityDepositStatus == "" {
		b.SecurityDepositStatus = models.DepositStatusNone
	}
	m.rows[b.ID] = copyBooking(b)
	return nil
}

func (m *memBookings) UpdateDetailsIfAvailable(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, end := b.RentalWindow()
	if m.overlaps(b.VehicleID, start, end, &b.ID) {
		return &models.ConflictError{Code: models.CodeVehicleUnavailable, Message: "vehicle is not available"}
	}
	current, ok := m.rows[b.ID]
	if !ok || current.Status != b.Status {
		return &models.ConflictError{Code: models.CodeInvalidTransition, Message: "booking status changed"}
	}
	m.rows[b.ID] = copyBooking(b)
	return nil
}

func (m *memBookings) HasConflict(ctx context.Context, vehicleID uuid.UUID, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overlaps(vehicleID, start, end, excludeID), nil
}

func (m *memBookings) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.rows[id]; ok {
		return copyBooking(b), nil
	}
	return nil, nil
}

func (m *memBookings) find(match func(b *models.Booking) bool) *models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.rows {
		if match(b) {
			return copyBooking(b)
		}
	}
	return nil
}

func (m *memBookings) GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	return m.find(func(b *models.Booking) bool {
		return b.PaymentIntentID != nil && *b.PaymentIntentID == intentID
	}), nil
}

func (m *memBookings) GetByDepositIntentID(ctx context.Context, intentID string) (*models.Booking, error) {
	return m.find(func(b *models.Booking) bool {
		return b.SecurityDepositIntentID != nil && *b.SecurityDepositIntentID == intentID
	}), nil
}

func (m *memBookings) ListAwaitingDepositHold(ctx context.Context, limit int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Booking
	for _, b := range m.rows {
		if (b.Status == models.BookingStatusPickedUp || b.Status == models.BookingStatusActive) &&
			b.SecurityDepositStatus == models.DepositStatusNone && b.SecurityDepositLastError != nil {
			out = append(out, copyBooking(b))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memBookings) ListPendingWithSucceededPayment(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock().Add(-olderThan)
	var out []*models.Booking
	for _, b := range m.rows {
		if b.Status != models.BookingStatusPending || !b.CreatedAt.Before(cutoff) {
			continue
		}
		if m.payments.hasSucceeded(b.ID) {
			out = append(out, copyBooking(b))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memBookings) TransitionStatus(ctx context.Context, id uuid.UUID, from, to models.BookingStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	now := m.clock()
	if to == models.BookingStatusConfirmed && b.ConfirmedAt == nil {
		b.ConfirmedAt = &now
	}
	if to == models.BookingStatusCancelled && b.CancelledAt == nil {
		b.CancelledAt = &now
	}
	return true, nil
}

func (m *memBookings) depositRow(id uuid.UUID, intentID string, allowed ...models.DepositStatus) *models.Booking {
	b, ok := m.rows[id]
	if !ok {
		return nil
	}
	if b.SecurityDepositIntentID != nil && *b.SecurityDepositIntentID != intentID {
		return nil
	}
	for _, s := range allowed {
		if b.SecurityDepositStatus == s {
			return b
		}
	}
	return nil
}

func (m *memBookings) RecordDepositAuthorized(ctx context.Context, id uuid.UUID, intentID string, amount float64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.depositRow(id, intentID, models.DepositStatusNone, models.DepositStatusAuthorized)
	if b == nil {
		return false, nil
	}
	b.SecurityDepositStatus = models.DepositStatusAuthorized
	b.SecurityDepositIntentID = &intentID
	b.SecurityDepositHeld = amount
	if b.SecurityDepositAuthorizedAt == nil {
		b.SecurityDepositAuthorizedAt = &at
	}
	b.SecurityDepositLastError = nil
	return true, nil
}

func (m *memBookings) RecordDepositCaptured(ctx context.Context, id uuid.UUID, intentID string, charged float64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.depositRow(id, intentID, models.DepositStatusNone, models.DepositStatusAuthorized, models.DepositStatusCaptured)
	if b == nil {
		return false, nil
	}
	b.SecurityDepositStatus = models.DepositStatusCaptured
	b.SecurityDepositIntentID = &intentID
	b.SecurityDepositCharged = &charged
	if b.SecurityDepositCapturedAt == nil {
		b.SecurityDepositCapturedAt = &at
	}
	return true, nil
}

func (m *memBookings) RecordDepositReleased(ctx context.Context, id uuid.UUID, intentID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.depositRow(id, intentID, models.DepositStatusNone, models.DepositStatusAuthorized, models.DepositStatusReleased)
	if b == nil {
		return false, nil
	}
	b.SecurityDepositStatus = models.DepositStatusReleased
	b.SecurityDepositIntentID = &intentID
	if b.SecurityDepositReleasedAt == nil {
		b.SecurityDepositReleasedAt = &at
	}
	return true, nil
}

func (m *memBookings) RecordDepositError(ctx context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.rows[id]; ok && b.SecurityDepositStatus == models.DepositStatusNone {
		b.SecurityDepositLastError = &message
	}
	return nil
}

func (m *memBookings) DeleteWithoutPayments(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok || m.payments.hasAny(id) {
		return false, nil
	}
	delete(m.rows, id)
	return true, nil
}

type memPayments struct {
	mu    sync.Mutex
	rows  map[string]*models.Payment
	order []string
}

func newMemPayments() *memPayments {
	return &memPayments{rows: make(map[string]*models.Payment)}
}

func (m *memPayments) hasAny(bookingID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.BookingID == bookingID {
			return true
		}
	}
	return false
}

func (m *memPayments) hasSucceeded(bookingID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.rows {
		if p.BookingID == bookingID && p.PaymentType == models.PaymentTypeFull && p.Status == models.PaymentStatusSucceeded {
			return true
		}
	}
	return false
}

func (m *memPayments) forBooking(bookingID uuid.UUID) []*models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Payment
	for _, id := range m.order {
		if p := m.rows[id]; p.BookingID == bookingID {
			c := *p
			out = append(out, &c)
		}
	}
	return out
}

func (m *memPayments) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error) {
	return m.forBooking(bookingID), nil
}

func (m *memPayments) CreateIfAbsent(ctx context.Context, p *models.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[p.GatewayPaymentIntentID]; ok {
		return false, nil
	}
	c := *p
	m.rows[p.GatewayPaymentIntentID] = &c
	m.order = append(m.order, p.GatewayPaymentIntentID)
	return true, nil
}

func (m *memPayments) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.rows[intentID]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (m *memPayments) latest(bookingID uuid.UUID, paymentType models.PaymentType, match func(p *models.Payment) bool) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		p := m.rows[m.order[i]]
		if p.BookingID == bookingID && p.PaymentType == paymentType && match(p) {
			c := *p
			return &c
		}
	}
	return nil
}

func (m *memPayments) GetLatestSucceeded(ctx context.Context, bookingID uuid.UUID, paymentType models.PaymentType) (*models.Payment, error) {
	return m.latest(bookingID, paymentType, func(p *models.Payment) bool {
		return p.Status == models.PaymentStatusSucceeded
	}), nil
}

func (m *memPayments) GetLatestByType(ctx context.Context, bookingID uuid.UUID, paymentType models.PaymentType) (*models.Payment, error) {
	return m.latest(bookingID, paymentType, func(*models.Payment) bool { return true }), nil
}

func (m *memPayments) AdvanceStatus(ctx context.Context, intentID string, to models.PaymentStatus, chargeID, failureReason *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[intentID]
	if !ok || !p.Status.CanAdvanceTo(to) {
		return false, nil
	}
	p.Status = to
	if chargeID != nil {
		p.GatewayChargeID = chargeID
	}
	if failureReason != nil {
		p.FailureReason = failureReason
	}
	return true, nil
}

func (m *memPayments) MarkRefunded(ctx context.Context, intentID string, refundedTotal float64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[intentID]
	if !ok || refundedTotal > p.Amount {
		return false, nil
	}
	switch {
	case p.Status == models.PaymentStatusSucceeded:
	case p.Status == models.PaymentStatusRefunded && (p.RefundAmount == nil || *p.RefundAmount < refundedTotal):
	default:
		return false, nil
	}
	p.Status = models.PaymentStatusRefunded
	p.RefundAmount = &refundedTotal
	if p.RefundedAt == nil {
		p.RefundedAt = &at
	}
	return true, nil
}

type memRefunds struct {
	mu   sync.Mutex
	rows []*models.RefundRecord
}

func (m *memRefunds) Create(ctx context.Context, rec *models.RefundRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.GatewayRefundID == rec.GatewayRefundID {
			return false, nil
		}
	}
	c := *rec
	m.rows = append(m.rows, &c)
	return true, nil
}

func (m *memRefunds) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.RefundRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RefundRecord
	for _, r := range m.rows {
		if r.BookingID == bookingID {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memRefunds) all() []*models.RefundRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.RefundRecord(nil), m.rows...)
}

type memCustomers struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Customer
}

func newMemCustomers() *memCustomers {
	return &memCustomers{rows: make(map[uuid.UUID]*models.Customer)}
}

func (m *memCustomers) GetByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memCustomers) GetByEmail(ctx context.Context, companyID uuid.UUID, email string) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.rows {
		if c.CompanyID == companyID && c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

// Create keeps the first row per (company, email), like ON CONFLICT DO NOTHING + reselect
func (m *memCustomers) Create(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rows {
		if existing.CompanyID == c.CompanyID && existing.Email == c.Email {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *c
	m.rows[c.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memCustomers) SetGatewayCustomerID(ctx context.Context, id uuid.UUID, gatewayCustomerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok && c.GatewayCustomerID == nil {
		c.GatewayCustomerID = &gatewayCustomerID
	}
	return nil
}

func (m *memCustomers) ClaimInvitation(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok || c.InvitationSentAt != nil || c.PasswordHash != nil {
		return false, nil
	}
	c.InvitationSentAt = &at
	c.PasswordHash = &passwordHash
	return true, nil
}

func (m *memCustomers) ResetInvitation(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.rows[id]; ok && c.InvitationSentAt != nil && c.InvitationSentAt.Equal(at) {
		c.InvitationSentAt = nil
		c.PasswordHash = nil
	}
	return nil
}

type memCatalog struct {
	mu            sync.Mutex
	companies     map[uuid.UUID]*models.Company
	vehicles      map[uuid.UUID]*models.Vehicle
	vehicleModels map[uuid.UUID]*models.VehicleModel
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		companies:     make(map[uuid.UUID]*models.Company),
		vehicles:      make(map[uuid.UUID]*models.Vehicle),
		vehicleModels: make(map[uuid.UUID]*models.VehicleModel),
	}
}

func (m *memCatalog) GetCompany(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.companies[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memCatalog) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vehicles[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (m *memCatalog) GetVehicleModel(ctx context.Context, id uuid.UUID) (*models.VehicleModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vm, ok := m.vehicleModels[id]; ok {
		cp := *vm
		return &cp, nil
	}
	return nil, nil
}

func (m *memCatalog) ListActiveVehiclesByModel(ctx context.Context, modelID uuid.UUID) ([]*models.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Vehicle
	for _, v := range m.vehicles {
		if v.IsActive && v.ModelID != nil && *v.ModelID == modelID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCatalog) SetChargesEnabled(ctx context.Context, stripeAccountID string, enabled bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.companies {
		if c.StripeAccountID != nil && *c.StripeAccountID == stripeAccountID {
			c.StripeChargesEnabled = enabled
			n++
		}
	}
	return n, nil
}

func (m *memCatalog) setVehicleRate(id uuid.UUID, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[id].DailyRate = rate
}

type memTokens struct {
	mu   sync.Mutex
	rows map[string]*models.BookingToken
}

func newMemTokens() *memTokens {
	return &memTokens{rows: make(map[string]*models.BookingToken)}
}

func (m *memTokens) Create(ctx context.Context, t *models.BookingToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.rows[t.Token] = &cp
	return nil
}

func (m *memTokens) GetByToken(ctx context.Context, token string) (*models.BookingToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.rows[token]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *memTokens) Claim(ctx context.Context, token string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[token]
	if !ok || t.IsUsed || !t.ExpiresAt.After(now) {
		return false, nil
	}
	t.IsUsed = true
	t.UsedAt = &now
	return true, nil
}

func (m *memTokens) ReleaseClaim(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.rows[token]; ok && t.IsUsed && t.BookingID == nil {
		t.IsUsed = false
		t.UsedAt = nil
	}
	return nil
}

func (m *memTokens) AttachBooking(ctx context.Context, token string, bookingID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.rows[token]; ok && t.IsUsed && t.BookingID == nil {
		t.BookingID = &bookingID
	}
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []*models.PaymentAudit
}

func (m *memAudit) Log(ctx context.Context, audit *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, audit)
	return nil
}

func (m *memAudit) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EventType == models.PaymentEventWebhookReceived && !e.IsDuplicate &&
			e.GatewayEventID != nil && *e.GatewayEventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAudit) count(eventType models.PaymentEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type memEventCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (c *memEventCache) Seen(ctx context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[eventID], nil
}

func (c *memEventCache) Remember(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	c.seen[eventID] = true
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// ============================================================================
// FAKE GATEWAY
// ============================================================================

type fakeGateway struct {
	mu       sync.Mutex
	seq      int
	intents  map[string]*GatewayIntent
	byKey    map[string]string
	refunds  []*GatewayRefund
	refunded map[string]int64
	calls    map[string]int
	keys     []string

	// customers maps gateway customer ids to emails
	customers map[string]string
	// attached maps saved payment methods to their customer
	attached map[string]string
	// consumed marks payment methods charged without being saved
	consumed map[string]bool
	// saveTo maps intents confirmed with SaveForOffSession to their customer
	saveTo map[string]string

	declineConfirm bool
	declineHold    bool
	// transient fails the next n calls with a retryable error
	transient int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		intents:   make(map[string]*GatewayIntent),
		byKey:     make(map[string]string),
		refunded:  make(map[string]int64),
		calls:     make(map[string]int),
		customers: make(map[string]string),
		attached:  make(map[string]string),
		consumed:  make(map[string]bool),
		saveTo:    make(map[string]string),
	}
}

func (g *fakeGateway) begin(op, key string) error {
	g.calls[op]++
	if key != "" {
		g.keys = append(g.keys, key)
	}
	if g.transient > 0 {
		g.transient--
		return &models.GatewayError{Operation: op, Message: "connection reset", Retryable: true}
	}
	return nil
}

func (g *fakeGateway) callCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) intent(id string) GatewayIntent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return *g.intents[id]
}

func (g *fakeGateway) CreateIntent(ctx context.Context, creds GatewayCredentials, params CreateIntentParams) (*GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("create", params.IdempotencyKey); err != nil {
		return nil, err
	}
	if id, ok := g.byKey[params.IdempotencyKey]; ok {
		cp := *g.intents[id]
		return &cp, nil
	}

	if params.ConfirmNow && !g.reusable(params.PaymentMethodID, params.GatewayCustomerID) {
		return nil, &models.GatewayError{
			Operation: "create_intent",
			Code:      "payment_method_not_reusable",
			Message:   "payment method was used without being attached to this customer",
		}
	}

	g.seq++
	in := &GatewayIntent{
		ID:              fmt.Sprintf("pi_%d", g.seq),
		Status:          IntentRequiresConfirmation,
		Amount:          params.Amount,
		Currency:        params.Currency,
		PaymentMethodID: params.PaymentMethodID,
		CustomerID:      params.GatewayCustomerID,
		Metadata:        params.Metadata,
	}
	if params.SaveForOffSession {
		g.saveTo[in.ID] = params.GatewayCustomerID
	}
	if params.ManualCapture && params.ConfirmNow {
		if g.declineHold {
			in.Status = IntentRequiresPaymentMethod
			in.FailureCode = "insufficient_funds"
			in.FailureMessage = "Your card has insufficient funds."
		} else {
			in.Status = IntentRequiresCapture
			in.AmountCapturable = params.Amount
		}
	}
	g.intents[in.ID] = in
	g.byKey[params.IdempotencyKey] = in.ID
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) ConfirmIntent(ctx context.Context, creds GatewayCredentials, intentID, paymentMethodID, idempotencyKey string) (*GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("confirm", idempotencyKey); err != nil {
		return nil, err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, &models.GatewayError{Operation: "confirm_intent", Code: "resource_missing", Message: "no such intent"}
	}
	if g.declineConfirm {
		in.Status = IntentRequiresPaymentMethod
		in.FailureCode = "card_declined"
		in.FailureMessage = "Your card was declined."
		cp := *in
		return &cp, nil
	}
	if in.Status == IntentRequiresConfirmation || in.Status == IntentRequiresPaymentMethod {
		in.Status = IntentSucceeded
		in.AmountReceived = in.Amount
		in.LatestChargeID = "ch_" + in.ID[3:]
		in.PaymentMethodID = paymentMethodID
		in.FailureCode, in.FailureMessage = "", ""
		if customer, ok := g.saveTo[in.ID]; ok {
			g.attached[paymentMethodID] = customer
		} else {
			g.consumed[paymentMethodID] = true
		}
	}
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) CaptureIntent(ctx context.Context, creds GatewayCredentials, intentID string, amount *int64, idempotencyKey string) (*GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("capture", idempotencyKey); err != nil {
		return nil, err
	}
	in := g.intents[intentID]
	if in.Status == IntentRequiresCapture {
		captured := in.AmountCapturable
		if amount != nil {
			captured = *amount
		}
		in.Status = IntentSucceeded
		in.AmountReceived = captured
		in.AmountCapturable = 0
	}
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) CancelIntent(ctx context.Context, creds GatewayCredentials, intentID, idempotencyKey string) (*GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("cancel", idempotencyKey); err != nil {
		return nil, err
	}
	in := g.intents[intentID]
	if in.Status != IntentSucceeded {
		in.Status = IntentCanceled
		in.AmountCapturable = 0
	}
	cp := *in
	return &cp, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, creds GatewayCredentials, intentID string, amount int64, reason, idempotencyKey string) (*GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("refund", idempotencyKey); err != nil {
		return nil, err
	}
	in := g.intents[intentID]
	if amount > in.AmountReceived-g.refunded[intentID] {
		return nil, &models.GatewayError{Operation: "create_refund", Code: "amount_too_large", Message: "refund exceeds charge"}
	}
	g.refunded[intentID] += amount
	g.seq++
	r := &GatewayRefund{ID: fmt.Sprintf("re_%d", g.seq), IntentID: intentID, Amount: amount, Currency: in.Currency, Status: "succeeded"}
	g.refunds = append(g.refunds, r)
	cp := *r
	return &cp, nil
}

func (g *fakeGateway) GetIntent(ctx context.Context, creds GatewayCredentials, intentID string) (*GatewayIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("get", ""); err != nil {
		return nil, err
	}
	in, ok := g.intents[intentID]
	if !ok {
		return nil, &models.GatewayError{Operation: "get_intent", Code: "resource_missing", Message: "no such intent"}
	}
	cp := *in
	return &cp, nil
}

// reusable reports whether an off-session confirm may use the payment method
func (g *fakeGateway) reusable(paymentMethodID, customerID string) bool {
	if owner, ok := g.attached[paymentMethodID]; ok {
		return owner == customerID
	}
	return !g.consumed[paymentMethodID]
}

func (g *fakeGateway) CreateCustomer(ctx context.Context, creds GatewayCredentials, params CreateCustomerParams) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.begin("customer", params.IdempotencyKey); err != nil {
		return "", err
	}
	if id, ok := g.byKey[params.IdempotencyKey]; ok {
		return id, nil
	}
	g.seq++
	id := fmt.Sprintf("cus_%d", g.seq)
	g.customers[id] = params.Email
	g.byKey[params.IdempotencyKey] = id
	return id, nil
}

type staticCredentials struct {
	err error
}

func (c staticCredentials) ResolveGatewayCredentials(ctx context.Context, companyID uuid.UUID) (GatewayCredentials, error) {
	if c.err != nil {
		return GatewayCredentials{}, c.err
	}
	return GatewayCredentials{SecretKey: "sk_test", AccountID: "acct_test"}, nil
}

// ============================================================================
// MOCK NOTIFIER
// ============================================================================

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendBookingLink(ctx context.Context, msg BookingLinkEmail) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockNotifier) SendBookingConfirmation(ctx context.Context, msg BookingConfirmationEmail) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *mockNotifier) SendInvitation(ctx context.Context, msg InvitationEmail) error {
	return m.Called(ctx, msg).Error(0)
}

// acceptAll lets every send succeed. Register failing expectations first.
func (m *mockNotifier) acceptAll() *mockNotifier {
	m.On("SendBookingLink", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SendBookingConfirmation", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SendInvitation", mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

func (m *mockNotifier) sent(method string) int {
	n := 0
	for _, call := range m.Calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// ============================================================================
// TEST ENVIRONMENT
// ============================================================================

var testNow = time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	now func() time.Time

	bookings  *memBookings
	payments  *memPayments
	refunds   *memRefunds
	customers *memCustomers
	catalog   *memCatalog
	tokens    *memTokens
	audit     *memAudit
	events    *recordingPublisher
	cache     *memEventCache
	gateway   *fakeGateway
	notifier  *mockNotifier
	metrics   *Metrics

	orchestrator *PaymentOrchestrator
	availability *AvailabilityService
	bookingSvc   *BookingService
	tokenSvc     *BookingTokenService
	reconciler   *WebhookReconciler
	refundSvc    *RefundService
	cron         *CronService

	company *models.Company
	vehicle *models.Vehicle
	model   *models.VehicleModel
	staffID uuid.UUID
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEnv(t *testing.T, notifier *mockNotifier) *testEnv {
	t.Helper()
	if notifier == nil {
		notifier = (&mockNotifier{}).acceptAll()
	}

	env := &testEnv{
		now:       func() time.Time { return testNow },
		payments:  newMemPayments(),
		refunds:   &memRefunds{},
		customers: newMemCustomers(),
		catalog:   newMemCatalog(),
		tokens:    newMemTokens(),
		audit:     &memAudit{},
		events:    &recordingPublisher{},
		cache:     &memEventCache{},
		gateway:   newFakeGateway(),
		notifier:  notifier,
		metrics:   NewMetrics(),
		staffID:   uuid.New(),
	}
	env.bookings = newMemBookings(env.payments, env.now)

	account := "acct_test"
	env.company = &models.Company{
		ID:                    uuid.New(),
		Name:                  "Coastal Rentals",
		Currency:              "usd",
		TaxRate:               0.10,
		SecurityDepositAmount: 300,
		StripeAccountID:       &account,
		StripeChargesEnabled:  true,
	}
	env.model = &models.VehicleModel{ID: uuid.New(), CompanyID: env.company.ID, Make: "Toyota", Model: "Corolla", Year: 2024, DailyRate: 50}
	env.vehicle = &models.Vehicle{
		ID: uuid.New(), CompanyID: env.company.ID, ModelID: &env.model.ID,
		Make: "Toyota", Model: "Corolla", Year: 2024, LicensePlate: "CR-1001", DailyRate: 50, IsActive: true,
	}
	env.catalog.companies[env.company.ID] = env.company
	env.catalog.vehicleModels[env.model.ID] = env.model
	env.catalog.vehicles[env.vehicle.ID] = env.vehicle

	logger := quietLogger()
	env.orchestrator = NewPaymentOrchestrator(env.gateway, staticCredentials{}, env.audit, env.metrics, logger, 2, time.Millisecond)
	env.availability = NewAvailabilityService(env.bookings, env.catalog, logger)

	env.bookingSvc = NewBookingService(env.bookings, env.payments, env.customers, env.catalog, env.availability,
		env.orchestrator, env.notifier, env.events, env.audit, env.metrics, DefaultBookingServiceConfig(), logger)
	env.bookingSvc.config.BcryptCost = 4
	env.bookingSvc.now = env.now

	env.tokenSvc = NewBookingTokenService(env.tokens, env.bookings, env.payments, env.customers, env.catalog,
		env.bookingSvc, env.orchestrator, env.notifier, env.metrics, DefaultBookingTokenConfig(), logger)
	env.tokenSvc.now = env.now

	env.reconciler = NewWebhookReconciler(env.bookings, env.payments, env.refunds, env.catalog, env.audit,
		env.bookingSvc, env.cache, env.metrics, logger)
	env.reconciler.now = env.now

	env.refundSvc = NewRefundService(env.bookings, env.payments, env.refunds, env.bookingSvc,
		env.orchestrator, env.events, env.audit, env.metrics, logger)
	env.refundSvc.now = env.now

	env.cron = NewCronService(env.bookings, env.bookingSvc, env.metrics, DefaultCronConfig(), logger)
	return env
}

func (env *testEnv) issueToken(t *testing.T, pickup, ret string) *models.BookingToken {
	t.Helper()
	token, err := env.tokenSvc.IssueToken(context.Background(), env.company.ID, env.staffID, &models.IssueBookingTokenRequest{
		VehicleID:     env.vehicle.ID.String(),
		CustomerEmail: "Renter@Example.com",
		PickupDate:    pickup,
		ReturnDate:    ret,
	})
	require.NoError(t, err)
	return token
}

func exchangeRequest() *models.ExchangeBookingTokenRequest {
	return &models.ExchangeBookingTokenRequest{
		PaymentMethodID: "pm_card_visa",
		FirstName:       "Ana",
		LastName:        "Silva",
	}
}

// bookViaToken runs the customer flow and returns a confirmed booking
func (env *testEnv) bookViaToken(t *testing.T, pickup, ret string) *models.Booking {
	t.Helper()
	token := env.issueToken(t, pickup, ret)
	b, err := env.tokenSvc.ExchangeToken(context.Background(), token.Token, exchangeRequest())
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusConfirmed, b.Status)
	return b
}

func (env *testEnv) setStatus(t *testing.T, id uuid.UUID, status models.BookingStatus, damage *float64) *models.Booking {
	t.Helper()
	b, err := env.bookingSvc.UpdateStatus(context.Background(), env.company.ID, id, &models.UpdateBookingStatusRequest{
		Status:       string(status),
		DamageAmount: damage,
	})
	require.NoError(t, err)
	return b
}

func (env *testEnv) mustBooking(t *testing.T, id uuid.UUID) *models.Booking {
	t.Helper()
	b, err := env.bookings.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, b)
	return b
}

func floatPtr(v float64) *float64 { return &v }
