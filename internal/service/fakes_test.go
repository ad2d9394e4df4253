package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"booking-service/internal/gateway"
	"booking-service/internal/models"
	"booking-service/internal/pricing"
	"booking-service/internal/store"
)

// memStore is an in-memory ReservationStore with the same conditional-update
// semantics as the Postgres store
type memStore struct {
	mu           sync.Mutex
	seq          int64
	properties   map[string]models.Property
	reservations map[string]models.Reservation
	processed    map[string]bool

	confirmCalls  int
	beforeConfirm func(id string)
}

func newMemStore() *memStore {
	return &memStore{
		properties:   map[string]models.Property{},
		reservations: map[string]models.Reservation{},
		processed:    map[string]bool{},
	}
}

func (m *memStore) addProperty(p models.Property) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[p.ID] = p
}

func (m *memStore) UpsertProperty(_ context.Context, p *models.Property) error {
	m.addProperty(*p)
	return nil
}

func (m *memStore) put(r models.Reservation) models.Reservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.Seq = m.seq
	m.reservations[r.ID] = r
	return r
}

func (m *memStore) get(id string) (models.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	return r, ok
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

func (m *memStore) GetPropertyByID(_ context.Context, id string) (*models.Property, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.properties[id]
	if !ok {
		return nil, fmt.Errorf("property %s: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (m *memStore) CreateReservation(_ context.Context, r *models.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.Seq = m.seq
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.reservations[r.ID] = *r
	return nil
}

func (m *memStore) GetReservationByID(_ context.Context, id string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, store.ErrNotFound)
	}
	return &r, nil
}

func (m *memStore) GetReservationBySessionID(_ context.Context, sessionID string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reservations {
		if r.PaymentSessionID != nil && *r.PaymentSessionID == sessionID {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("reservation for session %s: %w", sessionID, store.ErrNotFound)
}

func (m *memStore) SetPaymentSession(_ context.Context, id, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return store.ErrNotFound
	}
	r.PaymentSessionID = &sessionID
	m.reservations[id] = r
	return nil
}

func (m *memStore) FindOverlapping(_ context.Context, propertyID string, checkIn, checkOut time.Time, statuses []string) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Reservation
	for _, r := range m.reservations {
		if r.PropertyID == propertyID && overlaps(r, checkIn, checkOut) && contains(statuses, r.Status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memStore) ConfirmReservation(_ context.Context, id string, payment models.ConfirmPayment) (*models.Reservation, error) {
	if m.beforeConfirm != nil {
		m.beforeConfirm(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmCalls++

	r, ok := m.reservations[id]
	if !ok || r.Status != models.ReservationStatusPendingPayment {
		return nil, store.ErrStatusChanged
	}
	for _, other := range m.reservations {
		if other.ID != id && other.PropertyID == r.PropertyID &&
			other.Status == models.ReservationStatusConfirmed && overlaps(other, r.CheckIn, r.CheckOut) {
			return nil, store.ErrOverlap
		}
	}

	if payment.PaymentIntentID == "" {
		return nil, fmt.Errorf("reservation %s: confirmed payment needs a payment intent", id)
	}

	r.Status = models.ReservationStatusConfirmed
	r.PaymentConfirmed = true
	intent := payment.PaymentIntentID
	r.PaymentIntentID = &intent
	completed := payment.CompletedAt
	r.PaymentCompletedAt = &completed
	r.ExpiresAt = nil
	m.reservations[id] = r
	return &r, nil
}

func (m *memStore) CancelReservation(_ context.Context, id string, from []string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || !contains(from, r.Status) {
		return nil, store.ErrStatusChanged
	}
	r.Status = models.ReservationStatusCancelled
	r.ExpiresAt = nil
	m.reservations[id] = r
	return &r, nil
}

func (m *memStore) deleteWhere(match func(r models.Reservation) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.reservations {
		if match(r) {
			delete(m.reservations, id)
			n++
		}
	}
	return n
}

func (m *memStore) DeletePendingByID(_ context.Context, id string) (int64, error) {
	return m.deleteWhere(func(r models.Reservation) bool {
		return r.ID == id && r.Status == models.ReservationStatusPendingPayment
	}), nil
}

func (m *memStore) DeletePendingBySession(_ context.Context, sessionID string) (int64, error) {
	return m.deleteWhere(func(r models.Reservation) bool {
		return r.PaymentSessionID != nil && *r.PaymentSessionID == sessionID &&
			r.Status == models.ReservationStatusPendingPayment
	}), nil
}

func (m *memStore) DeletePendingForGuestProperty(_ context.Context, guestID, propertyID string) (int64, error) {
	return m.deleteWhere(func(r models.Reservation) bool {
		return r.GuestID == guestID && r.PropertyID == propertyID &&
			r.Status == models.ReservationStatusPendingPayment
	}), nil
}

func (m *memStore) DeleteExpiredPending(_ context.Context, now time.Time) (int64, error) {
	return m.deleteWhere(func(r models.Reservation) bool {
		return r.IsExpired(now)
	}), nil
}

func (m *memStore) CompletePastStays(_ context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.reservations {
		if r.Status == models.ReservationStatusConfirmed && !r.CheckOut.After(today) {
			r.Status = models.ReservationStatusCompleted
			m.reservations[id] = r
			n++
		}
	}
	return n, nil
}

func (m *memStore) list(now time.Time, match func(r models.Reservation) bool) []models.Reservation {
	out := []models.Reservation{}
	for _, r := range m.reservations {
		if match(r) && !r.IsExpired(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.After(out[j].CheckIn) })
	return out
}

func (m *memStore) ListByGuest(_ context.Context, guestID string, now time.Time) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(now, func(r models.Reservation) bool { return r.GuestID == guestID }), nil
}

func (m *memStore) ListByHost(_ context.Context, hostID string, now time.Time) ([]models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(now, func(r models.Reservation) bool {
		return m.properties[r.PropertyID].HostID == hostID
	}), nil
}

func (m *memStore) DeletePropertyCascade(_ context.Context, propertyID string) (int64, error) {
	n := m.deleteWhere(func(r models.Reservation) bool { return r.PropertyID == propertyID })
	m.mu.Lock()
	delete(m.properties, propertyID)
	m.mu.Unlock()
	return n, nil
}

func (m *memStore) DeleteGuestCascade(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	hosted := map[string]bool{}
	for id, p := range m.properties {
		if p.HostID == userID {
			hosted[id] = true
			delete(m.properties, id)
		}
	}
	m.mu.Unlock()

	return m.deleteWhere(func(r models.Reservation) bool {
		return r.GuestID == userID || hosted[r.PropertyID]
	}), nil
}

func (m *memStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[eventID], nil
}

func (m *memStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = true
	return nil
}

// overlaps is the half-open [checkIn, checkOut) test the SQL query applies
func overlaps(r models.Reservation, checkIn, checkOut time.Time) bool {
	return r.CheckIn.Before(checkOut) && r.CheckOut.After(checkIn)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fakeGateway records calls and serves configured session states
type fakeGateway struct {
	mu        sync.Mutex
	next      int
	createErr error
	getErr    error
	sessions  map[string]*gateway.SessionInfo
	events    map[string]*gateway.Event
	getCalls  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		sessions: map[string]*gateway.SessionInfo{},
		events:   map[string]*gateway.Event{},
	}
}

func (g *fakeGateway) CreateSession(_ context.Context, reservationID string, _ int64, _ string) (*gateway.CreatedSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.next++
	id := fmt.Sprintf("cs_%d", g.next)
	g.sessions[id] = &gateway.SessionInfo{
		ID:            id,
		Status:        gateway.SessionStatusOpen,
		PaymentStatus: gateway.PaymentStatusUnpaid,
		ReservationID: reservationID,
	}
	return &gateway.CreatedSession{SessionID: id, ClientSecret: id + "_secret"}, nil
}

func (g *fakeGateway) pay(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.sessions[sessionID]
	if s == nil {
		s = &gateway.SessionInfo{ID: sessionID}
		g.sessions[sessionID] = s
	}
	s.Status = gateway.SessionStatusComplete
	s.PaymentStatus = gateway.PaymentStatusPaid
	s.PaymentIntentID = "pi_" + sessionID
}

func (g *fakeGateway) clearPaymentIntent(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionID].PaymentIntentID = ""
}

func (g *fakeGateway) GetSession(_ context.Context, sessionID string) (*gateway.SessionInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.getErr != nil {
		return nil, g.getErr
	}
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, gateway.ErrRejected
	}
	copied := *s
	return &copied, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*gateway.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if signature != "valid" {
		return nil, gateway.ErrInvalidSignature
	}
	evt, ok := g.events[string(payload)]
	if !ok {
		return nil, gateway.ErrMalformedEvent
	}
	copied := *evt
	return &copied, nil
}

// fakePublisher collects published events
type fakePublisher struct {
	mu        sync.Mutex
	confirmed []*models.BookingConfirmedEvent
	cancelled []*models.BookingCancelledEvent
	refunds   []*models.RefundRequiredEvent
	err       error
}

func (p *fakePublisher) PublishBookingConfirmed(_ context.Context, e *models.BookingConfirmedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.confirmed = append(p.confirmed, e)
	return p.err
}

func (p *fakePublisher) PublishBookingCancelled(_ context.Context, e *models.BookingCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, e)
	return p.err
}

func (p *fakePublisher) PublishRefundRequired(_ context.Context, e *models.RefundRequiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, e)
	return p.err
}

// fakeCache is an in-memory IdempotencyCache and EventClaimer
type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	events map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}, events: map[string]string{}}
}

func (c *fakeCache) GetIdempotencyKey(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *fakeCache) SetIdempotencyKey(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = fmt.Sprint(value)
	return nil
}

func (c *fakeCache) ClaimEvent(_ context.Context, eventID string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[eventID]; ok {
		return false, nil
	}
	c.events[eventID] = "in_flight"
	return true, nil
}

func (c *fakeCache) CompleteEvent(_ context.Context, eventID string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[eventID] = "done"
	return nil
}

func (c *fakeCache) ReleaseEvent(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, eventID)
	return nil
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store     *memStore
	gateway   *fakeGateway
	publisher *fakePublisher
	clock     *clock
	svc       *ReservationService
}

const (
	testProperty = "prop-1"
	testHost     = "host-1"
)

func newFixture() *fixture {
	st := newMemStore()
	st.addProperty(models.Property{ID: testProperty, HostID: testHost, Name: "Lake Cabin", NightlyRate: 10000})

	gw := newFakeGateway()
	pub := &fakePublisher{}
	clk := &clock{now: time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)}

	svc := NewReservationService(st, gw, pub, pricing.NewCalculator(1000, 3000, 1000), DefaultHoldDuration).
		WithClock(clk.Now)

	return &fixture{store: st, gateway: gw, publisher: pub, clock: clk, svc: svc}
}

func (f *fixture) insertPending(guestID, in, out string) models.Reservation {
	checkIn, _ := time.Parse(dateLayout, in)
	checkOut, _ := time.Parse(dateLayout, out)
	expires := f.clock.Now().Add(DefaultHoldDuration)
	session := "cs_manual_" + guestID + in
	f.gateway.mu.Lock()
	f.gateway.sessions[session] = &gateway.SessionInfo{ID: session, Status: gateway.SessionStatusOpen}
	f.gateway.mu.Unlock()
	return f.store.put(models.Reservation{
		ID:               "res-" + guestID + "-" + in,
		GuestID:          guestID,
		PropertyID:       testProperty,
		CheckIn:          checkIn,
		CheckOut:         checkOut,
		Status:           models.ReservationStatusPendingPayment,
		ExpiresAt:        &expires,
		PaymentSessionID: &session,
		OrderTotal:       37000,
	})
}
