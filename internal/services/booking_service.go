// Package services – BookingService
//
// BookingService owns the lifecycle of booking sessions. A session binds one
// BookingOrchestrator, one PaymentCoordinator and one SessionTimer to a
// draft id and a user. Every state change is persisted so an interrupted
// session can be resumed until its timer runs out; nothing outlives the
// timer.
//
// The timer bounds the draft from creation to submission. Once the
// itinerary is created the window restarts to bound the payment handoff, so
// a session is always evicted even when the user never returns from the
// gateway.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-stay-booking/internal/clock"
	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/flow"
	"github.com/tbourn/go-stay-booking/internal/observability"
)

// BookingRepo defines the persistence contract required by BookingService.
type BookingRepo interface {
	// SaveBookingSession inserts or replaces a session row.
	SaveBookingSession(ctx context.Context, db *gorm.DB, rec *domain.BookingSessionRecord) error

	// GetBookingSession returns a live session owned by userID.
	GetBookingSession(ctx context.Context, db *gorm.DB, id, userID string, now time.Time) (*domain.BookingSessionRecord, error)

	// GetBookingSessionByTransaction returns the live session whose itinerary
	// carries transactionID.
	GetBookingSessionByTransaction(ctx context.Context, db *gorm.DB, transactionID string, now time.Time) (*domain.BookingSessionRecord, error)

	// DeleteBookingSession removes a session row.
	DeleteBookingSession(ctx context.Context, db *gorm.DB, id, userID string) error

	// PurgeExpiredBookingSessions removes rows expired at now.
	PurgeExpiredBookingSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

	// ListBookingSessions returns the live sessions of userID, newest first.
	ListBookingSessions(ctx context.Context, db *gorm.DB, userID string, now time.Time) ([]domain.BookingSessionRecord, error)

	// BookingSessionsStats returns the live session count and latest update of userID.
	BookingSessionsStats(ctx context.Context, db *gorm.DB, userID string, now time.Time) (int64, *time.Time, error)
}

// BookingSummary describes a resumable session without restoring it.
type BookingSummary struct {
	ID         string            `json:"id"`
	State      domain.DraftState `json:"state"`
	HotelID    string            `json:"hotelId"`
	HotelName  string            `json:"hotelName,omitempty"`
	TotalPrice float64           `json:"totalPrice"`
	Currency   string            `json:"currency,omitempty"`
	StartedAt  time.Time         `json:"startedAt"`
	ExpiresAt  time.Time         `json:"expiresAt"`
}

// BookingView is a point-in-time copy of a booking session.
type BookingView struct {
	Draft     domain.BookingDraft    `json:"draft"`
	Itinerary *domain.Itinerary      `json:"itinerary,omitempty"`
	Payment   *domain.PaymentSession `json:"payment,omitempty"`
	Timer     domain.TimerState      `json:"timer"`
}

type bookingSession struct {
	mu      sync.Mutex
	id      string
	userID  string
	orch    *BookingOrchestrator
	pay     *PaymentCoordinator
	timer   *SessionTimer
	expired bool
	unsubs  []func()
}

func (b *bookingSession) ident() (id, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.id, b.userID
}

// BookingService is safe for concurrent use.
type BookingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo persists resumable sessions.
	Repo BookingRepo

	Itineraries ItineraryAPI
	Payments    PaymentAPI
	Clock       clock.Clock

	// SessionMax is the booking session window; <= 0 means 15 minutes.
	SessionMax         time.Duration
	ReturnBaseURL      string
	DefaultNationality string

	// NewID returns draft ids; nil uses uuid.NewString.
	NewID func() string

	mu       sync.Mutex
	sessions map[string]*bookingSession
}

// NewBookingService wires a service with the real clock.
func NewBookingService(db *gorm.DB, r BookingRepo, itin ItineraryAPI, pay PaymentAPI) *BookingService {
	return &BookingService{
		DB:          db,
		Repo:        r,
		Itineraries: itin,
		Payments:    pay,
		Clock:       clock.Real{},
		SessionMax:  15 * time.Minute,
		sessions:    make(map[string]*bookingSession),
	}
}

func (s *BookingService) clock() clock.Clock {
	if s.Clock == nil {
		return clock.Real{}
	}
	return s.Clock
}

func (s *BookingService) sessionMax() time.Duration {
	if s.SessionMax <= 0 {
		return 15 * time.Minute
	}
	return s.SessionMax
}

func (s *BookingService) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

// Create opens a booking session for d and starts its timer. The offer
// identity (search, hotel, provider, recommendation) must be present.
func (s *BookingService) Create(ctx context.Context, userID string, d domain.BookingDraft) (*BookingView, error) {
	tr := otel.Tracer("services/BookingService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("search.id", d.SearchID),
			attribute.String("hotel.id", d.Hotel.HotelID),
		),
	)
	defer span.End()

	if err := domain.NewValidationError(missingOfferFields(OfferKey{
		SearchID:         d.SearchID,
		HotelID:          d.Hotel.HotelID,
		ProviderName:     d.Hotel.ProviderName,
		RecommendationID: d.Room.RecommendationID,
	})...); err != nil {
		return nil, err
	}

	now := s.clock().Now().UTC()
	d.ID = s.newID()
	d.UserID = userID
	d.CreatedAt = now
	span.SetAttributes(attribute.String("draft.id", d.ID))

	sess, _ := s.attach(NewBookingOrchestrator(s.Itineraries, d), nil, userID, now, s.sessionMax())
	if err := s.persist(ctx, sess); err != nil {
		s.detach(sess)
		return nil, err
	}
	log.Info().Str("draft_id", d.ID).Str("user_id", userID).Dur("window", s.sessionMax()).Msg("booking session opened")
	return s.view(sess), nil
}

// attach registers a session built around orch, wires its observers and
// starts its timer over the window [startedAt, startedAt+window). When a
// session with the same draft id is already registered, that one is
// returned unchanged and ok is false.
func (s *BookingService) attach(orch *BookingOrchestrator, pay *PaymentCoordinator, userID string, startedAt time.Time, window time.Duration) (sess *bookingSession, ok bool) {
	id := orch.Draft().ID
	s.mu.Lock()
	if cur, found := s.sessions[id]; found {
		s.mu.Unlock()
		return cur, false
	}
	if pay == nil {
		pay = NewPaymentCoordinator(s.Payments, s.ReturnBaseURL, s.DefaultNationality)
	}
	sess = &bookingSession{id: id, userID: userID, orch: orch, pay: pay}
	sess.timer = NewSessionTimer(s.clock(), func() { s.expire(sess) })
	if s.sessions == nil {
		s.sessions = make(map[string]*bookingSession)
	}
	s.sessions[id] = sess
	n := len(s.sessions)
	s.observe(sess)
	s.mu.Unlock()

	sess.timer.Resume(startedAt, window)
	observability.ActiveBookingSessions.Set(float64(n))
	return sess, true
}

// observe persists every orchestrator and payment transition.
func (s *BookingService) observe(sess *bookingSession) {
	save := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.persist(ctx, sess); err != nil {
			id, _ := sess.ident()
			log.Warn().Err(err).Str("draft_id", id).Msg("booking session save failed")
		}
	}
	u1 := sess.orch.Subscribe(func(flow.Change[domain.DraftState, string]) { save() })
	u2 := sess.pay.Subscribe(func(flow.Change[domain.PaymentState, string]) { save() })
	sess.mu.Lock()
	sess.unsubs = append(sess.unsubs, u1, u2)
	sess.mu.Unlock()
}

func (s *BookingService) detach(sess *bookingSession) {
	sess.timer.Cancel()
	sess.mu.Lock()
	for _, u := range sess.unsubs {
		u()
	}
	sess.unsubs = nil
	id := sess.id
	sess.mu.Unlock()

	s.mu.Lock()
	if cur, ok := s.sessions[id]; ok && cur == sess {
		delete(s.sessions, id)
	}
	n := len(s.sessions)
	s.mu.Unlock()
	observability.ActiveBookingSessions.Set(float64(n))
}

func (s *BookingService) persist(ctx context.Context, sess *bookingSession) error {
	if s.DB == nil || s.Repo == nil {
		return nil
	}
	sess.mu.Lock()
	orch, pay, timer, userID := sess.orch, sess.pay, sess.timer, sess.userID
	sess.mu.Unlock()

	d := orch.Draft()
	rec := &domain.BookingSessionRecord{ID: d.ID, UserID: userID, State: string(d.State)}
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	rec.Draft = string(raw)
	if it := orch.Itinerary(); it != nil {
		raw, _ := json.Marshal(it)
		rec.Itinerary = string(raw)
		rec.TransactionID = it.TransactionID
	}
	if ps := pay.Session(); ps != nil {
		raw, _ := json.Marshal(ps)
		rec.Payment = string(raw)
	}
	st := timer.State()
	rec.StartedAt = st.StartedAt
	rec.ExpiresAt = st.StartedAt.Add(st.MaxDuration)
	return s.Repo.SaveBookingSession(ctx, s.DB, rec)
}

// restore rebuilds the caller's session id from its persisted row.
func (s *BookingService) restore(ctx context.Context, userID, id string) (*bookingSession, error) {
	if s.DB == nil || s.Repo == nil {
		return nil, ErrDraftNotFound
	}
	rec, err := s.Repo.GetBookingSession(ctx, s.DB, id, userID, s.clock().Now().UTC())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, rec)
}

// restoreByTransaction rebuilds the session whose itinerary carries
// transactionID.
func (s *BookingService) restoreByTransaction(ctx context.Context, transactionID string) (*bookingSession, error) {
	if s.DB == nil || s.Repo == nil {
		return nil, ErrDraftNotFound
	}
	rec, err := s.Repo.GetBookingSessionByTransaction(ctx, s.DB, transactionID, s.clock().Now().UTC())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDraftNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, rec)
}

// resume registers the session stored in rec, or returns the one already
// held in memory for the same draft.
func (s *BookingService) resume(ctx context.Context, rec *domain.BookingSessionRecord) (*bookingSession, error) {
	id := rec.ID
	var d domain.BookingDraft
	if err := json.Unmarshal([]byte(rec.Draft), &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", id, err)
	}
	d.ID = id
	d.State = domain.DraftState(rec.State)
	var itin *domain.Itinerary
	if rec.Itinerary != "" {
		itin = new(domain.Itinerary)
		if err := json.Unmarshal([]byte(rec.Itinerary), itin); err != nil {
			return nil, fmt.Errorf("decode itinerary %s: %w", id, err)
		}
	}
	var ps *domain.PaymentSession
	if rec.Payment != "" {
		ps = new(domain.PaymentSession)
		if err := json.Unmarshal([]byte(rec.Payment), ps); err != nil {
			return nil, fmt.Errorf("decode payment %s: %w", id, err)
		}
	}

	orch := RestoreBookingOrchestrator(s.Itineraries, d, itin)
	pay := RestorePaymentCoordinator(s.Payments, s.ReturnBaseURL, s.DefaultNationality, ps)
	sess, fresh := s.attach(orch, pay, rec.UserID, rec.StartedAt, rec.ExpiresAt.Sub(rec.StartedAt))
	if !fresh {
		return sess, nil
	}
	log.Info().Str("draft_id", id).Str("state", string(orch.State())).Msg("booking session resumed")
	if orch.State() != d.State {
		_ = s.persist(ctx, sess)
	}
	return sess, nil
}

// live returns the caller's session, resuming it from storage when it is not
// held in memory.
func (s *BookingService) live(ctx context.Context, userID, id string) (*bookingSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		var err error
		if sess, err = s.restore(ctx, userID, id); err != nil {
			return nil, err
		}
	}
	sid, owner := sess.ident()
	if owner != userID || sid != id {
		return nil, ErrDraftNotFound
	}
	if sess.timer.Expired() {
		s.expire(sess)
	}
	sess.mu.Lock()
	expired := sess.expired
	sess.mu.Unlock()
	if expired {
		return nil, ErrDraftExpired
	}
	return sess, nil
}

// expire runs once per session when its timer fires. The session stays
// registered as expired until Sweep or Abandon so callers get
// ErrDraftExpired instead of ErrDraftNotFound.
func (s *BookingService) expire(sess *bookingSession) {
	sess.mu.Lock()
	if sess.expired {
		sess.mu.Unlock()
		return
	}
	sess.expired = true
	id, userID := sess.id, sess.userID
	sess.mu.Unlock()
	sess.timer.Cancel()

	observability.BookingSessionsEnded.WithLabelValues("expired").Inc()
	log.Info().Str("draft_id", id).Msg("booking session expired")

	if s.DB != nil && s.Repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Repo.DeleteBookingSession(ctx, s.DB, id, userID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Err(err).Str("draft_id", id).Msg("expired booking session cleanup failed")
		}
	}
}

func (s *BookingService) view(sess *bookingSession) *BookingView {
	sess.mu.Lock()
	orch, pay, timer := sess.orch, sess.pay, sess.timer
	sess.mu.Unlock()
	return &BookingView{
		Draft:     orch.Draft(),
		Itinerary: orch.Itinerary(),
		Payment:   pay.Session(),
		Timer:     timer.State(),
	}
}

// Get returns the caller's booking session.
func (s *BookingService) Get(ctx context.Context, userID, id string) (*BookingView, error) {
	sess, err := s.live(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// Update applies a wizard step to the draft. Only a DRAFT may change.
func (s *BookingService) Update(ctx context.Context, userID, id string, fn func(d *domain.BookingDraft)) (*BookingView, error) {
	sess, err := s.live(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := sess.orch.Update(fn); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, sess); err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// UpdateGuest replaces the lead guest and, when given, the payment details.
func (s *BookingService) UpdateGuest(ctx context.Context, userID, id string, g domain.GuestInfo, p *domain.PaymentInfo) (*BookingView, error) {
	g.Title = strings.TrimSpace(g.Title)
	g.FirstName = strings.TrimSpace(g.FirstName)
	g.LastName = strings.TrimSpace(g.LastName)
	g.Email = strings.TrimSpace(g.Email)
	g.Phone = strings.TrimSpace(g.Phone)
	return s.Update(ctx, userID, id, func(d *domain.BookingDraft) {
		d.Guest = g
		if p != nil {
			d.Payment = *p
		}
	})
}

// Submit creates the itinerary of the draft. On success the session window
// restarts to bound the payment handoff.
func (s *BookingService) Submit(ctx context.Context, userID, id string) (*BookingView, error) {
	sess, err := s.live(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if _, err := sess.orch.Submit(ctx); err != nil {
		return nil, err
	}
	sess.timer.Reset()
	if err := s.persist(ctx, sess); err != nil {
		log.Warn().Err(err).Str("draft_id", id).Msg("booking session save failed")
	}
	return s.view(sess), nil
}

// Revise turns a FAILED draft into a fresh DRAFT with the same inputs under
// a new id. The session timer keeps its original start.
func (s *BookingService) Revise(ctx context.Context, userID, id string) (*BookingView, error) {
	sess, err := s.live(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	next, err := sess.orch.Revise(s.newID)
	if err != nil {
		return nil, err
	}
	newID := next.Draft().ID

	s.detach(sess)
	if s.DB != nil && s.Repo != nil {
		if err := s.Repo.DeleteBookingSession(ctx, s.DB, id, userID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn().Err(err).Str("draft_id", id).Msg("revised booking session cleanup failed")
		}
	}
	observability.BookingSessionsEnded.WithLabelValues("revised").Inc()

	st := sess.timer.State()
	ns, _ := s.attach(next, nil, userID, st.StartedAt, st.MaxDuration)
	if err := s.persist(ctx, ns); err != nil {
		s.detach(ns)
		return nil, err
	}
	log.Info().Str("draft_id", id).Str("revised_id", newID).Msg("booking draft revised")
	return s.view(ns), nil
}

// InitiatePayment hands the created itinerary to the payment gateway. A nil
// payer uses the payment details stored on the draft, falling back to the
// guest's nationality.
func (s *BookingService) InitiatePayment(ctx context.Context, userID, id string, payer *domain.PaymentInfo) (*domain.PaymentSession, error) {
	sess, err := s.live(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	d := sess.orch.Draft()
	p := d.Payment
	if payer != nil {
		p = *payer
	}
	if p.Nationality == "" {
		p.Nationality = d.Guest.Nationality
	}
	return sess.pay.Initiate(ctx, sess.orch.State(), sess.orch.Itinerary(), p)
}

// CompletePayment records the gateway verdict for transactionID. It is
// called from the unauthenticated gateway return, so the transaction id is
// the only correlation key. A session not held in memory is resumed from
// storage first.
func (s *BookingService) CompletePayment(ctx context.Context, transactionID string, status domain.PaymentStatus) (*domain.PaymentSession, error) {
	_, span := otel.Tracer("services/BookingService").Start(ctx, "CompletePayment",
		trace.WithAttributes(attribute.String("transaction.id", transactionID)),
	)
	defer span.End()

	if strings.TrimSpace(transactionID) == "" {
		return nil, domain.NewValidationError("transactionId")
	}
	s.mu.Lock()
	var found *bookingSession
	for _, sess := range s.sessions {
		if it := sess.orch.Itinerary(); it != nil && it.TransactionID == transactionID {
			found = sess
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		var err error
		if found, err = s.restoreByTransaction(ctx, transactionID); err != nil {
			return nil, err
		}
	}
	ps, err := found.pay.Complete(status)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, found); err != nil {
		log.Warn().Err(err).Str("transaction_id", transactionID).Msg("booking session save failed")
	}
	log.Info().Str("transaction_id", transactionID).Str("status", string(status)).Msg("payment return recorded")
	return ps, nil
}

// Abandon tears the session down: its timer is cancelled and its row
// removed.
func (s *BookingService) Abandon(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		if _, owner := sess.ident(); owner != userID {
			return ErrDraftNotFound
		}
		s.detach(sess)
	}
	if s.DB != nil && s.Repo != nil {
		err := s.Repo.DeleteBookingSession(ctx, s.DB, id, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if !ok {
				return ErrDraftNotFound
			}
		} else if err != nil {
			return err
		}
	} else if !ok {
		return ErrDraftNotFound
	}
	observability.BookingSessionsEnded.WithLabelValues("abandoned").Inc()
	log.Info().Str("draft_id", id).Msg("booking session abandoned")
	return nil
}

// List returns the caller's resumable sessions, newest first. Rows whose
// draft cannot be decoded are skipped.
func (s *BookingService) List(ctx context.Context, userID string) ([]BookingSummary, error) {
	if s.DB == nil || s.Repo == nil {
		return nil, nil
	}
	recs, err := s.Repo.ListBookingSessions(ctx, s.DB, userID, s.clock().Now().UTC())
	if err != nil {
		return nil, err
	}
	out := make([]BookingSummary, 0, len(recs))
	for _, rec := range recs {
		var d domain.BookingDraft
		if err := json.Unmarshal([]byte(rec.Draft), &d); err != nil {
			log.Warn().Err(err).Str("draft_id", rec.ID).Msg("skipping undecodable booking session")
			continue
		}
		out = append(out, BookingSummary{
			ID:         rec.ID,
			State:      domain.DraftState(rec.State),
			HotelID:    d.Hotel.HotelID,
			HotelName:  d.Hotel.Name,
			TotalPrice: d.TotalPrice,
			Currency:   d.Currency,
			StartedAt:  rec.StartedAt,
			ExpiresAt:  rec.ExpiresAt,
		})
	}
	return out, nil
}

// Version returns the live session count of userID and the latest update
// time, for conditional responses.
func (s *BookingService) Version(ctx context.Context, userID string) (int64, *time.Time, error) {
	if s.DB == nil || s.Repo == nil {
		return 0, nil, nil
	}
	return s.Repo.BookingSessionsStats(ctx, s.DB, userID, s.clock().Now().UTC())
}

// Sweep forgets expired sessions and purges expired rows.
func (s *BookingService) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	var dead []*bookingSession
	for _, sess := range s.sessions {
		sess.mu.Lock()
		if sess.expired {
			dead = append(dead, sess)
		}
		sess.mu.Unlock()
	}
	s.mu.Unlock()
	for _, sess := range dead {
		s.detach(sess)
	}
	if s.DB == nil || s.Repo == nil {
		return len(dead), nil
	}
	n, err := s.Repo.PurgeExpiredBookingSessions(ctx, s.DB, s.clock().Now().UTC())
	return len(dead) + int(n), err
}

// Shutdown stops every timer. Persisted sessions stay resumable.
func (s *BookingService) Shutdown() {
	s.mu.Lock()
	all := make([]*bookingSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.Unlock()
	for _, sess := range all {
		s.detach(sess)
	}
}

// Len returns the number of sessions held in memory.
func (s *BookingService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
