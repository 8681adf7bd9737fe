// Package services – BookingOrchestrator
//
// BookingOrchestrator owns one booking draft and its submission state
// machine:
//
//	DRAFT --submit--> SUBMITTING --accept--> CREATED
//	                             --reject--> FAILED
//
// SUBMITTING is entered at most once per draft, so a repeated submit is a
// local StateError and never reaches the network. A FAILED draft is retried
// through Revise, which yields a fresh draft with the same inputs.
package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-stay-booking/internal/domain"
	"github.com/tbourn/go-stay-booking/internal/flow"
	"github.com/tbourn/go-stay-booking/internal/observability"
	"github.com/tbourn/go-stay-booking/internal/upstream"
)

// Booking events.
const (
	evSubmit = "submit"
	evAccept = "accept"
	evReject = "reject"
)

func newDraftMachine(initial domain.DraftState) *flow.Machine[domain.DraftState, string] {
	type r = flow.Rule[domain.DraftState, string]
	return flow.New(initial,
		r{From: domain.DraftOpen, Event: evSubmit, To: domain.DraftSubmitting},
		r{From: domain.DraftSubmitting, Event: evAccept, To: domain.DraftCreated},
		r{From: domain.DraftSubmitting, Event: evReject, To: domain.DraftFailed},
	)
}

// ValidateDraft lists every field that prevents submission.
func ValidateDraft(d domain.BookingDraft) error {
	var missing []string
	req := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	req(d.SearchID, "searchId")
	req(d.Hotel.HotelID, "hotelId")
	req(d.Hotel.ProviderName, "providerName")
	req(d.Room.RecommendationID, "recommendationId")
	req(d.PriceID, "priceId")
	req(d.Guest.FirstName, "guest.firstName")
	req(d.Guest.LastName, "guest.lastName")
	req(d.Guest.Email, "guest.email")
	req(d.Guest.Phone, "guest.phone")
	if len(d.Occupancies) == 0 || d.Occupancies[0].Adults < 1 {
		missing = append(missing, "occupancies")
	}
	return domain.NewValidationError(missing...)
}

// BuildPayload expands the draft into the itinerary/create body. Each
// occupancy yields its adult records followed by its child records; only the
// first adult of the first occupancy carries the contact fields.
func BuildPayload(d domain.BookingDraft) upstream.ItineraryPayload {
	p := upstream.ItineraryPayload{
		SearchID:         d.SearchID,
		HotelID:          d.Hotel.HotelID,
		ProviderName:     d.Hotel.ProviderName,
		RecommendationID: d.Room.RecommendationID,
		PriceID:          d.PriceID,
		CheckIn:          d.Stay.CheckIn,
		CheckOut:         d.Stay.CheckOut,
		Nationality:      d.Guest.Nationality,
		Rooms:            len(d.Occupancies),
	}
	for i, occ := range d.Occupancies {
		room := i + 1
		for a := 0; a < occ.Adults; a++ {
			g := upstream.Guest{Room: room, PaxType: upstream.PaxAdult}
			if i == 0 && a == 0 {
				g.Lead = true
				g.Title = d.Guest.Title
				g.FirstName = d.Guest.FirstName
				g.LastName = d.Guest.LastName
				g.Email = d.Guest.Email
				g.Mobile = d.Guest.Phone
			}
			p.Guests = append(p.Guests, g)
		}
		for c := 0; c < occ.Children; c++ {
			g := upstream.Guest{Room: room, PaxType: upstream.PaxChild}
			if c < len(occ.ChildAges) {
				g.Age = occ.ChildAges[c]
			}
			p.Guests = append(p.Guests, g)
		}
	}
	return p
}

// BookingOrchestrator is safe for concurrent use.
type BookingOrchestrator struct {
	API ItineraryAPI

	mu        sync.Mutex
	draft     domain.BookingDraft
	itinerary *domain.Itinerary
	machine   *flow.Machine[domain.DraftState, string]
}

// NewBookingOrchestrator starts d in DRAFT.
func NewBookingOrchestrator(api ItineraryAPI, d domain.BookingDraft) *BookingOrchestrator {
	d.State = domain.DraftOpen
	return newOrchestrator(api, d, nil)
}

// RestoreBookingOrchestrator rebuilds an orchestrator from a persisted
// draft. A draft persisted mid-submit cannot know its outcome and comes back
// FAILED so it can only be revised.
func RestoreBookingOrchestrator(api ItineraryAPI, d domain.BookingDraft, itin *domain.Itinerary) *BookingOrchestrator {
	switch {
	case d.State == domain.DraftSubmitting:
		d.State = domain.DraftFailed
	case d.State == domain.DraftCreated && itin == nil:
		d.State = domain.DraftFailed
	case d.State == "":
		d.State = domain.DraftOpen
	}
	return newOrchestrator(api, d, itin)
}

func newOrchestrator(api ItineraryAPI, d domain.BookingDraft, itin *domain.Itinerary) *BookingOrchestrator {
	o := &BookingOrchestrator{API: api, draft: d, itinerary: itin, machine: newDraftMachine(d.State)}
	o.machine.Subscribe(func(c flow.Change[domain.DraftState, string]) {
		o.mu.Lock()
		o.draft.State = c.To
		o.mu.Unlock()
	})
	return o
}

// Subscribe registers fn for every state change.
func (o *BookingOrchestrator) Subscribe(fn func(flow.Change[domain.DraftState, string])) func() {
	return o.machine.Subscribe(fn)
}

// State returns the current state.
func (o *BookingOrchestrator) State() domain.DraftState { return o.machine.State() }

// Draft returns a copy of the draft.
func (o *BookingOrchestrator) Draft() domain.BookingDraft {
	o.mu.Lock()
	defer o.mu.Unlock()
	d := o.draft
	d.Occupancies = cloneOccupancies(d.Occupancies)
	return d
}

// Itinerary returns the created itinerary, or nil.
func (o *BookingOrchestrator) Itinerary() *domain.Itinerary {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.itinerary == nil {
		return nil
	}
	it := *o.itinerary
	return &it
}

// Update edits the draft. Only a DRAFT may change.
func (o *BookingOrchestrator) Update(fn func(d *domain.BookingDraft)) error {
	if st := o.State(); st != domain.DraftOpen {
		return &domain.StateError{From: string(st), Event: "update"}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	id, state, created := o.draft.ID, o.draft.State, o.draft.CreatedAt
	fn(&o.draft)
	o.draft.ID, o.draft.State, o.draft.CreatedAt = id, state, created
	return nil
}

// Submit validates the draft and creates the itinerary. Validation failures
// leave the draft in DRAFT; any upstream or network failure moves it to
// FAILED.
func (o *BookingOrchestrator) Submit(ctx context.Context) (*domain.Itinerary, error) {
	d := o.Draft()
	tr := otel.Tracer("services/BookingOrchestrator")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("draft.id", d.ID),
			attribute.String("hotel.id", d.Hotel.HotelID),
		),
	)
	defer span.End()

	if o.State() != domain.DraftOpen {
		return nil, &domain.StateError{From: string(o.State()), Event: evSubmit}
	}
	if err := ValidateDraft(d); err != nil {
		return nil, err
	}
	if _, err := o.machine.Fire(evSubmit); err != nil {
		return nil, err
	}

	started := time.Now()
	itin, err := o.API.CreateItinerary(ctx, BuildPayload(d))
	logger := log.With().Str("draft_id", d.ID).Dur("took", time.Since(started)).Logger()
	if err != nil {
		_, _ = o.machine.Fire(evReject)
		observability.BookingSubmissions.WithLabelValues(string(domain.DraftFailed)).Inc()
		logger.Warn().Err(err).Msg("itinerary rejected")
		return nil, err
	}

	o.mu.Lock()
	cp := *itin
	o.itinerary = &cp
	o.mu.Unlock()
	_, _ = o.machine.Fire(evAccept)
	observability.BookingSubmissions.WithLabelValues(string(domain.DraftCreated)).Inc()
	logger.Info().Str("transaction_id", itin.TransactionID).Msg("itinerary created")
	return itin, nil
}

// Revise returns a fresh DRAFT orchestrator with the same inputs under an id
// from newID. Only a FAILED draft can be revised; newID is not called
// otherwise.
func (o *BookingOrchestrator) Revise(newID func() string) (*BookingOrchestrator, error) {
	if st := o.State(); st != domain.DraftFailed {
		return nil, &domain.StateError{From: string(st), Event: "revise"}
	}
	d := o.Draft()
	d.ID = newID()
	return NewBookingOrchestrator(o.API, d), nil
}

func cloneOccupancies(in []domain.Occupancy) []domain.Occupancy {
	if in == nil {
		return nil
	}
	out := make([]domain.Occupancy, len(in))
	for i, o := range in {
		o.ChildAges = append([]int(nil), o.ChildAges...)
		out[i] = o
	}
	return out
}
