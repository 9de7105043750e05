// Package bookings manages service discovery and the booking lifecycle.
package bookings

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/internal/collection"
	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/realtime"
)

// BookingRequest is the payload for requesting a booking.
type BookingRequest struct {
	ServiceID   string    `json:"serviceId"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Notes       string    `json:"notes,omitempty"`
}

type Service struct {
	api *api.Client
	log zerolog.Logger

	mu       sync.Mutex
	services *collection.Collection[model.ServiceOffer]
	bookings *collection.Collection[model.Booking]
	hasMore  bool
}

func NewService(apiClient *api.Client, rt *realtime.Manager, log zerolog.Logger) *Service {
	s := &Service{
		api:      apiClient,
		log:      log.With().Str("component", "bookings").Logger(),
		services: collection.New[model.ServiceOffer](),
		bookings: collection.New[model.Booking](),
		hasMore:  true,
	}
	if rt != nil {
		rt.On(realtime.EventBookingUpdate, s.onBookingUpdate)
	}
	return s
}

// FetchServices loads one page of nearby service offers, optionally filtered
// by category. Page 1 replaces the browse view; later pages append.
func (s *Service) FetchServices(ctx context.Context, page int, categoryID string) error {
	if page < 1 {
		page = 1
	}
	var query url.Values
	if categoryID != "" {
		query = url.Values{"categoryId": {categoryID}}
	}

	var offers []model.ServiceOffer
	info, err := s.api.GetPage(ctx, "/services", page, api.DefaultPageLimit, query, &offers)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if page == 1 {
		s.services.ReplaceAll(offers)
	} else {
		s.services.AppendPage(offers)
	}
	s.hasMore = info != nil && page < info.TotalPages
	s.mu.Unlock()
	return nil
}

// Categories loads the service category catalog.
func (s *Service) Categories(ctx context.Context) ([]model.ServiceCategory, error) {
	var cats []model.ServiceCategory
	if err := s.api.Get(ctx, "/services/categories", nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// FetchMyBookings loads the user's bookings, both as customer and provider.
func (s *Service) FetchMyBookings(ctx context.Context) error {
	var bookings []model.Booking
	if err := s.api.Get(ctx, "/bookings/my", nil, &bookings); err != nil {
		return err
	}
	s.mu.Lock()
	s.bookings.ReplaceAll(bookings)
	s.mu.Unlock()
	return nil
}

// CreateBooking requests a booking for a service offer.
func (s *Service) CreateBooking(ctx context.Context, req BookingRequest) (model.Booking, error) {
	var booking model.Booking
	if err := s.api.Post(ctx, "/bookings", req, &booking); err != nil {
		return model.Booking{}, err
	}
	s.mu.Lock()
	s.bookings.Prepend(booking)
	s.mu.Unlock()
	return booking, nil
}

// UpdateStatus transitions a booking's lifecycle state. Status changes are
// server-first: the local copy updates only after the server accepts.
func (s *Service) UpdateStatus(ctx context.Context, bookingID string, status model.BookingStatus) error {
	var booking model.Booking
	body := map[string]string{"status": string(status)}
	if err := s.api.Patch(ctx, "/bookings/"+bookingID+"/status", body, &booking); err != nil {
		return err
	}
	s.mu.Lock()
	s.bookings.Update(booking)
	s.mu.Unlock()
	return nil
}

// CreateReview leaves a review on a completed booking and attaches it to the
// local copy.
func (s *Service) CreateReview(ctx context.Context, bookingID string, rating int, comment string) (model.Review, error) {
	body := map[string]any{"rating": rating}
	if comment != "" {
		body["comment"] = comment
	}
	var review model.Review
	if err := s.api.Post(ctx, "/bookings/"+bookingID+"/review", body, &review); err != nil {
		return model.Review{}, err
	}
	s.mu.Lock()
	s.bookings.Mutate(bookingID, func(b *model.Booking) { b.Review = &review })
	s.mu.Unlock()
	return review, nil
}

// Services returns the browse view of service offers.
func (s *Service) Services() []model.ServiceOffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services.Items()
}

// Bookings returns the user's bookings.
func (s *Service) Bookings() []model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookings.Items()
}

func (s *Service) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

func (s *Service) onBookingUpdate(data json.RawMessage) {
	var booking model.Booking
	if err := json.Unmarshal(data, &booking); err != nil {
		s.log.Warn().Err(err).Msg("bad booking:update payload")
		return
	}
	s.mu.Lock()
	s.bookings.Update(booking)
	s.mu.Unlock()
}
