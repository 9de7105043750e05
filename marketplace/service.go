// Package marketplace manages buy/sell listings.
package marketplace

import (
	"context"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/cache"
	"github.com/hearthside/hearth-go/internal/collection"
	"github.com/hearthside/hearth-go/model"
)

// ListingRequest is the payload for creating or updating a listing. It
// doubles as the draft shape persisted while composing.
type ListingRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Price       float64        `json:"price"`
	Images      []string       `json:"images,omitempty"`
	Category    string         `json:"category,omitempty"`
	Location    model.Location `json:"location"`
	Radius      int            `json:"radius"`
}

type Service struct {
	api   *api.Client
	cache *cache.Cache
	log   zerolog.Logger

	mu       sync.Mutex
	listings *collection.Collection[model.Listing]
	mine     *collection.Collection[model.Listing]
	hasMore  bool
}

func NewService(apiClient *api.Client, store *cache.Cache, log zerolog.Logger) *Service {
	return &Service{
		api:      apiClient,
		cache:    store,
		log:      log.With().Str("component", "marketplace").Logger(),
		listings: collection.New[model.Listing](),
		mine:     collection.New[model.Listing](),
		hasMore:  true,
	}
}

// FetchPage loads one page of nearby listings, optionally filtered by
// category. Page 1 replaces the browse view; later pages append.
func (s *Service) FetchPage(ctx context.Context, page int, category string) error {
	if page < 1 {
		page = 1
	}
	var query url.Values
	if category != "" {
		query = url.Values{"category": {category}}
	}

	var listings []model.Listing
	info, err := s.api.GetPage(ctx, "/marketplace", page, api.DefaultPageLimit, query, &listings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if page == 1 {
		s.listings.ReplaceAll(listings)
	} else {
		s.listings.AppendPage(listings)
	}
	s.hasMore = info != nil && page < info.TotalPages
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.UpsertListings(ctx, listings); err != nil {
			s.log.Warn().Err(err).Msg("listing cache write failed")
		}
	}
	return nil
}

// FetchMine loads the user's own listings.
func (s *Service) FetchMine(ctx context.Context) error {
	var listings []model.Listing
	if err := s.api.Get(ctx, "/marketplace/my-listings", nil, &listings); err != nil {
		return err
	}
	s.mu.Lock()
	s.mine.ReplaceAll(listings)
	s.mu.Unlock()
	return nil
}

// LoadOffline seeds the browse view from the local cache.
func (s *Service) LoadOffline(ctx context.Context) {
	if s.cache == nil {
		return
	}
	listings, err := s.cache.RecentListings(ctx, api.DefaultPageLimit)
	if err != nil {
		s.log.Warn().Err(err).Msg("offline listings unavailable")
		return
	}
	// The cache hands back the newest window oldest-first; browse shows
	// newest-first.
	s.mu.Lock()
	s.listings.HydrateDescending(listings)
	s.mu.Unlock()
}

// Create publishes a listing and discards any saved draft.
func (s *Service) Create(ctx context.Context, req ListingRequest) (model.Listing, error) {
	var listing model.Listing
	if err := s.api.Post(ctx, "/marketplace", req, &listing); err != nil {
		return model.Listing{}, err
	}

	s.mu.Lock()
	s.listings.Prepend(listing)
	s.mine.Prepend(listing)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteDraft(ctx, cache.DraftListing); err != nil {
			s.log.Warn().Err(err).Msg("draft cleanup failed")
		}
	}
	return listing, nil
}

// Update edits a listing on the server and refreshes the local copies.
func (s *Service) Update(ctx context.Context, listingID string, req ListingRequest) (model.Listing, error) {
	var listing model.Listing
	if err := s.api.Patch(ctx, "/marketplace/"+listingID, req, &listing); err != nil {
		return model.Listing{}, err
	}
	s.mu.Lock()
	s.listings.Update(listing)
	s.mine.Update(listing)
	s.mu.Unlock()
	return listing, nil
}

// Delete removes a listing on the server, then drops it locally.
func (s *Service) Delete(ctx context.Context, listingID string) error {
	if err := s.api.Delete(ctx, "/marketplace/"+listingID, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.listings.Remove(listingID)
	s.mine.Remove(listingID)
	s.mu.Unlock()
	return nil
}

// MarkSold transitions a listing to SOLD. Status changes are server-first:
// the local copy updates only after the server accepts.
func (s *Service) MarkSold(ctx context.Context, listingID string) error {
	var listing model.Listing
	body := map[string]string{"status": string(model.ListingSold)}
	if err := s.api.Patch(ctx, "/marketplace/"+listingID+"/status", body, &listing); err != nil {
		return err
	}
	s.mu.Lock()
	s.listings.Update(listing)
	s.mine.Update(listing)
	s.mu.Unlock()
	return nil
}

// SaveDraft persists an in-progress listing locally.
func (s *Service) SaveDraft(ctx context.Context, draft ListingRequest) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.SaveDraft(ctx, cache.DraftListing, draft)
}

// Draft restores the saved listing draft, if any.
func (s *Service) Draft(ctx context.Context) (ListingRequest, bool, error) {
	var draft ListingRequest
	if s.cache == nil {
		return draft, false, nil
	}
	ok, err := s.cache.Draft(ctx, cache.DraftListing, &draft)
	return draft, ok, err
}

// Listings returns the browse view contents.
func (s *Service) Listings() []model.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listings.Items()
}

// Mine returns the user's own listings.
func (s *Service) Mine() []model.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mine.Items()
}

func (s *Service) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}
