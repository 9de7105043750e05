// Package feed manages the neighborhood post feed: paginated loading,
// realtime inserts, and optimistic like/comment counters.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthside/hearth-go/api"
	"github.com/hearthside/hearth-go/cache"
	"github.com/hearthside/hearth-go/internal/collection"
	"github.com/hearthside/hearth-go/internal/mutate"
	"github.com/hearthside/hearth-go/model"
	"github.com/hearthside/hearth-go/realtime"
)

// CreatePostRequest is the payload for publishing a post. It doubles as the
// draft shape persisted while composing.
type CreatePostRequest struct {
	Type     model.PostType `json:"type"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Images   []string       `json:"images,omitempty"`
	Location model.Location `json:"location"`
	Radius   int            `json:"radius"`
}

// Service owns the feed view of posts.
type Service struct {
	api   *api.Client
	cache *cache.Cache
	log   zerolog.Logger

	mu      sync.Mutex
	posts   *collection.Collection[model.Post]
	page    int
	hasMore bool
}

// NewService builds the feed service and subscribes its realtime handlers.
func NewService(apiClient *api.Client, store *cache.Cache, rt *realtime.Manager, log zerolog.Logger) *Service {
	s := &Service{
		api:     apiClient,
		cache:   store,
		log:     log.With().Str("component", "feed").Logger(),
		posts:   collection.New[model.Post](),
		hasMore: true,
	}
	if rt != nil {
		rt.On(realtime.EventPostNew, s.onPostNew)
		rt.On(realtime.EventPostUpdate, s.onPostUpdate)
		rt.On(realtime.EventPostDelete, s.onPostDelete)
	}
	return s
}

// FetchPage loads one page of posts. Page 1 replaces the feed; later pages
// append, skipping posts already present.
func (s *Service) FetchPage(ctx context.Context, page int) error {
	if page < 1 {
		page = 1
	}
	var posts []model.Post
	info, err := s.api.GetPage(ctx, "/posts", page, api.DefaultPageLimit, nil, &posts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if page == 1 {
		s.posts.ReplaceAll(posts)
	} else {
		s.posts.AppendPage(posts)
	}
	s.page = page
	s.hasMore = info != nil && page < info.TotalPages
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.UpsertPosts(ctx, posts); err != nil {
			s.log.Warn().Err(err).Msg("feed cache write failed")
		}
	}
	return nil
}

// LoadOffline seeds the feed from the local cache. A storage failure leaves
// the feed empty rather than failing the caller.
func (s *Service) LoadOffline(ctx context.Context) {
	if s.cache == nil {
		return
	}
	posts, err := s.cache.RecentPosts(ctx, api.DefaultPageLimit)
	if err != nil {
		s.log.Warn().Err(err).Msg("offline feed unavailable")
		return
	}
	// The cache hands back the newest window oldest-first; the feed shows
	// newest-first.
	s.mu.Lock()
	s.posts.HydrateDescending(posts)
	s.mu.Unlock()
}

// Like optimistically marks a post liked and bumps its counter, reverting
// both if the server rejects the like.
func (s *Service) Like(ctx context.Context, postID string) error {
	return s.setLiked(ctx, postID, true)
}

// Unlike is the inverse of Like.
func (s *Service) Unlike(ctx context.Context, postID string) error {
	return s.setLiked(ctx, postID, false)
}

func (s *Service) setLiked(ctx context.Context, postID string, liked bool) error {
	var prevLiked bool
	var prevCount int
	return mutate.Do(ctx, mutate.Mutation{
		Apply: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.posts.Mutate(postID, func(p *model.Post) {
				prevLiked, prevCount = p.IsLiked, p.LikesCount
				p.IsLiked = liked
				if liked {
					p.LikesCount++
				} else if p.LikesCount > 0 {
					p.LikesCount--
				}
			})
		},
		Commit: func(ctx context.Context) error {
			if liked {
				return s.api.Post(ctx, "/posts/"+postID+"/like", nil, nil)
			}
			return s.api.Delete(ctx, "/posts/"+postID+"/like", nil)
		},
		Rollback: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.posts.Mutate(postID, func(p *model.Post) {
				p.IsLiked = prevLiked
				p.LikesCount = prevCount
			})
		},
	})
}

// Create publishes a post, prepends it to the feed, and discards any saved
// draft.
func (s *Service) Create(ctx context.Context, req CreatePostRequest) (model.Post, error) {
	var post model.Post
	if err := s.api.Post(ctx, "/posts", req, &post); err != nil {
		return model.Post{}, err
	}

	s.mu.Lock()
	s.posts.Prepend(post)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteDraft(ctx, cache.DraftPost); err != nil {
			s.log.Warn().Err(err).Msg("draft cleanup failed")
		}
	}
	return post, nil
}

// Delete removes a post on the server, then drops it from the feed.
func (s *Service) Delete(ctx context.Context, postID string) error {
	if err := s.api.Delete(ctx, "/posts/"+postID, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.posts.Remove(postID)
	s.mu.Unlock()
	return nil
}

// Report files a content report against a post.
func (s *Service) Report(ctx context.Context, postID string, reason model.ReportReason, details string) error {
	body := map[string]string{"reason": string(reason)}
	if details != "" {
		body["details"] = details
	}
	return s.api.Post(ctx, "/posts/"+postID+"/report", body, nil)
}

// AddComment posts a comment and bumps the post's comment counter.
func (s *Service) AddComment(ctx context.Context, postID, content string) (model.Comment, error) {
	var comment model.Comment
	err := s.api.Post(ctx, "/posts/"+postID+"/comments", map[string]string{"content": content}, &comment)
	if err != nil {
		return model.Comment{}, err
	}
	s.mu.Lock()
	s.posts.Mutate(postID, func(p *model.Post) { p.CommentsCount++ })
	s.mu.Unlock()
	return comment, nil
}

// Comments loads the comments of a post.
func (s *Service) Comments(ctx context.Context, postID string) ([]model.Comment, error) {
	var comments []model.Comment
	if err := s.api.Get(ctx, "/posts/"+postID+"/comments", nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// SaveDraft persists an in-progress post locally.
func (s *Service) SaveDraft(ctx context.Context, draft CreatePostRequest) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.SaveDraft(ctx, cache.DraftPost, draft)
}

// Draft restores the saved post draft, if any.
func (s *Service) Draft(ctx context.Context) (CreatePostRequest, bool, error) {
	var draft CreatePostRequest
	if s.cache == nil {
		return draft, false, nil
	}
	ok, err := s.cache.Draft(ctx, cache.DraftPost, &draft)
	return draft, ok, err
}

// Posts returns the current feed contents, newest first.
func (s *Service) Posts() []model.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts.Items()
}

// HasMore reports whether later pages remain.
func (s *Service) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Page returns the last loaded page number.
func (s *Service) Page() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

func (s *Service) onPostNew(data json.RawMessage) {
	var post model.Post
	if err := json.Unmarshal(data, &post); err != nil {
		s.log.Warn().Err(err).Msg("bad post:new payload")
		return
	}
	s.mu.Lock()
	s.posts.Prepend(post)
	s.mu.Unlock()
	if s.cache != nil {
		if err := s.cache.UpsertPosts(context.Background(), []model.Post{post}); err != nil {
			s.log.Warn().Err(err).Msg("feed cache write failed")
		}
	}
}

func (s *Service) onPostUpdate(data json.RawMessage) {
	var post model.Post
	if err := json.Unmarshal(data, &post); err != nil {
		s.log.Warn().Err(err).Msg("bad post:update payload")
		return
	}
	s.mu.Lock()
	s.posts.Update(post)
	s.mu.Unlock()
}

func (s *Service) onPostDelete(data json.RawMessage) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.ID == "" {
		s.log.Warn().Msg("bad post:delete payload")
		return
	}
	s.mu.Lock()
	s.posts.Remove(payload.ID)
	s.mu.Unlock()
}
