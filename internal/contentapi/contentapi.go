// Package contentapi is a small in-memory content API serving posts under
// the wp/v2 namespace. It gives REST-alias tools a real routing target when
// the server runs standalone.
package contentapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/mcp-sse-server/restroute"
	"github.com/jonboulle/clockwork"
)

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

var validStatuses = []string{"publish", "draft", "pending", "private"}

// Post is one content item.
type Post struct {
	ID       int64     `json:"id"`
	Date     time.Time `json:"date"`
	Modified time.Time `json:"modified"`
	Status   string    `json:"status"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Excerpt  string    `json:"excerpt,omitempty"`
	Author   string    `json:"author,omitempty"`
}

// Store holds posts in memory.
type Store struct {
	clock clockwork.Clock

	mu     sync.RWMutex
	posts  []*Post
	nextID int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for post timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{clock: clockwork.NewRealClock(), nextID: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed adds posts directly, assigning ids and timestamps.
func (s *Store) Seed(posts ...Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range posts {
		s.insertLocked(p)
	}
}

func (s *Store) insertLocked(p Post) *Post {
	now := s.clock.Now().UTC()
	p.ID = s.nextID
	s.nextID++
	p.Date, p.Modified = now, now
	if p.Status == "" {
		p.Status = "draft"
	}
	stored := p
	s.posts = append(s.posts, &stored)
	return &stored
}

// Get returns a copy of the post with the given id.
func (s *Store) Get(id int64) (Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.posts {
		if p.ID == id {
			return *p, true
		}
	}
	return Post{}, false
}

// Register mounts the posts routes on m.
func (s *Store) Register(m *restroute.Mux) {
	m.Handle(http.MethodGet, "/wp/v2/posts", "Search and filter posts", s.list)
	m.Handle(http.MethodPost, "/wp/v2/posts", "Create a post", s.create)
	m.Handle(http.MethodGet, "/wp/v2/posts/{id}", "Retrieve a post", s.get)
	m.Handle(http.MethodPut, "/wp/v2/posts/{id}", "Update a post", s.update)
	m.Handle(http.MethodDelete, "/wp/v2/posts/{id}", "Delete a post", s.delete)
}

func (s *Store) list(w http.ResponseWriter, r *http.Request) {
	params, err := restroute.Params(r)
	if err != nil {
		restroute.WriteError(w, http.StatusBadRequest, "rest_invalid_param", err.Error())
		return
	}
	perPage, err := intParam(params, "per_page", defaultPerPage)
	if err != nil || perPage < 1 || perPage > maxPerPage {
		restroute.WriteError(w, http.StatusBadRequest, "rest_invalid_param", fmt.Sprintf("Invalid parameter(s): per_page must be between 1 (inclusive) and %d (inclusive)", maxPerPage))
		return
	}
	page, err := intParam(params, "page", 1)
	if err != nil || page < 1 {
		restroute.WriteError(w, http.StatusBadRequest, "rest_invalid_param", "Invalid parameter(s): page")
		return
	}
	search := strings.ToLower(stringParam(params, "search"))
	status := stringParam(params, "status")

	s.mu.RLock()
	var matched []Post
	for i := len(s.posts) - 1; i >= 0; i-- {
		p := s.posts[i]
		if status != "" && p.Status != status {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Title+" "+p.Content), search) {
			continue
		}
		matched = append(matched, *p)
	}
	s.mu.RUnlock()

	total := len(matched)
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)
	out := matched[start:end]
	if out == nil {
		out = []Post{}
	}

	w.Header().Set("X-WP-Total", strconv.Itoa(total))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa((total+perPage-1)/perPage))
	restroute.WriteJSON(w, http.StatusOK, out)
}

func (s *Store) create(w http.ResponseWriter, r *http.Request) {
	params, err := restroute.Params(r)
	if err != nil {
		restroute.WriteError(w, http.StatusBadRequest, "rest_invalid_param", err.Error())
		return
	}
	title := stringParam(params, "title")
	if title == "" {
		restroute.WriteError(w, http.StatusBadRequest, "rest_missing_callback_param", "Missing parameter(s): title")
		return
	}
	status := stringParam(params, "status")
	if status != "" && !slices.Contains(validStatuses, status) {
		restroute.WriteError(w, http.StatusBadRequest, "rest_invalid_param", "Invalid parameter(s): status")
		return
	}

	s.mu.Lock()
	p := s.insertLocked(Post{
		Title:   title,
		Content: stringParam(params, "content"),
		Excerpt: stringParam(params, "excerpt"),
		Status:  status,
		Author:  stringParam(params, "author"),
	})
	out := *p
	s.mu.Unlock()

	restroute.WriteJSON(w, http.StatusCreated, out)
}

func (s *Store) get(w http.ResponseWriter, r *http.Request) {
	s.withPost(w, r, func(_ map[string]any, p *Post) (int, any) {
		return http.StatusOK, *p
	})
}

func (s *Store) update(w http.ResponseWriter, r *http.Request) {
	s.withPost(w, r, func(params map[string]any, p *Post) (int, any) {
		if v := stringParam(params, "status"); v != "" {
			if !slices.Contains(validStatuses, v) {
				return http.StatusBadRequest, nil
			}
			p.Status = v
		}
		if v, ok := params["title"]; ok {
			p.Title = fmt.Sprint(v)
		}
		if v, ok := params["content"]; ok {
			p.Content = fmt.Sprint(v)
		}
		if v, ok := params["excerpt"]; ok {
			p.Excerpt = fmt.Sprint(v)
		}
		p.Modified = s.clock.Now().UTC()
		return http.StatusOK, *p
	})
}

func (s *Store) delete(w http.ResponseWriter, r *http.Request) {
	params, err := restroute.Params(r)
	if err != nil {
		restroute.WriteError(w, http.StatusBadRequest, "rest_invalid_param", err.Error())
		return
	}
	id, err := intParam(params, "id", 0)
	if err != nil {
		restroute.WriteError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.")
		return
	}

	s.mu.Lock()
	idx := slices.IndexFunc(s.posts, func(p *Post) bool { return p.ID == int64(id) })
	if idx < 0 {
		s.mu.Unlock()
		restroute.WriteError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.")
		return
	}
	prev := *s.posts[idx]
	s.posts = slices.Delete(s.posts, idx, idx+1)
	s.mu.Unlock()

	restroute.WriteJSON(w, http.StatusOK, map[string]any{"deleted": true, "previous": prev})
}

// withPost resolves the {id} route parameter and runs fn under the write
// lock. A nil body with status 400 reports an invalid parameter.
func (s *Store) withPost(w http.ResponseWriter, r *http.Request, fn func(params map[string]any, p *Post) (int, any)) {
	params, err := restroute.Params(r)
	if err != nil {
		restroute.WriteError(w, http.StatusBadRequest, "rest_invalid_param", err.Error())
		return
	}
	id, err := intParam(params, "id", 0)
	if err != nil {
		restroute.WriteError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.")
		return
	}

	s.mu.Lock()
	var found *Post
	for _, p := range s.posts {
		if p.ID == int64(id) {
			found = p
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		restroute.WriteError(w, http.StatusNotFound, "rest_post_invalid_id", "Invalid post ID.")
		return
	}
	status, body := fn(params, found)
	s.mu.Unlock()

	if body == nil {
		restroute.WriteError(w, status, "rest_invalid_param", "Invalid parameter(s)")
		return
	}
	restroute.WriteJSON(w, status, body)
}

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func intParam(params map[string]any, key string, def int) (int, error) {
	switch v := params[key].(type) {
	case nil:
		return def, nil
	case string:
		if v == "" {
			return def, nil
		}
		return strconv.Atoi(v)
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("invalid integer %v", v)
	}
}
