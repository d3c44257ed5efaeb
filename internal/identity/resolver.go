package identity

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CurrentUserName is the name used when the current user cannot be resolved
// from the directory or the configured defaults.
const CurrentUserName = "Current User"

// MinSearchLength is the shortest query sent to the directory.
const MinSearchLength = 2

const (
	defaultSearchCacheSize = 256
	currentUserKey         = "me"
	searchKeyPrefix        = "search:"
)

// Options configures a Resolver.
type Options struct {
	// DefaultName and DefaultID describe the current user when the directory
	// cannot.
	DefaultName string
	DefaultID   string

	// BaseURL is used to build avatar URLs. Empty leaves avatars unset.
	BaseURL string

	// SearchCacheSize bounds the number of cached search results.
	SearchCacheSize int

	// Wait is how long user lookups are collected before the directory is
	// queried. Zero means one millisecond.
	Wait time.Duration
}

// User is a resolved directory user.
type User struct {
	ExternalID   string
	Name         string
	Mail         string
	Avatar       string
	ProfileImage string
}

// SearchResult is one match of a directory search.
type SearchResult struct {
	ID           string
	DisplayName  string
	Mail         string
	Username     string
	Avatar       string
	ProfileImage string
}

// Resolver looks users up in a Directory and caches the answers. Concurrent
// requests for the same key share one directory call. A Resolver with a nil
// Directory only knows the configured defaults.
type Resolver struct {
	dir    Directory
	opts   Options
	logger *slog.Logger

	flight singleflight.Group

	mu      sync.Mutex
	current *User

	users  *dataloader.Loader[string, *User]
	search *lru.Cache[string, []SearchResult]
}

// NewResolver creates a Resolver. A nil logger uses slog.Default().
func NewResolver(dir Directory, opts Options, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SearchCacheSize <= 0 {
		opts.SearchCacheSize = defaultSearchCacheSize
	}
	if opts.Wait <= 0 {
		opts.Wait = time.Millisecond
	}

	search, err := lru.New[string, []SearchResult](opts.SearchCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}

	r := &Resolver{dir: dir, opts: opts, logger: logger, search: search}
	r.users = dataloader.NewBatchedLoader(r.fetchUsers, dataloader.WithWait[string, *User](opts.Wait))
	return r, nil
}

// CurrentUser returns the signed-in user. The directory is asked first, then
// the configured defaults are used, and finally a placeholder named
// CurrentUserName. The answer is cached until ClearCache.
func (r *Resolver) CurrentUser(ctx context.Context) User {
	if u, ok := r.cachedCurrent(); ok {
		return u
	}

	v, _, _ := r.flight.Do(currentUserKey, func() (any, error) {
		if u, ok := r.cachedCurrent(); ok {
			return u, nil
		}
		u := r.fetchCurrentUser(ctx)
		r.mu.Lock()
		r.current = &u
		r.mu.Unlock()
		return u, nil
	})
	return v.(User)
}

func (r *Resolver) cachedCurrent() (User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return User{}, false
	}
	return *r.current, true
}

func (r *Resolver) fetchCurrentUser(ctx context.Context) User {
	if r.dir != nil {
		raw, err := r.dir.Me(ctx)
		if err == nil {
			var p Profile
			var ok bool
			p, ok, err = normalizeUser(raw)
			if ok {
				return r.userFromProfile(p)
			}
		}
		if err != nil {
			r.logger.Warn("failed to fetch current user from directory", "error", err)
		}
	}

	if r.opts.DefaultName != "" || r.opts.DefaultID != "" {
		name := r.opts.DefaultName
		if name == "" {
			name = CurrentUserName
		}
		return User{Name: name, ExternalID: r.opts.DefaultID}
	}

	return User{Name: CurrentUserName}
}

// UserByID looks up one user. Lookups issued close together are batched and
// a lookup for an ID already in flight waits for that answer. Found users are
// cached; misses and failures are not, so they are retried next time. A user
// the directory does not know yields nil without an error.
func (r *Resolver) UserByID(ctx context.Context, id string) (*User, error) {
	if id == "" {
		return nil, nil
	}

	u, err := r.users.Load(ctx, id)()
	if err != nil || u == nil {
		r.users.Clear(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", id, err)
	}
	return u, nil
}

// DisplayName returns the name of a user, or UnknownUser when the lookup
// fails for any reason.
func (r *Resolver) DisplayName(ctx context.Context, id string) string {
	u, err := r.UserByID(ctx, id)
	if err != nil {
		r.logger.Debug("falling back to unknown user", "external_id", id, "error", err)
		return UnknownUser
	}
	if u == nil {
		return UnknownUser
	}
	return u.Name
}

func (r *Resolver) fetchUsers(ctx context.Context, ids []string) []*dataloader.Result[*User] {
	results := make([]*dataloader.Result[*User], len(ids))
	for i, id := range ids {
		results[i] = &dataloader.Result[*User]{}
		if r.dir == nil {
			continue
		}

		raw, err := r.dir.GetUser(ctx, id)
		if err != nil {
			results[i].Error = err
			continue
		}
		p, ok, err := normalizeUser(raw)
		if err != nil {
			results[i].Error = err
			continue
		}
		if !ok {
			continue
		}
		if p.ID == "" {
			p.ID = id
		}
		u := r.userFromProfile(p)
		results[i].Data = &u
	}
	return results
}

// Search finds users by name, mail or username. Queries shorter than
// MinSearchLength return nothing. Results are cached per lower-cased query
// and limit.
func (r *Resolver) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if len([]rune(q)) < MinSearchLength || r.dir == nil {
		return nil, nil
	}

	key := searchKey(q, limit)
	if hit, ok := r.search.Get(key); ok {
		return slices.Clone(hit), nil
	}

	v, err, _ := r.flight.Do(searchKeyPrefix+key, func() (any, error) {
		raw, err := r.dir.ListUsers(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		profiles, err := NormalizeUsers(raw)
		if err != nil {
			return nil, err
		}

		results := make([]SearchResult, 0, len(profiles))
		for _, p := range profiles {
			results = append(results, SearchResult{
				ID:           p.ID,
				DisplayName:  p.Name(),
				Mail:         p.Mail,
				Username:     p.Username(),
				Avatar:       AvatarURL(r.opts.BaseURL, p.ID),
				ProfileImage: p.ProfileImage,
			})
		}
		r.search.Add(key, results)
		return results, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return slices.Clone(v.([]SearchResult)), nil
}

// ClearCache forgets every cached answer.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
	r.flight.Forget(currentUserKey)

	r.users.ClearAll()
	r.ClearSearchPattern("")
}

// ClearUser forgets one cached user.
func (r *Resolver) ClearUser(id string) {
	r.users.Clear(context.Background(), id)
}

// ClearSearchPattern forgets cached searches whose key contains pattern.
// Keys have the form "<query>_<limit>".
func (r *Resolver) ClearSearchPattern(pattern string) {
	pattern = strings.ToLower(pattern)
	for _, key := range r.search.Keys() {
		if strings.Contains(key, pattern) {
			r.search.Remove(key)
			r.flight.Forget(searchKeyPrefix + key)
		}
	}
}

func (r *Resolver) userFromProfile(p Profile) User {
	return User{
		ExternalID:   p.ID,
		Name:         p.Name(),
		Mail:         p.Mail,
		Avatar:       AvatarURL(r.opts.BaseURL, p.ID),
		ProfileImage: p.ProfileImage,
	}
}

func searchKey(query string, limit int) string {
	return fmt.Sprintf("%s_%d", query, limit)
}
