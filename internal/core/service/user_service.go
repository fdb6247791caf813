package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/microshop/user-service/internal/core/domain"
	"github.com/microshop/user-service/internal/core/ports"
	"github.com/microshop/user-service/internal/pkg/metrics"
)

// DefaultCacheTTL is how long a user snapshot stays in the cache.
const DefaultCacheTTL = time.Hour

const cacheKeyPrefix = "user:"

// CacheKey returns the cache key for a user id.
func CacheKey(id string) string {
	return cacheKeyPrefix + id
}

// UserService orchestrates the store, the read-through cache and lifecycle events.
type UserService struct {
	repo       ports.UserRepository
	cache      ports.Cache
	publisher  ports.EventPublisher
	dispatcher ports.Dispatcher
	cacheTTL   time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewUserService(
	repo ports.UserRepository,
	cache ports.Cache,
	publisher ports.EventPublisher,
	dispatcher ports.Dispatcher,
	cacheTTL time.Duration,
	log zerolog.Logger,
) *UserService {
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &UserService{
		repo:       repo,
		cache:      cache,
		publisher:  publisher,
		dispatcher: dispatcher,
		cacheTTL:   cacheTTL,
		now:        time.Now,
		log:        log.With().Str("component", "user_service").Logger(),
	}
}

// Create normalises the input, persists the record and emits USER_CREATED.
// The password is stored as received.
func (s *UserService) Create(ctx context.Context, in ports.CreateUserInput) (*domain.User, error) {
	u := &domain.User{
		Username: strings.TrimSpace(in.Username),
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Password: in.Password,
		Role:     domain.Role(in.Role),
	}
	if u.Role == "" {
		u.Role = domain.DefaultRole
	}
	if err := validateUser(u); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	metrics.UsersCreatedTotal.Inc()
	s.log.Info().Str("user_id", created.ID).Str("username", created.Username).Msg("user created")

	s.emit(domain.EventUserCreated, created)
	return created, nil
}

// List returns every user record.
func (s *UserService) List(ctx context.Context) ([]*domain.User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// GetByID serves from the cache when possible. On a miss the store is queried
// and the snapshot is written back in the background.
func (s *UserService) GetByID(ctx context.Context, id string) (*domain.User, error) {
	key := CacheKey(id)

	if u, ok := s.fromCache(ctx, key); ok {
		return u, nil
	}

	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	s.populate(key, u)
	return u, nil
}

// Delete removes the record and emits USER_DELETED built from the pre-delete snapshot.
// The cached snapshot, if any, is left to expire on its own.
func (s *UserService) Delete(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.repo.DeleteByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("delete user %s: %w", id, err)
	}

	metrics.UsersDeletedTotal.Inc()
	s.log.Info().Str("user_id", u.ID).Msg("user deleted")

	s.emit(domain.EventUserDeleted, u)
	return u, nil
}

func (s *UserService) fromCache(ctx context.Context, key string) (*domain.User, bool) {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Str("key", key).Msg("cache read failed, falling back to store")
		return nil, false
	}
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}

	var u domain.User
	if err := json.Unmarshal(raw, &u); err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, falling back to store")
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	s.log.Debug().Str("key", key).Msg("served from cache")
	return &u, true
}

func (s *UserService) populate(key string, u *domain.User) {
	data, err := json.Marshal(u)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache snapshot marshal failed")
		return
	}

	ttl := s.cacheTTL
	s.dispatcher.Enqueue(ports.Task{
		Name: "cache.populate",
		Key:  u.ID,
		Run: func(ctx context.Context) error {
			return s.cache.Set(ctx, key, data, ttl)
		},
	})
}

func (s *UserService) emit(t domain.EventType, u *domain.User) {
	event := domain.NewUserEvent(t, u, s.now())
	s.dispatcher.Enqueue(ports.Task{
		Name: "event." + strings.ToLower(string(t)),
		Key:  u.ID,
		Run: func(ctx context.Context) error {
			return s.publisher.Publish(ctx, event)
		},
	})
}

func validateUser(u *domain.User) error {
	switch {
	case u.Username == "":
		return fmt.Errorf("%w: username is required", domain.ErrValidation)
	case u.Email == "":
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	case u.Password == "":
		return fmt.Errorf("%w: password is required", domain.ErrValidation)
	case !u.Role.Valid():
		return fmt.Errorf("%w: role must be one of: user admin", domain.ErrValidation)
	}
	return nil
}
