package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the request did not contain a usable login.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// IDProvider issues user identifiers for first-seen logins.
type IDProvider interface {
	NewID() (model.ID, error)
}

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service manages user identifiers per tenant login.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
	cache      sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		now:        clock,
	}, nil
}

// ResolveRequest names the login to resolve.
type ResolveRequest struct {
	TenantID string
	Login    string
	// PreferredUserID is used when the login has not been seen before.
	PreferredUserID string
	DisplayName     string
}

// ResolveUserID returns the user id of the tenant login, creating the mapping
// when the pair has not been seen before.
func (s *Service) ResolveUserID(ctx context.Context, request ResolveRequest) (string, error) {
	tenantID := normalize(request.TenantID)
	login := normalizeLogin(request.Login)
	if tenantID == "" || login == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := tenantID + "/" + login
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cachedIdentifier.(string); ok {
			return userID, nil
		}
	}

	var identity Identity
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND login = ?", tenantID, login).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		userID := normalize(request.PreferredUserID)
		if userID == "" {
			generated, err := s.idProvider.NewID()
			if err != nil {
				return "", err
			}
			userID = generated.String()
		}
		identity = Identity{
			TenantID:    tenantID,
			Login:       login,
			UserID:      userID,
			DisplayName: normalize(request.DisplayName),
			LastSeenAt:  s.now(),
		}
		if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if display := normalize(request.DisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		_ = s.db.WithContext(ctx).Model(&Identity{}).
			Where("tenant_id = ? AND login = ?", tenantID, login).
			Updates(updates).
			Error
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}
