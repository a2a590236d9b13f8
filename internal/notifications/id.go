package notifications

import (
	"github.com/google/uuid"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
)

// IDProvider issues identifiers for local-only notifications.
type IDProvider interface {
	NewID() (model.ID, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues time-ordered UUIDv7
// identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (model.ID, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return model.ID(value.String()), nil
}
