package backend

import (
	"github.com/google/uuid"
	"github.com/urquidy/mhl-homes-frontend-sub001/internal/model"
)

// IDProvider issues record identifiers.
type IDProvider interface {
	NewID() (model.ID, error)
}

type uuidProvider struct{}

// NewUUIDProvider issues UUIDv7 record ids, so ids of one table sort by
// creation time.
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
