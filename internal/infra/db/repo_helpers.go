package db

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

var errDBUnavailable = errors.New("database unavailable")

// notFound maps gorm's record-not-found onto the domain sentinel so the
// usecase layer never imports gorm.
func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return err
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
