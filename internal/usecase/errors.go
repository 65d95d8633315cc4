package usecase

import (
	"errors"

	"github.com/gawravmehta/sahaj-os-sub001/internal/domain"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
