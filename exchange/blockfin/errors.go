package blockfin

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/betbot/gocopy/internal/domain"
)

// APIError 返回码不为 "0" 的响应
type APIError struct {
	Status int
	Code   string
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("blockfin code %s: %s", e.Code, e.Msg)
}

func (e *APIError) HTTPStatus() int { return e.Status }

func noChange(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && domain.NoChangeNeeded(apiErr.Msg)
}
