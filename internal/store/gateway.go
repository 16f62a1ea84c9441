package store

import (
	"context"
	"fmt"
	"net/http"

	"siteledger/internal/domain"
)

// Response is what every gateway call yields. Only StatusCode 200 means
// success; for any other code Data must be ignored.
type Response[T any] struct {
	StatusCode int
	Data       T
}

// OK reports whether the response carries usable data.
func (r Response[T]) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Gateway is the I/O boundary the store persists through.
type Gateway interface {
	List(ctx context.Context, token string) (Response[[]domain.Project], error)
	Create(ctx context.Context, token string, draft domain.Project) (Response[domain.Project], error)
	Update(ctx context.Context, token string, p domain.Project) (Response[domain.Project], error)
}

// TokenProvider returns the bearer token for gateway calls, if any.
type TokenProvider func() (string, bool)

// StatusError is returned when the gateway answers with a non-200 status.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
}
