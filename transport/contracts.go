package transport

import (
	"context"
	"time"
)

// Request is a single outbound HTTP exchange. Body is sent as-is.
type Request struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Metadata             map[string]any
	Timeout              time.Duration
	Idempotency          string
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// Adapter performs a Request. Non-2xx statuses are returned as responses, not
// errors; only transport-level failures produce an error.
type Adapter interface {
	Kind() string
	Do(ctx context.Context, req Request) (Response, error)
}
