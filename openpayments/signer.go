package openpayments

import (
	"context"
	"strings"

	"github.com/goliatone/go-donations/transport"
)

// RequestSigner decorates an outbound request before it is sent. Deployments
// that sign with http-message-signatures plug their signer in here.
type RequestSigner interface {
	Sign(ctx context.Context, req *transport.Request) error
}

type RequestSignerFunc func(ctx context.Context, req *transport.Request) error

func (f RequestSignerFunc) Sign(ctx context.Context, req *transport.Request) error {
	if f == nil {
		return nil
	}
	return f(ctx, req)
}

// HeaderSigner copies a fixed set of headers onto every request. Headers
// already present on the request win.
type HeaderSigner struct {
	Headers map[string]string
}

func (s HeaderSigner) Sign(_ context.Context, req *transport.Request) error {
	if req == nil || len(s.Headers) == 0 {
		return nil
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	for key, value := range s.Headers {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, exists := req.Headers[key]; exists {
			continue
		}
		req.Headers[key] = value
	}
	return nil
}

var (
	_ RequestSigner = HeaderSigner{}
	_ RequestSigner = RequestSignerFunc(nil)
)
