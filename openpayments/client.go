package openpayments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/goliatone/go-donations/core"
	"github.com/goliatone/go-donations/transport"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	operationGetWallet       = "get wallet address"
	operationRequestGrant    = "request grant"
	operationContinueGrant   = "continue grant"
	operationIncomingPayment = "create incoming payment"
	operationQuote           = "create quote"
	operationOutgoingPayment = "create outgoing payment"
)

// Client talks to wallet address, authorization and resource servers. Every
// call is a single exchange except wallet lookups, which retry transient
// failures.
type Client struct {
	config    Config
	transport transport.Adapter
	signer    RequestSigner
	logger    core.Logger
}

type Option func(*Client)

func WithTransport(adapter transport.Adapter) Option {
	return func(c *Client) {
		if adapter != nil {
			c.transport = adapter
		}
	}
}

func WithHTTPClient(doer transport.HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.transport = transport.NewRESTAdapter(doer)
		}
	}
}

func WithRequestSigner(signer RequestSigner) Option {
	return func(c *Client) {
		if signer != nil {
			c.signer = signer
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	normalized, err := cfg.normalized()
	if err != nil {
		return nil, err
	}
	client := &Client{
		config: normalized,
		signer: HeaderSigner{},
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.transport == nil {
		client.transport = transport.NewRESTAdapter(nil)
	}
	return client, nil
}

func (c *Client) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.config
}

func (c *Client) GetWalletAddress(ctx context.Context, url string) (core.WalletInfo, error) {
	var doc walletAddressDocument
	err := retry.Do(
		func() error {
			return c.exchange(ctx, operationGetWallet, transport.Request{Method: http.MethodGet, URL: url}, "", nil, &doc)
		},
		retry.Attempts(c.config.WalletRetryAttempts),
		retry.Delay(c.config.walletRetryDelay()),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying wallet address lookup", "url", url, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return core.WalletInfo{}, err
	}
	return doc.toDomain(), nil
}

func (c *Client) RequestGrant(ctx context.Context, authServerURL string, req core.GrantRequest) (core.GrantResponse, error) {
	var out grantResponseBody
	body := newGrantRequestBody(c.config.ClientWalletAddress, req)
	err := c.exchange(ctx, operationRequestGrant, transport.Request{Method: http.MethodPost, URL: authServerURL}, "", body, &out)
	if err != nil {
		return core.GrantResponse{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) ContinueGrant(ctx context.Context, req core.ContinueGrantRequest) (core.GrantResponse, error) {
	var out grantResponseBody
	body := continueRequestBody{InteractRef: strings.TrimSpace(req.InteractRef)}
	err := c.exchange(ctx, operationContinueGrant, transport.Request{Method: http.MethodPost, URL: req.URI}, req.AccessToken, body, &out)
	if err != nil {
		return core.GrantResponse{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) CreateIncomingPayment(ctx context.Context, resourceServerURL string, accessToken string, in core.IncomingPaymentInput) (core.IncomingPayment, error) {
	var out incomingPaymentResponse
	body := incomingPaymentRequest{
		WalletAddress:  in.WalletAddress,
		IncomingAmount: in.IncomingAmount,
		ExpiresAt:      in.ExpiresAt,
		Metadata:       in.Metadata,
	}
	req := transport.Request{Method: http.MethodPost, URL: resourceURL(resourceServerURL, "incoming-payments")}
	if err := c.exchange(ctx, operationIncomingPayment, req, accessToken, body, &out); err != nil {
		return core.IncomingPayment{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) CreateQuote(ctx context.Context, resourceServerURL string, accessToken string, in core.QuoteInput) (core.Quote, error) {
	var out quoteResponse
	method := strings.TrimSpace(in.Method)
	if method == "" {
		method = "ilp"
	}
	body := quoteRequest{WalletAddress: in.WalletAddress, Receiver: in.Receiver, Method: method}
	req := transport.Request{Method: http.MethodPost, URL: resourceURL(resourceServerURL, "quotes")}
	if err := c.exchange(ctx, operationQuote, req, accessToken, body, &out); err != nil {
		return core.Quote{}, err
	}
	return out.toDomain(), nil
}

func (c *Client) CreateOutgoingPayment(ctx context.Context, resourceServerURL string, accessToken string, in core.OutgoingPaymentInput) (core.OutgoingPayment, error) {
	var out outgoingPaymentResponse
	body := outgoingPaymentRequest{WalletAddress: in.WalletAddress, QuoteID: in.QuoteID, Metadata: in.Metadata}
	req := transport.Request{
		Method:      http.MethodPost,
		URL:         resourceURL(resourceServerURL, "outgoing-payments"),
		Idempotency: in.QuoteID,
	}
	if err := c.exchange(ctx, operationOutgoingPayment, req, accessToken, body, &out); err != nil {
		return core.OutgoingPayment{}, err
	}
	return out.toDomain(), nil
}

// exchange sends one JSON request and decodes a 2xx body into out.
func (c *Client) exchange(ctx context.Context, operation string, req transport.Request, accessToken string, in any, out any) error {
	if c == nil || c.transport == nil {
		return fmt.Errorf("openpayments: client is not configured")
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return &core.UpstreamError{Operation: operation, Cause: errors.New("url is required")}
	}
	req.Headers = map[string]string{"Accept": "application/json"}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("openpayments: encode %s body: %w", operation, err)
		}
		req.Body = payload
		req.Headers["Content-Type"] = "application/json"
	}
	if token := strings.TrimSpace(accessToken); token != "" {
		req.Headers["Authorization"] = "GNAP " + token
	}
	req.Timeout = c.config.requestTimeout()
	req.MaxResponseBodyBytes = c.config.MaxResponseBodyBytes
	if err := c.signer.Sign(ctx, &req); err != nil {
		return fmt.Errorf("openpayments: sign %s request: %w", operation, err)
	}

	startedAt := time.Now()
	res, err := c.transport.Do(ctx, req)
	if err != nil {
		return &core.UpstreamError{Operation: operation, URL: req.URL, Cause: err}
	}
	c.logger.Debug("open payments exchange",
		"operation", operation,
		"url", req.URL,
		"status", res.StatusCode,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return upstreamError(operation, req.URL, res)
	}
	if out == nil || len(res.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Body, out); err != nil {
		return &core.UpstreamError{
			Operation:  operation,
			URL:        req.URL,
			StatusCode: res.StatusCode,
			Cause:      fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

func resourceURL(base string, collection string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + collection
}

func isTransient(err error) bool {
	var upstream *core.UpstreamError
	return errors.As(err, &upstream) && upstream.Transient()
}

var _ core.PaymentsClient = (*Client)(nil)
