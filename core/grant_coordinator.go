package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	gnapErrorTooFast       = "too_fast"
	gnapErrorRequestDenied = "request_denied"
	interactFinishRedirect = "redirect"
)

// GrantCoordinator requests and continues grants and classifies every
// response as FinalizedGrant or PendingGrant.
type GrantCoordinator struct {
	client    PaymentsClient
	finishURI string
}

type GrantCoordinatorOption func(*GrantCoordinator)

// WithInteractFinishURI makes interactive grants ask the authorization server
// to redirect the donor back to uri after approval.
func WithInteractFinishURI(uri string) GrantCoordinatorOption {
	return func(c *GrantCoordinator) {
		c.finishURI = strings.TrimSpace(uri)
	}
}

type finishKeyContextKey struct{}

// withFinishKey makes the finish redirect carry key back as the "key" query
// parameter so the callback can find the pending record.
func withFinishKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, finishKeyContextKey{}, strings.TrimSpace(key))
}

func (c *GrantCoordinator) finishRedirectURI(ctx context.Context) string {
	key, _ := ctx.Value(finishKeyContextKey{}).(string)
	if key == "" {
		return c.finishURI
	}
	parsed, err := url.Parse(c.finishURI)
	if err != nil {
		return c.finishURI
	}
	query := parsed.Query()
	query.Set("key", key)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func NewGrantCoordinator(client PaymentsClient, opts ...GrantCoordinatorOption) *GrantCoordinator {
	coordinator := &GrantCoordinator{client: client}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(coordinator)
	}
	return coordinator
}

func (c *GrantCoordinator) RequestGrant(
	ctx context.Context,
	authServerURL string,
	spec AccessSpec,
	interactive bool,
) (Grant, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("core: grant coordinator is not configured")
	}
	authServerURL = strings.TrimSpace(authServerURL)
	grantErr := func(cause error) error {
		return &GrantError{
			Kind:       ErrGrantRequestFailed,
			AuthServer: authServerURL,
			Resource:   spec.Type,
			Cause:      cause,
		}
	}
	if authServerURL == "" {
		return nil, grantErr(fmt.Errorf("auth server url is required"))
	}

	req := GrantRequest{
		Access:      []AccessSpec{cloneAccessSpec(spec)},
		Interactive: interactive,
	}
	if interactive && c.finishURI != "" {
		req.Finish = &InteractFinish{
			Method: interactFinishRedirect,
			URI:    c.finishRedirectURI(ctx),
			Nonce:  uuid.NewString(),
		}
	}

	resp, err := c.client.RequestGrant(ctx, authServerURL, req)
	if err != nil {
		return nil, grantErr(err)
	}
	grant, err := classifyGrant(resp, interactive)
	if err != nil {
		return nil, grantErr(err)
	}
	if pending, ok := grant.(PendingGrant); ok && req.Finish != nil {
		pending.Finish = FinishProof{
			ClientNonce:   req.Finish.Nonce,
			GrantEndpoint: authServerURL,
		}
		if resp.Interact != nil {
			pending.Finish.ServerNonce = strings.TrimSpace(resp.Interact.Finish)
		}
		grant = pending
	}
	return grant, nil
}

// ContinueGrant resumes a pending grant. A response that is still pending is
// returned as a PendingGrant carrying the refreshed continuation handle.
func (c *GrantCoordinator) ContinueGrant(ctx context.Context, continuation Continuation, interactRef string) (Grant, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("core: grant coordinator is not configured")
	}
	if !continuation.Valid() {
		return nil, &GrantError{
			Kind:        ErrGrantContinuationInvalid,
			Resource:    ResourceOutgoingPayment,
			RestartFrom: FlowOutgoingGrantRequested,
			Cause:       fmt.Errorf("continuation uri and access token are required"),
		}
	}

	resp, err := c.client.ContinueGrant(ctx, ContinueGrantRequest{
		URI:         strings.TrimSpace(continuation.URI),
		AccessToken: strings.TrimSpace(continuation.AccessToken),
		InteractRef: strings.TrimSpace(interactRef),
	})
	if err != nil {
		return nil, classifyContinuationFailure(err)
	}
	grant, err := classifyGrant(resp, false)
	if err != nil {
		return nil, &GrantError{
			Kind:     ErrGrantRequestFailed,
			Resource: ResourceOutgoingPayment,
			Cause:    err,
		}
	}
	return grant, nil
}

func classifyGrant(resp GrantResponse, requireRedirect bool) (Grant, error) {
	if token := resp.AccessToken; token != nil && strings.TrimSpace(token.Value) != "" {
		return FinalizedGrant{
			AccessToken: strings.TrimSpace(token.Value),
			ManageURI:   strings.TrimSpace(token.ManageURI),
			ExpiresIn:   time.Duration(token.ExpiresIn) * time.Second,
		}, nil
	}
	if resp.Continue != nil {
		pending := PendingGrant{
			Continuation: Continuation{
				URI:         strings.TrimSpace(resp.Continue.URI),
				AccessToken: strings.TrimSpace(resp.Continue.AccessToken),
				Wait:        time.Duration(resp.Continue.Wait) * time.Second,
			},
		}
		if resp.Interact != nil {
			pending.RedirectURL = strings.TrimSpace(resp.Interact.Redirect)
		}
		if !pending.Continuation.Valid() {
			return nil, fmt.Errorf("pending grant has an incomplete continuation handle")
		}
		if requireRedirect && pending.RedirectURL == "" {
			return nil, fmt.Errorf("pending grant has no interaction redirect")
		}
		return pending, nil
	}
	return nil, fmt.Errorf("grant response carries neither an access token nor a continuation")
}

func classifyContinuationFailure(err error) error {
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.Transient() {
		return &GrantError{
			Kind:     ErrGrantRequestFailed,
			Resource: ResourceOutgoingPayment,
			Cause:    err,
		}
	}
	switch strings.TrimSpace(upstream.Code) {
	case gnapErrorTooFast, gnapErrorRequestDenied:
		return &GrantError{
			Kind:     ErrGrantNotYetApproved,
			Resource: ResourceOutgoingPayment,
			Cause:    err,
		}
	}
	if upstream.StatusCode >= http.StatusBadRequest && upstream.StatusCode < http.StatusInternalServerError {
		return &GrantError{
			Kind:        ErrGrantContinuationInvalid,
			Resource:    ResourceOutgoingPayment,
			RestartFrom: FlowOutgoingGrantRequested,
			Cause:       err,
		}
	}
	return &GrantError{
		Kind:     ErrGrantRequestFailed,
		Resource: ResourceOutgoingPayment,
		Cause:    err,
	}
}

// continuationReusable reports whether the handle used for a failed continue
// call may be tried again later.
func continuationReusable(err error) bool {
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		return false
	}
	return strings.TrimSpace(upstream.Code) == gnapErrorTooFast
}

func cloneAccessSpec(spec AccessSpec) AccessSpec {
	out := AccessSpec{
		Type:       spec.Type,
		Actions:    append([]Action(nil), spec.Actions...),
		Identifier: strings.TrimSpace(spec.Identifier),
	}
	if spec.Limits != nil {
		limits := AccessLimits{}
		if spec.Limits.DebitAmount != nil {
			debit := *spec.Limits.DebitAmount
			limits.DebitAmount = &debit
		}
		if spec.Limits.ReceiveAmount != nil {
			receive := *spec.Limits.ReceiveAmount
			limits.ReceiveAmount = &receive
		}
		out.Limits = &limits
	}
	return out
}
