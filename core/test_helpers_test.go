package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testSenderWallet   = "https://wallet.example/alice"
	testReceiverWallet = "https://wallet.example/charity"
	testSenderAuth     = "https://auth.wallet.example/alice"
	testReceiverAuth   = "https://auth.wallet.example/charity"
	testSenderRS       = "https://rs.wallet.example/alice"
	testReceiverRS     = "https://rs.wallet.example/charity"
	testRedirectURL    = "https://auth.wallet.example/interact/abc"
	testContinueURI    = "https://auth.wallet.example/continue/abc"
)

// stubPaymentsClient scripts a payments network. Grant responses are queued
// per resource type and continuation responses are consumed in order.
type stubPaymentsClient struct {
	mu sync.Mutex

	wallets    map[string]WalletInfo
	walletErrs map[string]error

	grantResponses map[ResourceType][]GrantResponse
	grantErrs      map[ResourceType]error
	continues      []continueOutcome

	incomingErr error
	quoteErr    error
	outgoingErr error
	quoteDebit  Amount

	calls            []string
	walletLookups    []string
	grantRequests    []GrantRequest
	grantAuthServers []string
	continueRequests []ContinueGrantRequest
	incomingInputs   []IncomingPaymentInput
	quoteInputs      []QuoteInput
	outgoingInputs   []OutgoingPaymentInput
	outgoingTokens   []string
	outgoingServers  []string
	nextID           int
}

type continueOutcome struct {
	response GrantResponse
	err      error
}

func newStubPaymentsClient() *stubPaymentsClient {
	return &stubPaymentsClient{
		wallets: map[string]WalletInfo{
			testSenderWallet: {
				ID:                testSenderWallet,
				PublicName:        "Alice",
				AuthServerURL:     testSenderAuth,
				ResourceServerURL: testSenderRS,
				AssetCode:         "USD",
				AssetScale:        2,
			},
			testReceiverWallet: {
				ID:                testReceiverWallet,
				PublicName:        "Charity",
				AuthServerURL:     testReceiverAuth,
				ResourceServerURL: testReceiverRS,
				AssetCode:         "USD",
				AssetScale:        2,
			},
		},
		walletErrs: map[string]error{},
		grantResponses: map[ResourceType][]GrantResponse{
			ResourceIncomingPayment: {finalizedResponse("incoming-token")},
			ResourceQuote:           {finalizedResponse("quote-token")},
			ResourceOutgoingPayment: {pendingResponse(testRedirectURL, testContinueURI, "continue-token")},
		},
		grantErrs:  map[ResourceType]error{},
		continues:  []continueOutcome{{response: finalizedResponse("outgoing-token")}},
		quoteDebit: Amount{Value: "1025", AssetCode: "USD", AssetScale: 2},
	}
}

func finalizedResponse(token string) GrantResponse {
	return GrantResponse{AccessToken: &GrantAccessToken{Value: token, ManageURI: "https://auth.wallet.example/token/" + token}}
}

func pendingResponse(redirect string, continueURI string, continueToken string) GrantResponse {
	resp := GrantResponse{Continue: &GrantContinue{URI: continueURI, AccessToken: continueToken, Wait: 5}}
	if redirect != "" {
		resp.Interact = &GrantInteraction{Redirect: redirect}
	}
	return resp
}

func gnapError(status int, code string) error {
	return &UpstreamError{Operation: "continue grant", StatusCode: status, Code: code, Body: fmt.Sprintf(`{"error":{"code":%q}}`, code)}
}

func (c *stubPaymentsClient) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *stubPaymentsClient) GetWalletAddress(_ context.Context, url string) (WalletInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("wallet")
	c.walletLookups = append(c.walletLookups, url)
	if err := c.walletErrs[url]; err != nil {
		return WalletInfo{}, err
	}
	info, ok := c.wallets[url]
	if !ok {
		return WalletInfo{}, &UpstreamError{Operation: "get wallet address", URL: url, StatusCode: http.StatusNotFound}
	}
	return info, nil
}

func (c *stubPaymentsClient) RequestGrant(_ context.Context, authServerURL string, req GrantRequest) (GrantResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	resource := ResourceType("")
	if len(req.Access) > 0 {
		resource = req.Access[0].Type
	}
	c.record("grant:" + string(resource))
	c.grantRequests = append(c.grantRequests, req)
	c.grantAuthServers = append(c.grantAuthServers, authServerURL)
	if err := c.grantErrs[resource]; err != nil {
		return GrantResponse{}, err
	}
	queue := c.grantResponses[resource]
	if len(queue) == 0 {
		return GrantResponse{}, fmt.Errorf("stub: no grant response scripted for %s", resource)
	}
	resp := queue[0]
	if len(queue) > 1 {
		c.grantResponses[resource] = queue[1:]
	}
	return resp, nil
}

func (c *stubPaymentsClient) ContinueGrant(_ context.Context, req ContinueGrantRequest) (GrantResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("continue")
	c.continueRequests = append(c.continueRequests, req)
	if len(c.continues) == 0 {
		return GrantResponse{}, fmt.Errorf("stub: no continuation scripted")
	}
	outcome := c.continues[0]
	if len(c.continues) > 1 {
		c.continues = c.continues[1:]
	}
	return outcome.response, outcome.err
}

func (c *stubPaymentsClient) CreateIncomingPayment(_ context.Context, rs string, token string, in IncomingPaymentInput) (IncomingPayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("incoming-payment")
	c.incomingInputs = append(c.incomingInputs, in)
	if c.incomingErr != nil {
		return IncomingPayment{}, c.incomingErr
	}
	c.nextID++
	return IncomingPayment{
		ID:             fmt.Sprintf("%s/incoming-payments/%d", rs, c.nextID),
		WalletAddress:  in.WalletAddress,
		IncomingAmount: in.IncomingAmount,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func (c *stubPaymentsClient) CreateQuote(_ context.Context, rs string, token string, in QuoteInput) (Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("quote")
	c.quoteInputs = append(c.quoteInputs, in)
	if c.quoteErr != nil {
		return Quote{}, c.quoteErr
	}
	c.nextID++
	return Quote{
		ID:            fmt.Sprintf("%s/quotes/%d", rs, c.nextID),
		WalletAddress: in.WalletAddress,
		ReceiverID:    in.Receiver,
		Method:        in.Method,
		DebitAmount:   c.quoteDebit,
		ReceiveAmount: Amount{Value: "1000", AssetCode: "USD", AssetScale: 2},
	}, nil
}

func (c *stubPaymentsClient) CreateOutgoingPayment(_ context.Context, rs string, token string, in OutgoingPaymentInput) (OutgoingPayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("outgoing-payment")
	c.outgoingInputs = append(c.outgoingInputs, in)
	c.outgoingTokens = append(c.outgoingTokens, token)
	c.outgoingServers = append(c.outgoingServers, rs)
	if c.outgoingErr != nil {
		return OutgoingPayment{}, c.outgoingErr
	}
	c.nextID++
	return OutgoingPayment{
		ID:            fmt.Sprintf("%s/outgoing-payments/%d", rs, c.nextID),
		WalletAddress: in.WalletAddress,
		QuoteID:       in.QuoteID,
		DebitAmount:   c.quoteDebit,
	}, nil
}

func (c *stubPaymentsClient) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *stubPaymentsClient) countCalls(prefix string) int {
	count := 0
	for _, call := range c.callLog() {
		if strings.HasPrefix(call, prefix) {
			count++
		}
	}
	return count
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serviceFixture struct {
	svc    *Service
	client *stubPaymentsClient
	store  *MemoryPendingGrantStore
	clock  *fixedClock
}

func newServiceFixture(t *testing.T, cfg Config, opts ...Option) serviceFixture {
	t.Helper()
	client := newStubPaymentsClient()
	clock := newFixedClock()
	store := NewMemoryPendingGrantStore(time.Hour)
	store.Now = clock.Now

	base := []Option{
		WithPaymentsClient(client),
		WithPendingGrantStore(store),
		WithClock(clock.Now),
	}
	svc, err := NewService(cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return serviceFixture{svc: svc, client: client, store: store, clock: clock}
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}
