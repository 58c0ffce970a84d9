package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-donations/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	flowSender   = "https://wallet.example/alice"
	flowReceiver = "https://wallet.example/charity"
	flowSenderAS = "https://auth.wallet.example/alice"
)

// flowPaymentsClient answers every call successfully. Outgoing payment grants
// always need interaction and carry a server finish nonce.
type flowPaymentsClient struct {
	mu           sync.Mutex
	clientNonces []string
	continues    int
	nextID       int
}

func (c *flowPaymentsClient) GetWalletAddress(_ context.Context, address string) (core.WalletInfo, error) {
	return core.WalletInfo{
		ID:                address,
		AuthServerURL:     flowSenderAS,
		ResourceServerURL: address + "/rs",
		AssetCode:         "USD",
		AssetScale:        2,
	}, nil
}

func (c *flowPaymentsClient) RequestGrant(_ context.Context, _ string, req core.GrantRequest) (core.GrantResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(req.Access) == 0 || req.Access[0].Type != core.ResourceOutgoingPayment {
		return core.GrantResponse{AccessToken: &core.GrantAccessToken{Value: "token"}}, nil
	}
	if req.Finish != nil {
		c.clientNonces = append(c.clientNonces, req.Finish.Nonce)
	}
	c.nextID++
	return core.GrantResponse{
		Interact: &core.GrantInteraction{
			Redirect: fmt.Sprintf("https://auth.wallet.example/interact/%d", c.nextID),
			Finish:   "server-nonce",
		},
		Continue: &core.GrantContinue{URI: "https://auth.wallet.example/continue", AccessToken: "continue-token"},
	}, nil
}

func (c *flowPaymentsClient) ContinueGrant(context.Context, core.ContinueGrantRequest) (core.GrantResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.continues++
	return core.GrantResponse{AccessToken: &core.GrantAccessToken{Value: "outgoing-token"}}, nil
}

func (c *flowPaymentsClient) CreateIncomingPayment(_ context.Context, rs string, _ string, in core.IncomingPaymentInput) (core.IncomingPayment, error) {
	return core.IncomingPayment{ID: c.id(rs, "incoming-payments"), WalletAddress: in.WalletAddress, IncomingAmount: in.IncomingAmount}, nil
}

func (c *flowPaymentsClient) CreateQuote(_ context.Context, rs string, _ string, in core.QuoteInput) (core.Quote, error) {
	return core.Quote{
		ID:            c.id(rs, "quotes"),
		WalletAddress: in.WalletAddress,
		ReceiverID:    in.Receiver,
		Method:        in.Method,
		DebitAmount:   core.Amount{Value: "1025", AssetCode: "USD", AssetScale: 2},
		ReceiveAmount: core.Amount{Value: "1000", AssetCode: "USD", AssetScale: 2},
	}, nil
}

func (c *flowPaymentsClient) CreateOutgoingPayment(_ context.Context, rs string, _ string, in core.OutgoingPaymentInput) (core.OutgoingPayment, error) {
	return core.OutgoingPayment{ID: c.id(rs, "outgoing-payments"), WalletAddress: in.WalletAddress, QuoteID: in.QuoteID}, nil
}

func (c *flowPaymentsClient) id(rs, kind string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return fmt.Sprintf("%s/%s/%d", rs, kind, c.nextID)
}

func (c *flowPaymentsClient) lastClientNonce() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.clientNonces) == 0 {
		return ""
	}
	return c.clientNonces[len(c.clientNonces)-1]
}

func newFlowServer(t *testing.T) (*Server, *flowPaymentsClient) {
	t.Helper()
	client := &flowPaymentsClient{}
	cfg := core.DefaultConfig()
	cfg.InteractFinishURI = "https://donate.example/donations/finish"
	svc, err := core.NewService(cfg,
		core.WithPaymentsClient(client),
		core.WithPendingGrantStore(core.NewMemoryPendingGrantStore(time.Hour)),
	)
	require.NoError(t, err)
	server, err := NewServer(svc, Config{})
	require.NoError(t, err)
	return server, client
}

func startFlow(t *testing.T, server *Server) startDonationResponse {
	t.Helper()
	rec := serve(server, http.MethodPost, "/donations",
		fmt.Sprintf(`{"sender_wallet":%q,"receiver_wallet":%q}`, flowSender, flowReceiver))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body startDonationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.RedirectURL)
	return body
}

func TestFinishRedirect_RejectedDonationCanRestart(t *testing.T) {
	server, client := newFlowServer(t)

	started := startFlow(t, server)
	rec := serve(server, http.MethodPost, "/donations",
		fmt.Sprintf(`{"sender_wallet":%q,"receiver_wallet":%q}`, flowSender, flowReceiver))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, core.DonationErrorPendingGrantExists, decodeError(t, rec).TextCode)

	finish := "/donations/finish?result=grant_rejected&key=" + url.QueryEscape(started.CorrelationKey)
	rec = serve(server, http.MethodGet, finish, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, core.DonationErrorGrantRejected, detail.TextCode)
	assert.Equal(t, "start", detail.Metadata["restart_from"])

	rec = serve(server, http.MethodGet, "/donations/pending?key="+url.QueryEscape(started.CorrelationKey), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A replayed rejection redirect reports the same outcome.
	rec = serve(server, http.MethodGet, finish, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, core.DonationErrorGrantRejected, decodeError(t, rec).TextCode)

	restarted := startFlow(t, server)
	assert.Equal(t, started.CorrelationKey, restarted.CorrelationKey)
	assert.NotEqual(t, started.RedirectURL, restarted.RedirectURL)
	assert.Equal(t, 0, client.continues)
}

func TestFinishRedirect_VerifiesInteractHash(t *testing.T) {
	server, client := newFlowServer(t)

	started := startFlow(t, server)
	proof := core.FinishProof{
		ClientNonce:   client.lastClientNonce(),
		ServerNonce:   "server-nonce",
		GrantEndpoint: flowSenderAS,
	}
	finish := func(ref, hash string) string {
		query := url.Values{}
		query.Set("key", started.CorrelationKey)
		query.Set("interact_ref", ref)
		query.Set("hash", hash)
		return "/donations/finish?" + query.Encode()
	}

	rec := serve(server, http.MethodGet, finish("ref-1", core.InteractHash(proof, "ref-other")), "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, core.DonationErrorInteractHashMismatch, decodeError(t, rec).TextCode)
	assert.Equal(t, 0, client.continues)

	rec = serve(server, http.MethodGet, finish("ref-1", core.InteractHash(proof, "ref-1")), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body completeDonationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.OutgoingPaymentID)
	assert.Equal(t, 1, client.continues)
}
