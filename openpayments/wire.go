package openpayments

import (
	"strings"
	"time"

	"github.com/goliatone/go-donations/core"
)

// Wallet address documents and resources use camelCase keys. GNAP grant
// messages use snake_case.

type walletAddressDocument struct {
	ID             string `json:"id"`
	PublicName     string `json:"publicName"`
	AssetCode      string `json:"assetCode"`
	AssetScale     int    `json:"assetScale"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
}

func (d walletAddressDocument) toDomain() core.WalletInfo {
	return core.WalletInfo{
		ID:                d.ID,
		PublicName:        d.PublicName,
		AuthServerURL:     d.AuthServer,
		ResourceServerURL: d.ResourceServer,
		AssetCode:         d.AssetCode,
		AssetScale:        d.AssetScale,
	}
}

type grantRequestBody struct {
	AccessToken grantAccessTokenRequest `json:"access_token"`
	Client      string                  `json:"client"`
	Interact    *interactRequest        `json:"interact,omitempty"`
}

type grantAccessTokenRequest struct {
	Access []accessItem `json:"access"`
}

type accessItem struct {
	Type       string        `json:"type"`
	Actions    []string      `json:"actions"`
	Identifier string        `json:"identifier,omitempty"`
	Limits     *accessLimits `json:"limits,omitempty"`
}

type accessLimits struct {
	DebitAmount   *core.Amount `json:"debitAmount,omitempty"`
	ReceiveAmount *core.Amount `json:"receiveAmount,omitempty"`
}

type interactRequest struct {
	Start  []string        `json:"start"`
	Finish *interactFinish `json:"finish,omitempty"`
}

type interactFinish struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
	Nonce  string `json:"nonce"`
}

func newGrantRequestBody(client string, req core.GrantRequest) grantRequestBody {
	body := grantRequestBody{
		AccessToken: grantAccessTokenRequest{Access: make([]accessItem, 0, len(req.Access))},
		Client:      client,
	}
	for _, spec := range req.Access {
		item := accessItem{
			Type:       string(spec.Type),
			Actions:    make([]string, 0, len(spec.Actions)),
			Identifier: strings.TrimSpace(spec.Identifier),
		}
		for _, action := range spec.Actions {
			item.Actions = append(item.Actions, string(action))
		}
		if spec.Limits != nil && (spec.Limits.DebitAmount != nil || spec.Limits.ReceiveAmount != nil) {
			item.Limits = &accessLimits{
				DebitAmount:   spec.Limits.DebitAmount,
				ReceiveAmount: spec.Limits.ReceiveAmount,
			}
		}
		body.AccessToken.Access = append(body.AccessToken.Access, item)
	}
	if req.Interactive {
		body.Interact = &interactRequest{Start: []string{"redirect"}}
		if req.Finish != nil {
			body.Interact.Finish = &interactFinish{
				Method: req.Finish.Method,
				URI:    req.Finish.URI,
				Nonce:  req.Finish.Nonce,
			}
		}
	}
	return body
}

type grantResponseBody struct {
	AccessToken *struct {
		Value     string `json:"value"`
		Manage    string `json:"manage"`
		ExpiresIn int64  `json:"expires_in"`
	} `json:"access_token"`
	Interact *struct {
		Redirect string `json:"redirect"`
		Finish   string `json:"finish"`
	} `json:"interact"`
	Continue *struct {
		AccessToken struct {
			Value string `json:"value"`
		} `json:"access_token"`
		URI  string `json:"uri"`
		Wait int64  `json:"wait"`
	} `json:"continue"`
}

func (b grantResponseBody) toDomain() core.GrantResponse {
	var out core.GrantResponse
	if b.AccessToken != nil {
		out.AccessToken = &core.GrantAccessToken{
			Value:     b.AccessToken.Value,
			ManageURI: b.AccessToken.Manage,
			ExpiresIn: b.AccessToken.ExpiresIn,
		}
	}
	if b.Interact != nil {
		out.Interact = &core.GrantInteraction{Redirect: b.Interact.Redirect, Finish: b.Interact.Finish}
	}
	if b.Continue != nil {
		out.Continue = &core.GrantContinue{
			URI:         b.Continue.URI,
			AccessToken: b.Continue.AccessToken.Value,
			Wait:        b.Continue.Wait,
		}
	}
	return out
}

type continueRequestBody struct {
	InteractRef string `json:"interact_ref,omitempty"`
}

type incomingPaymentRequest struct {
	WalletAddress  string         `json:"walletAddress"`
	IncomingAmount *core.Amount   `json:"incomingAmount,omitempty"`
	ExpiresAt      *time.Time     `json:"expiresAt,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type incomingPaymentResponse struct {
	ID             string       `json:"id"`
	WalletAddress  string       `json:"walletAddress"`
	IncomingAmount *core.Amount `json:"incomingAmount"`
	ReceivedAmount *core.Amount `json:"receivedAmount"`
	Completed      bool         `json:"completed"`
	ExpiresAt      *time.Time   `json:"expiresAt"`
	CreatedAt      time.Time    `json:"createdAt"`
}

func (r incomingPaymentResponse) toDomain() core.IncomingPayment {
	return core.IncomingPayment{
		ID:             r.ID,
		WalletAddress:  r.WalletAddress,
		IncomingAmount: r.IncomingAmount,
		ReceivedAmount: r.ReceivedAmount,
		Completed:      r.Completed,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
	}
}

type quoteRequest struct {
	WalletAddress string `json:"walletAddress"`
	Receiver      string `json:"receiver"`
	Method        string `json:"method"`
}

type quoteResponse struct {
	ID            string      `json:"id"`
	WalletAddress string      `json:"walletAddress"`
	Receiver      string      `json:"receiver"`
	Method        string      `json:"method"`
	DebitAmount   core.Amount `json:"debitAmount"`
	ReceiveAmount core.Amount `json:"receiveAmount"`
	ExpiresAt     *time.Time  `json:"expiresAt"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func (r quoteResponse) toDomain() core.Quote {
	return core.Quote{
		ID:            r.ID,
		WalletAddress: r.WalletAddress,
		ReceiverID:    r.Receiver,
		Method:        r.Method,
		DebitAmount:   r.DebitAmount,
		ReceiveAmount: r.ReceiveAmount,
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
	}
}

type outgoingPaymentRequest struct {
	WalletAddress string         `json:"walletAddress"`
	QuoteID       string         `json:"quoteId"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type outgoingPaymentResponse struct {
	ID            string      `json:"id"`
	WalletAddress string      `json:"walletAddress"`
	QuoteID       string      `json:"quoteId"`
	Receiver      string      `json:"receiver"`
	DebitAmount   core.Amount `json:"debitAmount"`
	ReceiveAmount core.Amount `json:"receiveAmount"`
	SentAmount    core.Amount `json:"sentAmount"`
	Failed        bool        `json:"failed"`
	CreatedAt     time.Time   `json:"createdAt"`
}

func (r outgoingPaymentResponse) toDomain() core.OutgoingPayment {
	return core.OutgoingPayment{
		ID:            r.ID,
		WalletAddress: r.WalletAddress,
		QuoteID:       r.QuoteID,
		ReceiverID:    r.Receiver,
		DebitAmount:   r.DebitAmount,
		ReceiveAmount: r.ReceiveAmount,
		SentAmount:    r.SentAmount,
		Failed:        r.Failed,
		CreatedAt:     r.CreatedAt,
	}
}
