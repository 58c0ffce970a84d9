package api

import (
	"time"

	"github.com/goliatone/go-donations/core"
)

type startDonationBody struct {
	SenderWallet   string `json:"sender_wallet"`
	ReceiverWallet string `json:"receiver_wallet"`
	Amount         string `json:"amount"`
	DisplayAmount  string `json:"display_amount"`
	CorrelationKey string `json:"correlation_key"`
}

func (b startDonationBody) toRequest() core.StartDonationRequest {
	return core.StartDonationRequest{
		SenderWallet:   b.SenderWallet,
		ReceiverWallet: b.ReceiverWallet,
		Amount:         b.Amount,
		DisplayAmount:  b.DisplayAmount,
		CorrelationKey: b.CorrelationKey,
	}
}

type completeDonationBody struct {
	CorrelationKey string `json:"correlation_key"`
	QuoteID        string `json:"quote_id"`
	InteractRef    string `json:"interact_ref"`
}

func (b completeDonationBody) toRequest() core.CompleteDonationRequest {
	return core.CompleteDonationRequest{
		CorrelationKey:  b.CorrelationKey,
		ExpectedQuoteID: b.QuoteID,
		InteractRef:     b.InteractRef,
	}
}

type startDonationResponse struct {
	CorrelationKey    string                    `json:"correlation_key"`
	RedirectURL       string                    `json:"redirect_url,omitempty"`
	IncomingPaymentID string                    `json:"incoming_payment_id,omitempty"`
	QuoteID           string                    `json:"quote_id"`
	DebitAmount       core.Amount               `json:"debit_amount"`
	ExpiresAt         *time.Time                `json:"expires_at,omitempty"`
	Completed         bool                      `json:"completed"`
	Payment           *completeDonationResponse `json:"payment,omitempty"`
}

func newStartDonationResponse(result core.StartDonationResult) startDonationResponse {
	out := startDonationResponse{
		CorrelationKey:    result.CorrelationKey,
		RedirectURL:       result.RedirectURL,
		IncomingPaymentID: result.IncomingPaymentID,
		QuoteID:           result.QuoteID,
		DebitAmount:       result.DebitAmount,
		Completed:         result.Completed,
	}
	if !result.ExpiresAt.IsZero() {
		expiresAt := result.ExpiresAt
		out.ExpiresAt = &expiresAt
	}
	if result.Payment != nil {
		payment := newCompleteDonationResponse(*result.Payment)
		out.Payment = &payment
	}
	return out
}

type completeDonationResponse struct {
	CorrelationKey    string      `json:"correlation_key"`
	OutgoingPaymentID string      `json:"outgoing_payment_id"`
	QuoteID           string      `json:"quote_id"`
	DebitAmount       core.Amount `json:"debit_amount"`
}

func newCompleteDonationResponse(result core.CompleteDonationResult) completeDonationResponse {
	return completeDonationResponse{
		CorrelationKey:    result.CorrelationKey,
		OutgoingPaymentID: result.OutgoingPaymentID,
		QuoteID:           result.QuoteID,
		DebitAmount:       result.DebitAmount,
	}
}

type pendingDonationResponse struct {
	CorrelationKey string      `json:"correlation_key"`
	SenderWallet   string      `json:"sender_wallet"`
	RedirectURL    string      `json:"redirect_url"`
	QuoteID        string      `json:"quote_id"`
	DebitAmount    core.Amount `json:"debit_amount"`
	CreatedAt      time.Time   `json:"created_at"`
	ExpiresAt      time.Time   `json:"expires_at"`
}

func newPendingDonationResponse(pending core.PendingDonation) pendingDonationResponse {
	return pendingDonationResponse{
		CorrelationKey: pending.CorrelationKey,
		SenderWallet:   pending.SenderWalletAddress,
		RedirectURL:    pending.RedirectURL,
		QuoteID:        pending.QuoteID,
		DebitAmount:    pending.DebitAmount,
		CreatedAt:      pending.CreatedAt,
		ExpiresAt:      pending.ExpiresAt,
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	TextCode  string         `json:"text_code"`
	Message   string         `json:"message"`
	Step      string         `json:"step,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
