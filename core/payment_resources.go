package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// QuoteMethodILP is the on-ledger payment method used for every quote.
const QuoteMethodILP = "ilp"

// PaymentResourceFactory creates incoming payments, quotes and outgoing
// payments. It performs no unit conversion and no grant inspection.
type PaymentResourceFactory struct {
	client PaymentsClient
}

func NewPaymentResourceFactory(client PaymentsClient) *PaymentResourceFactory {
	return &PaymentResourceFactory{client: client}
}

func (f *PaymentResourceFactory) CreateIncomingPayment(
	ctx context.Context,
	resourceServerURL string,
	accessToken string,
	walletID string,
	incomingAmount Amount,
) (IncomingPayment, error) {
	if err := f.validate(resourceServerURL, accessToken, ResourceIncomingPayment); err != nil {
		return IncomingPayment{}, err
	}
	amount := incomingAmount
	payment, err := f.client.CreateIncomingPayment(ctx, strings.TrimSpace(resourceServerURL), accessToken, IncomingPaymentInput{
		WalletAddress:  strings.TrimSpace(walletID),
		IncomingAmount: &amount,
	})
	if err != nil {
		return IncomingPayment{}, resourceCreationFailed(ResourceIncomingPayment, err)
	}
	if strings.TrimSpace(payment.ID) == "" {
		return IncomingPayment{}, resourceCreationFailed(ResourceIncomingPayment, fmt.Errorf("response has no id"))
	}
	return payment, nil
}

func (f *PaymentResourceFactory) CreateQuote(
	ctx context.Context,
	resourceServerURL string,
	accessToken string,
	sendingWalletID string,
	incomingPaymentID string,
) (Quote, error) {
	if err := f.validate(resourceServerURL, accessToken, ResourceQuote); err != nil {
		return Quote{}, err
	}
	quote, err := f.client.CreateQuote(ctx, strings.TrimSpace(resourceServerURL), accessToken, QuoteInput{
		WalletAddress: strings.TrimSpace(sendingWalletID),
		Receiver:      strings.TrimSpace(incomingPaymentID),
		Method:        QuoteMethodILP,
	})
	if err != nil {
		return Quote{}, resourceCreationFailed(ResourceQuote, err)
	}
	if strings.TrimSpace(quote.ID) == "" {
		return Quote{}, resourceCreationFailed(ResourceQuote, fmt.Errorf("response has no id"))
	}
	if strings.TrimSpace(quote.DebitAmount.Value) == "" {
		return Quote{}, resourceCreationFailed(ResourceQuote, fmt.Errorf("response has no debitAmount"))
	}
	return quote, nil
}

// CreateOutgoingPayment must only be given a token from a finalized
// outgoing-payment grant.
func (f *PaymentResourceFactory) CreateOutgoingPayment(
	ctx context.Context,
	resourceServerURL string,
	accessToken string,
	sendingWalletID string,
	quoteID string,
) (OutgoingPayment, error) {
	if err := f.validate(resourceServerURL, accessToken, ResourceOutgoingPayment); err != nil {
		return OutgoingPayment{}, err
	}
	payment, err := f.client.CreateOutgoingPayment(ctx, strings.TrimSpace(resourceServerURL), accessToken, OutgoingPaymentInput{
		WalletAddress: strings.TrimSpace(sendingWalletID),
		QuoteID:       strings.TrimSpace(quoteID),
	})
	if err != nil {
		return OutgoingPayment{}, resourceCreationFailed(ResourceOutgoingPayment, err)
	}
	if strings.TrimSpace(payment.ID) == "" {
		return OutgoingPayment{}, resourceCreationFailed(ResourceOutgoingPayment, fmt.Errorf("response has no id"))
	}
	return payment, nil
}

func (f *PaymentResourceFactory) validate(resourceServerURL string, accessToken string, resource ResourceType) error {
	if f == nil || f.client == nil {
		return fmt.Errorf("core: payment resource factory is not configured")
	}
	if strings.TrimSpace(resourceServerURL) == "" {
		return resourceCreationFailed(resource, fmt.Errorf("resource server url is required"))
	}
	if strings.TrimSpace(accessToken) == "" {
		return resourceCreationFailed(resource, fmt.Errorf("access token is required"))
	}
	return nil
}

func resourceCreationFailed(resource ResourceType, err error) error {
	out := &ResourceCreationError{Resource: resource, Cause: err}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		out.HTTPStatus = upstream.StatusCode
		out.Body = upstream.Body
	}
	return out
}
