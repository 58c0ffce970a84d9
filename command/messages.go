package command

import (
	"strings"

	"github.com/goliatone/go-donations/core"
)

const (
	TypeStartDonation      = "donations.command.donation.start"
	TypeCompleteDonation   = "donations.command.donation.complete"
	TypePurgePendingGrants = "donations.command.pending_grants.purge"
)

type StartDonationMessage struct {
	Request core.StartDonationRequest
}

func (StartDonationMessage) Type() string { return TypeStartDonation }

// Validate only checks presence; wallet and amount syntax are the service's
// concern so the error taxonomy stays in one place.
func (m StartDonationMessage) Validate() error {
	if strings.TrimSpace(m.Request.SenderWallet) == "" {
		return commandValidationError("sender_wallet", "sender wallet is required")
	}
	return nil
}

type CompleteDonationMessage struct {
	Request core.CompleteDonationRequest
}

func (CompleteDonationMessage) Type() string { return TypeCompleteDonation }

func (m CompleteDonationMessage) Validate() error {
	if strings.TrimSpace(m.Request.CorrelationKey) == "" {
		return commandValidationError("correlation_key", "correlation key is required")
	}
	return nil
}

type PurgePendingGrantsMessage struct{}

func (PurgePendingGrantsMessage) Type() string { return TypePurgePendingGrants }
