package query

import (
	"strings"
)

const TypeLookupPendingDonation = "donations.query.pending_donation.lookup"

type LookupPendingDonationMessage struct {
	CorrelationKey string
}

func (LookupPendingDonationMessage) Type() string { return TypeLookupPendingDonation }

func (m LookupPendingDonationMessage) Validate() error {
	if strings.TrimSpace(m.CorrelationKey) == "" {
		return queryValidationError("correlation_key", "correlation key is required")
	}
	return nil
}
