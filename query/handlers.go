package query

import (
	"context"

	"github.com/goliatone/go-donations/core"
)

type PendingDonationReader interface {
	LookupPendingDonation(ctx context.Context, correlationKey string) (core.PendingDonation, error)
}

type LookupPendingDonationQuery struct {
	reader PendingDonationReader
}

func NewLookupPendingDonationQuery(reader PendingDonationReader) *LookupPendingDonationQuery {
	return &LookupPendingDonationQuery{reader: reader}
}

func (q *LookupPendingDonationQuery) Query(
	ctx context.Context,
	msg LookupPendingDonationMessage,
) (core.PendingDonation, error) {
	if q == nil || q.reader == nil {
		return core.PendingDonation{}, queryDependencyError("query: pending donation reader is required")
	}
	return q.reader.LookupPendingDonation(ctx, msg.CorrelationKey)
}
