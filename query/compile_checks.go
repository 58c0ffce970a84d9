package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-donations/core"
)

var _ gocmd.Querier[LookupPendingDonationMessage, core.PendingDonation] = (*LookupPendingDonationQuery)(nil)
