package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[StartDonationMessage]      = (*StartDonationCommand)(nil)
	_ gocmd.Commander[CompleteDonationMessage]   = (*CompleteDonationCommand)(nil)
	_ gocmd.Commander[PurgePendingGrantsMessage] = (*PurgePendingGrantsCommand)(nil)
)
