package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ PendingGrantStore  = (*MemoryPendingGrantStore)(nil)
	_ PendingGrantPurger = (*Service)(nil)
	_ DonationService    = (*Service)(nil)

	_ Grant = FinalizedGrant{}
	_ Grant = PendingGrant{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
