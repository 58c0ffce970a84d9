package sqlstore

import "github.com/goliatone/go-donations/core"

var (
	_ core.PendingGrantStore         = (*PendingGrantStore)(nil)
	_ core.PendingGrantStoreProvider = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory    = (*RepositoryFactory)(nil)
)
