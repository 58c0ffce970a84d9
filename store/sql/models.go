package sqlstore

import (
	"time"

	"github.com/goliatone/go-donations/core"
	"github.com/uptrace/bun"
)

type pendingGrantRecord struct {
	bun.BaseModel `bun:"table:pending_outgoing_grants,alias:pog"`

	ID                    string     `bun:"id,pk"`
	CorrelationKey        string     `bun:"correlation_key,notnull"`
	SenderWalletAddress   string     `bun:"sender_wallet_address,notnull"`
	ReceiverWalletAddress string     `bun:"receiver_wallet_address,notnull"`
	QuoteID               string     `bun:"quote_id,notnull"`
	DebitValue            string     `bun:"debit_value,notnull"`
	DebitAssetCode        string     `bun:"debit_asset_code,notnull"`
	DebitAssetScale       int        `bun:"debit_asset_scale,notnull"`
	ContinueURI           string     `bun:"continue_uri,notnull"`
	ContinueToken         []byte     `bun:"continue_token,notnull"`
	ContinueWaitSeconds   int64      `bun:"continue_wait_seconds,notnull"`
	RedirectURL           string     `bun:"redirect_url,notnull"`
	FinishClientNonce     string     `bun:"finish_client_nonce,notnull"`
	FinishServerNonce     string     `bun:"finish_server_nonce,notnull"`
	GrantEndpoint         string     `bun:"grant_endpoint,notnull"`
	ConsumedAt            *time.Time `bun:"consumed_at,nullzero"`
	CreatedAt             time.Time  `bun:"created_at,notnull"`
	ExpiresAt             time.Time  `bun:"expires_at,notnull"`
}

func newPendingGrantRecord(id string, in core.PendingOutgoingGrant, sealedToken []byte) *pendingGrantRecord {
	return &pendingGrantRecord{
		ID:                    id,
		CorrelationKey:        in.CorrelationKey,
		SenderWalletAddress:   in.SenderWalletAddress,
		ReceiverWalletAddress: in.ReceiverWalletAddress,
		QuoteID:               in.QuoteID,
		DebitValue:            in.DebitAmount.Value,
		DebitAssetCode:        in.DebitAmount.AssetCode,
		DebitAssetScale:       in.DebitAmount.AssetScale,
		ContinueURI:           in.Continuation.URI,
		ContinueToken:         sealedToken,
		ContinueWaitSeconds:   int64(in.Continuation.Wait / time.Second),
		RedirectURL:           in.RedirectURL,
		FinishClientNonce:     in.Finish.ClientNonce,
		FinishServerNonce:     in.Finish.ServerNonce,
		GrantEndpoint:         in.Finish.GrantEndpoint,
		CreatedAt:             in.CreatedAt.UTC(),
		ExpiresAt:             in.ExpiresAt.UTC(),
	}
}

// toDomain rebuilds the record with the already opened continuation token.
func (r *pendingGrantRecord) toDomain(token string) core.PendingOutgoingGrant {
	if r == nil {
		return core.PendingOutgoingGrant{}
	}
	return core.PendingOutgoingGrant{
		CorrelationKey:        r.CorrelationKey,
		SenderWalletAddress:   r.SenderWalletAddress,
		ReceiverWalletAddress: r.ReceiverWalletAddress,
		Continuation: core.Continuation{
			URI:         r.ContinueURI,
			AccessToken: token,
			Wait:        time.Duration(r.ContinueWaitSeconds) * time.Second,
		},
		QuoteID: r.QuoteID,
		DebitAmount: core.Amount{
			Value:      r.DebitValue,
			AssetCode:  r.DebitAssetCode,
			AssetScale: r.DebitAssetScale,
		},
		RedirectURL: r.RedirectURL,
		Finish: core.FinishProof{
			ClientNonce:   r.FinishClientNonce,
			ServerNonce:   r.FinishServerNonce,
			GrantEndpoint: r.GrantEndpoint,
		},
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
	}
}

// live reports whether the record can still be consumed at now.
func (r *pendingGrantRecord) live(now time.Time) bool {
	return r != nil && r.ConsumedAt == nil && now.Before(r.ExpiresAt)
}
