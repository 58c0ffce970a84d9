package core

import (
	"strings"
	"time"
)

type ResourceType string

const (
	ResourceIncomingPayment ResourceType = "incoming-payment"
	ResourceQuote           ResourceType = "quote"
	ResourceOutgoingPayment ResourceType = "outgoing-payment"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionRead     Action = "read"
	ActionComplete Action = "complete"
)

// WalletInfo is a snapshot of a wallet address document. It is fetched fresh
// for every flow run and never cached.
type WalletInfo struct {
	ID                string
	PublicName        string
	AuthServerURL     string
	ResourceServerURL string
	AssetCode         string
	AssetScale        int
}

// Amount is an integer value in the minor units of the asset.
type Amount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale int    `json:"assetScale"`
}

func (a Amount) IsZero() bool {
	return strings.TrimSpace(a.Value) == "" && strings.TrimSpace(a.AssetCode) == ""
}

type AccessLimits struct {
	DebitAmount   *Amount
	ReceiveAmount *Amount
}

// AccessSpec is one entry of the access list requested in a grant.
type AccessSpec struct {
	Type       ResourceType
	Actions    []Action
	Limits     *AccessLimits
	Identifier string
}

// Continuation is the handle needed to resume a pending grant.
type Continuation struct {
	URI         string
	AccessToken string
	Wait        time.Duration
}

func (c Continuation) Valid() bool {
	return strings.TrimSpace(c.URI) != "" && strings.TrimSpace(c.AccessToken) != ""
}

type GrantKind string

const (
	GrantKindFinalized GrantKind = "finalized"
	GrantKindPending   GrantKind = "pending"
)

// Grant is a closed set: FinalizedGrant or PendingGrant. Callers must switch on
// the concrete type before reading any field.
type Grant interface {
	Kind() GrantKind
	sealedGrant()
}

type FinalizedGrant struct {
	AccessToken string
	ManageURI   string
	ExpiresIn   time.Duration
}

func (FinalizedGrant) Kind() GrantKind { return GrantKindFinalized }
func (FinalizedGrant) sealedGrant()    {}

type PendingGrant struct {
	RedirectURL  string
	Continuation Continuation
	Finish       FinishProof
}

func (PendingGrant) Kind() GrantKind { return GrantKindPending }
func (PendingGrant) sealedGrant()    {}

type IncomingPayment struct {
	ID             string
	WalletAddress  string
	IncomingAmount *Amount
	ReceivedAmount *Amount
	Completed      bool
	ExpiresAt      *time.Time
	CreatedAt      time.Time
}

type Quote struct {
	ID            string
	WalletAddress string
	ReceiverID    string
	Method        string
	DebitAmount   Amount
	ReceiveAmount Amount
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

type OutgoingPayment struct {
	ID            string
	WalletAddress string
	QuoteID       string
	ReceiverID    string
	DebitAmount   Amount
	ReceiveAmount Amount
	SentAmount    Amount
	Failed        bool
	CreatedAt     time.Time
}

// PendingOutgoingGrant is the only record persisted across the approval
// suspension. It is created once, consumed once, and never reused.
type PendingOutgoingGrant struct {
	CorrelationKey        string
	SenderWalletAddress   string
	ReceiverWalletAddress string
	Continuation          Continuation
	QuoteID               string
	DebitAmount           Amount
	RedirectURL           string
	Finish                FinishProof
	CreatedAt             time.Time
	ExpiresAt             time.Time
}

func (r PendingOutgoingGrant) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// FlowState names each step of the donation state machine.
type FlowState string

const (
	FlowStart                           FlowState = "start"
	FlowWalletsResolved                 FlowState = "wallets_resolved"
	FlowIncomingGrantObtained           FlowState = "incoming_grant_obtained"
	FlowIncomingPaymentCreated          FlowState = "incoming_payment_created"
	FlowQuoteGrantObtained              FlowState = "quote_grant_obtained"
	FlowQuoteCreated                    FlowState = "quote_created"
	FlowOutgoingGrantRequested          FlowState = "outgoing_grant_requested"
	FlowOutgoingGrantFinalized          FlowState = "outgoing_grant_finalized"
	FlowOutgoingGrantPendingInteraction FlowState = "outgoing_grant_pending_interaction"
	FlowOutgoingGrantContinued          FlowState = "outgoing_grant_continued"
	FlowOutgoingPaymentCreated          FlowState = "outgoing_payment_created"
	FlowDone                            FlowState = "done"
)

type CorrelationKeyMode string

const (
	CorrelationKeyWallet CorrelationKeyMode = "wallet"
	CorrelationKeyFlow   CorrelationKeyMode = "flow"
)

type StartDonationRequest struct {
	SenderWallet   string
	ReceiverWallet string
	// Amount is already expressed in minor units of the receiving asset.
	Amount string
	// DisplayAmount is a decimal amount ("10.00") converted once using the
	// receiving wallet's asset scale. Ignored when Amount is set.
	DisplayAmount  string
	CorrelationKey string
}

type StartDonationResult struct {
	CorrelationKey    string
	RedirectURL       string
	IncomingPaymentID string
	QuoteID           string
	DebitAmount       Amount
	ExpiresAt         time.Time
	// Completed is set when the outgoing grant was finalized without
	// interaction and the outgoing payment already exists.
	Completed bool
	Payment   *CompleteDonationResult
}

type CompleteDonationRequest struct {
	CorrelationKey  string
	ExpectedQuoteID string
	InteractRef     string
	// InteractHash is the hash query parameter of the finish redirect. It is
	// checked against the stored nonces when VerifyInteractHash is set.
	InteractHash       string
	VerifyInteractHash bool
}

type CompleteDonationResult struct {
	CorrelationKey    string
	OutgoingPaymentID string
	QuoteID           string
	DebitAmount       Amount
}

type PendingDonation struct {
	CorrelationKey      string
	SenderWalletAddress string
	RedirectURL         string
	QuoteID             string
	DebitAmount         Amount
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

func pendingDonationFromRecord(record PendingOutgoingGrant) PendingDonation {
	return PendingDonation{
		CorrelationKey:      record.CorrelationKey,
		SenderWalletAddress: record.SenderWalletAddress,
		RedirectURL:         record.RedirectURL,
		QuoteID:             record.QuoteID,
		DebitAmount:         record.DebitAmount,
		CreatedAt:           record.CreatedAt,
		ExpiresAt:           record.ExpiresAt,
	}
}

type PurgeResult struct {
	Purged int
	RanAt  time.Time
}
