package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// InteractFinish asks the authorization server to redirect the donor back to
// URI once the interaction ends.
type InteractFinish struct {
	Method string
	URI    string
	Nonce  string
}

type GrantRequest struct {
	Access      []AccessSpec
	Interactive bool
	Finish      *InteractFinish
}

type GrantAccessToken struct {
	Value     string
	ManageURI string
	ExpiresIn int64
}

type GrantInteraction struct {
	Redirect string
	Finish   string
}

type GrantContinue struct {
	URI         string
	AccessToken string
	Wait        int64
}

// GrantResponse is the unclassified shape returned by an authorization server.
// Only GrantCoordinator reads it.
type GrantResponse struct {
	AccessToken *GrantAccessToken
	Interact    *GrantInteraction
	Continue    *GrantContinue
}

type ContinueGrantRequest struct {
	URI         string
	AccessToken string
	InteractRef string
}

type IncomingPaymentInput struct {
	WalletAddress  string
	IncomingAmount *Amount
	ExpiresAt      *time.Time
	Metadata       map[string]any
}

type QuoteInput struct {
	WalletAddress string
	Receiver      string
	Method        string
}

type OutgoingPaymentInput struct {
	WalletAddress string
	QuoteID       string
	Metadata      map[string]any
}

// PaymentsClient is the already-authenticated payments network client.
// Failures that carry an upstream HTTP response are reported as *UpstreamError.
type PaymentsClient interface {
	GetWalletAddress(ctx context.Context, url string) (WalletInfo, error)
	RequestGrant(ctx context.Context, authServerURL string, req GrantRequest) (GrantResponse, error)
	ContinueGrant(ctx context.Context, req ContinueGrantRequest) (GrantResponse, error)
	CreateIncomingPayment(ctx context.Context, resourceServerURL string, accessToken string, in IncomingPaymentInput) (IncomingPayment, error)
	CreateQuote(ctx context.Context, resourceServerURL string, accessToken string, in QuoteInput) (Quote, error)
	CreateOutgoingPayment(ctx context.Context, resourceServerURL string, accessToken string, in OutgoingPaymentInput) (OutgoingPayment, error)
}

// PendingGrantStore holds pending outgoing grants between the two halves of a
// donation. Put fences against overwriting an unexpired record and Consume is
// an atomic read+delete.
type PendingGrantStore interface {
	Put(ctx context.Context, record PendingOutgoingGrant) error
	Get(ctx context.Context, correlationKey string) (PendingOutgoingGrant, error)
	Consume(ctx context.Context, correlationKey string) (PendingOutgoingGrant, error)
	Remove(ctx context.Context, correlationKey string) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// DonationService is the boundary consumed by the command, api and cli layers.
type DonationService interface {
	StartDonation(ctx context.Context, req StartDonationRequest) (StartDonationResult, error)
	CompleteDonation(ctx context.Context, req CompleteDonationRequest) (CompleteDonationResult, error)
	LookupPendingDonation(ctx context.Context, correlationKey string) (PendingDonation, error)
	AbandonDonation(ctx context.Context, correlationKey string) (PendingDonation, error)
	PurgeExpiredPendingGrants(ctx context.Context) (PurgeResult, error)
}

type PendingGrantStoreProvider interface {
	PendingGrantStore() PendingGrantStore
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (PendingGrantStoreProvider, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
