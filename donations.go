package donations

import "github.com/goliatone/go-donations/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type PaymentsClient = core.PaymentsClient
type PendingGrantStore = core.PendingGrantStore
type SecretProvider = core.SecretProvider
type MetricsRecorder = core.MetricsRecorder

type StartDonationRequest = core.StartDonationRequest
type StartDonationResult = core.StartDonationResult
type CompleteDonationRequest = core.CompleteDonationRequest
type CompleteDonationResult = core.CompleteDonationResult
type PendingDonation = core.PendingDonation
type PurgeResult = core.PurgeResult
type Amount = core.Amount

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithPersistenceClient       = core.WithPersistenceClient
	WithRepositoryFactory       = core.WithRepositoryFactory
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithPaymentsClient          = core.WithPaymentsClient
	WithPendingGrantStore       = core.WithPendingGrantStore
	WithClock                   = core.WithClock
	WithCorrelationKeyGenerator = core.WithCorrelationKeyGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
