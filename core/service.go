package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

// Service is the donation orchestrator. StartDonation runs the flow up to the
// approval redirect and CompleteDonation resumes it. The two calls share state
// only through the PendingGrantStore.
type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	paymentsClient    PaymentsClient
	pendingGrantStore PendingGrantStore
	wallets           *WalletResolver
	grants            *GrantCoordinator
	resources         *PaymentResourceFactory
	clock             func() time.Time
	keyGenerator      func() string
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	PaymentsClient    PaymentsClient
	PendingGrantStore PendingGrantStore
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("donations", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("donations"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}
	if builder.keyGenerator == nil {
		builder.keyGenerator = uuid.NewString
	}
	if builder.paymentsClient == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: payments client is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.pendingGrantStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			storeProvider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if storeProvider != nil {
				builder.pendingGrantStore = storeProvider.PendingGrantStore()
			}
		} else if storeProvider, ok := builder.repositoryFactory.(PendingGrantStoreProvider); ok {
			builder.pendingGrantStore = storeProvider.PendingGrantStore()
		}
	}
	if builder.pendingGrantStore == nil {
		builder.pendingGrantStore = NewMemoryPendingGrantStore(finalConfig.PendingGrantTTLDuration())
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		paymentsClient:    builder.paymentsClient,
		pendingGrantStore: builder.pendingGrantStore,
		wallets:           NewWalletResolver(builder.paymentsClient),
		grants:            NewGrantCoordinator(builder.paymentsClient, WithInteractFinishURI(finalConfig.InteractFinishURI)),
		resources:         NewPaymentResourceFactory(builder.paymentsClient),
		clock:             builder.clock,
		keyGenerator:      builder.keyGenerator,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		PaymentsClient:    s.paymentsClient,
		PendingGrantStore: s.pendingGrantStore,
	}
}

// StartDonation runs every step up to the outgoing-payment grant. A pending
// grant is stored and its redirect returned; nothing partial is returned on
// failure.
func (s *Service) StartDonation(ctx context.Context, req StartDonationRequest) (result StartDonationResult, err error) {
	startedAt := s.now()
	fields := map[string]any{
		"sender_wallet":   strings.TrimSpace(req.SenderWallet),
		"receiver_wallet": strings.TrimSpace(req.ReceiverWallet),
		"key_mode":        string(s.config.KeyMode()),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "start_donation", err, fields)
	}()

	senderAddress := strings.TrimSpace(req.SenderWallet)
	receiverAddress := strings.TrimSpace(req.ReceiverWallet)
	if receiverAddress == "" {
		receiverAddress = strings.TrimSpace(s.config.DefaultReceiverWallet)
		fields["receiver_wallet"] = receiverAddress
	}
	if senderAddress == "" {
		err = s.mapError(atStep(FlowStart, fmt.Errorf("core: sender wallet is required")))
		return StartDonationResult{}, err
	}
	if receiverAddress == "" {
		err = s.mapError(atStep(FlowStart, fmt.Errorf("core: receiver wallet is required")))
		return StartDonationResult{}, err
	}
	if strings.TrimSpace(req.Amount) != "" {
		if _, amountErr := ParseMinorUnits(req.Amount); amountErr != nil {
			err = s.mapError(atStep(FlowStart, amountErr))
			return StartDonationResult{}, err
		}
	}

	sender, receiver, resolveErr := s.wallets.ResolvePair(ctx, senderAddress, receiverAddress)
	if resolveErr != nil {
		err = s.mapError(atStep(FlowStart, resolveErr))
		return StartDonationResult{}, err
	}
	fields["sender_wallet"] = sender.ID
	fields["receiver_wallet"] = receiver.ID
	s.traceStep(ctx, FlowWalletsResolved, fields)

	key := s.correlationKey(req, sender)
	fields["correlation_key"] = key
	if existing, lookupErr := s.pendingGrantStore.Get(ctx, key); lookupErr == nil {
		err = s.mapError(atStep(FlowWalletsResolved, fmt.Errorf("%w for %q until %s",
			ErrPendingGrantExists, key, existing.ExpiresAt.Format(time.RFC3339))))
		return StartDonationResult{}, err
	} else if !errors.Is(lookupErr, ErrNoPendingGrant) {
		err = s.mapError(atStep(FlowWalletsResolved, lookupErr))
		return StartDonationResult{}, err
	}

	incomingAmount, amountErr := s.incomingAmount(req, receiver)
	if amountErr != nil {
		err = s.mapError(atStep(FlowWalletsResolved, amountErr))
		return StartDonationResult{}, err
	}
	fields["incoming_amount"] = incomingAmount.Value

	incomingToken, grantErr := s.requestNonInteractiveGrant(ctx, receiver.AuthServerURL, AccessSpec{
		Type:    ResourceIncomingPayment,
		Actions: []Action{ActionRead, ActionComplete, ActionCreate},
	})
	if grantErr != nil {
		err = s.mapError(atStep(FlowWalletsResolved, grantErr))
		return StartDonationResult{}, err
	}
	s.traceStep(ctx, FlowIncomingGrantObtained, fields)

	incoming, createErr := s.resources.CreateIncomingPayment(ctx, receiver.ResourceServerURL, incomingToken, receiver.ID, incomingAmount)
	if createErr != nil {
		err = s.mapError(atStep(FlowIncomingGrantObtained, createErr))
		return StartDonationResult{}, err
	}
	fields["incoming_payment_id"] = incoming.ID
	s.traceStep(ctx, FlowIncomingPaymentCreated, fields)

	quoteToken, grantErr := s.requestNonInteractiveGrant(ctx, sender.AuthServerURL, AccessSpec{
		Type:    ResourceQuote,
		Actions: []Action{ActionCreate, ActionRead},
	})
	if grantErr != nil {
		err = s.mapError(atStep(FlowIncomingPaymentCreated, grantErr))
		return StartDonationResult{}, err
	}
	s.traceStep(ctx, FlowQuoteGrantObtained, fields)

	quote, createErr := s.resources.CreateQuote(ctx, sender.ResourceServerURL, quoteToken, sender.ID, incoming.ID)
	if createErr != nil {
		err = s.mapError(atStep(FlowQuoteGrantObtained, createErr))
		return StartDonationResult{}, err
	}
	fields["quote_id"] = quote.ID
	fields["debit_amount"] = FormatAmount(quote.DebitAmount)
	s.traceStep(ctx, FlowQuoteCreated, fields)

	debitLimit := quote.DebitAmount
	grant, grantErr := s.grants.RequestGrant(withFinishKey(ctx, key), sender.AuthServerURL, AccessSpec{
		Type:       ResourceOutgoingPayment,
		Actions:    []Action{ActionRead, ActionCreate},
		Limits:     &AccessLimits{DebitAmount: &debitLimit},
		Identifier: sender.ID,
	}, true)
	if grantErr != nil {
		err = s.mapError(atStep(FlowQuoteCreated, grantErr))
		return StartDonationResult{}, err
	}
	s.traceStep(ctx, FlowOutgoingGrantRequested, fields)

	result = StartDonationResult{
		CorrelationKey:    key,
		IncomingPaymentID: incoming.ID,
		QuoteID:           quote.ID,
		DebitAmount:       quote.DebitAmount,
	}

	switch outgoing := grant.(type) {
	case PendingGrant:
		s.traceStep(ctx, FlowOutgoingGrantPendingInteraction, fields)
		record := PendingOutgoingGrant{
			CorrelationKey:        key,
			SenderWalletAddress:   sender.ID,
			ReceiverWalletAddress: receiver.ID,
			Continuation:          outgoing.Continuation,
			QuoteID:               quote.ID,
			DebitAmount:           quote.DebitAmount,
			RedirectURL:           outgoing.RedirectURL,
			Finish:                outgoing.Finish,
			CreatedAt:             s.now(),
		}
		record.ExpiresAt = record.CreatedAt.Add(s.config.PendingGrantTTLDuration())
		if putErr := s.pendingGrantStore.Put(ctx, record); putErr != nil {
			err = s.mapError(atStep(FlowOutgoingGrantPendingInteraction, putErr))
			return StartDonationResult{}, err
		}
		result.RedirectURL = outgoing.RedirectURL
		result.ExpiresAt = record.ExpiresAt
		return result, nil
	case FinalizedGrant:
		s.traceStep(ctx, FlowOutgoingGrantFinalized, fields)
		payment, createErr := s.resources.CreateOutgoingPayment(ctx, sender.ResourceServerURL, outgoing.AccessToken, sender.ID, quote.ID)
		if createErr != nil {
			err = s.mapError(atStep(FlowOutgoingGrantFinalized, createErr))
			return StartDonationResult{}, err
		}
		fields["outgoing_payment_id"] = payment.ID
		s.traceStep(ctx, FlowOutgoingPaymentCreated, fields)
		result.Completed = true
		result.Payment = &CompleteDonationResult{
			CorrelationKey:    key,
			OutgoingPaymentID: payment.ID,
			QuoteID:           quote.ID,
			DebitAmount:       debitAmountOf(payment, quote.DebitAmount),
		}
		return result, nil
	default:
		err = s.mapError(atStep(FlowOutgoingGrantRequested, fmt.Errorf("core: unsupported grant type %T", grant)))
		return StartDonationResult{}, err
	}
}

// CompleteDonation resumes a suspended flow. The pending record is consumed
// before continuation so a concurrent resume cannot reuse it.
func (s *Service) CompleteDonation(ctx context.Context, req CompleteDonationRequest) (result CompleteDonationResult, err error) {
	startedAt := s.now()
	key := strings.TrimSpace(req.CorrelationKey)
	fields := map[string]any{
		"correlation_key": key,
		"key_mode":        string(s.config.KeyMode()),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_donation", err, fields)
	}()

	if key == "" {
		err = s.mapError(atStep(FlowOutgoingGrantPendingInteraction, fmt.Errorf("core: correlation key is required")))
		return CompleteDonationResult{}, err
	}

	expected := strings.TrimSpace(req.ExpectedQuoteID)
	if expected != "" || req.VerifyInteractHash {
		// Checks run against a read so a rejected resume leaves the record
		// in place for the genuine redirect.
		current, getErr := s.pendingGrantStore.Get(ctx, key)
		if getErr != nil {
			err = s.mapError(atStep(FlowOutgoingGrantPendingInteraction, getErr))
			return CompleteDonationResult{}, err
		}
		if expected != "" && current.QuoteID != expected {
			err = s.mapError(atStep(FlowOutgoingGrantPendingInteraction,
				fmt.Errorf("%w: expected %q, pending grant holds %q", ErrQuoteMismatch, expected, current.QuoteID)))
			return CompleteDonationResult{}, err
		}
		if req.VerifyInteractHash {
			if hashErr := VerifyInteractHash(current.Finish, req.InteractRef, req.InteractHash); hashErr != nil {
				err = s.mapError(atStep(FlowOutgoingGrantPendingInteraction, hashErr))
				return CompleteDonationResult{}, err
			}
		}
	}

	record, consumeErr := s.pendingGrantStore.Consume(ctx, key)
	if consumeErr != nil {
		err = s.mapError(atStep(FlowOutgoingGrantPendingInteraction, consumeErr))
		return CompleteDonationResult{}, err
	}
	fields["quote_id"] = record.QuoteID
	fields["sender_wallet"] = record.SenderWalletAddress

	grant, continueErr := s.grants.ContinueGrant(ctx, record.Continuation, req.InteractRef)
	if continueErr != nil {
		if errors.Is(continueErr, ErrGrantNotYetApproved) {
			var refreshed *Continuation
			if continuationReusable(continueErr) {
				handle := record.Continuation
				refreshed = &handle
			}
			err = s.mapError(s.approvalIncomplete(ctx, record, refreshed, continueErr, fields))
			return CompleteDonationResult{}, err
		}
		err = s.mapError(atStep(FlowOutgoingGrantContinued, continueErr))
		return CompleteDonationResult{}, err
	}

	var token string
	switch continued := grant.(type) {
	case FinalizedGrant:
		token = continued.AccessToken
	case PendingGrant:
		cause := &GrantError{
			Kind:     ErrGrantNotYetApproved,
			Resource: ResourceOutgoingPayment,
			Cause:    fmt.Errorf("authorization server still reports the grant as pending"),
		}
		handle := continued.Continuation
		err = s.mapError(s.approvalIncomplete(ctx, record, &handle, cause, fields))
		return CompleteDonationResult{}, err
	default:
		err = s.mapError(atStep(FlowOutgoingGrantContinued, fmt.Errorf("core: unsupported grant type %T", grant)))
		return CompleteDonationResult{}, err
	}
	s.traceStep(ctx, FlowOutgoingGrantContinued, fields)

	// The approval may have taken arbitrarily long, so the sender's resource
	// server is looked up again instead of trusting the earlier snapshot.
	sender, resolveErr := s.wallets.Resolve(ctx, record.SenderWalletAddress)
	if resolveErr != nil {
		err = s.mapError(atStep(FlowOutgoingGrantContinued, resolveErr))
		return CompleteDonationResult{}, err
	}

	payment, createErr := s.resources.CreateOutgoingPayment(ctx, sender.ResourceServerURL, token, sender.ID, record.QuoteID)
	if createErr != nil {
		err = s.mapError(atStep(FlowOutgoingGrantContinued, createErr))
		return CompleteDonationResult{}, err
	}
	fields["outgoing_payment_id"] = payment.ID
	s.traceStep(ctx, FlowOutgoingPaymentCreated, fields)

	result = CompleteDonationResult{
		CorrelationKey:    key,
		OutgoingPaymentID: payment.ID,
		QuoteID:           record.QuoteID,
		DebitAmount:       debitAmountOf(payment, record.DebitAmount),
	}
	fields["debit_amount"] = FormatAmount(result.DebitAmount)
	s.traceStep(ctx, FlowDone, fields)
	return result, nil
}

// LookupPendingDonation reads a pending record without consuming it.
func (s *Service) LookupPendingDonation(ctx context.Context, correlationKey string) (pending PendingDonation, err error) {
	startedAt := s.now()
	key := strings.TrimSpace(correlationKey)
	fields := map[string]any{"correlation_key": key}
	defer func() {
		s.observeOperation(ctx, startedAt, "lookup_pending_donation", err, fields)
	}()

	if key == "" {
		err = s.mapError(fmt.Errorf("core: correlation key is required"))
		return PendingDonation{}, err
	}
	record, getErr := s.pendingGrantStore.Get(ctx, key)
	if getErr != nil {
		err = s.mapError(getErr)
		return PendingDonation{}, err
	}
	return pendingDonationFromRecord(record), nil
}

// AbandonDonation consumes a pending record without continuing its grant,
// for a donor who declined the outgoing payment. The same correlation key can
// start a new donation right away.
func (s *Service) AbandonDonation(ctx context.Context, correlationKey string) (pending PendingDonation, err error) {
	startedAt := s.now()
	key := strings.TrimSpace(correlationKey)
	fields := map[string]any{"correlation_key": key}
	defer func() {
		s.observeOperation(ctx, startedAt, "abandon_donation", err, fields)
	}()

	if key == "" {
		err = s.mapError(fmt.Errorf("core: correlation key is required"))
		return PendingDonation{}, err
	}
	record, consumeErr := s.pendingGrantStore.Consume(ctx, key)
	if consumeErr != nil {
		err = s.mapError(atStep(FlowOutgoingGrantPendingInteraction, consumeErr))
		return PendingDonation{}, err
	}
	fields["quote_id"] = record.QuoteID
	return pendingDonationFromRecord(record), nil
}

// PurgeExpiredPendingGrants drops records whose approval window has passed.
func (s *Service) PurgeExpiredPendingGrants(ctx context.Context) (result PurgeResult, err error) {
	startedAt := s.now()
	fields := map[string]any{}
	defer func() {
		s.observeOperation(ctx, startedAt, "purge_pending_grants", err, fields)
	}()

	now := s.now()
	purged, purgeErr := s.pendingGrantStore.PurgeExpired(ctx, now)
	if purgeErr != nil {
		err = s.mapError(purgeErr)
		return PurgeResult{}, err
	}
	fields["purged"] = purged
	return PurgeResult{Purged: purged, RanAt: now}, nil
}

func (s *Service) requestNonInteractiveGrant(ctx context.Context, authServerURL string, spec AccessSpec) (string, error) {
	grant, err := s.grants.RequestGrant(ctx, authServerURL, spec, false)
	if err != nil {
		return "", err
	}
	switch typed := grant.(type) {
	case FinalizedGrant:
		return typed.AccessToken, nil
	case PendingGrant:
		return "", &GrantError{
			Kind:       ErrGrantInteractionRequired,
			AuthServer: authServerURL,
			Resource:   spec.Type,
			Cause:      fmt.Errorf("%s grants must be finalized without interaction; check the authorization server policy", spec.Type),
		}
	default:
		return "", fmt.Errorf("core: unsupported grant type %T", grant)
	}
}

// approvalIncomplete reports GrantApprovalIncomplete. Unless the service is
// configured to discard, a reusable continuation handle is stored again under
// the same key so a later completion can retry.
func (s *Service) approvalIncomplete(
	ctx context.Context,
	record PendingOutgoingGrant,
	refreshed *Continuation,
	cause error,
	fields map[string]any,
) error {
	restartFrom := FlowOutgoingGrantRequested
	if refreshed != nil && refreshed.Valid() && !s.config.DiscardOnIncomplete && !record.Expired(s.now()) {
		record.Continuation = *refreshed
		if putErr := s.pendingGrantStore.Put(ctx, record); putErr != nil {
			s.logWarn(ctx, "pending grant could not be restored", map[string]any{
				"correlation_key": record.CorrelationKey,
				"error":           putErr.Error(),
			})
		} else {
			restartFrom = FlowOutgoingGrantPendingInteraction
		}
	}
	fields["restart_from"] = string(restartFrom)
	return atStep(FlowOutgoingGrantContinued, &GrantError{
		Kind:        ErrGrantApprovalIncomplete,
		Resource:    ResourceOutgoingPayment,
		RestartFrom: restartFrom,
		Cause:       cause,
	})
}

func (s *Service) incomingAmount(req StartDonationRequest, receiver WalletInfo) (Amount, error) {
	amount := Amount{AssetCode: receiver.AssetCode, AssetScale: receiver.AssetScale}
	switch {
	case strings.TrimSpace(req.Amount) != "":
		value, err := ParseMinorUnits(req.Amount)
		if err != nil {
			return Amount{}, err
		}
		amount.Value = value
	case strings.TrimSpace(req.DisplayAmount) != "":
		value, err := ToMinorUnits(req.DisplayAmount, receiver.AssetScale)
		if err != nil {
			return Amount{}, err
		}
		amount.Value = value
	default:
		value, err := ParseMinorUnits(s.config.DefaultAmount)
		if err != nil {
			return Amount{}, err
		}
		amount.Value = value
	}
	return amount, nil
}

func (s *Service) correlationKey(req StartDonationRequest, sender WalletInfo) string {
	if explicit := strings.TrimSpace(req.CorrelationKey); explicit != "" {
		return explicit
	}
	if s.config.KeyMode() == CorrelationKeyFlow {
		return s.keyGenerator()
	}
	return sender.ID
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return withSource(mapped, err)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return withSource(mapped, err)
}

func debitAmountOf(payment OutgoingPayment, fallback Amount) Amount {
	if strings.TrimSpace(payment.DebitAmount.Value) != "" {
		return payment.DebitAmount
	}
	return fallback
}
