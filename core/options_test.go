package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{}, WithPaymentsClient(newStubPaymentsClient()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorFactory == nil {
		t.Fatalf("expected default error factory")
	}
	if deps.ErrorMapper == nil {
		t.Fatalf("expected default error mapper")
	}
	if deps.ConfigProvider == nil {
		t.Fatalf("expected default config provider")
	}
	if deps.OptionsResolver == nil {
		t.Fatalf("expected default options resolver")
	}
	if _, ok := deps.PendingGrantStore.(*MemoryPendingGrantStore); !ok {
		t.Fatalf("expected in-memory pending grant store by default, got %T", deps.PendingGrantStore)
	}
	cfg := svc.Config()
	if cfg.ServiceName != "donations" {
		t.Fatalf("expected default service_name=donations, got %q", cfg.ServiceName)
	}
	if cfg.DefaultAmount != "1000" {
		t.Fatalf("expected default amount 1000, got %q", cfg.DefaultAmount)
	}
	if cfg.KeyMode() != CorrelationKeyWallet {
		t.Fatalf("expected wallet key mode, got %q", cfg.KeyMode())
	}
	if cfg.PendingGrantTTLDuration() != time.Hour {
		t.Fatalf("expected one hour ttl, got %s", cfg.PendingGrantTTLDuration())
	}
}

func TestNewService_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customFactory := func(message string, category ...goerrors.Category) *goerrors.Error {
		return goerrors.New("custom:"+message, category...)
	}
	sentinel := errors.New("sentinel")
	customMapper := func(error) *goerrors.Error {
		return goerrors.Wrap(sentinel, goerrors.CategoryOperation, "mapped")
	}
	persistenceClient := &struct{ Name string }{Name: "persistence"}
	repositoryFactory := &struct{ Name string }{Name: "repo"}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	optionsResolver := &fixedOptionsResolver{cfg: Config{ServiceName: "resolved", DefaultAmount: "500"}}
	client := newStubPaymentsClient()
	store := NewMemoryPendingGrantStore(time.Minute)

	svc, err := NewService(Config{ServiceName: "runtime"},
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorFactory(customFactory),
		WithErrorMapper(customMapper),
		WithPersistenceClient(persistenceClient),
		WithRepositoryFactory(repositoryFactory),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithPaymentsClient(client),
		WithPendingGrantStore(store),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	deps := svc.Dependencies()
	if deps.Logger != customLogger {
		t.Fatalf("expected custom logger override")
	}
	if resolved := deps.LoggerProvider.GetLogger("donations.override"); resolved != customLogger {
		t.Fatalf("expected logger provider to resolve custom logger")
	}
	if deps.PersistenceClient != persistenceClient {
		t.Fatalf("expected custom persistence client override")
	}
	if deps.RepositoryFactory != repositoryFactory {
		t.Fatalf("expected custom repository factory override")
	}
	if deps.ConfigProvider != configProvider {
		t.Fatalf("expected custom config provider override")
	}
	if deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected custom options resolver override")
	}
	if deps.PaymentsClient != client {
		t.Fatalf("expected custom payments client")
	}
	if deps.PendingGrantStore != store {
		t.Fatalf("expected explicit store to win over repository factory")
	}
	if got := svc.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected options resolver output config, got %q", got)
	}

	_, err = svc.CompleteDonation(context.Background(), CompleteDonationRequest{CorrelationKey: "missing"})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected custom mapper output, got %v", err)
	}
}

func TestNewService_ConfigLayeringPrecedence(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name":          "from-config",
		"default_amount":        "2500",
		"correlation_key_mode":  "flow",
		"pending_grant_ttl":     "15m",
		"discard_on_incomplete": true,
	}})

	svc, err := NewService(Config{ServiceName: "from-runtime"},
		WithConfigProvider(provider),
		WithPaymentsClient(newStubPaymentsClient()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	cfg := svc.Config()
	if cfg.ServiceName != "from-runtime" {
		t.Fatalf("expected runtime value to override config/default, got %q", cfg.ServiceName)
	}
	if cfg.DefaultAmount != "2500" {
		t.Fatalf("expected config layer amount, got %q", cfg.DefaultAmount)
	}
	if cfg.KeyMode() != CorrelationKeyFlow {
		t.Fatalf("expected config layer key mode, got %q", cfg.KeyMode())
	}
	if cfg.PendingGrantTTLDuration() != 15*time.Minute {
		t.Fatalf("expected config layer ttl, got %s", cfg.PendingGrantTTLDuration())
	}
	if !cfg.DiscardOnIncomplete {
		t.Fatalf("expected config layer to enable discard_on_incomplete")
	}
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	cases := map[string]Config{
		"amount":   {DefaultAmount: "ten"},
		"key mode": {CorrelationKeyMode: "session"},
		"ttl":      {PendingGrantTTL: "soon"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewService(cfg, WithPaymentsClient(newStubPaymentsClient()))
			if err == nil {
				t.Fatalf("expected invalid config to be rejected")
			}
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) {
				t.Fatalf("expected go-errors envelope, got %T", err)
			}
		})
	}
}

func TestStaticRawConfigLoader_CopiesValues(t *testing.T) {
	values := map[string]any{"service_name": "static"}
	loaded, err := NewStaticRawConfigLoader(values).LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	loaded["service_name"] = "mutated"
	if values["service_name"] != "static" {
		t.Fatalf("expected loader to return a copy")
	}
}
