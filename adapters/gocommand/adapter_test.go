package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	donationcommand "github.com/goliatone/go-donations/command"
	"github.com/goliatone/go-donations/core"
	donationquery "github.com/goliatone/go-donations/query"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type okMessage struct{}

func (okMessage) Type() string { return "donations.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "donations.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type dispatchMessage struct {
	ID string
}

func (dispatchMessage) Type() string { return "donations.command.test" }

type queueMessage struct{}

func (queueMessage) Type() string { return "donations.command.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRegistryAndDispatchWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	executed := 0
	customResolverCalled := 0

	cmd := command.CommandFunc[dispatchMessage](func(context.Context, dispatchMessage) error {
		executed++
		return nil
	})

	if _, err := RegisterAndSubscribe(adapter, cmd); err != nil {
		t.Fatalf("register and subscribe: %v", err)
	}
	if err := adapter.AddResolver("custom", func(any, command.CommandMeta, *command.Registry) error {
		customResolverCalled++
		return nil
	}); err != nil {
		t.Fatalf("add resolver: %v", err)
	}
	if !adapter.HasResolver("custom") {
		t.Fatalf("expected custom resolver to be registered")
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if customResolverCalled == 0 {
		t.Fatalf("expected resolver hook to run during initialization")
	}

	if err := Dispatch(context.Background(), dispatchMessage{ID: "m1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if executed != 1 {
		t.Fatalf("expected command execution count=1, got %d", executed)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("donations.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

func TestRegisterDonationHandlers_DispatchAndQuery(t *testing.T) {
	ctx := context.Background()
	svc := &recordingDonationService{
		pending: core.PendingDonation{CorrelationKey: "k1", QuoteID: "q1"},
	}
	adapter := NewRegistryAdapter(command.NewRegistry())
	subs, err := RegisterDonationHandlers(adapter, svc)
	if err != nil {
		t.Fatalf("register donation handlers: %v", err)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()
	if len(subs) != 4 {
		t.Fatalf("expected 4 subscriptions, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if err := Dispatch(ctx, donationcommand.CompleteDonationMessage{
		Request: core.CompleteDonationRequest{CorrelationKey: "k1", InteractRef: "ref"},
	}); err != nil {
		t.Fatalf("dispatch complete: %v", err)
	}
	if svc.completed != "k1" {
		t.Fatalf("expected complete donation for k1, got %q", svc.completed)
	}
	if err := Dispatch(ctx, donationcommand.PurgePendingGrantsMessage{}); err != nil {
		t.Fatalf("dispatch purge: %v", err)
	}
	if svc.purges != 1 {
		t.Fatalf("expected one purge, got %d", svc.purges)
	}

	pending, err := Query[donationquery.LookupPendingDonationMessage, core.PendingDonation](ctx, donationquery.LookupPendingDonationMessage{
		CorrelationKey: "k1",
	})
	if err != nil {
		t.Fatalf("query pending donation: %v", err)
	}
	if pending.QuoteID != "q1" {
		t.Fatalf("unexpected pending donation: %#v", pending)
	}
}

func TestRegisterDonationHandlers_RequiresService(t *testing.T) {
	if _, err := RegisterDonationHandlers(NewRegistryAdapter(nil), nil); err == nil {
		t.Fatalf("expected missing service error")
	}
}

type recordingDonationService struct {
	completed string
	purges    int
	pending   core.PendingDonation
}

func (s *recordingDonationService) StartDonation(context.Context, core.StartDonationRequest) (core.StartDonationResult, error) {
	return core.StartDonationResult{}, nil
}

func (s *recordingDonationService) CompleteDonation(_ context.Context, req core.CompleteDonationRequest) (core.CompleteDonationResult, error) {
	s.completed = req.CorrelationKey
	return core.CompleteDonationResult{CorrelationKey: req.CorrelationKey}, nil
}

func (s *recordingDonationService) PurgeExpiredPendingGrants(context.Context) (core.PurgeResult, error) {
	s.purges++
	return core.PurgeResult{}, nil
}

func (s *recordingDonationService) LookupPendingDonation(context.Context, string) (core.PendingDonation, error) {
	return s.pending, nil
}
