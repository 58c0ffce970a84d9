package adapters_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-command"
	"github.com/goliatone/go-donations/adapters/gocommand"
	"github.com/goliatone/go-donations/adapters/gojob"
	"github.com/goliatone/go-donations/adapters/gologger"
	donationcommand "github.com/goliatone/go-donations/command"
	"github.com/goliatone/go-donations/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	glog "github.com/goliatone/go-logger/glog"
)

func TestRuntimeCompatibility_PurgeJobDispatchesThroughCommandBus(t *testing.T) {
	ctx := context.Background()

	_, logger, jobProvider, jobLogger := gologger.ResolveForJob("", &compatProvider{logger: compatLogger{}}, nil)
	if jobProvider == nil || jobLogger == nil {
		t.Fatalf("expected go-job logger bridges")
	}

	svc := &compatPurgeService{result: core.PurgeResult{Purged: 2}}
	queueRegistry := jobqueuecommand.NewRegistry()
	adapter := gocommand.NewRegistryAdapter(command.NewRegistry())
	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	sub, err := gocommand.RegisterAndSubscribe(adapter, donationcommand.NewPurgePendingGrantsCommand(svc))
	if err != nil {
		t.Fatalf("register purge command: %v", err)
	}
	defer sub.Unsubscribe()
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize command registry: %v", err)
	}
	if _, ok := queueRegistry.Get(donationcommand.TypePurgePendingGrants); !ok {
		t.Fatalf("expected purge command to be mirrored into go-job queue registry")
	}

	broker := &compatQueue{}
	if err := gojob.SchedulePurge(ctx, gojob.NewEnqueuer(broker), time.Now()); err != nil {
		t.Fatalf("schedule purge: %v", err)
	}

	worker, err := gojob.NewPurgeWorker(
		gojob.NewDequeuer(broker, gojob.RetryPolicy{MaxAttempts: 3}),
		busPurger{},
		gojob.WithPurgeWorkerLogger(logger),
	)
	if err != nil {
		t.Fatalf("new purge worker: %v", err)
	}
	if _, err := worker.ProcessNext(ctx); err != nil {
		t.Fatalf("process purge job: %v", err)
	}
	if svc.calls != 1 {
		t.Fatalf("expected purge command to run once through the bus, got %d", svc.calls)
	}
	if !broker.delivery.acked {
		t.Fatalf("expected purge delivery to be acked")
	}
}

// busPurger routes the job through the command bus instead of calling the
// service directly.
type busPurger struct{}

func (busPurger) PurgeExpiredPendingGrants(ctx context.Context) (core.PurgeResult, error) {
	collector := command.NewResult[core.PurgeResult]()
	ctx = command.ContextWithResult(ctx, collector)
	if err := gocommand.Dispatch(ctx, donationcommand.PurgePendingGrantsMessage{}); err != nil {
		return core.PurgeResult{}, err
	}
	result, _ := collector.Load()
	return result, nil
}

type compatPurgeService struct {
	result core.PurgeResult
	calls  int
}

func (s *compatPurgeService) StartDonation(context.Context, core.StartDonationRequest) (core.StartDonationResult, error) {
	return core.StartDonationResult{}, nil
}

func (s *compatPurgeService) CompleteDonation(context.Context, core.CompleteDonationRequest) (core.CompleteDonationResult, error) {
	return core.CompleteDonationResult{}, nil
}

func (s *compatPurgeService) PurgeExpiredPendingGrants(context.Context) (core.PurgeResult, error) {
	s.calls++
	return s.result, nil
}

type compatQueue struct {
	delivery *compatDelivery
}

func (q *compatQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	q.delivery = &compatDelivery{msg: msg}
	return nil
}

func (q *compatQueue) Dequeue(context.Context) (queue.Delivery, error) {
	return q.delivery, nil
}

type compatDelivery struct {
	msg   *job.ExecutionMessage
	acked bool
}

func (d *compatDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *compatDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *compatDelivery) Nack(context.Context, queue.NackOptions) error {
	return nil
}

type compatProvider struct {
	logger glog.Logger
}

func (p *compatProvider) GetLogger(string) glog.Logger {
	if p == nil || p.logger == nil {
		return glog.Nop()
	}
	return p.logger
}

type compatLogger struct{}

func (compatLogger) Trace(string, ...any)                    {}
func (compatLogger) Debug(string, ...any)                    {}
func (compatLogger) Info(string, ...any)                     {}
func (compatLogger) Warn(string, ...any)                     {}
func (compatLogger) Error(string, ...any)                    {}
func (compatLogger) Fatal(string, ...any)                    {}
func (compatLogger) WithContext(context.Context) glog.Logger { return compatLogger{} }
