package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-donations/core"
)

type MutatingService interface {
	StartDonation(ctx context.Context, req core.StartDonationRequest) (core.StartDonationResult, error)
	CompleteDonation(ctx context.Context, req core.CompleteDonationRequest) (core.CompleteDonationResult, error)
	PurgeExpiredPendingGrants(ctx context.Context) (core.PurgeResult, error)
}

type StartDonationCommand struct {
	service MutatingService
}

func NewStartDonationCommand(service MutatingService) *StartDonationCommand {
	return &StartDonationCommand{service: service}
}

func (c *StartDonationCommand) Execute(ctx context.Context, msg StartDonationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: donation service is required")
	}
	out, err := c.service.StartDonation(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteDonationCommand struct {
	service MutatingService
}

func NewCompleteDonationCommand(service MutatingService) *CompleteDonationCommand {
	return &CompleteDonationCommand{service: service}
}

func (c *CompleteDonationCommand) Execute(ctx context.Context, msg CompleteDonationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: donation service is required")
	}
	out, err := c.service.CompleteDonation(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type PurgePendingGrantsCommand struct {
	service MutatingService
}

func NewPurgePendingGrantsCommand(service MutatingService) *PurgePendingGrantsCommand {
	return &PurgePendingGrantsCommand{service: service}
}

func (c *PurgePendingGrantsCommand) Execute(ctx context.Context, _ PurgePendingGrantsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: pending grant janitor is required")
	}
	out, err := c.service.PurgeExpiredPendingGrants(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
