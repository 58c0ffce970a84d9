package donations

import (
	"fmt"

	donationcommand "github.com/goliatone/go-donations/command"
	donationquery "github.com/goliatone/go-donations/query"
)

type CommandQueryService interface {
	donationcommand.MutatingService
	donationquery.PendingDonationReader
}

type Commands struct {
	StartDonation      *donationcommand.StartDonationCommand
	CompleteDonation   *donationcommand.CompleteDonationCommand
	PurgePendingGrants *donationcommand.PurgePendingGrantsCommand
}

type Queries struct {
	LookupPendingDonation *donationquery.LookupPendingDonationQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("donations: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			StartDonation:      donationcommand.NewStartDonationCommand(service),
			CompleteDonation:   donationcommand.NewCompleteDonationCommand(service),
			PurgePendingGrants: donationcommand.NewPurgePendingGrantsCommand(service),
		},
		queries: Queries{
			LookupPendingDonation: donationquery.NewLookupPendingDonationQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
