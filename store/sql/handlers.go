package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func pendingGrantHandlers() repository.ModelHandlers[*pendingGrantRecord] {
	return repository.ModelHandlers[*pendingGrantRecord]{
		NewRecord: func() *pendingGrantRecord {
			return &pendingGrantRecord{}
		},
		GetID: func(record *pendingGrantRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *pendingGrantRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "correlation_key"
		},
		GetIdentifierValue: func(record *pendingGrantRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.CorrelationKey)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
