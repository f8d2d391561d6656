package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// stringIDHandlers builds repository handlers for records keyed by a uuid
// string column named id.
func stringIDHandlers[T any](newRecord func() T, id func(T) *string) repository.ModelHandlers[T] {
	return repository.ModelHandlers[T]{
		NewRecord: newRecord,
		GetID: func(record T) uuid.UUID {
			field := id(record)
			if field == nil {
				return uuid.Nil
			}
			return parseUUID(*field)
		},
		SetID: func(record T, value uuid.UUID) {
			if field := id(record); field != nil {
				*field = value.String()
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record T) string {
			field := id(record)
			if field == nil {
				return ""
			}
			return strings.TrimSpace(*field)
		},
	}
}

func inboundEventHandlers() repository.ModelHandlers[*inboundEventRecord] {
	return stringIDHandlers(
		func() *inboundEventRecord { return &inboundEventRecord{} },
		func(record *inboundEventRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func deadLetterHandlers() repository.ModelHandlers[*deadLetterRecord] {
	return stringIDHandlers(
		func() *deadLetterRecord { return &deadLetterRecord{} },
		func(record *deadLetterRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func ndrHandlers() repository.ModelHandlers[*ndrRecord] {
	return stringIDHandlers(
		func() *ndrRecord { return &ndrRecord{} },
		func(record *ndrRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func rtoHandlers() repository.ModelHandlers[*rtoRecord] {
	return stringIDHandlers(
		func() *rtoRecord { return &rtoRecord{} },
		func(record *rtoRecord) *string {
			if record == nil {
				return nil
			}
			return &record.ID
		},
	)
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
