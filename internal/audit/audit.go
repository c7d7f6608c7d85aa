package audit

import (
	"context"
	"time"

	"github.com/clinquery/clinquery/internal/ledger"
)

// Sink durably records completed turns across sessions.
type Sink interface {
	RecordTurn(ctx context.Context, entry ledger.Entry) error
}

type SessionArchive struct {
	SessionID   string
	ObjectKey   string
	EntryCount  int64
	FirstTurnAt *time.Time
	LastTurnAt  *time.Time
}

type ArchiveRecorder interface {
	RecordArchive(ctx context.Context, archive SessionArchive) error
}

type Nop struct{}

func (Nop) RecordTurn(context.Context, ledger.Entry) error { return nil }

func (Nop) RecordArchive(context.Context, SessionArchive) error { return nil }
