package session

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/clinquery/clinquery/internal/audit"
	"github.com/clinquery/clinquery/internal/ledger"
	"github.com/clinquery/clinquery/internal/storage"
)

// Archiver writes a closed session's ledger to the object store as Parquet.
type Archiver struct {
	ObjectStore storage.ObjectStore
	Recorder    audit.ArchiveRecorder
	Clock       func() time.Time
}

func (a *Archiver) Archive(ctx context.Context, sessionID string, entries []ledger.Entry) (audit.SessionArchive, error) {
	now := time.Now
	if a.Clock != nil {
		now = a.Clock
	}
	encoded, err := ledger.EncodeParquet(entries)
	if err != nil {
		return audit.SessionArchive{}, fmt.Errorf("encode ledger to parquet: %w", err)
	}
	key, err := storage.BuildLedgerArchivePath(sessionID, now())
	if err != nil {
		return audit.SessionArchive{}, fmt.Errorf("build ledger archive path: %w", err)
	}
	if _, err := a.ObjectStore.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		return audit.SessionArchive{}, fmt.Errorf("put ledger archive: %w", err)
	}

	archive := audit.SessionArchive{
		SessionID:   sessionID,
		ObjectKey:   key,
		EntryCount:  encoded.EntryCount,
		FirstTurnAt: encoded.FirstTurnAt,
		LastTurnAt:  encoded.LastTurnAt,
	}
	if a.Recorder != nil {
		if err := a.Recorder.RecordArchive(ctx, archive); err != nil {
			return archive, fmt.Errorf("record ledger archive: %w", err)
		}
	}
	return archive, nil
}
