// pkg/engine/workers.go
package engine

import (
	"context"
	"time"

	"strata/pkg/strlog"
	"strata/pkg/types"
	"strata/pkg/walog"
)

// startBackgroundWorkers launches the TTL sweeper and retention gc loops.
// Both log failures and continue rather than panicking (spec §9): a
// transient error on one sweep just means the next tick tries again.
func (db *Database) startBackgroundWorkers() {
	db.workersWG.Add(2)
	go db.runTTLSweeper()
	go db.runRetentionGC()
}

func (db *Database) runTTLSweeper() {
	defer db.workersWG.Done()
	interval := db.cfg.TTLSweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := strlog.WithComponent(strlog.ComponentGC)

	for {
		select {
		case <-ticker.C:
			if err := db.sweepExpired(); err != nil {
				log.Warn().Err(err).Msg("ttl sweep failed, will retry next tick")
			}
		case <-db.workersDone:
			return
		}
	}
}

func (db *Database) sweepExpired() error {
	now := types.Timestamp(time.Now().UnixMicro())
	expired := db.store.FindExpiredKeys(now)
	if len(expired) == 0 {
		return nil
	}

	ctx := context.Background()
	log := strlog.WithComponent(strlog.ComponentGC)
	for _, key := range expired {
		entryType, ok := deleteEntryTypeFor(key.Type)
		if !ok {
			continue
		}
		tx, err := db.txns.Begin(ctx)
		if err != nil {
			return err
		}
		if err := tx.Delete(key, entryType); err != nil {
			db.txns.Abort(tx)
			return err
		}
		if err := db.txns.Commit(ctx, tx); err != nil {
			// A conflict here just means another writer already touched
			// the key since it expired; nothing left to sweep.
			log.Debug().Err(err).Msg("ttl sweep commit skipped, key already modified")
		}
	}
	return nil
}

func (db *Database) runRetentionGC() {
	defer db.workersWG.Done()
	interval := db.cfg.GCInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log := strlog.WithComponent(strlog.ComponentGC)

	for {
		select {
		case <-ticker.C:
			dropped := db.store.GCBelow(db.store.CurrentVersion())
			if dropped > 0 {
				log.Debug().Int("dropped", dropped).Msg("retention gc reclaimed chain entries")
			}
		case <-db.workersDone:
			return
		}
	}
}

// deleteEntryTypeFor maps a key's primitive tag to the WAL entry type its
// façade uses for a delete, mirroring the tables pkg/recovery classifies
// records with.
func deleteEntryTypeFor(tag types.TypeTag) (walog.EntryType, bool) {
	switch tag {
	case types.TagKV:
		return walog.EntryKVDelete, true
	case types.TagJSON:
		return walog.EntryJSONDeleteDoc, true
	case types.TagRun:
		return walog.EntryRunDelete, true
	case types.TagVector:
		return walog.EntryVectorDelete, true
	default:
		return 0, false
	}
}
