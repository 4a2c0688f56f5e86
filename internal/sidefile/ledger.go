package sidefile

import (
	"bytes"
	"context"
	"fmt"

	"github.com/mind-engage/gpam/internal/gpam"
	"github.com/mind-engage/gpam/internal/ledger"
	"github.com/mind-engage/gpam/internal/storage"
)

// LedgerFile rewrites the whole ledger, outputs included, on every flush. The runner has
// already filled the aggregates into the rows; the results argument only tells us there is
// something new to write.
type LedgerFile struct {
	Ledger *ledger.Ledger
	Store  storage.BlobStore
	Key    string
}

func (f *LedgerFile) WriteResults(_ context.Context, _ string, results []gpam.Aggregate) error {
	if len(results) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := f.Ledger.Write(&buf); err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}
	if _, err := f.Store.Put(f.Key, &buf); err != nil {
		return fmt.Errorf("ledger: write %s: %w", f.Key, err)
	}
	return nil
}

// ReadLedger loads the ledger at key.
func ReadLedger(store storage.BlobStore, key string) (*ledger.Ledger, []ledger.RowFault, error) {
	rc, err := store.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("ledger: open %s: %w", key, err)
	}
	defer rc.Close()
	return ledger.ReadLedger(rc)
}

// ReadRoster loads the admittance roster at key.
func ReadRoster(store storage.BlobStore, key string) ([]ledger.AdmittanceRecord, []ledger.RowFault, error) {
	rc, err := store.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("roster: open %s: %w", key, err)
	}
	defer rc.Close()
	return ledger.ReadRoster(rc)
}
