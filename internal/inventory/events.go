package inventory

import "github.com/odyssey-erp/odyssey-stock/internal/events"

// EntryEvent builds the ledger.committed event for a committed entry.
func EntryEvent(entry LedgerEntry) (events.Event, error) {
	return events.New(events.TypeLedgerCommitted, events.AggregateStock, entry.StockKey.String(), entry.CreatedAt, entry)
}

// AddEntries appends one ledger.committed event per entry to batch.
func AddEntries(batch *events.Batch, entries ...LedgerEntry) {
	for _, e := range entries {
		batch.Add(EntryEvent(e))
	}
}
