package accounting

import (
	"context"

	"github.com/odyssey-erp/storeledger/internal/platform/events"
)

// EventEntryPosted is published for every committed journal entry.
const EventEntryPosted = "ledger.entry_posted"

// PublishPosted returns a PostedHook that forwards entries to publisher.
func PublishPosted(publisher events.Publisher) PostedHook {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return func(ctx context.Context, entry JournalEntry) {
		_ = publisher.Publish(ctx, events.New(EventEntryPosted, entry.TenantID, entry))
	}
}
