package replay

import (
	"fmt"
	"sort"

	"moonshot-engine/internal/domain"
)

// SortEvents orders events by Seq ASC. Seq is assigned once by the journal,
// so it is the only total order the log has.
func SortEvents(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Seq < events[j].Seq
	})
}

// checkOrdering returns ErrInvalidOrdering at the first event whose Seq does
// not exceed its predecessor's.
func checkOrdering(events []*domain.Event) error {
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			return fmt.Errorf("%w: seq %d after %d", ErrInvalidOrdering, events[i].Seq, events[i-1].Seq)
		}
	}
	return nil
}
