package scoring

import "time"

// ItemScore pairs an evidence ID with its freshly computed result.
type ItemScore struct {
	ID     string
	Result ItemScoreResult
}

// RescoreAll recomputes every item in the snapshot against the full set as
// its sibling pool. Each item's score depends only on the configuration and
// the snapshot, never on other freshly computed scores, so callers may
// shard the work; persistence is a separate, explicit step.
func RescoreAll(now time.Time, items []Item, cfg Config) []ItemScore {
	results := make([]ItemScore, 0, len(items))
	for i, item := range items {
		siblings := make([]Item, 0, len(items)-1)
		siblings = append(siblings, items[:i]...)
		siblings = append(siblings, items[i+1:]...)
		results = append(results, ItemScore{
			ID:     item.ID,
			Result: ComputeItemStrength(now, item, siblings, cfg),
		})
	}
	return results
}
