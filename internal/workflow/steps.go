package workflow

import "fmt"

// Tag suffixes for the per-leg step DAG. The bare entry tag carries no
// suffix.
const (
	SuffixSubscribe     = "_subscribe"
	SuffixStopLoss      = "_stop_loss"
	SuffixStopSubscribe = "_stop_loss_subscribe"
	SuffixBookProfit    = "_book_profit"
	SuffixCancel        = "_cancel"
	SuffixUnsubscribe   = "_unsubscribe"
	SuffixSquareOff     = "_square_off"
)

// EntryTag is the workflow tag of a leg's entry order. The instance
// prefix scopes tags so concurrent executions can share the broker
// account and the ledger.
func EntryTag(instance, leg string) string {
	return fmt.Sprintf("%s|%s_straddle", instance, leg)
}

// stepKind enumerates the per-leg steps in DAG order.
type stepKind uint8

const (
	stepPlaceEntry stepKind = iota
	stepSubscribeEntry
	stepPlaceProtective
	stepSubscribeProtective
	stepPlaceBookProfit
	stepCancelProtective
	stepUnsubscribeEntry
)

var stepKinds = []stepKind{
	stepPlaceEntry,
	stepSubscribeEntry,
	stepPlaceProtective,
	stepSubscribeProtective,
	stepPlaceBookProfit,
	stepCancelProtective,
	stepUnsubscribeEntry,
}

// tagFor maps a step to its workflow tag.
func tagFor(kind stepKind, entryTag string) string {
	switch kind {
	case stepPlaceEntry:
		return entryTag
	case stepSubscribeEntry:
		return entryTag + SuffixSubscribe
	case stepPlaceProtective:
		return entryTag + SuffixStopLoss
	case stepSubscribeProtective:
		return entryTag + SuffixStopSubscribe
	case stepPlaceBookProfit:
		return entryTag + SuffixBookProfit
	case stepCancelProtective:
		return entryTag + SuffixCancel
	case stepUnsubscribeEntry:
		return entryTag + SuffixUnsubscribe
	}
	return entryTag
}

// remainingTags builds the full static remaining-work set for the
// given legs. Rebuilding it on restart is safe: the ledger guard skips
// every step it already reflects.
func remainingTags(instance string, legs []Leg) map[string]struct{} {
	out := make(map[string]struct{}, len(legs)*len(stepKinds))
	for _, leg := range legs {
		entry := EntryTag(instance, leg.Name)
		for _, kind := range stepKinds {
			out[tagFor(kind, entry)] = struct{}{}
		}
	}
	return out
}
