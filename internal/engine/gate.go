package engine

import (
	"time"

	"github.com/mgirard/keepsake/internal/memory"
	"github.com/mgirard/keepsake/internal/store"
)

// maxExtractionGap caps how many quiet messages a well-known owner can
// accumulate before facts and traits are re-scanned.
const maxExtractionGap = 10

// FrequencyGate decides, per owner and data type, whether an expensive scan
// is due. Topics and people are cheap, time-sensitive signals and are always
// eligible; facts and traits earn a growing gap as extraction history
// accumulates, so brand-new owners are scanned aggressively and well-known
// owners sparingly.
type FrequencyGate struct {
	db *store.DB
}

// NewFrequencyGate creates a gate over the given store.
func NewFrequencyGate(db *store.DB) *FrequencyGate {
	return &FrequencyGate{db: db}
}

// RecordExchange counts a triggering exchange against every data type of the
// owner, uniformly, regardless of which types get scanned this round.
func (g *FrequencyGate) RecordExchange(owner memory.OwnerRef) error {
	return g.db.BumpMessageCounters(owner)
}

// DueTypes returns the data types currently eligible for scanning, in the
// model's fixed type order. All due types are batched into one scan call.
func (g *FrequencyGate) DueTypes(owner memory.OwnerRef) ([]memory.DataType, error) {
	var due []memory.DataType
	for _, t := range memory.TypesFor(owner.Kind) {
		switch t {
		case memory.TypeTopic, memory.TypePerson:
			due = append(due, t)
		default:
			h, err := g.db.GetHistory(owner, t)
			if err != nil {
				return nil, err
			}
			required := h.TotalExtractions
			if required > maxExtractionGap {
				required = maxExtractionGap
			}
			if h.MessagesSince >= required {
				due = append(due, t)
			}
		}
	}
	return due, nil
}

// RecordExtraction marks a completed extraction pass for the given types.
func (g *FrequencyGate) RecordExtraction(owner memory.OwnerRef, types []memory.DataType, at time.Time) error {
	for _, t := range types {
		if err := g.db.RecordExtraction(owner, t, at); err != nil {
			return err
		}
	}
	return nil
}
