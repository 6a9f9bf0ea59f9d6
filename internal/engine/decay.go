package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/mgirard/keepsake/internal/memory"
	"github.com/mgirard/keepsake/internal/store"
)

const (
	// defaultDecayRate is k in v' = v − k·v·(1−v)·h.
	defaultDecayRate = 0.1

	// decayDeadZone skips items updated this recently, avoiding thrash.
	decayDeadZone = 6 * time.Minute

	// decayEpsilon is the minimum change worth persisting; smaller drift
	// would turn every sweep into a write storm.
	decayEpsilon = 0.001
)

// Decay returns the engagement level after h hours of silence. The logistic
// term makes mid-range levels fade fastest while 0 and 1 are fixed points:
// fully dropped and fully central topics both hold their position.
func Decay(v, h, k float64) float64 {
	v = memory.Clamp01(v)
	next := v - k*v*(1-v)*h
	if next < 0 {
		return 0
	}
	return next
}

// DesireGap reports whether a topic or person is worth raising unprompted:
// it is discussed materially less than desired and not resented.
func DesireGap(current, ideal, sentiment, threshold, sentimentFloor float64) bool {
	return ideal-current >= threshold && sentiment >= sentimentFloor
}

// DecayEngine drifts level_current on topics and people toward zero between
// engagements. It never runs on a timer of its own: callers invoke Sweep on
// read or heartbeat, and elapsed wall time does the bookkeeping.
type DecayEngine struct {
	db       *store.DB
	log      *zap.Logger
	rate     float64
	deadZone time.Duration
}

// NewDecayEngine creates a decay engine. rate <= 0 selects the default.
func NewDecayEngine(db *store.DB, log *zap.Logger, rate float64, deadZone time.Duration) *DecayEngine {
	if log == nil {
		log = zap.NewNop()
	}
	if rate <= 0 {
		rate = defaultDecayRate
	}
	if deadZone <= 0 {
		deadZone = decayDeadZone
	}
	return &DecayEngine{db: db, log: log, rate: rate, deadZone: deadZone}
}

// Sweep applies lazy decay across every owner and persists only owners whose
// items moved more than epsilon. Returns the number of items changed.
func (d *DecayEngine) Sweep(now time.Time) (int, error) {
	owners, err := d.db.ListOwners()
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range owners {
		owner := &owners[i]
		n := d.sweepOwner(owner, now)
		if n == 0 {
			continue
		}
		if err := d.db.SaveOwner(owner); err != nil {
			return changed, err
		}
		changed += n
	}
	if changed > 0 {
		d.log.Info("decay sweep", zap.Int("items", changed))
	}
	return changed, nil
}

func (d *DecayEngine) sweepOwner(owner *memory.Owner, now time.Time) int {
	changed := 0
	for i := range owner.Topics {
		t := &owner.Topics[i]
		if next, ok := d.decayed(t.LevelCurrent, t.LastUpdated, now); ok {
			t.LevelCurrent = next
			t.LastUpdated = now
			changed++
		}
	}
	for i := range owner.People {
		p := &owner.People[i]
		if next, ok := d.decayed(p.LevelCurrent, p.LastUpdated, now); ok {
			p.LevelCurrent = next
			p.LastUpdated = now
			changed++
		}
	}
	return changed
}

// decayed computes the post-decay level and whether it is worth persisting.
func (d *DecayEngine) decayed(v float64, lastUpdated, now time.Time) (float64, bool) {
	elapsed := now.Sub(lastUpdated)
	if elapsed < d.deadZone {
		return v, false
	}
	next := Decay(v, elapsed.Hours(), d.rate)
	if v-next <= decayEpsilon {
		return v, false
	}
	return next, true
}
