package engine

import (
	"encoding/json"

	"github.com/mgirard/keepsake/internal/memory"
)

// rollBackItem undoes the most recent cross-persona write to one item: the
// item is restored from the snapshot its change-log entry carries, or
// removed outright when the write created it (no snapshot to restore).
// Reports whether the owner changed.
func rollBackItem(owner *memory.Owner, t memory.DataType, name string) bool {
	switch t {
	case memory.TypeFact:
		f := owner.FindFact(name)
		if f == nil {
			return false
		}
		if snap := lastSnapshot(f.ChangeLog); snap != nil {
			var prev memory.Fact
			if json.Unmarshal(snap, &prev) == nil {
				*f = prev
				return true
			}
		}
		return owner.RemoveItem(t, name)
	case memory.TypeTrait:
		tr := owner.FindTrait(name)
		if tr == nil || tr.Static {
			return false
		}
		if snap := lastSnapshot(tr.ChangeLog); snap != nil {
			var prev memory.Trait
			if json.Unmarshal(snap, &prev) == nil {
				*tr = prev
				return true
			}
		}
		return owner.RemoveItem(t, name)
	case memory.TypeTopic:
		tp := owner.FindTopic(name)
		if tp == nil {
			return false
		}
		if snap := lastSnapshot(tp.ChangeLog); snap != nil {
			var prev memory.Topic
			if json.Unmarshal(snap, &prev) == nil {
				*tp = prev
				return true
			}
		}
		return owner.RemoveItem(t, name)
	case memory.TypePerson:
		p := owner.FindPerson(name)
		if p == nil {
			return false
		}
		if snap := lastSnapshot(p.ChangeLog); snap != nil {
			var prev memory.Person
			if json.Unmarshal(snap, &prev) == nil {
				*p = prev
				return true
			}
		}
		return owner.RemoveItem(t, name)
	}
	return false
}

func lastSnapshot(log []memory.ChangeLogEntry) json.RawMessage {
	for i := len(log) - 1; i >= 0; i-- {
		if len(log[i].PreviousSnapshot) > 0 {
			return log[i].PreviousSnapshot
		}
	}
	return nil
}
