package reconcile

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/lox/etdemand/internal/models"
)

// Key identifies one aggregate of the coupling flow log.
type Key struct {
	Package  string
	EntityID int
	Timestep int
}

func (k Key) less(o Key) bool {
	if k.Package != o.Package {
		return k.Package < o.Package
	}
	if k.EntityID != o.EntityID {
		return k.EntityID < o.EntityID
	}
	return k.Timestep < o.Timestep
}

// Group is the sum of every log row sharing a Key.
type Group struct {
	Key
	QFromProvider float64
	QToReceiver   float64
	Rows          int
}

// GroupSum sums both flow quantities per (package, entity, timestep). Groups
// come back ordered by key, and each sum adds its terms in ascending order,
// so the result does not depend on the order of recs.
func GroupSum(recs []models.FlowRecord) []Group {
	type terms struct {
		from, to []float64
	}
	byKey := make(map[Key]*terms)
	for _, r := range recs {
		k := Key{Package: r.Package, EntityID: r.EntityID, Timestep: r.Timestep}
		t, ok := byKey[k]
		if !ok {
			t = &terms{}
			byKey[k] = t
		}
		t.from = append(t.from, r.QFromProvider)
		t.to = append(t.to, r.QToReceiver)
	}

	groups := make([]Group, 0, len(byKey))
	for k, t := range byKey {
		sort.Float64s(t.from)
		sort.Float64s(t.to)
		groups = append(groups, Group{
			Key:           k,
			QFromProvider: floats.Sum(t.from),
			QToReceiver:   floats.Sum(t.to),
			Rows:          len(t.from),
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key.less(groups[j].Key) })
	return groups
}
