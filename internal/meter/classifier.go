package meter

import (
	"sort"

	"github.com/samber/lo"
)

type Descriptor struct {
	Key      string   `json:"key"`
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Ordinal  int      `json:"ordinal"`
	Name     string   `json:"name"`
}

// Describe classifies a single entry. ok is false for keys outside the scheme.
func (s Scheme) Describe(key string, raw any) (Descriptor, bool) {
	r, ok := s.match(key)
	if !ok {
		return Descriptor{}, false
	}
	ord := ordinal(r, key)
	return Descriptor{
		Key:      key,
		ID:       ParseValue(raw, s.Separator).Resolve(key),
		Category: r.Category,
		Ordinal:  ord,
		Name:     label(r, key, ord),
	}, true
}

// Classify returns the descriptors of every known meter in m, grouped by
// category in display order and sorted by ordinal within a category.
func Classify(m Mapping, s Scheme) []Descriptor {
	out := make([]Descriptor, 0, len(m))
	for key, raw := range m {
		if d, ok := s.Describe(key, raw); ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if ra, rb := ordinalRank(a.Ordinal), ordinalRank(b.Ordinal); ra != rb {
			return ra < rb
		}
		return a.Key < b.Key
	})
	return out
}

func ByCategory(ds []Descriptor, c Category) []Descriptor {
	return lo.Filter(ds, func(d Descriptor, _ int) bool {
		return d.Category == c
	})
}
