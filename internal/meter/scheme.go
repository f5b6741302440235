package meter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Category int

const (
	Network Category = iota
	Boiler
	HeatPump
	Temperature
	Other
)

var categoryNames = map[Category]string{
	Network:     "network",
	Boiler:      "boiler",
	HeatPump:    "heatpump",
	Temperature: "temperature",
	Other:       "other",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	for cat, name := range categoryNames {
		if name == string(text) {
			*c = cat
			return nil
		}
	}
	return fmt.Errorf("unknown meter category %q", text)
}

// Rule assigns meter keys to a category, either by code prefix followed
// by an ordinal or by exact key.
type Rule struct {
	Category   Category
	Prefix     string
	Exact      bool
	Label      string
	MaxOrdinal int
}

// Scheme is the meter-key grammar of an installation.
type Scheme struct {
	Rules              []Rule
	TemperatureKey     string
	SecondarySensorKey string
	PrimaryOrdinal     int
	Separator          string
}

func DefaultScheme() Scheme {
	return Scheme{
		Rules: []Rule{
			{Category: Network, Prefix: "Z2054", Label: "Network", MaxOrdinal: 3},
			{Category: Boiler, Prefix: "Z2014", Label: "Boiler", MaxOrdinal: 3},
			{Category: HeatPump, Prefix: "Z2024", Label: "Heat pump", MaxOrdinal: 4},
			{Category: Temperature, Prefix: "TempID", Exact: true, Label: "Temperature"},
			{Category: Other, Prefix: "Z20130", Exact: true, Label: "Heat pump share"},
			{Category: Other, Prefix: "Z20221", Exact: true, Label: "Generator"},
			{Category: Other, Prefix: "ZLOGID", Exact: true, Label: "Total"},
		},
		TemperatureKey:     "TempID",
		SecondarySensorKey: "Z20451",
		PrimaryOrdinal:     1,
		Separator:          "_",
	}
}

// match returns the rule for key. Exact rules beat prefix rules, and among
// prefix rules the longest prefix wins.
func (s Scheme) match(key string) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range s.Rules {
		if r.Exact {
			if key == r.Prefix {
				return r, true
			}
			continue
		}
		if !strings.HasPrefix(key, r.Prefix) {
			continue
		}
		if !found || len(r.Prefix) > len(best.Prefix) {
			best = r
			found = true
		}
	}
	return best, found
}

// CategoryOf reports the category of key. Keys outside the scheme report
// Other with ok=false.
func (s Scheme) CategoryOf(key string) (Category, bool) {
	r, ok := s.match(key)
	if !ok {
		return Other, false
	}
	return r.Category, true
}

// ordinal is 0 for exact rules and for suffixes that are not a positive number.
func ordinal(r Rule, key string) int {
	if r.Exact {
		return 0
	}
	n, err := strconv.Atoi(key[len(r.Prefix):])
	if err != nil || n < 1 {
		return 0
	}
	return n
}

func label(r Rule, key string, ord int) string {
	if r.Exact {
		if r.Label == "" {
			return key
		}
		return r.Label
	}
	if ord == 0 || (r.MaxOrdinal > 0 && ord > r.MaxOrdinal) {
		return key
	}
	return fmt.Sprintf("%s %d", r.Label, ord)
}

func ordinalRank(ord int) int {
	if ord == 0 {
		return math.MaxInt
	}
	return ord
}

// Name returns the display label for key, or the key itself when it is
// outside the scheme.
func (s Scheme) Name(key string) string {
	r, ok := s.match(key)
	if !ok {
		return key
	}
	return label(r, key, ordinal(r, key))
}
