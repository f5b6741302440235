package energy

import (
	"fmt"

	"netzwaechter/internal/meter"

	"github.com/BurntSushi/toml"
)

// Override replaces the meter mapping of one object. Synthetic objects are
// served generated series instead of querying a store.
type Override struct {
	ObjectID  int64            `toml:"id"`
	Meters    map[string]int64 `toml:"meters"`
	Synthetic bool             `toml:"synthetic"`
}

// Mapping returns the replacement meter mapping.
func (o Override) Mapping() meter.Mapping {
	m := make(meter.Mapping, len(o.Meters))
	for k, v := range o.Meters {
		m[k] = v
	}
	return m
}

type Overrides map[int64]Override

// LegacyOverrides are the data corrections for objects whose stored meter
// mapping points at the wrong meters.
func LegacyOverrides() Overrides {
	return Overrides{
		207315038: {
			ObjectID: 207315038,
			Meters: map[string]int64{
				"Z20130": 10157626,
				"Z20141": 49733048,
				"Z20142": 49741341,
				"Z20221": 11012549,
				"Z20241": 49733049,
				"Z20541": 49785048,
				"ZLOGID": 207315038,
			},
		},
		207315076: {
			ObjectID: 207315076,
			Meters: map[string]int64{
				"Z20130": 10157626,
				"Z20141": 49733048,
				"Z20142": 49741341,
				"Z20221": 11012549,
				"Z20241": 49733049,
				"Z20541": 49736179,
				"ZLOGID": 207315076,
			},
			Synthetic: true,
		},
		999999999: {
			ObjectID: 999999999,
			Meters: map[string]int64{
				"Z20130": 10157626,
				"Z20141": 49733048,
				"Z20142": 49741341,
				"Z20221": 11012549,
				"Z20241": 49733049,
				"Z20541": 55369880,
				"Z20542": 55369881,
				"Z20543": 55369882,
				"ZLOGID": 999999999,
			},
			Synthetic: true,
		},
	}
}

type overrideFile struct {
	Object []Override `toml:"object"`
}

// LoadOverrides reads an override table from a TOML file:
//
//	[[object]]
//	id = 207315038
//	synthetic = false
//	[object.meters]
//	Z20541 = 49785048
func LoadOverrides(path string) (Overrides, error) {
	var f overrideFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to read overrides %s: %w", path, err)
	}
	out := make(Overrides, len(f.Object))
	for _, o := range f.Object {
		if o.ObjectID == 0 {
			return nil, fmt.Errorf("override without object id in %s", path)
		}
		out[o.ObjectID] = o
	}
	return out, nil
}

// Merge returns o with the entries of other added, other winning on conflicts.
func (o Overrides) Merge(other Overrides) Overrides {
	out := make(Overrides, len(o)+len(other))
	for id, v := range o {
		out[id] = v
	}
	for id, v := range other {
		out[id] = v
	}
	return out
}

// Lookup finds the override of an object. A nil table disables overrides.
func (o Overrides) Lookup(objectID int64) (Override, bool) {
	if o == nil {
		return Override{}, false
	}
	v, ok := o[objectID]
	return v, ok
}
