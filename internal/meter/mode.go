package meter

import "fmt"

type Mode int

const (
	Standard Mode = iota
	SingleNetwork
	EnhancedMultiNetwork
	ExplicitTemperature
)

func (m Mode) String() string {
	switch m {
	case SingleNetwork:
		return "single-network"
	case EnhancedMultiNetwork:
		return "enhanced-multi-network"
	case ExplicitTemperature:
		return "explicit-temperature"
	default:
		return "standard"
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	for _, mode := range []Mode{Standard, SingleNetwork, EnhancedMultiNetwork, ExplicitTemperature} {
		if mode.String() == string(text) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown dashboard mode %q", text)
}

// SelectMode picks the dashboard layout for a mapping. Checks run in
// priority order and the first match wins.
func SelectMode(m Mapping, s Scheme) Mode {
	if ParseValue(m[s.TemperatureKey], s.Separator).Kind != Invalid {
		return ExplicitTemperature
	}
	// Secondary-sensor objects may carry an empty temperature key; the
	// pairing alone selects the temperature layout.
	if s.SecondarySensorKey != "" && m.Has(s.SecondarySensorKey) && m.Has(s.TemperatureKey) {
		return ExplicitTemperature
	}

	networks := ByCategory(Classify(m, s), Network)
	switch {
	case len(networks) > 1:
		return EnhancedMultiNetwork
	case len(networks) == 1 && networks[0].Ordinal == s.PrimaryOrdinal:
		return SingleNetwork
	}
	return Standard
}
