package domain

// HardwareProfile is a named (hashrate, power draw) miner configuration used
// by the potential calculator.
type HardwareProfile struct {
	ID          string  // profile identifier, e.g. "s19-pro"
	HashrateTHs float64 // terahashes per second
	PowerKW     float64 // power draw in kilowatts
}

// DefaultProfiles is the fixed profile set aggregates are maintained for.
var DefaultProfiles = []HardwareProfile{
	{ID: "s9", HashrateTHs: 13.5, PowerKW: 1.323},
	{ID: "s19-pro", HashrateTHs: 110, PowerKW: 3.25},
	{ID: "s21", HashrateTHs: 200, PowerKW: 3.5},
}

// ProfileByID looks up a profile in DefaultProfiles. The bool is false when
// the ID is unknown.
func ProfileByID(id string) (HardwareProfile, bool) {
	for _, p := range DefaultProfiles {
		if p.ID == id {
			return p, true
		}
	}
	return HardwareProfile{}, false
}
