package nandc

import "time"

type chipParams struct {
	info ChipInfo

	tPROG time.Duration
	tBERS time.Duration
}

var (
	chipIDSamsungK9F1208  = [2]byte{0xEC, 0x76}
	chipIDSpansionS34ML01 = [2]byte{0x01, 0xF1}
	chipIDMicronMT29F2G08 = [2]byte{0x2C, 0xDA}
	chipIDToshibaTC58NVG2 = [2]byte{0x98, 0xDC}
)

// knownChips is keyed by maker and device ID byte.
var knownChips = map[[2]byte]chipParams{
	chipIDSamsungK9F1208: {
		info: ChipInfo{
			Name:      "Samsung K9F1208 512Mb",
			Size:      64 << 20,
			EraseSize: 16 << 10,
			WriteSize: 512,
			OOBSize:   16,
		},
		// [K9F1208|AC Characteristics for Operation]
		// tPROG: Program Time
		tPROG: 500 * time.Microsecond,
		// tBERS: Block Erase Time
		tBERS: 3 * time.Millisecond,
	},

	chipIDSpansionS34ML01: {
		info: ChipInfo{
			Name:      "Spansion S34ML01G1 1Gb",
			Size:      128 << 20,
			EraseSize: 128 << 10,
			WriteSize: 2048,
			OOBSize:   64,
		},
		// [S34ML01G1|AC Characteristics]
		tPROG: 700 * time.Microsecond,
		tBERS: 10 * time.Millisecond,
	},

	chipIDMicronMT29F2G08: {
		info: ChipInfo{
			Name:      "Micron MT29F2G08 2Gb",
			Size:      256 << 20,
			EraseSize: 128 << 10,
			WriteSize: 2048,
			OOBSize:   64,
		},
		// [MT29F2G08|AC Characteristics: Normal Operation]
		tPROG: 600 * time.Microsecond,
		tBERS: 3 * time.Millisecond,
	},

	chipIDToshibaTC58NVG2: {
		info: ChipInfo{
			Name:      "Toshiba TC58NVG2S0 4Gb",
			Size:      512 << 20,
			EraseSize: 256 << 10,
			WriteSize: 4096,
			OOBSize:   224,
		},
		// [TC58NVG2S0|AC Characteristics]
		tPROG: 700 * time.Microsecond,
		tBERS: 5 * time.Millisecond,
	},
}

// LookupChip returns the geometry of a known chip from its ID bytes.
func LookupChip(id [8]byte) (ChipInfo, bool) {
	p, ok := knownChips[[2]byte{id[0], id[1]}]
	return p.info, ok
}

// KnownChips lists the geometries of all chips in the table.
func KnownChips() map[[2]byte]ChipInfo {
	m := make(map[[2]byte]ChipInfo, len(knownChips))
	for id, p := range knownChips {
		m[id] = p.info
	}
	return m
}

func chipParamsByName(name string) *chipParams {
	for _, p := range knownChips {
		if p.info.Name == name {
			return &p
		}
	}
	return nil
}

func (h *Host) paramOrMax(get func(*chipParams) time.Duration) time.Duration {
	// get parameter if the chip is known
	if h.params != nil {
		return get(h.params)
	}

	// fall back to the maximum over all known chips
	var tmax time.Duration
	for _, p := range knownChips {
		tmax = max(tmax, get(&p))
	}
	return tmax
}
