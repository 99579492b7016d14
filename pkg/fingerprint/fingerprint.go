// Package fingerprint converts a raw machine characterization into the
// fixed-order numeric feature vector used for duration regression.
//
// The feature order and length are frozen per Version. All stored samples,
// normalization stats, and model coefficients are aligned to this order;
// bumping Version invalidates previously trained models (the engine drops
// them on load and retrains from retained samples).
package fingerprint

// Version identifies the feature schema. Bump it whenever the feature
// order, length, or derivation changes.
const Version = 1

// Dim is the length of every feature vector produced by Vector.
const Dim = 10

// NetworkClass categorizes the host's network connectivity.
type NetworkClass string

const (
	NetworkWired    NetworkClass = "wired"
	NetworkWireless NetworkClass = "wireless"
	NetworkCellular NetworkClass = "cellular"
	NetworkUnknown  NetworkClass = "unknown"
)

// Fingerprint is the raw machine characterization supplied by collaborators
// alongside each completed run. Immutable once captured.
type Fingerprint struct {
	PhysicalCores  int          `json:"physicalCores"`
	LogicalCores   int          `json:"logicalCores"`
	BaseClockGHz   float64      `json:"baseClockGHz"`
	RAMAvailableMB float64      `json:"ramAvailableMb"`
	RAMTotalMB     float64      `json:"ramTotalMb"`
	SSD            bool         `json:"ssd"`
	ACPower        bool         `json:"acPower"`
	AVX2           bool         `json:"avx2"`
	DiscreteGPU    bool         `json:"discreteGpu"`
	Network        NetworkClass `json:"network"`
	CPULoadPercent float64      `json:"cpuLoadPercent"`
}

// Vector derives the feature vector from a fingerprint. It is pure and
// deterministic: the same fingerprint always yields the same vector, and
// absent or unknown fields contribute zero.
//
// Feature order (frozen for Version 1):
//
//	0  composite CPU score: physical cores x base clock, SMT siblings at half weight
//	1  logical core count
//	2  available RAM in GB
//	3  total RAM in GB
//	4  SSD indicator (0/1)
//	5  AC power indicator (0/1)
//	6  AVX2 indicator (0/1)
//	7  discrete GPU indicator (0/1)
//	8  network class ordinal (wired 3, wireless 2, cellular 1, unknown 0)
//	9  instantaneous CPU load percent
func Vector(fp Fingerprint) []float64 {
	v := make([]float64, Dim)
	v[0] = cpuScore(fp)
	v[1] = float64(fp.LogicalCores)
	v[2] = fp.RAMAvailableMB / 1024.0
	v[3] = fp.RAMTotalMB / 1024.0
	v[4] = boolFeature(fp.SSD)
	v[5] = boolFeature(fp.ACPower)
	v[6] = boolFeature(fp.AVX2)
	v[7] = boolFeature(fp.DiscreteGPU)
	v[8] = networkOrdinal(fp.Network)
	v[9] = fp.CPULoadPercent
	return v
}

// cpuScore combines core count and clock into a single throughput proxy.
// Hyperthread siblings count at half weight since they share execution units.
func cpuScore(fp Fingerprint) float64 {
	physical := float64(fp.PhysicalCores)
	smt := float64(fp.LogicalCores - fp.PhysicalCores)
	if smt < 0 {
		smt = 0
	}
	return (physical + 0.5*smt) * fp.BaseClockGHz
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// networkOrdinal maps connectivity classes to a monotonic scale: faster,
// more reliable links score higher. Unrecognized values map to 0, matching
// the neutral default for absent fields.
func networkOrdinal(nc NetworkClass) float64 {
	switch nc {
	case NetworkWired:
		return 3
	case NetworkWireless:
		return 2
	case NetworkCellular:
		return 1
	case NetworkUnknown:
		return 0
	default:
		return 0
	}
}
