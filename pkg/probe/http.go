package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/estima/pkg/fingerprint"
)

// HTTPProber reads the machine fingerprint from a host-agent JSON endpoint,
// extracting fields with configurable gjson path expressions. It adapts to
// any agent that can serve hardware facts over HTTP without requiring a
// bespoke client per agent.
//
// Example against a sysinfo agent:
//
//	prober := &HTTPProber{
//	    URL: "http://127.0.0.1:9102/sysinfo",
//	    Paths: FieldPaths{
//	        PhysicalCores:  "cpu.physical_cores",
//	        LogicalCores:   "cpu.logical_cores",
//	        BaseClockGHz:   "cpu.base_clock_ghz",
//	        RAMAvailableMB: "memory.available_mb",
//	        RAMTotalMB:     "memory.total_mb",
//	        SSD:            "disk.ssd",
//	        ACPower:        "power.ac",
//	        AVX2:           "cpu.flags.avx2",
//	        DiscreteGPU:    "gpu.discrete",
//	        Network:        "network.class",
//	        CPULoadPercent: "cpu.load_percent",
//	    },
//	}
//
// Missing paths resolve to the neutral zero value, matching the feature
// vector's treatment of absent fields.
type HTTPProber struct {
	// URL is the agent endpoint to query (required).
	URL string

	// Headers are custom HTTP headers, e.g. an agent auth token.
	Headers map[string]string

	// Paths maps fingerprint fields to gjson paths in the response body.
	Paths FieldPaths

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

// FieldPaths holds one gjson path per fingerprint field. Empty paths leave
// the field at its zero value.
type FieldPaths struct {
	PhysicalCores  string
	LogicalCores   string
	BaseClockGHz   string
	RAMAvailableMB string
	RAMTotalMB     string
	SSD            string
	ACPower        string
	AVX2           string
	DiscreteGPU    string
	Network        string
	CPULoadPercent string
}

func (p *HTTPProber) Name() string { return "http" }

// Current queries the agent endpoint and assembles a fingerprint from the
// configured paths. It respects the provided context for cancellation.
func (p *HTTPProber) Current(ctx context.Context) (fingerprint.Fingerprint, error) {
	if p.URL == "" {
		return fingerprint.Fingerprint{}, errors.New("http prober: URL is required")
	}

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fingerprint.Fingerprint{}, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := cli.Do(req)
	if err != nil {
		return fingerprint.Fingerprint{}, fmt.Errorf("http prober: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fingerprint.Fingerprint{}, fmt.Errorf("http prober: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fingerprint.Fingerprint{}, fmt.Errorf("http prober: read body: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return fingerprint.Fingerprint{}, errors.New("http prober: response is not valid JSON")
	}

	doc := string(body)
	fp := fingerprint.Fingerprint{
		PhysicalCores:  int(intAt(doc, p.Paths.PhysicalCores)),
		LogicalCores:   int(intAt(doc, p.Paths.LogicalCores)),
		BaseClockGHz:   floatAt(doc, p.Paths.BaseClockGHz),
		RAMAvailableMB: floatAt(doc, p.Paths.RAMAvailableMB),
		RAMTotalMB:     floatAt(doc, p.Paths.RAMTotalMB),
		SSD:            boolAt(doc, p.Paths.SSD),
		ACPower:        boolAt(doc, p.Paths.ACPower),
		AVX2:           boolAt(doc, p.Paths.AVX2),
		DiscreteGPU:    boolAt(doc, p.Paths.DiscreteGPU),
		Network:        networkAt(doc, p.Paths.Network),
		CPULoadPercent: floatAt(doc, p.Paths.CPULoadPercent),
	}
	return fp, nil
}

func floatAt(doc, path string) float64 {
	if path == "" {
		return 0
	}
	return gjson.Get(doc, path).Float()
}

func intAt(doc, path string) int64 {
	if path == "" {
		return 0
	}
	return gjson.Get(doc, path).Int()
}

func boolAt(doc, path string) bool {
	if path == "" {
		return false
	}
	return gjson.Get(doc, path).Bool()
}

func networkAt(doc, path string) fingerprint.NetworkClass {
	if path == "" {
		return fingerprint.NetworkUnknown
	}
	switch fingerprint.NetworkClass(gjson.Get(doc, path).String()) {
	case fingerprint.NetworkWired:
		return fingerprint.NetworkWired
	case fingerprint.NetworkWireless:
		return fingerprint.NetworkWireless
	case fingerprint.NetworkCellular:
		return fingerprint.NetworkCellular
	default:
		return fingerprint.NetworkUnknown
	}
}
