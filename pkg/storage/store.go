// Package storage persists the engine's metrics document.
//
// The entire engine state (samples, trained models, retrain counters) is one
// versioned document, written after each mutating operation. Backends: local
// file (default for the desktop deployment), Redis (shared state across
// hosts), and memory (tests).
package storage

import (
	"context"
	"time"

	"github.com/HatiCode/estima/pkg/regress"
)

// DocumentVersion is the current schema version of the persisted document.
const DocumentVersion = 1

// Sample is one recorded run: the machine's feature vector, how long the
// service took, and when. Samples are immutable; they leave the store only
// through FIFO eviction or an explicit clear.
type Sample struct {
	ServiceID   string    `json:"serviceId"`
	DurationMs  float64   `json:"durationMs"`
	Timestamp   time.Time `json:"timestamp"`
	Features    []float64 `json:"features"`
	PresetID    string    `json:"presetId,omitempty"`
	OptionsHash string    `json:"optionsHash,omitempty"`
}

// ServiceModel is a trained regression for one service, together with the
// normalization stats it was fit with. Replaced wholesale on retrain, never
// partially updated.
type ServiceModel struct {
	regress.Model
	FeatureVersion int       `json:"featureVersion"`
	TrainedAt      time.Time `json:"trainedAt"`
}

// Document is the full persisted engine state.
//
// Version and FeatureVersion govern migration on load: a feature-schema
// mismatch invalidates Models but not Samples, which are retained and
// retrained against the new schema.
type Document struct {
	Version              int                     `json:"version"`
	FeatureVersion       int                     `json:"featureVersion"`
	Samples              []Sample                `json:"samples"`
	Models               map[string]ServiceModel `json:"models"`
	MaxSamplesPerService int                     `json:"maxSamplesPerService"`
	SamplesSinceRetrain  map[string]int          `json:"samplesSinceRetrain"`
	RetrainBatchSize     int                     `json:"retrainBatchSize"`
}

// Store loads and saves the metrics document.
type Store interface {
	// Load returns the stored document. found is false on first run, which
	// is not an error; the engine starts from defaults.
	Load(ctx context.Context) (doc Document, found bool, err error)
	// Save replaces the stored document.
	Save(ctx context.Context, doc Document) error
}
