// Package engine implements the service duration estimation engine.
//
// The engine records (feature vector, duration) samples per service,
// maintains outlier-resistant aggregate statistics, and incrementally
// retrains a weighted ridge regression per service once enough samples
// accumulate. Estimates come from the freshest model when one exists and
// fall back to the aggregator's robust average otherwise.
//
// Concurrency follows a single-writer-per-service discipline: a per-service
// mutex serializes append, retrain, and clear for one service while leaving
// other services free to proceed. Document maps sit behind a short-held
// engine-level RWMutex; persistence snapshots the document under read lock
// and performs I/O outside it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HatiCode/estima/pkg/fingerprint"
	"github.com/HatiCode/estima/pkg/regress"
	"github.com/HatiCode/estima/pkg/stats"
	"github.com/HatiCode/estima/pkg/storage"
)

// Config tunes the engine. Zero values fall back to defaults.
type Config struct {
	// MaxSamplesPerService caps each service's sample set; the oldest
	// sample is evicted first. Default 50.
	MaxSamplesPerService int
	// RetrainBatchSize is how many new samples trigger an automatic
	// retrain for a service. Default 5.
	RetrainBatchSize int
	// RidgeLambda is the L2 regularization strength. Default regress.DefaultLambda.
	RidgeLambda float64
	// DecayHalfLife controls recency weighting for both the aggregator and
	// the trainer. Default stats.DefaultHalfLife (30 days).
	DecayHalfLife time.Duration
	// EstimateFloorMs clamps model predictions; a physical duration cannot
	// be negative. Default 1.
	EstimateFloorMs float64
}

func (c Config) withDefaults() Config {
	if c.MaxSamplesPerService <= 0 {
		c.MaxSamplesPerService = 50
	}
	if c.RetrainBatchSize <= 0 {
		c.RetrainBatchSize = 5
	}
	if c.RidgeLambda <= 0 {
		c.RidgeLambda = regress.DefaultLambda
	}
	if c.DecayHalfLife <= 0 {
		c.DecayHalfLife = stats.DefaultHalfLife
	}
	if c.EstimateFloorMs <= 0 {
		c.EstimateFloorMs = 1
	}
	return c
}

// AppendRequest is the completed-run notification consumed from collaborators.
type AppendRequest struct {
	ServiceID   string                  `json:"serviceId"`
	DurationMs  float64                 `json:"durationMs"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	PresetID    string                  `json:"presetId,omitempty"`
	OptionsHash string                  `json:"optionsHash,omitempty"`
}

// Estimate answers "how long will this service take on this machine".
// EstimatedMs and ModelQuality are meaningful only when FromModel is true;
// otherwise Stats.AverageMs is the best available answer.
type Estimate struct {
	ServiceID    string             `json:"serviceId"`
	Stats        stats.ServiceStats `json:"stats"`
	EstimatedMs  float64            `json:"estimatedMs,omitempty"`
	ModelQuality float64            `json:"modelQuality,omitempty"`
	FromModel    bool               `json:"fromModel"`
}

// Report is the per-service stats view exposed to operators: descriptive
// aggregates plus model quality when a trained model exists.
type Report struct {
	stats.ServiceStats
	ModelQuality float64 `json:"modelQuality,omitempty"`
	HasModel     bool    `json:"hasModel"`
}

// Engine owns the metrics document and all operations on it. Construct with
// New, then call Load before use.
type Engine struct {
	cfg    Config
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	samples  map[string][]storage.Sample
	models   map[string]storage.ServiceModel
	counters map[string]int

	locksMu  sync.Mutex
	svcLocks map[string]*sync.Mutex

	saveMu sync.Mutex
}

// New creates an engine over the given persistence store. The store handle
// is injected rather than ambient so tests can run against isolated stores.
func New(store storage.Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    store,
		logger:   logger,
		now:      time.Now,
		samples:  make(map[string][]storage.Sample),
		models:   make(map[string]storage.ServiceModel),
		counters: make(map[string]int),
		svcLocks: make(map[string]*sync.Mutex),
	}
}

// Load restores persisted state. Called once at startup.
//
// A document with an older schema or feature version is migrated in place:
// trained models are dropped (their coefficient order no longer matches),
// samples whose feature length matches the current schema are retained, and
// retrain counters reset so retraining re-triggers naturally. A document
// from a newer engine build fails with ErrSchemaMismatch.
func (e *Engine) Load(ctx context.Context) error {
	doc, found, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load metrics document: %w", err)
	}
	if !found {
		e.logger.Info("no persisted metrics document, starting fresh")
		return nil
	}
	if doc.Version > storage.DocumentVersion {
		return fmt.Errorf("%w: stored version %d, engine version %d",
			ErrSchemaMismatch, doc.Version, storage.DocumentVersion)
	}

	migrated := doc.Version < storage.DocumentVersion || doc.FeatureVersion != fingerprint.Version

	e.mu.Lock()
	kept, dropped := 0, 0
	for _, s := range doc.Samples {
		if len(s.Features) != fingerprint.Dim {
			dropped++
			continue
		}
		e.samples[s.ServiceID] = append(e.samples[s.ServiceID], s)
		kept++
	}
	for id, set := range e.samples {
		if over := len(set) - e.cfg.MaxSamplesPerService; over > 0 {
			e.samples[id] = append([]storage.Sample(nil), set[over:]...)
		}
	}
	if !migrated {
		for id, m := range doc.Models {
			if m.FeatureVersion == fingerprint.Version && m.Norm.Dim() == fingerprint.Dim {
				e.models[id] = m
			}
		}
		for id, n := range doc.SamplesSinceRetrain {
			e.counters[id] = n
		}
	}
	e.mu.Unlock()

	if migrated {
		e.logger.Warn("migrated metrics document",
			"stored_version", doc.Version,
			"stored_feature_version", doc.FeatureVersion,
			"samples_kept", kept,
			"samples_dropped", dropped,
			"models_dropped", len(doc.Models),
		)
		// Counters reset to the retained sample counts so every service with
		// enough history retrains on its next append.
		e.mu.Lock()
		for id, set := range e.samples {
			e.counters[id] = len(set)
		}
		e.mu.Unlock()
		return e.persist(ctx)
	}

	e.logger.Info("loaded metrics document",
		"services", len(e.samples),
		"samples", kept,
		"models", len(e.models),
	)
	return nil
}

// Append records a completed run and retrains the service's model when the
// batch threshold is crossed. It reports whether a retrain ran.
//
// A persistence failure is returned to the caller but does not undo the
// in-memory append; the sample survives for the remainder of the session.
func (e *Engine) Append(ctx context.Context, req AppendRequest) (bool, error) {
	if req.ServiceID == "" {
		return false, errors.New("service id required")
	}
	if req.DurationMs <= 0 {
		return false, fmt.Errorf("%w: got %v ms", ErrInvalidDuration, req.DurationMs)
	}

	lock := e.serviceLock(req.ServiceID)
	lock.Lock()
	defer lock.Unlock()

	sample := storage.Sample{
		ServiceID:   req.ServiceID,
		DurationMs:  req.DurationMs,
		Timestamp:   e.now(),
		Features:    fingerprint.Vector(req.Fingerprint),
		PresetID:    req.PresetID,
		OptionsHash: req.OptionsHash,
	}

	e.mu.Lock()
	set := append(e.samples[req.ServiceID], sample)
	if len(set) > e.cfg.MaxSamplesPerService {
		set = append([]storage.Sample(nil), set[1:]...)
	}
	e.samples[req.ServiceID] = set
	e.counters[req.ServiceID]++
	due := e.counters[req.ServiceID] >= e.cfg.RetrainBatchSize
	e.mu.Unlock()

	retrained := false
	if due {
		switch err := e.trainLocked(req.ServiceID); {
		case err == nil:
			retrained = true
		case errors.Is(err, ErrNotEnoughData):
			// Counter stays up; the next append retries once the floor is met.
			e.logger.Debug("retrain deferred", "service", req.ServiceID, "error", err)
		default:
			e.logger.Error("retrain failed", "service", req.ServiceID, "error", err)
		}
	}

	return retrained, e.persist(ctx)
}

// Stats computes aggregate statistics for one service. Returns ErrNoData
// when the service has no samples.
func (e *Engine) Stats(serviceID string) (Report, error) {
	e.mu.RLock()
	obs := observations(e.samples[serviceID])
	model, hasModel := e.models[serviceID]
	e.mu.RUnlock()

	st, ok := stats.Compute(serviceID, obs, e.now(), e.cfg.DecayHalfLife)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", ErrNoData, serviceID)
	}

	report := Report{ServiceStats: st, HasModel: hasModel}
	if hasModel {
		report.ModelQuality = model.RSquared
	}
	return report, nil
}

// StatsAll computes statistics for every service with samples, sorted by
// service id.
func (e *Engine) StatsAll() []Report {
	e.mu.RLock()
	ids := make([]string, 0, len(e.samples))
	for id := range e.samples {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	reports := make([]Report, 0, len(ids))
	for _, id := range ids {
		if r, err := e.Stats(id); err == nil {
			reports = append(reports, r)
		}
	}
	return reports
}

// Estimate predicts the duration of the next run of a service on the
// machine described by fp.
//
// With a trained model the prediction is intercept + coefficients over the
// normalized feature vector, clamped to the configured floor. Without one,
// the aggregator's robust average is the answer and FromModel is false.
// Returns ErrNoData when the service has neither samples nor a model.
func (e *Engine) Estimate(serviceID string, fp fingerprint.Fingerprint) (Estimate, error) {
	e.mu.RLock()
	obs := observations(e.samples[serviceID])
	model, hasModel := e.models[serviceID]
	e.mu.RUnlock()

	st, ok := stats.Compute(serviceID, obs, e.now(), e.cfg.DecayHalfLife)
	if !ok && !hasModel {
		return Estimate{}, fmt.Errorf("%w: %s", ErrNoData, serviceID)
	}

	est := Estimate{ServiceID: serviceID, Stats: st}
	if !hasModel {
		return est, nil
	}

	predicted := model.Predict(fingerprint.Vector(fp))
	if predicted < e.cfg.EstimateFloorMs {
		predicted = e.cfg.EstimateFloorMs
	}
	est.EstimatedMs = predicted
	est.ModelQuality = model.RSquared
	est.FromModel = true
	return est, nil
}

// Retrain forces a retrain for one service regardless of the batch counter.
func (e *Engine) Retrain(ctx context.Context, serviceID string) error {
	lock := e.serviceLock(serviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := e.trainLocked(serviceID); err != nil {
		return err
	}
	return e.persist(ctx)
}

// RetrainAll forces a retrain for every service, skipping those below the
// sample floor, and reports how many models were trained.
func (e *Engine) RetrainAll(ctx context.Context) (int, error) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.samples))
	for id := range e.samples {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	trained := 0
	for _, id := range ids {
		lock := e.serviceLock(id)
		lock.Lock()
		err := e.trainLocked(id)
		lock.Unlock()

		switch {
		case err == nil:
			trained++
		case errors.Is(err, ErrNotEnoughData) || errors.Is(err, ErrNoData):
			// Soft: services without enough history keep their fallback.
		default:
			return trained, fmt.Errorf("retrain %s: %w", id, err)
		}
	}

	if trained == 0 {
		return 0, nil
	}
	return trained, e.persist(ctx)
}

// ClearService removes all samples and the trained model for one service.
// Clearing an unknown service removes nothing and is not an error.
func (e *Engine) ClearService(ctx context.Context, serviceID string) (int, error) {
	lock := e.serviceLock(serviceID)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	removed := len(e.samples[serviceID])
	delete(e.samples, serviceID)
	delete(e.models, serviceID)
	delete(e.counters, serviceID)
	e.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	e.logger.Info("cleared service", "service", serviceID, "samples_removed", removed)
	return removed, e.persist(ctx)
}

// ClearAll resets the engine to defaults and reports how many samples were
// removed. It takes every known service's lock before wiping so an in-flight
// append or retrain cannot write a model for a cleared service into the
// fresh maps.
func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	e.mu.RLock()
	ids := make([]string, 0, len(e.samples))
	for id := range e.samples {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	// Sorted acquisition keeps two concurrent ClearAll calls from deadlocking;
	// every other operation holds at most one service lock.
	locks := make([]*sync.Mutex, len(ids))
	for i, id := range ids {
		locks[i] = e.serviceLock(id)
		locks[i].Lock()
	}
	defer func() {
		for _, lock := range locks {
			lock.Unlock()
		}
	}()

	e.mu.Lock()
	removed := 0
	for _, set := range e.samples {
		removed += len(set)
	}
	e.samples = make(map[string][]storage.Sample)
	e.models = make(map[string]storage.ServiceModel)
	e.counters = make(map[string]int)
	e.mu.Unlock()

	e.logger.Info("cleared all services", "samples_removed", removed)
	return removed, e.persist(ctx)
}

// SampleCount returns the number of stored samples for a service.
func (e *Engine) SampleCount(serviceID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.samples[serviceID])
}

// Model returns the trained model for a service, if one exists.
func (e *Engine) Model(serviceID string) (storage.ServiceModel, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.models[serviceID]
	return m, ok
}

// trainLocked fits a fresh model for one service. The caller must hold the
// service lock; the snapshot taken under read lock therefore cannot race a
// concurrent append for the same service.
func (e *Engine) trainLocked(serviceID string) error {
	e.mu.RLock()
	set := append([]storage.Sample(nil), e.samples[serviceID]...)
	e.mu.RUnlock()

	if len(set) == 0 {
		return fmt.Errorf("%w: %s", ErrNoData, serviceID)
	}

	now := e.now()
	features := make([][]float64, len(set))
	targets := make([]float64, len(set))
	weights := make([]float64, len(set))
	for i, s := range set {
		features[i] = s.Features
		targets[i] = s.DurationMs
		weights[i] = stats.DecayWeight(now.Sub(s.Timestamp), e.cfg.DecayHalfLife)
	}

	model, err := regress.Train(features, targets, weights, e.cfg.RidgeLambda)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.models[serviceID] = storage.ServiceModel{
		Model:          model,
		FeatureVersion: fingerprint.Version,
		TrainedAt:      now,
	}
	e.counters[serviceID] = 0
	e.mu.Unlock()

	e.logger.Info("trained model",
		"service", serviceID,
		"samples", model.SampleCount,
		"r_squared", model.RSquared,
	)
	return nil
}

// persist snapshots the document under read lock and writes it outside any
// engine lock. Saves are serialized so a slow backend cannot reorder them.
func (e *Engine) persist(ctx context.Context) error {
	e.mu.RLock()
	doc := storage.Document{
		Version:              storage.DocumentVersion,
		FeatureVersion:       fingerprint.Version,
		Models:               make(map[string]storage.ServiceModel, len(e.models)),
		MaxSamplesPerService: e.cfg.MaxSamplesPerService,
		SamplesSinceRetrain:  make(map[string]int, len(e.counters)),
		RetrainBatchSize:     e.cfg.RetrainBatchSize,
	}
	ids := make([]string, 0, len(e.samples))
	for id := range e.samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		doc.Samples = append(doc.Samples, e.samples[id]...)
	}
	for id, m := range e.models {
		doc.Models[id] = m
	}
	for id, n := range e.counters {
		doc.SamplesSinceRetrain[id] = n
	}
	e.mu.RUnlock()

	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	if err := e.store.Save(ctx, doc); err != nil {
		e.logger.Error("failed to persist metrics document", "error", err)
		return &PersistenceError{Err: err}
	}
	return nil
}

func (e *Engine) serviceLock(serviceID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.svcLocks[serviceID]
	if !ok {
		lock = &sync.Mutex{}
		e.svcLocks[serviceID] = lock
	}
	return lock
}

func observations(set []storage.Sample) []stats.Observation {
	obs := make([]stats.Observation, len(set))
	for i, s := range set {
		obs[i] = stats.Observation{DurationMs: s.DurationMs, Timestamp: s.Timestamp}
	}
	return obs
}
