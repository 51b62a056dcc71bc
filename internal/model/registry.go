package model

import (
	"context"
	"log"
	"sync"
	"time"
)

// Registry holds the two process-wide models. Loading happens once on first
// use and the loaded predictors are shared read-only across all sessions.
type Registry struct {
	once  sync.Once
	water Predictor
	risk  Predictor

	// Load builds the predictors. Replaceable so tests can install stubs.
	Load func() (water, risk Predictor)
}

// NewRegistry wires the registry against an inference sidecar base URL.
// The conventional endpoints are <base>/water and <base>/risk.
func NewRegistry(sidecarBase string) *Registry {
	return &Registry{
		Load: func() (Predictor, Predictor) {
			water := NewHTTPPredictor(sidecarBase + "/water")
			risk := NewHTTPPredictor(sidecarBase + "/risk")

			// Warm-up ping; a cold sidecar is not fatal, sessions will
			// surface per-tick errors if it never comes up.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if !water.Healthy(ctx) || !risk.Healthy(ctx) {
				log.Printf("[Model] inference sidecar at %s not ready yet", sidecarBase)
			}
			return water, risk
		},
	}
}

// NewStubRegistry returns a registry preloaded with the given predictors.
func NewStubRegistry(water, risk Predictor) *Registry {
	return &Registry{Load: func() (Predictor, Predictor) { return water, risk }}
}

func (r *Registry) load() {
	r.once.Do(func() {
		r.water, r.risk = r.Load()
		log.Printf("[Model] dual models loaded")
	})
}

// Water returns the water-segmentation model.
func (r *Registry) Water() Predictor {
	r.load()
	return r.water
}

// Risk returns the vehicle/risk model.
func (r *Registry) Risk() Predictor {
	r.load()
	return r.risk
}
