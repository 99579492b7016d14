// Package probe supplies the current machine fingerprint at estimation time.
//
// The engine itself never measures hardware; a Prober is the collaborator
// that answers the "what machine is this" query when an estimate request
// does not carry a fingerprint of its own.
package probe

import (
	"context"

	"github.com/HatiCode/estima/pkg/fingerprint"
)

// Prober reads the current machine fingerprint.
type Prober interface {
	Name() string
	Current(ctx context.Context) (fingerprint.Fingerprint, error)
}

// Static is a fixed-fingerprint prober for tests and for deployments where
// the host characteristics are pinned at startup.
type Static struct {
	Fingerprint fingerprint.Fingerprint
}

func (s *Static) Name() string { return "static" }

// Current returns the pinned fingerprint.
func (s *Static) Current(ctx context.Context) (fingerprint.Fingerprint, error) {
	return s.Fingerprint, nil
}
