// Package projectstore persists generated projects as one blob per file plus
// a JSON metadata blob, all under a per-user, per-project prefix.
package projectstore

import (
	"context"

	"github.com/mehular0ra/forge/model"
)

type Store interface {
	// Save writes metadata and every generated file. Projects are immutable
	// once saved except for derived-value refreshes via RefreshPreview.
	Save(ctx context.Context, p *model.Project, files map[string]string) error
	Get(ctx context.Context, userID, projectID string) (*model.Project, map[string]string, error)
	// Count returns how many projects the user has. Recomputed from storage
	// on every call; concurrent generations may race to the same ordinal.
	Count(ctx context.Context, userID string) (int, error)
	// RefreshPreview best-effort persists a recomputed preview URL/sandbox
	// pair after a re-deploy. Not part of the immutability contract.
	RefreshPreview(ctx context.Context, p *model.Project) error
}
