package importer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/remote"
)

// Decision is the collision resolver's verdict for a candidate entity
type Decision string

const (
	DecisionNew      Decision = "new"
	DecisionUpdate   Decision = "update"
	DecisionSkip     Decision = "skip"
	DecisionConflict Decision = "conflict"
)

// RecordLookup is the slice of the record repository the resolver reads.
type RecordLookup interface {
	GetRecordBySourceID(kind, sourceID string) (*database.Record, error)
	GetRecordBySlug(kind, slug string) (*database.Record, error)
}

// NameProbe checks whether a physical filename is already taken locally.
type NameProbe interface {
	AssetFileNameExists(fileName string) (bool, error)
}

// Resolver decides whether a remote item is new, an update to an existing
// local entity, or a policy conflict. It never blocks batch progression: the
// conflict verdict is mapped to the job's configured default by the caller.
type Resolver struct {
	kind    string
	records RecordLookup
	names   NameProbe
}

// NewResolver creates a collision resolver for one import kind.
func NewResolver(kind string, records RecordLookup, names NameProbe) *Resolver {
	return &Resolver{kind: kind, records: records, names: names}
}

// Resolve looks the candidate up by its stable fingerprint: the source-id tag
// from a prior import first, slug equality as the fallback for entities that
// predate tagging.
func (r *Resolver) Resolve(item remote.Item, opts Options) (Decision, *database.Record, error) {
	existing, err := r.records.GetRecordBySourceID(r.kind, item.ID)
	if err != nil {
		return DecisionSkip, nil, fmt.Errorf("source id lookup: %w", err)
	}
	if existing == nil && item.Slug != "" {
		existing, err = r.records.GetRecordBySlug(r.kind, item.Slug)
		if err != nil {
			return DecisionSkip, nil, fmt.Errorf("slug lookup: %w", err)
		}
	}

	if existing == nil {
		return DecisionNew, nil, nil
	}

	// Explicit policy wins, deterministically. With neither flag set the
	// verdict is a conflict for the caller's configured default to settle.
	switch {
	case opts.Overwrite:
		return DecisionUpdate, existing, nil
	case opts.SkipExisting:
		return DecisionSkip, existing, nil
	default:
		return DecisionConflict, existing, nil
	}
}

// DisambiguateFilename returns a free local filename for the candidate name.
// When the name is taken, numeric suffixes (name_1.ext, name_2.ext, ...) are
// probed in order until a free one is found. Probing runs against the whole
// local store, so the result is deterministic for a given store state.
func (r *Resolver) DisambiguateFilename(name string) (string, error) {
	taken, err := r.names.AssetFileNameExists(name)
	if err != nil {
		return "", fmt.Errorf("filename probe: %w", err)
	}
	if !taken {
		return name, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		taken, err := r.names.AssetFileNameExists(candidate)
		if err != nil {
			return "", fmt.Errorf("filename probe: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
}
