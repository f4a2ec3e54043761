package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/remote"
)

func seedRecord(t *testing.T, db *database.DB, sourceID, slug string) {
	t.Helper()
	require.NoError(t, db.Records.UpsertRecord(&database.Record{
		Kind: "posts", SourceID: sourceID, Slug: slug, Title: "seeded",
	}))
}

func TestResolve_NewWhenNothingMatches(t *testing.T) {
	db := database.NewTestDB(t)
	r := NewResolver("posts", db.Records, db.Records)

	decision, existing, err := r.Resolve(remote.Item{ID: "src-1", Slug: "hello"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DecisionNew, decision)
	assert.Nil(t, existing)
}

func TestResolve_SourceIDMatchBeatsSlug(t *testing.T) {
	db := database.NewTestDB(t)
	seedRecord(t, db, "src-1", "old-slug")
	r := NewResolver("posts", db.Records, db.Records)

	// Same source id, slug has changed remotely since the first import
	decision, existing, err := r.Resolve(remote.Item{ID: "src-1", Slug: "renamed"}, Options{Overwrite: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, decision)
	require.NotNil(t, existing)
	assert.Equal(t, "old-slug", existing.Slug)
}

func TestResolve_SlugFallbackForUntaggedEntities(t *testing.T) {
	db := database.NewTestDB(t)
	// An entity that predates source-id tagging: different source id, same slug
	seedRecord(t, db, "legacy-id", "hello-world")
	r := NewResolver("posts", db.Records, db.Records)

	decision, existing, err := r.Resolve(remote.Item{ID: "src-9", Slug: "hello-world"}, Options{SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionSkip, decision)
	require.NotNil(t, existing)
	assert.Equal(t, "legacy-id", existing.SourceID)
}

func TestResolve_NoPolicyYieldsConflict(t *testing.T) {
	db := database.NewTestDB(t)
	seedRecord(t, db, "src-1", "hello")
	r := NewResolver("posts", db.Records, db.Records)

	decision, existing, err := r.Resolve(remote.Item{ID: "src-1", Slug: "hello"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, DecisionConflict, decision)
	assert.NotNil(t, existing)
}

func TestResolve_OverwriteWinsOverSkip(t *testing.T) {
	db := database.NewTestDB(t)
	seedRecord(t, db, "src-1", "hello")
	r := NewResolver("posts", db.Records, db.Records)

	decision, _, err := r.Resolve(remote.Item{ID: "src-1"}, Options{Overwrite: true, SkipExisting: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionUpdate, decision)
}

func TestDisambiguateFilename_FreeNamePassesThrough(t *testing.T) {
	db := database.NewTestDB(t)
	r := NewResolver("posts", db.Records, db.Records)

	name, err := r.DisambiguateFilename("photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "photo.jpg", name)
}

func TestDisambiguateFilename_ProbesNumericSuffixes(t *testing.T) {
	db := database.NewTestDB(t)
	for _, taken := range []string{"photo.jpg", "photo_1.jpg"} {
		require.NoError(t, db.Records.InsertAsset(&database.MediaAsset{
			SourceID: "m-" + taken, FileName: taken, ContentType: "image/jpeg", LocalPath: "/media/" + taken,
		}))
	}

	r := NewResolver("posts", db.Records, db.Records)

	name, err := r.DisambiguateFilename("photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "photo_2.jpg", name, "Probing continues until a free suffix")
}
