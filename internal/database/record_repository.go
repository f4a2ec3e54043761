package database

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordRepository handles materialized records and their media assets.
type RecordRepository struct {
	db dbtx
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(db dbtx) *RecordRepository {
	return &RecordRepository{db: db}
}

// GetRecordBySourceID looks a record up by its remote source id tag.
func (r *RecordRepository) GetRecordBySourceID(kind, sourceID string) (*Record, error) {
	query := `
		SELECT id, kind, source_id, slug, title, payload, created_at, updated_at
		FROM records WHERE kind = ? AND source_id = ?
	`
	return r.scanRecord(r.db.QueryRow(query, kind, sourceID))
}

// GetRecordBySlug looks a record up by slug, the fallback fingerprint for
// entities that predate source-id tagging.
func (r *RecordRepository) GetRecordBySlug(kind, slug string) (*Record, error) {
	query := `
		SELECT id, kind, source_id, slug, title, payload, created_at, updated_at
		FROM records WHERE kind = ? AND slug = ? ORDER BY id LIMIT 1
	`
	return r.scanRecord(r.db.QueryRow(query, kind, slug))
}

func (r *RecordRepository) scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Kind, &rec.SourceID, &rec.Slug, &rec.Title,
		&rec.Payload, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}
	return &rec, nil
}

// UpsertRecord inserts a record or updates the existing one with the same
// source id tag.
func (r *RecordRepository) UpsertRecord(rec *Record) error {
	query := `
		INSERT INTO records (kind, source_id, slug, title, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(kind, source_id) DO UPDATE SET
		slug = excluded.slug,
		title = excluded.title,
		payload = excluded.payload,
		updated_at = datetime('now')
	`

	result, err := r.db.Exec(query, rec.Kind, rec.SourceID, rec.Slug, rec.Title, rec.Payload)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.SourceID, err)
	}

	if id, err := result.LastInsertId(); err == nil && rec.ID == 0 {
		rec.ID = id
	}
	rec.UpdatedAt = time.Now()
	return nil
}

// UpdateRecordByID rewrites an existing record in place. Used when a remote
// item adopts an entity that was matched by slug rather than source id, so the
// row gets retagged instead of duplicated.
func (r *RecordRepository) UpdateRecordByID(rec *Record) error {
	query := `
		UPDATE records SET source_id = ?, slug = ?, title = ?, payload = ?, updated_at = datetime('now')
		WHERE id = ?
	`
	if _, err := r.db.Exec(query, rec.SourceID, rec.Slug, rec.Title, rec.Payload, rec.ID); err != nil {
		return fmt.Errorf("failed to update record %d: %w", rec.ID, err)
	}
	rec.UpdatedAt = time.Now()
	return nil
}

// CountRecords returns the number of local records of a kind. Backed by the
// primary key and the (kind, source_id) unique index, cheap enough to poll.
func (r *RecordRepository) CountRecords(kind string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM records WHERE kind = ?`, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records for %s: %w", kind, err)
	}
	return count, nil
}

// CountImported returns how many records of a kind carry a source-id tag from
// a prior import.
func (r *RecordRepository) CountImported(kind string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM records WHERE kind = ? AND source_id != ''`, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count imported records for %s: %w", kind, err)
	}
	return count, nil
}

// GetAssetBySourceID looks up a media asset by its remote source id tag.
func (r *RecordRepository) GetAssetBySourceID(sourceID string) (*MediaAsset, error) {
	query := `
		SELECT id, source_id, file_name, content_type, size_bytes, checksum, local_path, created_at
		FROM media_assets WHERE source_id = ? LIMIT 1
	`
	return r.scanAsset(r.db.QueryRow(query, sourceID))
}

// GetAssetByChecksum looks up a media asset by content hash, the strongest
// de-duplication fingerprint available.
func (r *RecordRepository) GetAssetByChecksum(checksum string) (*MediaAsset, error) {
	query := `
		SELECT id, source_id, file_name, content_type, size_bytes, checksum, local_path, created_at
		FROM media_assets WHERE checksum = ? LIMIT 1
	`
	return r.scanAsset(r.db.QueryRow(query, checksum))
}

func (r *RecordRepository) scanAsset(row *sql.Row) (*MediaAsset, error) {
	var asset MediaAsset
	err := row.Scan(&asset.ID, &asset.SourceID, &asset.FileName, &asset.ContentType,
		&asset.SizeBytes, &asset.Checksum, &asset.LocalPath, &asset.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan media asset: %w", err)
	}
	return &asset, nil
}

// AssetFileNameExists reports whether a stored asset already claims the name.
func (r *RecordRepository) AssetFileNameExists(fileName string) (bool, error) {
	var exists int
	err := r.db.QueryRow(`SELECT 1 FROM media_assets WHERE file_name = ? LIMIT 1`, fileName).Scan(&exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to check asset file name: %w", err)
	}
	return true, nil
}

// InsertAsset stores a newly side-loaded media asset.
func (r *RecordRepository) InsertAsset(asset *MediaAsset) error {
	query := `
		INSERT INTO media_assets (source_id, file_name, content_type, size_bytes, checksum, local_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
	`

	result, err := r.db.Exec(query, asset.SourceID, asset.FileName, asset.ContentType,
		asset.SizeBytes, asset.Checksum, asset.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to insert media asset %s: %w", asset.FileName, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		asset.ID = id
	}
	asset.CreatedAt = time.Now()
	return nil
}

// CountAssets returns the number of stored media assets.
func (r *RecordRepository) CountAssets() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM media_assets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count media assets: %w", err)
	}
	return count, nil
}
