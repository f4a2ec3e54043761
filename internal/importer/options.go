package importer

import (
	"encoding/json"
	"fmt"

	"github.com/sidepull/sidepull/internal/database"
)

// Options is the immutable configuration captured when a job starts.
type Options struct {
	BatchSize          int  `json:"batch_size"`
	SkipExisting       bool `json:"skip_existing"`
	Overwrite          bool `json:"overwrite"`
	DryRun             bool `json:"dry_run"`
	GenerateThumbnails bool `json:"generate_thumbnails"`
}

// Normalize fills unset values with defaults.
func (o *Options) Normalize(defaultBatchSize int) {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
}

// Encode serializes options for the persisted job row.
func (o Options) Encode() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("failed to encode job options: %w", err)
	}
	return string(data), nil
}

// DecodeOptions reads the frozen options back off a persisted job.
func DecodeOptions(job *database.ImportJob) (Options, error) {
	var opts Options
	if job.Options == nil {
		return opts, fmt.Errorf("job for %s has no stored options", job.Kind)
	}
	if err := json.Unmarshal([]byte(*job.Options), &opts); err != nil {
		return opts, fmt.Errorf("failed to decode job options: %w", err)
	}
	return opts, nil
}
