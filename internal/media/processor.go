// Package media side-loads remote binary assets: it resolves a download URL,
// fetches the bytes, de-duplicates against previously imported assets and
// stores the result as a local media asset.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"github.com/sidepull/sidepull/internal/database"
	"github.com/sidepull/sidepull/internal/remote"
	"github.com/spf13/afero"
)

// ResultStatus tags the outcome of processing one media descriptor
type ResultStatus string

const (
	StatusImported ResultStatus = "imported"
	StatusSkipped  ResultStatus = "skipped"
	StatusError    ResultStatus = "error"
)

// Result is the tagged outcome of Process. Expected failure modes are carried
// in Reason, never as a Go error escaping the processor boundary.
type Result struct {
	Status   ResultStatus
	LocalRef string // final stored file name when imported
	Reason   string
}

// Options are the per-job flags the processor honors
type Options struct {
	SkipExisting       bool
	DryRun             bool
	GenerateThumbnails bool
}

// AssetStore is the slice of the record repository the processor needs.
type AssetStore interface {
	GetAssetBySourceID(sourceID string) (*database.MediaAsset, error)
	GetAssetByChecksum(checksum string) (*database.MediaAsset, error)
	InsertAsset(asset *database.MediaAsset) error
}

// Config configures a media processor.
type Config struct {
	MediaDir       string
	ThumbnailDir   string
	ThumbnailWidth int
	MaxFileSize    int64  // bytes, 0 = unlimited
	MediaBase      string // base URL for descriptors that only carry a filename
}

// Processor downloads and stores media assets.
type Processor struct {
	cfg          Config
	fs           afero.Fs
	http         *http.Client
	store        AssetStore
	disambiguate func(name string) (string, error)
	log          *slog.Logger
}

// NewProcessor creates a media processor. The disambiguate function resolves
// physical filename collisions against the existing store.
func NewProcessor(cfg Config, fs afero.Fs, httpClient *http.Client, store AssetStore, disambiguate func(string) (string, error)) *Processor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: remote.DefaultTimeout}
	}
	if cfg.ThumbnailWidth <= 0 {
		cfg.ThumbnailWidth = 320
	}

	return &Processor{
		cfg:          cfg,
		fs:           fs,
		http:         httpClient,
		store:        store,
		disambiguate: disambiguate,
		log:          slog.Default().With("component", "media-processor"),
	}
}

// Process side-loads one remote media descriptor. It never returns a Go error
// for expected failures; the caller buckets the Result instead.
func (p *Processor) Process(ctx context.Context, ref remote.MediaRef, opts Options) Result {
	if opts.SkipExisting && ref.ID != "" {
		existing, err := p.store.GetAssetBySourceID(ref.ID)
		if err != nil {
			return Result{Status: StatusError, Reason: fmt.Sprintf("asset lookup failed: %v", err)}
		}
		if existing != nil {
			return Result{Status: StatusSkipped, LocalRef: existing.FileName, Reason: "already_imported"}
		}
	}

	downloadURL, baseName, reason := p.resolveURL(ref)
	if reason != "" {
		return Result{Status: StatusError, Reason: reason}
	}

	if opts.DryRun {
		return Result{Status: StatusSkipped, Reason: "dry_run"}
	}

	tmp, err := afero.TempFile(p.fs, "", "sidepull-dl-*")
	if err != nil {
		return Result{Status: StatusError, Reason: fmt.Sprintf("temp file: %v", err)}
	}
	tmpName := tmp.Name()
	// The temp file is removed on every exit path; once the bytes are moved
	// into place the remove is a harmless no-op.
	defer func() {
		_ = p.fs.Remove(tmpName)
	}()

	size, checksum, dlErr := p.download(ctx, downloadURL, tmp)
	closeErr := tmp.Close()
	if dlErr != nil {
		return Result{Status: StatusError, Reason: dlErr.Error()}
	}
	if closeErr != nil {
		return Result{Status: StatusError, Reason: fmt.Sprintf("temp close: %v", closeErr)}
	}

	if dup, err := p.store.GetAssetByChecksum(checksum); err == nil && dup != nil {
		return Result{Status: StatusSkipped, LocalRef: dup.FileName, Reason: "duplicate_content"}
	}

	finalName, err := p.disambiguate(baseName)
	if err != nil {
		return Result{Status: StatusError, Reason: fmt.Sprintf("filename resolution: %v", err)}
	}

	finalPath := filepath.Join(p.cfg.MediaDir, finalName)
	if err := p.moveIntoPlace(tmpName, finalPath); err != nil {
		return Result{Status: StatusError, Reason: fmt.Sprintf("store: %v", err)}
	}

	contentType := DetectContentType(ref.MimeType, finalName)

	asset := &database.MediaAsset{
		SourceID:    ref.ID,
		FileName:    finalName,
		ContentType: contentType,
		SizeBytes:   size,
		Checksum:    &checksum,
		LocalPath:   finalPath,
	}
	if err := p.store.InsertAsset(asset); err != nil {
		_ = p.fs.Remove(finalPath)
		return Result{Status: StatusError, Reason: fmt.Sprintf("asset insert: %v", err)}
	}

	if opts.GenerateThumbnails && isImage(contentType) {
		if err := p.generateThumbnail(finalPath, finalName, contentType); err != nil {
			p.log.Warn("Thumbnail generation failed", "file", finalName, "error", err)
		}
	}

	return Result{Status: StatusImported, LocalRef: finalName}
}

// resolveURL picks the download URL: the direct URL field when present, else
// a path built from the filename under the source's media base. Returns a
// non-empty reason when neither resolves.
func (p *Processor) resolveURL(ref remote.MediaRef) (downloadURL, baseName, reason string) {
	switch {
	case ref.URL != "":
		downloadURL = EncodePathSegments(ref.URL)
		baseName = ref.Filename
		if baseName == "" {
			if u, err := url.Parse(ref.URL); err == nil {
				baseName = path.Base(u.Path)
			}
		}
	case ref.Filename != "" && p.cfg.MediaBase != "":
		downloadURL = EncodePathSegments(strings.TrimSuffix(p.cfg.MediaBase, "/") + "/" + ref.Filename)
		baseName = ref.Filename
	default:
		return "", "", "no_url"
	}

	if baseName == "" || baseName == "." || baseName == "/" {
		return "", "", "no_url"
	}

	return downloadURL, baseName, ""
}

// download streams the body into w, hashing as it goes, and enforces the
// configured size cap.
func (p *Processor) download(ctx context.Context, downloadURL string, w io.Writer) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("download request: %w", err)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if p.cfg.MaxFileSize > 0 {
		body = io.LimitReader(resp.Body, p.cfg.MaxFileSize+1)
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(w, hasher), body)
	if err != nil {
		return 0, "", fmt.Errorf("download interrupted: %w", err)
	}
	if p.cfg.MaxFileSize > 0 && size > p.cfg.MaxFileSize {
		return 0, "", fmt.Errorf("file exceeds size limit of %d bytes", p.cfg.MaxFileSize)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (p *Processor) moveIntoPlace(tmpName, finalPath string) error {
	if err := p.fs.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return err
	}
	if err := p.fs.Rename(tmpName, finalPath); err == nil {
		return nil
	}
	// Rename can fail across mounts; fall back to a copy
	src, err := p.fs.Open(tmpName)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := p.fs.Create(finalPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = p.fs.Remove(finalPath)
		return err
	}
	return dst.Close()
}

// generateThumbnail writes a fixed-width jpeg derivative next to the asset.
func (p *Processor) generateThumbnail(srcPath, fileName, contentType string) error {
	f, err := p.fs.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var img image.Image
	switch contentType {
	case "image/jpeg":
		img, err = jpeg.Decode(f)
	case "image/png":
		img, err = png.Decode(f)
	case "image/gif":
		img, err = gif.Decode(f)
	default:
		return fmt.Errorf("unsupported thumbnail source type %s", contentType)
	}
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	thumb := resize.Resize(uint(p.cfg.ThumbnailWidth), 0, img, resize.Lanczos3)

	ext := filepath.Ext(fileName)
	thumbName := strings.TrimSuffix(fileName, ext) + "_thumb.jpg"
	thumbPath := filepath.Join(p.cfg.ThumbnailDir, thumbName)

	if err := p.fs.MkdirAll(p.cfg.ThumbnailDir, 0o755); err != nil {
		return err
	}

	out, err := p.fs.Create(thumbPath)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: 85}); err != nil {
		out.Close()
		_ = p.fs.Remove(thumbPath)
		return fmt.Errorf("encode: %w", err)
	}
	return out.Close()
}

// EncodePathSegments percent-encodes the path portion of a URL segment by
// segment, so filenames with reserved or unicode characters still resolve.
// The query string and the rest of the URL are left untouched.
func EncodePathSegments(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Not parseable as a URL; encode it as a bare path
		return encodeSegments(rawURL)
	}

	if decoded, err := url.PathUnescape(u.Path); err == nil {
		u.Path = decoded // normalize pre-encoded input first
	}
	u.RawPath = encodeSegments(u.Path)
	return u.String()
}

func encodeSegments(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
