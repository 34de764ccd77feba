// Package archive expands an uploaded zip container into MediaFile records,
// filtering out junk entries and uploading accepted media to the blob store.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/maauso/photocull-api/internal/catalog"
	"github.com/maauso/photocull-api/internal/storage"
)

// ErrNoMediaFiles is returned when the archive holds no accepted media.
var ErrNoMediaFiles = errors.New("no media files")

// imageExts and videoExts are the accepted media extensions.
var imageExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
}

var videoExts = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

// Expander walks uploaded archives and records their media content.
type Expander struct {
	repo   catalog.Repository
	blobs  storage.BlobStore
	logger *slog.Logger
}

// NewExpander creates an Expander.
func NewExpander(repo catalog.Repository, blobs storage.BlobStore, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{repo: repo, blobs: blobs, logger: logger}
}

// Expand opens the archive at archivePath, uploads each accepted entry to
// the blob store and creates a MediaFile record for it. It returns the
// number of media files ingested; zero accepted entries is ErrNoMediaFiles.
func (e *Expander) Expand(ctx context.Context, jobID, archivePath string) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = reader.Close() }()

	count := 0
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if !Accepted(entry.Name) {
			e.logger.Debug("skipping archive entry",
				slog.String("job_id", jobID),
				slog.String("entry", entry.Name),
			)
			continue
		}
		if err := ctx.Err(); err != nil {
			return count, fmt.Errorf("expand cancelled: %w", err)
		}

		if err := e.ingest(ctx, jobID, entry); err != nil {
			return count, fmt.Errorf("ingest %s: %w", entry.Name, err)
		}
		count++
	}

	if count == 0 {
		return 0, ErrNoMediaFiles
	}
	return count, nil
}

// ingest uploads one archive entry and records it.
func (e *Expander) ingest(ctx context.Context, jobID string, entry *zip.File) error {
	base := path.Base(entry.Name)
	sanitized := Sanitize(base)
	mediaType, mimeType := Classify(base)

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer func() { _ = rc.Close() }()

	key := storage.OriginalKey(jobID, sanitized)
	url, err := e.blobs.Put(ctx, key, rc, mimeType)
	if err != nil {
		return fmt.Errorf("upload entry: %w", err)
	}

	media := catalog.NewMediaFile(jobID)
	media.Filename = sanitized
	media.OriginalPath = entry.Name
	media.BlobKey = key
	media.BlobURL = url
	media.MediaType = mediaType
	media.MimeType = mimeType
	media.SizeBytes = int64(entry.UncompressedSize64)

	if err := e.repo.SaveMedia(ctx, media); err != nil {
		return fmt.Errorf("save media record: %w", err)
	}

	e.logger.Info("media ingested",
		slog.String("job_id", jobID),
		slog.String("filename", sanitized),
		slog.String("media_type", string(media.MediaType)),
		slog.Int64("size_bytes", media.SizeBytes),
	)
	return nil
}

// Accepted reports whether an archive entry should be ingested.
// Hidden files, resource-fork artifacts, __MACOSX members, Thumbs.db and
// unsupported extensions are rejected.
func Accepted(entryName string) bool {
	clean := strings.ReplaceAll(entryName, "\\", "/")
	for _, segment := range strings.Split(clean, "/") {
		if segment == "__MACOSX" {
			return false
		}
	}

	base := path.Base(clean)
	if base == "" || strings.HasPrefix(base, ".") || strings.HasPrefix(base, "._") {
		return false
	}
	if strings.EqualFold(base, "Thumbs.db") {
		return false
	}

	ext := strings.ToLower(path.Ext(base))
	_, isImage := imageExts[ext]
	_, isVideo := videoExts[ext]
	return isImage || isVideo
}

// Classify resolves a filename into its media type and MIME type.
// Callers must only pass accepted names.
func Classify(filename string) (catalog.MediaType, string) {
	ext := strings.ToLower(path.Ext(filename))
	if mime, ok := imageExts[ext]; ok {
		return catalog.MediaTypeImage, mime
	}
	if mime, ok := videoExts[ext]; ok {
		return catalog.MediaTypeVideo, mime
	}
	return catalog.MediaTypeImage, "application/octet-stream"
}

// Sanitize replaces any character outside [A-Za-z0-9.-] with an underscore.
func Sanitize(filename string) string {
	return unsafeChars.ReplaceAllString(filename, "_")
}
