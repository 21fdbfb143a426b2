package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chroma-rag/config"
	"chroma-rag/internal/api/common"
	ingestsvc "chroma-rag/internal/services/ingest"
	"chroma-rag/pkg/apperror"
	"chroma-rag/pkg/apperror/status"

	"github.com/gofiber/fiber/v3"
)

// Uploader puts objects into a bucket and returns their s3:// URI.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error)
}

// Storage decides where uploaded files land: the bucket when one is set,
// the local directory otherwise.
type Storage struct {
	Uploader Uploader
	Bucket   string
	Dir      string
}

// Upload stores a multipart file under its sha256 name and ingests it.
func (h *Handler) Upload(c fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apperror.BadRequest(config.ModuleIngest, c, status.MissingParams, "file is required")
	}
	if fh == nil || fh.Size == 0 {
		return apperror.BadRequest(config.ModuleIngest, c, status.IngestEmptySource, "empty file")
	}
	file, err := fh.Open()
	if err != nil {
		return apperror.BadRequest(config.ModuleIngest, c, status.IngestInvalidSource, "cannot open file")
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return apperror.InternalError(config.ModuleIngest, c, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return apperror.InternalError(config.ModuleIngest, c, err)
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		ext = ".pdf"
	}
	name := hex.EncodeToString(hasher.Sum(nil)) + ext

	var source string
	if h.storage.Uploader != nil && h.storage.Bucket != "" {
		source, err = h.storage.Uploader.Upload(c.Context(), h.storage.Bucket, "documents/"+name, fh.Header.Get("Content-Type"), file)
	} else {
		source, err = storeToLocal(h.storage.Dir, name, file)
	}
	if err != nil {
		return apperror.InternalError(config.ModuleIngest, c, status.New(status.IngestFailed, err))
	}

	res, err := h.svc.Ingest(c.Context(), ingestsvc.Request{
		Collection: c.Params("name"),
		Source:     source,
		Category:   c.FormValue("category"),
	})
	if err != nil {
		return common.IngestError(config.ModuleIngest, c, err)
	}
	return apperror.Created(config.ModuleIngest, c, "file uploaded and ingested", res)
}

// storeToLocal writes r to dir/name through a temp file so readers never see a partial file.
func storeToLocal(dir, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create storage dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, "upload-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, r); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	finalPath := filepath.Join(dir, name)
	if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
		return "", fmt.Errorf("failed to finalize file: %w", err)
	}
	return finalPath, nil
}
