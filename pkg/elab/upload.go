package elab

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/elabmate/pkg/elabapi"
	"github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/observability"
)

// DefaultUploadComment is attached to uploads without an explicit comment.
const DefaultUploadComment = "Uploaded via API"

// UploadOutcome tells what UploadFile did on the server.
type UploadOutcome string

const (
	// UploadCreated means a new attachment was created
	UploadCreated UploadOutcome = "created"
	// UploadReplaced means an attachment with the same name got new content
	UploadReplaced UploadOutcome = "replaced"
	// UploadUnchanged means the server already had identical content
	UploadUnchanged UploadOutcome = "unchanged"
)

type uploadOptions struct {
	comment      string
	replace      bool
	sizeFallback bool
}

// UploadOption adjusts UploadFile.
type UploadOption func(*uploadOptions)

// WithComment sets the upload comment.
func WithComment(comment string) UploadOption {
	return func(o *uploadOptions) {
		o.comment = comment
	}
}

// WithoutReplace always creates a new attachment, even when one with the
// same name exists.
func WithoutReplace() UploadOption {
	return func(o *uploadOptions) {
		o.replace = false
	}
}

// WithSizeFallback treats equal sizes as identical content when the server
// exposes no hash. Changes that keep the size are then missed.
func WithSizeFallback() UploadOption {
	return func(o *uploadOptions) {
		o.sizeFallback = true
	}
}

// UploadFile attaches the file at path. By default it is idempotent: the
// newest attachment with the same name is left alone when its sha256
// matches, replaced otherwise, and a new one is created when none exists.
// A missing local file fails with ErrorTypeFileNotFound before any request.
func (e *Experiment) UploadFile(ctx context.Context, path string, opts ...UploadOption) (outcome UploadOutcome, err error) {
	ctx, span := observability.StartSpan(ctx, "experiment.upload")
	span.SetAttribute("experiment.id", e.id)
	span.SetAttribute("file.name", filepath.Base(path))
	defer func() {
		span.SetAttribute("upload.outcome", string(outcome))
		span.End(err)
	}()

	o := &uploadOptions{comment: DefaultUploadComment, replace: true}
	for _, opt := range opts {
		opt(o)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(err, errors.ErrorTypeFileNotFound, "upload source does not exist").
				WithDetail("path", path)
		}
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "cannot stat upload source").
			WithDetail("path", path)
	}
	if info.IsDir() {
		return "", errors.Newf(errors.ErrorTypeValidation, "%s is a directory", path)
	}

	outcome, err = e.upsert(ctx, path, info.Size(), o)
	if err != nil {
		return "", err
	}
	e.client.metrics.ObserveUpload(string(outcome))
	e.logger.Info("file uploaded",
		zap.String("file", filepath.Base(path)),
		zap.String("outcome", string(outcome)))
	return outcome, nil
}

func (e *Experiment) upsert(ctx context.Context, path string, size int64, o *uploadOptions) (UploadOutcome, error) {
	api := e.client.api
	if !o.replace {
		if _, err := api.UploadFile(ctx, e.id, path, o.comment); err != nil {
			return "", err
		}
		return UploadCreated, nil
	}

	uploads, err := api.ListUploads(ctx, e.id)
	if err != nil {
		return "", err
	}
	existing := newestNamed(uploads, filepath.Base(path))
	if existing == nil {
		if _, err := api.UploadFile(ctx, e.id, path, o.comment); err != nil {
			return "", err
		}
		return UploadCreated, nil
	}

	algorithm := strings.ToLower(existing.HashAlgorithm)
	switch {
	case existing.Hash != "" && (algorithm == "" || strings.Contains(algorithm, "sha256")):
		local, err := fileSHA256(path)
		if err != nil {
			return "", err
		}
		if strings.EqualFold(existing.Hash, local) {
			return UploadUnchanged, nil
		}
	case o.sizeFallback && existing.Filesize == size:
		return UploadUnchanged, nil
	}

	if _, err := api.ReplaceUpload(ctx, e.id, existing.ID, path, o.comment); err != nil {
		return "", err
	}
	return UploadReplaced, nil
}

// newestNamed picks the most recent upload whose real name is name.
func newestNamed(uploads []elabapi.Upload, name string) *elabapi.Upload {
	var best *elabapi.Upload
	for i := range uploads {
		u := &uploads[i]
		if u.RealName != name {
			continue
		}
		if best == nil || u.CreatedAt > best.CreatedAt || (u.CreatedAt == best.CreatedAt && u.ID > best.ID) {
			best = u
		}
	}
	return best
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: hashing the caller's upload source
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFileNotFound, "cannot read upload source").
			WithDetail("path", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to hash upload source").
			WithDetail("path", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AddFile attaches the file at path as a new upload and returns its id.
func (e *Experiment) AddFile(ctx context.Context, path, comment string) (int, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFileNotFound, "upload source does not exist").
			WithDetail("path", path)
	}
	return e.client.api.UploadFile(ctx, e.id, path, comment)
}

// Files lists the attachments of the experiment.
func (e *Experiment) Files(ctx context.Context) ([]elabapi.Upload, error) {
	return e.client.api.ListUploads(ctx, e.id)
}

// File returns the newest attachment named name.
func (e *Experiment) File(ctx context.Context, name string) (*elabapi.Upload, error) {
	uploads, err := e.Files(ctx)
	if err != nil {
		return nil, err
	}
	if u := newestNamed(uploads, name); u != nil {
		return u, nil
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "no attachment named %q", name).
		WithDetail("experiment_id", e.id)
}

// DownloadFile writes one attachment to dest, creating parent directories.
// dest is only replaced once the whole content has arrived.
func (e *Experiment) DownloadFile(ctx context.Context, uploadID int, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot create download directory").
			WithDetail("path", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "cannot create download file").
			WithDetail("path", dest)
	}
	defer os.Remove(tmp.Name())

	if _, err := e.client.api.DownloadUpload(ctx, e.id, uploadID, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write download").
			WithDetail("path", dest)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to move download into place").
			WithDetail("path", dest)
	}
	e.logger.Debug("file downloaded", zap.Int("upload_id", uploadID), zap.String("path", dest))
	return nil
}
