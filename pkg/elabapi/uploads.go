package elabapi

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ajitpratap0/elabmate/pkg/errors"
)

// ListUploads lists the attachments of an experiment.
func (c *Client) ListUploads(ctx context.Context, expID int) ([]Upload, error) {
	var uploads []Upload
	if err := c.getJSON(ctx, "experiments/{id}/uploads", experimentPath(expID)+"/uploads", nil, &uploads); err != nil {
		return nil, err
	}
	return uploads, nil
}

// UploadFile attaches the file at path to an experiment and returns the
// new upload id. The server keeps the base name as real_name.
func (c *Client) UploadFile(ctx context.Context, expID int, path, comment string) (int, error) {
	header, err := c.postMultipart(ctx, "experiments/{id}/uploads", experimentPath(expID)+"/uploads", path, comment)
	if err != nil {
		return 0, err
	}
	return createdID(header)
}

// ReplaceUpload replaces the content of an existing upload. The server
// archives the previous version and returns the id of the new one.
func (c *Client) ReplaceUpload(ctx context.Context, expID, uploadID int, path, comment string) (int, error) {
	header, err := c.postMultipart(ctx, "experiments/{id}/uploads/{upload}",
		experimentPath(expID)+"/uploads/"+strconv.Itoa(uploadID), path, comment)
	if err != nil {
		return 0, err
	}
	if header.Get("Location") == "" {
		return uploadID, nil
	}
	return createdID(header)
}

// DownloadUpload streams the raw content of an upload to w.
func (c *Client) DownloadUpload(ctx context.Context, expID, uploadID int, w io.Writer) (int64, error) {
	query := url.Values{}
	query.Set("format", "binary")

	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "experiments/{id}/uploads/{upload}",
		path:   experimentPath(expID) + "/uploads/" + strconv.Itoa(uploadID),
		query:  query,
		accept: "application/octet-stream",
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read upload content").
			WithDetail("upload_id", uploadID)
	}
	return n, nil
}

// postMultipart streams path as the "file" form field.
func (c *Client) postMultipart(ctx context.Context, route, apiPath, path, comment string) (http.Header, error) {
	f, err := os.Open(path) //nolint:gosec // G304: uploading a caller chosen file is the point
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeFileNotFound, "upload source does not exist").
				WithDetail("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "cannot open upload source").
			WithDetail("path", path)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	// Unblocks the writer if the request ends before the body is consumed.
	defer pr.Close()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(form, f, filepath.Base(path), comment))
	}()

	resp, err := c.do(ctx, request{
		method:      http.MethodPost,
		route:       route,
		path:        apiPath,
		body:        pr,
		contentType: form.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header, nil
}

func writeForm(form *multipart.Writer, content io.Reader, name, comment string) error {
	if comment != "" {
		if err := form.WriteField("comment", comment); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return form.Close()
}
