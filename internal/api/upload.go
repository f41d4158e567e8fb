package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	perrors "github.com/khgapparov/flipApp/internal/errors"
	"github.com/khgapparov/flipApp/internal/requestid"
)

// Field is one text part of a multipart body.
type Field struct {
	Name  string
	Value string
}

// Multipart describes a file upload: one file part followed by text fields in order.
type Multipart struct {
	FileField string
	FileName  string
	File      io.Reader
	Fields    []Field
}

// Upload sends a multipart POST. It bypasses the JSON path entirely: no JSON content
// type, no reachability probe, and the bearer token is attached directly. Failures are
// classified by status but carry none of Do's session side effects.
func (c *Client) Upload(ctx context.Context, path string, form Multipart, out any) error {
	ctx, reqID := requestid.New(ctx)
	logger := c.logger.With().Str("method", http.MethodPost).Str("path", path).Str("request_id", reqID).Logger()
	start := time.Now()

	err := c.upload(ctx, path, form, out)
	c.observe(http.MethodPost, start, err)
	if err != nil {
		if apiErr, ok := perrors.As(err); ok {
			apiErr.RequestID = reqID
		}
		logger.Error().Err(err).Msg("upload failed")
		return err
	}
	logger.Info().Dur("duration", time.Since(start)).Msg("upload complete")
	return nil
}

func (c *Client) upload(ctx context.Context, path string, form Multipart, out any) error {
	body, contentType, err := encodeMultipart(form)
	if err != nil {
		return err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	requestid.Stamp(req)
	if token := c.sessions.Token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := serverError(resp.StatusCode, respBody, "Upload failed")
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			apiErr.Kind = perrors.KindAuth
		case http.StatusTooManyRequests:
			apiErr.Kind = perrors.KindRateLimit
			apiErr.RetryAfter = resp.Header.Get("Retry-After")
		}
		return apiErr
	}
	return decodeInto(resp.StatusCode, respBody, out)
}

func encodeMultipart(form Multipart) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	field := form.FileField
	if field == "" {
		field = "file"
	}
	part, err := w.CreateFormFile(field, form.FileName)
	if err != nil {
		return nil, "", fmt.Errorf("creating file part: %w", err)
	}
	if form.File != nil {
		if _, err := io.Copy(part, form.File); err != nil {
			return nil, "", fmt.Errorf("copying file: %w", err)
		}
	}
	for _, f := range form.Fields {
		if err := w.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("writing field %s: %w", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
