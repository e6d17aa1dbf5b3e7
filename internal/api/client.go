// Package api talks to the table display server over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	uploadPath  = "/api/v1/sessions/add"
	healthPath  = "/healthcheck"
	maxErrBody  = 512
	apiKeyField = "secret"
)

// StatusError is a non-200 reply from the display server.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.Code, e.Body)
}

// Temporary reports whether retrying may help.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// UploadMetadata describes an exported session.
type UploadMetadata struct {
	SessionID uuid.UUID
	MapName   string
	Duration  time.Duration
	Tag       string
}

// Client handles communication with the display server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Attempts bounds upload retries on temporary failures.
	Attempts int
	Backoff  time.Duration
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		Attempts:   3,
		Backoff:    2 * time.Second,
	}
}

// Healthcheck checks if the display server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus("healthcheck", resp)
}

// Upload sends an exported session file to the display server. Network
// errors and 5xx replies are retried with a doubling backoff.
func (c *Client) Upload(ctx context.Context, filePath string, meta UploadMetadata) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}

	attempts := max(c.Attempts, 1)
	backoff := c.Backoff
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.uploadOnce(ctx, filePath, meta); err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("upload failed after %d attempts: %w", attempts, err)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) uploadOnce(ctx context.Context, filePath string, meta UploadMetadata) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(writer, file, filepath.Base(filePath), c.apiKey, meta))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, pr)
	if err != nil {
		pr.Close()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus("upload", resp)
}

// writeForm streams the metadata fields and the file as multipart form data.
func writeForm(w *multipart.Writer, file io.Reader, name, apiKey string, meta UploadMetadata) error {
	fields := [][2]string{
		{apiKeyField, apiKey},
		{"filename", name},
		{"sessionId", meta.SessionID.String()},
		{"mapName", meta.MapName},
		{"duration", strconv.FormatFloat(meta.Duration.Seconds(), 'f', 3, 64)},
		{"tag", meta.Tag},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return w.Close()
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
