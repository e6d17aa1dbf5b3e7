package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	assert.Equal(t, "http://localhost:5000", c.baseURL)
	assert.Equal(t, "secret", c.apiKey)
	assert.NotNil(t, c.httpClient)
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthcheck", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, New(server.URL, "").Healthcheck(context.Background()))
}

func TestHealthcheck_ServerDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	assert.Error(t, New(url, "").Healthcheck(context.Background()))
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	assert.ErrorContains(t, New(server.URL, "").Healthcheck(context.Background()), "500")
}

func TestUpload_Success(t *testing.T) {
	id := uuid.New()
	var fields map[string]string
	var content []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sessions/add", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseMultipartForm(10<<20)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fields = map[string]string{}
		for _, k := range []string{"secret", "filename", "sessionId", "mapName", "duration", "tag"} {
			fields[k] = r.FormValue(k)
		}
		file, _, err := r.FormFile("file")
		if assert.NoError(t, err) {
			defer file.Close()
			content, _ = io.ReadAll(file)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "harbor_20260301_120000.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("test content"), 0o644))

	err := New(server.URL, "mysecret").Upload(context.Background(), path, UploadMetadata{
		SessionID: id,
		MapName:   "harbor",
		Duration:  90*time.Second + 500*time.Millisecond,
		Tag:       "demo",
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"secret":    "mysecret",
		"filename":  "harbor_20260301_120000.json.gz",
		"sessionId": id.String(),
		"mapName":   "harbor",
		"duration":  "90.500",
		"tag":       "demo",
	}, fields)
	assert.Equal(t, "test content", string(content))
}

func TestUpload_FileNotFound(t *testing.T) {
	err := New("http://localhost:5000", "secret").Upload(context.Background(), "/nonexistent/file.json.gz", UploadMetadata{})
	assert.Error(t, err)
}

func TestUpload_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "bad secret", http.StatusForbidden)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "test.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	c := New(server.URL, "wrong-secret")
	c.Backoff = time.Millisecond
	err := c.Upload(context.Background(), path, UploadMetadata{})

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
	assert.Equal(t, "bad secret", se.Body)
	assert.False(t, se.Temporary())
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestUpload_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "test.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	c := New(server.URL, "secret")
	c.Backoff = time.Millisecond
	require.NoError(t, c.Upload(context.Background(), path, UploadMetadata{}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestUpload_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "test.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	c := New(server.URL, "secret")
	c.Attempts = 2
	c.Backoff = time.Millisecond
	err := c.Upload(context.Background(), path, UploadMetadata{})
	assert.ErrorContains(t, err, "after 2 attempts")
	assert.ErrorContains(t, err, "502")
	assert.Equal(t, int32(2), calls.Load())
}
