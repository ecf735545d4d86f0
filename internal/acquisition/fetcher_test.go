package acquisition

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-sync-service/internal/domain"
)

// fakePDF returns n bytes starting with a PDF header.
func fakePDF(n int) []byte {
	head := []byte("%PDF-1.4\n")
	if n < len(head) {
		n = len(head)
	}
	return append(head, bytes.Repeat([]byte("x"), n-len(head))...)
}

func testFetcher(cfg FetcherConfig) *Fetcher {
	cfg.AllowPrivateNetworks = true
	return NewFetcher(cfg, zerolog.Nop())
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(FetcherConfig{}, zerolog.Nop())
	assert.Equal(t, DefaultUserAgent, f.cfg.UserAgent)
	assert.Equal(t, DefaultTimeout, f.cfg.Timeout)
	assert.Equal(t, DefaultMaxRedirects, f.cfg.MaxRedirects)
	assert.Equal(t, DefaultMinBytes, f.cfg.MinBytes)
	assert.Equal(t, int64(DefaultMaxBytes), f.cfg.MaxBytes)
	assert.False(t, f.cfg.AllowPrivateNetworks)
}

func TestFetcher_FetchBytes(t *testing.T) {
	content := fakePDF(5000)
	sum := sha256.Sum256(content)

	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(content)
	})

	data, res, err := testFetcher(FetcherConfig{}).FetchBytes(context.Background(), srv.URL, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, int64(len(content)), res.SizeBytes)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)
	assert.Equal(t, "application/pdf", res.ContentType)
}

func TestFetcher_Validation(t *testing.T) {
	loginPage := []byte(`<!DOCTYPE html><html><head><title>Sign in</title></head><body>` +
		`<form action="/login"><input type="password"></form>` + strings.Repeat(" ", 2000) + `</body></html>`)
	plainHTML := []byte(`<html><body>` + strings.Repeat("article text ", 200) + `</body></html>`)

	tests := []struct {
		name    string
		body    []byte
		wantErr []error
	}{
		{name: "too small", body: fakePDF(999), wantErr: []error{ErrContentTooSmall, domain.ErrInvalidContent}},
		{name: "login page", body: loginPage, wantErr: []error{domain.ErrAuthRequired}},
		{name: "html without login", body: plainHTML, wantErr: []error{ErrInvalidSignature, domain.ErrInvalidContent}},
		{name: "wrong magic bytes on 200", body: bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 500), wantErr: []error{ErrInvalidSignature}},
		{name: "exactly minimum size", body: fakePDF(1000)},
		{name: "leading whitespace tolerated", body: append([]byte("\r\n"), fakePDF(2000)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(tt.body)
			})

			var buf bytes.Buffer
			res, err := testFetcher(FetcherConfig{}).Fetch(context.Background(), srv.URL, &buf, FetchOptions{})
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				assert.Equal(t, int64(len(tt.body)), res.SizeBytes)
				return
			}
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Zero(t, buf.Len(), "rejected content must not reach the writer")
			for _, target := range tt.wantErr {
				assert.True(t, errors.Is(err, target), "want %v, got %v", target, err)
			}
		})
	}
}

func TestFetcher_StatusErrors(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{status: http.StatusNotFound, target: domain.ErrNotFound},
		{status: http.StatusForbidden, target: domain.ErrAuthRequired},
		{status: http.StatusTooManyRequests, target: domain.ErrRateLimited},
		{status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, _, err := testFetcher(FetcherConfig{}).FetchBytes(context.Background(), srv.URL, FetchOptions{})
			var statusErr *domain.FetchStatusError
			require.ErrorAs(t, err, &statusErr)
			assert.Equal(t, tt.status, statusErr.StatusCode)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target))
			}
		})
	}
}

func TestFetcher_Redirects(t *testing.T) {
	content := fakePDF(2000)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/r/"))
		if n > 0 {
			http.Redirect(w, r, fmt.Sprintf("/r/%d", n-1), http.StatusFound)
			return
		}
		_, _ = w.Write(content)
	})

	f := testFetcher(FetcherConfig{})

	t.Run("five redirects are followed", func(t *testing.T) {
		data, res, err := f.FetchBytes(context.Background(), srv.URL+"/r/5", FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, content, data)
		assert.Equal(t, srv.URL+"/r/0", res.FinalURL)
	})

	t.Run("six redirects are rejected", func(t *testing.T) {
		_, _, err := f.FetchBytes(context.Background(), srv.URL+"/r/6", FetchOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrTooManyRedirects))
	})
}

func TestFetcher_Progress(t *testing.T) {
	content := fakePDF(64 * 1024)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content)
	})

	progress := make(chan Progress, 1024)
	_, _, err := testFetcher(FetcherConfig{}).FetchBytes(context.Background(), srv.URL, FetchOptions{Progress: progress})
	require.NoError(t, err)
	close(progress)

	var last Progress
	count := 0
	for p := range progress {
		assert.GreaterOrEqual(t, p.Received, last.Received)
		last = p
		count++
	}
	require.Positive(t, count)
	assert.Equal(t, int64(len(content)), last.Received)
	assert.Equal(t, int64(len(content)), last.Total)
	assert.Equal(t, srv.URL, last.URL)
}

func TestFetcher_ProgressNeverBlocks(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(fakePDF(32 * 1024))
	})

	progress := make(chan Progress) // unbuffered and never read
	_, _, err := testFetcher(FetcherConfig{}).FetchBytes(context.Background(), srv.URL, FetchOptions{Progress: progress})
	require.NoError(t, err)
}

func TestFetcher_MaxBytes(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush() // force chunked encoding, no Content-Length
		_, _ = w.Write(fakePDF(10_000))
	})

	_, _, err := testFetcher(FetcherConfig{MaxBytes: 4096}).FetchBytes(context.Background(), srv.URL, FetchOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContentTooLarge))
}

func TestFetcher_Timeout(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	_, _, err := testFetcher(FetcherConfig{Timeout: 50 * time.Millisecond}).FetchBytes(context.Background(), srv.URL, FetchOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, domain.ErrNetwork))
}

func TestFetcher_PrivateNetworkDenied(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent")
	})

	f := NewFetcher(FetcherConfig{}, zerolog.Nop())
	_, _, err := f.FetchBytes(context.Background(), srv.URL, FetchOptions{})
	assert.True(t, errors.Is(err, ErrPrivateNetwork))

	_, _, err = f.FetchBytes(context.Background(), "file:///etc/passwd", FetchOptions{})
	assert.True(t, errors.Is(err, ErrPrivateNetwork))
}

func TestFetcher_Download(t *testing.T) {
	t.Run("writes the file atomically", func(t *testing.T) {
		content := fakePDF(4096)
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(content)
		})

		dir := t.TempDir()
		dest := filepath.Join(dir, "nested", "paper.pdf")
		res, err := testFetcher(FetcherConfig{}).Download(context.Background(), srv.URL, dest, FetchOptions{})
		require.NoError(t, err)
		assert.Equal(t, dest, res.Path)

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, got)
		assertOnlyFiles(t, filepath.Dir(dest), "paper.pdf")
	})

	t.Run("invalid content leaves nothing behind", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(bytes.Repeat([]byte("z"), 4096))
		})

		dir := t.TempDir()
		_, err := testFetcher(FetcherConfig{}).Download(context.Background(), srv.URL, filepath.Join(dir, "paper.pdf"), FetchOptions{})
		require.Error(t, err)
		assertOnlyFiles(t, dir)
	})

	t.Run("cancellation mid-body deletes the partial file", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "100000")
			_, _ = w.Write(fakePDF(8192))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		ctx, cancel := context.WithCancel(context.Background())
		progress := make(chan Progress, 16)
		go func() {
			<-progress
			cancel()
		}()

		dir := t.TempDir()
		_, err := testFetcher(FetcherConfig{}).Download(ctx, srv.URL, filepath.Join(dir, "paper.pdf"), FetchOptions{Progress: progress})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assertOnlyFiles(t, dir)
	})

	t.Run("strict validation rejects a truncated document", func(t *testing.T) {
		srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(fakePDF(4096))
		})

		dir := t.TempDir()
		_, err := testFetcher(FetcherConfig{StrictValidation: true}).Download(context.Background(), srv.URL, filepath.Join(dir, "paper.pdf"), FetchOptions{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedPDF))
		assert.True(t, errors.Is(err, domain.ErrInvalidContent))
		assertOnlyFiles(t, dir)
	})
}

func assertOnlyFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.ElementsMatch(t, names, got)
}
