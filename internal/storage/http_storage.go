package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anime-shed/image-classifier-go/internal/logger"

	"github.com/sirupsen/logrus"
)

const maxAttempts = 3

// HTTPWeightSource downloads weight files from a static HTTP(S) location
// into a local cache directory.
type HTTPWeightSource struct {
	baseURL    string
	client     *http.Client
	cache      *downloadCache
	retryDelay time.Duration
}

// NewHTTPWeightSource creates a source that fetches <baseURL>/<name>.
func NewHTTPWeightSource(baseURL, cacheDir string) *HTTPWeightSource {
	transport := &http.Transport{
		MaxIdleConns:          4,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPWeightSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Transport: transport,
			// Weight files run to hundreds of megabytes, so only the
			// request context bounds the transfer.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		cache:      &downloadCache{dir: cacheDir},
		retryDelay: time.Second,
	}
}

func (s *HTTPWeightSource) Name() string {
	return "http"
}

func (s *HTTPWeightSource) Resolve(ctx context.Context, name string) (string, error) {
	fileURL := s.baseURL + "/" + url.PathEscape(name)
	return s.cache.fetch(ctx, name, func(ctx context.Context, w io.Writer) error {
		started := time.Now()
		n, err := s.download(ctx, fileURL, w)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"url":         fileURL,
			"bytes":       n,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("Downloaded model file")
		return nil
	})
}

// download performs up to three attempts. 4xx responses are final, 5xx
// responses and transport errors are retried with a linear backoff.
func (s *HTTPWeightSource) download(ctx context.Context, fileURL string, w io.Writer) (int64, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return 0, fmt.Errorf("invalid URL: %w", err)
		}
		req.Header.Set("User-Agent", "Go-Image-Classifier/1.0")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			n, copyErr := io.Copy(w, resp.Body)
			resp.Body.Close()
			if copyErr != nil {
				return 0, fmt.Errorf("read %s: %w", fileURL, copyErr)
			}
			return n, nil
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return 0, fmt.Errorf("%w: %s", ErrWeightsNotFound, fileURL)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, fmt.Errorf("client error: status code %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("server error: status code %d", resp.StatusCode)
	}

	return 0, fmt.Errorf("failed to download %s after %d attempts: %w", fileURL, maxAttempts, lastErr)
}
