// Package identity keeps a web identity token on disk for the AWS credential
// chain. Tokens come from a GCP-style metadata endpoint and are rewritten on a
// fixed interval so the file never holds an expired token.
package identity

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Fetcher periodically fetches an identity token and writes it to a file.
type Fetcher struct {
	client   *http.Client
	tokenURL string
	path     string
	interval time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client used to fetch tokens.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// New creates a fetcher that writes tokens from tokenURL to path every
// interval.
func New(tokenURL, path string, interval time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: 10 * time.Second},
		tokenURL: tokenURL,
		path:     path,
		interval: interval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchOnce fetches a token and writes it to the configured path. The write
// is a temp file plus rename so readers never observe a partial token.
func (f *Fetcher) FetchOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.tokenURL, nil)
	if err != nil {
		return fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch identity token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch identity token: unexpected status %s", resp.Status)
	}
	token, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read identity token: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create token temp file: %w", err)
	}
	if _, err := tmp.Write(token); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write token temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close token temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("install token file: %w", err)
	}
	return nil
}

// Run fetches immediately, then on every interval tick until the context
// ends. Fetch failures are logged and the loop continues; the previous token
// stays on disk.
func (f *Fetcher) Run(ctx context.Context) {
	if err := f.FetchOnce(ctx); err != nil {
		log.Printf("identity token fetch failed: %v", err)
	}
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.FetchOnce(ctx); err != nil {
				log.Printf("identity token fetch failed: %v", err)
			}
		}
	}
}
