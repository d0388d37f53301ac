// Package source obtains the current listing dataset snapshot.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"rolewatch/internal/listing"
)

// Source produces the current dataset generation, or fails. A failed fetch
// aborts the running cycle only; the previous committed snapshot stays put.
type Source interface {
	Fetch(ctx context.Context) ([]listing.Role, error)
}

// HTTP fetches the listings JSON from a raw URL (e.g. the raw GitHub URL of
// the upstream listings file, which tracks the repository's default branch).
type HTTP struct {
	url    string
	client *http.Client
}

func NewHTTP(url string, timeout time.Duration) (*HTTP, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("source url is empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}}, nil
}

func (s *HTTP) Fetch(ctx context.Context) ([]listing.Role, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch listings: unexpected status %s", resp.Status)
	}

	var roles []listing.Role
	if err := json.NewDecoder(resp.Body).Decode(&roles); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	return roles, nil
}

// File reads the listings JSON from a local path, for datasets synced
// out-of-band (e.g. a git clone refreshed by a separate job).
type File struct {
	path string
}

func NewFile(path string) (*File, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("source path is empty")
	}
	return &File{path: path}, nil
}

func (s *File) Fetch(ctx context.Context) ([]listing.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read listings: %w", err)
	}
	var roles []listing.Role
	if err := json.Unmarshal(b, &roles); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	return roles, nil
}
