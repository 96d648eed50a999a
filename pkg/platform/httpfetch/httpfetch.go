// Package httpfetch fetches update artifacts over HTTP(S).
package httpfetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/platform"
	"github.com/pkg/errors"
)

const (
	defaultTimeout = 30 * time.Second
	// maxArtifactSize bounds a single fetched file.
	maxArtifactSize = 16 << 20
)

// Client fetches paths relative to a base URL.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	log     logging.Logger
}

var _ platform.Fetcher = (*Client)(nil)

func New(log logging.Logger, baseURL string) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "invalid repository url")
	}
	return &Client{
		BaseURL: ensureSlash(baseURL),
		HTTP:    &http.Client{Timeout: defaultTimeout},
		log:     log,
	}, nil
}

func ensureSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

// Fetch GETs BaseURL+path. 404 maps to platform.ErrNotFound, any other
// non-200 answer or transport failure to platform.ErrUnavailable.
func (c *Client) Fetch(ctx context.Context, path string) ([]byte, error) {
	u := c.BaseURL + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, errors.WithMessage(platform.ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	log := c.log.WithField("url", u).WithField("status", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize+1))
		if err != nil {
			return nil, errors.WithMessage(platform.ErrUnavailable, err.Error())
		}
		if len(body) > maxArtifactSize {
			return nil, errors.Errorf("%s exceeds %d bytes", path, maxArtifactSize)
		}
		log.Debug("fetched")
		return body, nil
	case http.StatusNotFound:
		log.Debug("not found")
		return nil, errors.Wrapf(platform.ErrNotFound, "%s", path)
	default:
		log.Debug("unexpected status")
		return nil, errors.Wrapf(platform.ErrUnavailable, "%s: %s", path, resp.Status)
	}
}

// RepositoryURL turns a GitHub repository URL into the raw content URL files
// are served from. Other URLs are returned unchanged. The result always ends
// with a slash.
func RepositoryURL(repo string) string {
	switch {
	case strings.Contains(repo, "www.github.com"):
		repo = strings.Replace(repo, "www.github.com", "raw.githubusercontent.com", 1)
	case strings.Contains(repo, "raw.githubusercontent.com"):
	case strings.Contains(repo, "github.com"):
		repo = strings.Replace(repo, "github.com", "raw.githubusercontent.com", 1)
	}
	return ensureSlash(repo)
}
