package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediabridge/work/config"
	"mediabridge/work/errs"
	"mediabridge/work/logger"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/ratelimit"
)

// Metadata describes a remote object as reported by the object API.
type Metadata struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
}

// API is the collaborator contract toward the remote object store. The
// hybrid cache and remote sources consume this interface; the HTTP client
// below is the production implementation, tests substitute their own.
type API interface {
	FetchMetadata(ctx context.Context, itemID string) (Metadata, error)
	OpenRead(ctx context.Context, itemID string, start, end int64) (io.ReadCloser, error)
}

// Client talks to the remote object API over HTTP. Every request carries the
// configured bearer token and user agent, outbound traffic is rate limited,
// and fetched metadata is memoized in a TTL cache so repeated source
// construction for the same item does not hammer the API.
type Client struct {
	http    *http.Client
	cfg     *config.Config
	limiter ratelimit.Limiter
	meta    *ristretto.Cache[string, Metadata]
}

// metadataTTL bounds how long a memoized object size/type is trusted.
const metadataTTL = 10 * time.Minute

// NewClient builds the production API client from configuration. The
// transport keeps no overall timeout because ranged reads can legitimately
// stay open for the length of a playback session; only header reads and the
// TLS handshake are bounded.
func NewClient(cfg *config.Config) *Client {
	rps := cfg.Remote.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	meta, err := ristretto.NewCache(&ristretto.Config[string, Metadata]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}

	return &Client{
		cfg:     cfg,
		limiter: ratelimit.New(rps),
		meta:    meta,
		http: &http.Client{
			Timeout: 0, // No overall timeout for streaming
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second, // Only timeout for headers
			},
		},
	}
}

// Close releases the metadata cache.
func (c *Client) Close() {
	c.meta.Close()
}

func (c *Client) objectURL(itemID string) string {
	return strings.TrimRight(c.cfg.Remote.BaseURL, "/") + "/objects/" + url.PathEscape(itemID)
}

func (c *Client) newRequest(ctx context.Context, method, u string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Remote.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Remote.Token)
	}
	req.Header.Set("User-Agent", c.cfg.Remote.UserAgent)
	req.Header.Set("Accept", "*/*")
	return req, nil
}

// FetchMetadata returns the size and MIME type of a remote object, consulting
// the in-memory memo first. A HEAD request against the object resolves the
// metadata from Content-Length, Content-Type and Content-Disposition.
func (c *Client) FetchMetadata(ctx context.Context, itemID string) (Metadata, error) {
	if md, found := c.meta.Get(itemID); found {
		return md, nil
	}

	c.limiter.Take()

	req, err := c.newRequest(ctx, http.MethodHead, c.objectURL(itemID))
	if err != nil {
		return Metadata{}, errs.Wrap(errs.SourceUnavailable, err, "build metadata request for %s", itemID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Metadata{}, errs.Wrap(errs.SourceUnavailable, err, "fetch metadata for %s", itemID)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Metadata{}, errs.New(errs.AccessDenied, "remote API denied access to %s", itemID)
	case resp.StatusCode != http.StatusOK:
		return Metadata{}, errs.New(errs.SourceUnavailable, "remote API returned %d for %s metadata", resp.StatusCode, itemID)
	}

	if resp.ContentLength < 0 {
		return Metadata{}, errs.New(errs.SourceUnavailable, "remote API reported no size for %s", itemID)
	}

	md := Metadata{
		Size:     resp.ContentLength,
		MimeType: resp.Header.Get("Content-Type"),
		Name:     fileNameFromDisposition(resp.Header.Get("Content-Disposition")),
	}
	if md.MimeType == "" {
		md.MimeType = "application/octet-stream"
	}

	c.meta.SetWithTTL(itemID, md, int64(len(itemID))+64, metadataTTL)

	logger.Debug("{remote - FetchMetadata} Item %s: size=%d type=%s", itemID, md.Size, md.MimeType)
	return md, nil
}

// OpenRead opens a live ranged read against the remote object. The returned
// body stays tied to ctx, so cancelling the request aborts the download.
func (c *Client) OpenRead(ctx context.Context, itemID string, start, end int64) (io.ReadCloser, error) {
	c.limiter.Take()

	req, err := c.newRequest(ctx, http.MethodGet, c.objectURL(itemID))
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, err, "build read request for %s", itemID)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.SourceUnavailable, err, "open remote read for %s", itemID)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		// the remote ignored the Range header; a full body still starts with
		// the requested bytes when the range starts at zero, anywhere else it
		// would be mislabeled as [start, end]
		if start == 0 {
			return resp.Body, nil
		}
		resp.Body.Close()
		return nil, errs.New(errs.SourceUnavailable, "remote API ignored range %d-%d for %s", start, end, itemID)
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, errs.New(errs.AccessDenied, "remote API denied access to %s", itemID)
	case http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		return nil, errs.New(errs.NotSatisfiableRange, "remote range %d-%d not satisfiable for %s", start, end, itemID)
	default:
		resp.Body.Close()
		return nil, errs.New(errs.SourceUnavailable, "remote API returned %d for %s read", resp.StatusCode, itemID)
	}
}

// fileNameFromDisposition pulls a bare file name out of a
// Content-Disposition header, returning "" when absent.
func fileNameFromDisposition(header string) string {
	const marker = "filename="
	idx := strings.Index(header, marker)
	if idx < 0 {
		return ""
	}
	name := header[idx+len(marker):]
	name = strings.Trim(name, `"`)
	if semi := strings.Index(name, ";"); semi >= 0 {
		name = strings.Trim(name[:semi], `"`)
	}
	return name
}
