// Package bucket implements the BucketClient collaborator: GET/HEAD of
// channel bucket objects by path, optional cache-busting JSON fetch, and
// PUT via a pre-signed URL. The only transport is bucket HTTPS, per
// spec.md §1's scope cut (no p2p overlay).
package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client fetches and stores objects against a channel's backing bucket
// over HTTPS. One Client is normally shared across channels.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with a connection-pooled http.Client, in the
// same spirit as the teacher's RPCClient construction.
func NewClient() *Client {
	return &Client{
		HTTP: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// RewriteURI rewrites a bucket URI (currently only gs://bucket/path) into
// its HTTPS object URL, per spec §6's bucket URI->URL rule.
func RewriteURI(uri string) (string, error) {
	const gsPrefix = "gs://"
	if !strings.HasPrefix(uri, gsPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	rest := strings.TrimPrefix(uri, gsPrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	bucket, objectPath := parts[0], parts[1]
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectPath), nil
}

// ObjectURL joins a channel bucket URI with an object path inside it.
func ObjectURL(bucketURI, objectPath string) (string, error) {
	base, err := RewriteURI(bucketURI)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(objectPath, "/"), nil
}

// classify maps a low-level HTTP/network error into the typed bucket
// error kinds callers use to decide retry policy.
func classify(statusCode int, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	switch {
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrTransient, statusCode)
	case statusCode >= 400:
		return fmt.Errorf("%w: status %d", ErrFatal, statusCode)
	default:
		return nil
	}
}

// Head reports whether an object exists at url without downloading it.
func (c *Client) Head(ctx context.Context, url string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 400 {
		return false, classify(resp.StatusCode, nil)
	}
	return true, nil
}

// GetStream starts a streaming GET of url, returning the response body
// (caller must Close it) and the declared content length, or -1 if
// unknown.
func (c *Client) GetStream(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, classify(resp.StatusCode, nil)
	}
	contentLength := resp.ContentLength
	return resp.Body, contentLength, nil
}

// GetJSON fetches a JSON object at url and decodes it into v. Returns (false, nil) without error on a 404 per spec §4.3
// ("null on 404"). When cacheBust is true, a random query parameter is
// appended so intermediate caches (CDN in front of the bucket) are
// bypassed.
func (c *Client) GetJSON(ctx context.Context, url string, cacheBust bool, v any) (bool, error) {
	if cacheBust {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = url + sep + "cb=" + uuid.NewString()
	}
	body, _, err := c.GetStream(ctx, url)
	if err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	defer func() { _ = body.Close() }()

	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		return false, fmt.Errorf("%w: decode json: %w", ErrFatal, err)
	}
	return true, nil
}

// PutSigned uploads data to a pre-signed URL (obtained from a
// SignedURLMinter collaborator) via HTTP PUT.
func (c *Client) PutSigned(ctx context.Context, signedURL string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, strings.NewReader(string(data)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Length", strconv.Itoa(len(data)))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return classify(resp.StatusCode, nil)
}

// SignedURLMinter is the external collaborator (spec §6) that mints
// pre-signed PUT URLs for a sha1+size, or for a subfeed message range.
type SignedURLMinter interface {
	MintFileUploadURL(ctx context.Context, channelName, sha1 string, size int64) (string, error)
	MintSubfeedUploadURL(ctx context.Context, channelName, feedID, subfeedHash string, messageNumber int64) (string, error)
	MintSubfeedJSONUploadURL(ctx context.Context, channelName, feedID, subfeedHash string) (string, error)
}
