package genspark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public GenSpark origin.
const DefaultBaseURL = "https://www.genspark.ai"

const (
	apiPrefix = "/api/aidrive"

	listTimeout     = 10 * time.Second
	requestTimeout  = 10 * time.Second
	transferTimeout = 60 * time.Second
	downloadTimeout = 30 * time.Second

	// errorBodyLimit caps how much of an error response ends up in messages.
	errorBodyLimit = 512

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
)

// Client talks to the GenSpark AI Drive HTTP API using a browser session
// cookie.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cookie     string
}

// NewClient creates an API client. If httpClient is nil,
// http.DefaultClient is used. An empty baseURL selects DefaultBaseURL.
func NewClient(httpClient *http.Client, baseURL, cookie string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cookie:     cookie,
	}
}

// escapePath escapes each segment of a slash separated drive path.
func escapePath(p string) string {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// newRequest builds a request against the drive API with the session and
// browser headers the endpoints expect.
func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/aidrive/files/")
	req.Header.Set("User-Agent", userAgent)
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	return req, nil
}

// do sends req and returns the response body for 2xx statuses. Other
// statuses are mapped onto the sentinel taxonomy.
func (c *Client) do(req *http.Request) ([]byte, error) {
	endpoint := req.URL.Path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %v", req.Method, endpoint, apperrors.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w: %v", endpoint, apperrors.ErrTransientNetwork, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	return nil, statusError(req.Method, endpoint, resp.StatusCode, body)
}

func statusError(method, endpoint string, status int, body []byte) error {
	msg := apiMessage(body)

	var kind error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = apperrors.ErrAuthentication
	case status == http.StatusConflict || isAlreadyExists(msg):
		kind = apperrors.ErrAlreadyExists
	case status == http.StatusNotFound:
		kind = apperrors.ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		kind = apperrors.ErrTransientNetwork
	default:
		kind = apperrors.ErrAPIResponse
	}

	return fmt.Errorf("API %s %s (%d): %w: %s", method, endpoint, status, kind, msg)
}

// apiMessage extracts a human readable message from an error body.
func apiMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, field := range []string{"message", "error", "detail"} {
			if r := gjson.GetBytes(body, field); r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}

	s := strings.TrimSpace(string(body))
	if len(s) > errorBodyLimit {
		s = s[:errorBodyLimit]
	}
	return s
}

func isAlreadyExists(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "already exist")
}

// List returns the entries directly inside folder.
func (c *Client) List(ctx context.Context, folder string) ([]RemoteEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("filter_type", "all")
	q.Set("sort_by", "modified_desc")
	q.Set("file_type", "all")
	if f := strings.Trim(folder, "/"); f != "" {
		q.Set("folder", "/"+f)
	}

	req, err := c.newRequest(ctx, http.MethodGet, apiPrefix+"/files?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", folder, err)
	}

	entries, err := parseEntries(body)
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", folder, err)
	}

	return entries, nil
}

// parseEntries decodes a list response. The items array sits at the top
// level on current deployments and under "data" on older ones.
func parseEntries(body []byte) ([]RemoteEntry, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: list response is not JSON", apperrors.ErrAPIResponse)
	}

	items := gjson.GetBytes(body, "items")
	if !items.Exists() {
		items = gjson.GetBytes(body, "data.items")
	}
	if !items.IsArray() {
		return nil, fmt.Errorf("%w: list response has no items array", apperrors.ErrAPIResponse)
	}

	var entries []RemoteEntry
	for _, it := range items.Array() {
		e := RemoteEntry{
			ID:           it.Get("id").String(),
			Name:         it.Get("name").String(),
			Path:         it.Get("path").String(),
			Type:         it.Get("type").String(),
			Size:         it.Get("size").Int(),
			ModifiedTime: parseModifiedTime(it.Get("modified_time")),
			MimeType:     it.Get("mime_type").String(),
		}
		if e.Path == "" && e.Name != "" {
			e.Path = "/" + e.Name
		}
		if e.Path == "" {
			continue
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// parseModifiedTime accepts unix seconds, unix milliseconds or an RFC 3339
// timestamp and returns unix seconds.
func parseModifiedTime(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		v := r.Float()
		// Anything past year 33658 in seconds is really milliseconds.
		if v > 1e12 {
			v /= 1000
		}
		return v
	case gjson.String:
		t, err := time.Parse(time.RFC3339Nano, r.Str)
		if err != nil {
			return 0
		}
		return float64(t.UnixNano()) / 1e9
	default:
		return 0
	}
}

// Download streams the entry's content into w.
func (c *Client) Download(ctx context.Context, entry RemoteEntry, w io.Writer) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, apiPrefix+"/download/files/"+escapePath(entry.Path), nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %w: %v", entry.Path, apperrors.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return 0, fmt.Errorf("downloading %s: %w", entry.Path, statusError(req.Method, req.URL.Path, resp.StatusCode, body))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("downloading %s: %w: %v", entry.Path, apperrors.ErrTransientNetwork, err)
	}

	return n, nil
}

// RequestUploadTicket asks the drive for a direct upload URL for path.
func (c *Client) RequestUploadTicket(ctx context.Context, path string) (*UploadTicket, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, apiPrefix+"/files/"+escapePath(path), nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting upload ticket for %s: %w", path, err)
	}

	if status := gjson.GetBytes(body, "status").String(); status != "success" {
		msg := apiMessage(body)
		if isAlreadyExists(msg) {
			return nil, fmt.Errorf("requesting upload ticket for %s: %w", path, apperrors.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("requesting upload ticket for %s: %w: status %q: %s", path, apperrors.ErrAPIResponse, status, msg)
	}

	t := &UploadTicket{
		URL:       gjson.GetBytes(body, "data.upload_url").String(),
		Token:     gjson.GetBytes(body, "data.token").String(),
		ExpiresAt: gjson.GetBytes(body, "data.expires_at").String(),
	}
	if t.URL == "" || t.Token == "" {
		return nil, fmt.Errorf("requesting upload ticket for %s: %w: missing upload_url or token", path, apperrors.ErrAPIResponse)
	}

	return t, nil
}

// Transfer uploads the content to the ticket's blob URL.
func (c *Client) Transfer(ctx context.Context, ticket *UploadTicket, body io.Reader, size int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ticket.URL, body)
	if err != nil {
		return fmt.Errorf("creating transfer request: %w", err)
	}
	req.ContentLength = size
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("Authorization", "Bearer "+ticket.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("transferring content: %w", err)
	}

	return nil
}

// Confirm tells the drive the transfer for path is complete.
func (c *Client) Confirm(ctx context.Context, path, token string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return fmt.Errorf("marshalling confirm body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, apiPrefix+"/files/"+escapePath(path)+"/confirm", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("confirming upload of %s: %w", path, err)
	}

	return nil
}

// CreateFolder creates path on the drive. An existing folder is success.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodPost, apiPrefix+"/folders/"+escapePath(path), nil)
	if err != nil {
		return err
	}

	if _, err := c.do(req); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil
		}
		return fmt.Errorf("creating folder %s: %w", path, err)
	}

	return nil
}

// Delete removes the entry with the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodDelete, apiPrefix+"/files/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}

	if _, err := c.do(req); err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}

	return nil
}
