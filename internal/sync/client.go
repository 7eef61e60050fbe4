package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"
)

// PeerClient talks to a remote receiver. Every request is bounded by the
// configured timeout so an unreachable peer cannot stall a run.
type PeerClient struct {
	http *http.Client
}

func NewPeerClient(timeout time.Duration) *PeerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PeerClient{
		http: &http.Client{Timeout: timeout},
	}
}

// TestConnection probes the peer's status endpoint. Used for interactive
// validation before a configuration is saved; nothing is persisted.
func (c *PeerClient) TestConnection(ctx context.Context, target Target) (*StatusResult, error) {
	req, err := c.newRequest(ctx, target, http.MethodGet, "/api/sync/status", nil, "")
	if err != nil {
		return nil, err
	}

	var status StatusResult
	if err := c.do(req, target, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SendDatabase delivers a database payload to the peer's ingestion
// endpoint. A rejected apply comes back as an ApplyError with the remote's
// message; the remote has rolled back in full.
func (c *PeerClient) SendDatabase(ctx context.Context, target Target, payload *DatabasePayload) (*ApplyResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, target, http.MethodPost, "/api/sync/database", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}

	var result ApplyResult
	if err := c.do(req, target, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return &result, &ApplyError{Remote: result.Error}
	}
	return &result, nil
}

// SendFiles delivers a multipart file package.
func (c *PeerClient) SendFiles(ctx context.Context, target Target, pkg *FilePackage) (*FilesResult, error) {
	req, err := c.newRequest(ctx, target, http.MethodPost, "/api/sync/files", bytes.NewReader(pkg.Body.Bytes()), pkg.ContentType)
	if err != nil {
		return nil, err
	}

	var result FilesResult
	if err := c.do(req, target, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return &result, &ApplyError{Remote: result.Error}
	}
	return &result, nil
}

// SendCombined delivers database and files in one call: a multipart body
// whose "database" field holds the JSON payload alongside the file parts.
func (c *PeerClient) SendCombined(ctx context.Context, target Target, payload *DatabasePayload, pkg *FilePackage) (*CombinedResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("organizationId", target.OrganizationID); err != nil {
		return nil, err
	}
	if !payload.Empty() {
		dbBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := w.WriteField("database", string(dbBytes)); err != nil {
			return nil, err
		}
	}
	if pkg != nil && len(pkg.Manifest) > 0 {
		if err := copyFileParts(w, pkg); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, target, http.MethodPost, "/api/sync/receive", &buf, w.FormDataContentType())
	if err != nil {
		return nil, err
	}

	var result CombinedResult
	if err := c.do(req, target, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return &result, &ApplyError{Remote: result.Error}
	}
	return &result, nil
}

// PullState fetches the peer's current snapshot of the given tables for
// reconciliation.
func (c *PeerClient) PullState(ctx context.Context, target Target, pull PullRequest) ([]PulledRecord, error) {
	body, err := json.Marshal(pull)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, target, http.MethodPost, "/api/sync/pull", bytes.NewReader(body), "application/json")
	if err != nil {
		return nil, err
	}

	var result struct {
		Success bool           `json:"success"`
		Records []PulledRecord `json:"records"`
		Error   string         `json:"error,omitempty"`
	}
	if err := c.do(req, target, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, &ApplyError{Remote: result.Error}
	}
	return result.Records, nil
}

func (c *PeerClient) newRequest(ctx context.Context, target Target, method, path string, body io.Reader, contentType string) (*http.Request, error) {
	base := strings.TrimSuffix(target.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, method, base+path, body)
	if err != nil {
		return nil, &ConnectionError{Kind: ConnUnreachable, URL: target.BaseURL, Err: err}
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if target.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+target.APIKey)
	} else {
		req.Header.Set("X-Username", target.Username)
		req.Header.Set("X-Password", target.Password)
	}

	return req, nil
}

func (c *PeerClient) do(req *http.Request, target Target, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(target.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &ConnectionError{Kind: ConnUnauthorized, URL: target.BaseURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(target.BaseURL, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("malformed response from peer (%d): %w", resp.StatusCode, err)
	}
	return nil
}

func classifyTransportError(baseURL string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectionError{Kind: ConnTimeout, URL: baseURL, Err: err}
	}
	return &ConnectionError{Kind: ConnUnreachable, URL: baseURL, Err: err}
}

func copyFileParts(w *multipart.Writer, pkg *FilePackage) error {
	r := multipart.NewReader(bytes.NewReader(pkg.Body.Bytes()), boundaryOf(pkg.ContentType))
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if part.FormName() != "files" {
			continue
		}
		dst, err := w.CreateFormFile("files", part.FileName())
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, part); err != nil {
			return err
		}
	}
}

func boundaryOf(contentType string) string {
	const marker = "boundary="
	idx := strings.Index(contentType, marker)
	if idx < 0 {
		return ""
	}
	return strings.Trim(contentType[idx+len(marker):], `"`)
}
