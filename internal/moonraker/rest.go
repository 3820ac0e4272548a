package moonraker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/printwatch/moonraker-bridge/internal/flow"
)

// ensureAPIKey fetches an API key from the printer host when none is
// configured. One blocking REST call, not subject to the flow step timeout;
// a credential rejection here is fatal, anything else is retried by the
// supervisory loop.
func (c *Conn) ensureAPIKey() error {
	if c.cfg.APIKey != "" {
		return nil
	}
	c.logger.Warn("api key is unset, trying to fetch one")

	result, err := c.apiGet("access/api_key", nil)
	if err != nil {
		if flow.IsAuthStatus(err) {
			return &flow.FatalError{Message: "no api key for moonraker", Cause: err}
		}
		return &flow.Error{Message: "failed to fetch api key", Cause: err}
	}
	key, _ := result.(string)
	c.cfg.APIKey = key
	return nil
}

// apiGet performs a REST GET against the printer host and returns the
// decoded `result` field. Non-2xx statuses map to StatusError so callers
// can classify auth failures.
func (c *Conn) apiGet(path string, params url.Values) (any, error) {
	endpoint := c.cfg.HTTPAddress() + "/" + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	c.logger.Debug("GET", "url", endpoint)

	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &flow.StatusError{Code: resp.StatusCode}
	}

	var body struct {
		Result any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body.Result, nil
}

// FileMetadata fetches metadata for an uploaded g-code file.
func (c *Conn) FileMetadata(filename string) (map[string]any, error) {
	result, err := c.apiGet("server/files/metadata", url.Values{"filename": {filename}})
	if err != nil {
		return nil, err
	}
	meta, _ := result.(map[string]any)
	return meta, nil
}

// UploadGcode uploads a g-code file to the printer host via multipart POST
// and queues it for printing.
func (c *Conn) UploadGcode(filename, path string, content []byte) (map[string]any, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if path != "" {
		if err := writer.WriteField("path", path); err != nil {
			return nil, err
		}
	}
	if err := writer.WriteField("print", "true"); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	endpoint := c.cfg.HTTPAddress() + "/server/files/upload"
	c.logger.Debug("POST", "url", endpoint)
	req, err := http.NewRequest(http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &flow.StatusError{Code: resp.StatusCode, Cause: fmt.Errorf("upload failed: %s", raw)}
	}

	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return data, nil
}
