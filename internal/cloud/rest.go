package cloud

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/printwatch/moonraker-bridge/internal/flow"
)

// GetLinkedPrinter fetches the linked-printer record. A credential
// rejection is fatal; any other failure is retried by the supervisory loop.
func (c *Conn) GetLinkedPrinter() (map[string]any, error) {
	if c.cfg.AuthToken == "" {
		return nil, &flow.Error{Message: "auth token not configured"}
	}

	resp, err := c.Request(http.MethodGet, "/api/v1/octo/printer/", nil, "")
	if err != nil {
		if flow.IsAuthStatus(err) {
			return nil, &flow.FatalError{Message: c.ID + " failed to authenticate", Cause: err}
		}
		return nil, &flow.Error{Message: "failed to fetch linked printer", Cause: err}
	}

	var body struct {
		Printer map[string]any `json:"printer"`
	}
	if err := json.Unmarshal(resp, &body); err != nil {
		return nil, &flow.Error{Message: "malformed linked printer response", Cause: err}
	}
	if body.Printer == nil {
		body.Printer = map[string]any{}
	}
	return body.Printer, nil
}

// PostSnapshot uploads a JPEG snapshot artifact.
func (c *Conn) PostSnapshot(pic []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("pic", c.SessionID+".jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(pic); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	_, err = c.Request(http.MethodPost, "/api/v1/octo/pic/", &buf, writer.FormDataContentType())
	return err
}

// Request performs an authenticated REST call against the cloud service and
// returns the raw response body. Non-2xx statuses map to StatusError.
func (c *Conn) Request(method, uri string, body io.Reader, contentType string) ([]byte, error) {
	endpoint := c.cfg.EndpointPrefix() + uri
	c.logger.Debug(method, "url", endpoint)

	req, err := http.NewRequest(method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+c.cfg.AuthToken)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
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
		return nil, &flow.StatusError{Code: resp.StatusCode, Cause: fmt.Errorf("%s %s", method, uri)}
	}
	return raw, nil
}
