package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/MeKo-Tech/lectorium/internal/server"
)

// request sends a JSON request and records the response.
func (tc *TestContext) request(method, path string, body any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, tc.Server.URL+path, r) //nolint:noctx // test client
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return tc.send(req)
}

// upload posts a document as multipart form data.
func (tc *TestContext) upload(id, name string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("id", id); err != nil {
		return err
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, tc.Server.URL+"/documents", &buf) //nolint:noctx // test client
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return tc.send(req)
}

func (tc *TestContext) send(req *http.Request) error {
	resp, err := tc.Server.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	tc.LastStatusCode = resp.StatusCode
	tc.LastBody, err = io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	return nil
}

// expect checks the last status code and decodes the body into v when set.
func (tc *TestContext) expect(status int, v any) error {
	if tc.LastStatusCode != status {
		var e server.ErrorResponse
		_ = json.Unmarshal(tc.LastBody, &e)
		return fmt.Errorf("expected status %d, got %d: %s", status, tc.LastStatusCode, e.Error)
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(tc.LastBody, v); err != nil {
		return fmt.Errorf("failed to decode response %q: %w", tc.LastBody, err)
	}
	return nil
}
