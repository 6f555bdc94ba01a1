package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
)

// APIError is a non-success response from the node.
type APIError struct {
	Method  string // Method is the request method
	Path    string // Path is the request path
	Status  int    // Status is the HTTP status code
	Message string // Message is the node's error message
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// request sends a request and returns the response when its status is one
// of ok. Other statuses are returned as *APIError with the body consumed.
func (c *Client) request(method, path, contentType string, body io.Reader, ok ...int) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request:\n%w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s:\n%w", method, path, err)
	}

	if slices.Contains(ok, resp.StatusCode) {
		return resp, nil
	}

	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	var msg struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&msg)

	return nil, &APIError{Method: method, Path: path, Status: resp.StatusCode, Message: msg.Error}
}

// httpGet performs a GET request and decodes the JSON response.
func (c *Client) httpGet(path string, result any) error {
	resp, err := c.request(http.MethodGet, path, "", nil, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeJSON(resp, result)
}

// decodeJSON decodes a JSON response body into result.
func decodeJSON(resp *http.Response, result any) error {
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response:\n%w", resp.Request.URL.Path, err)
	}
	return nil
}

// httpGetBytes performs a GET request and returns the raw body and headers.
func (c *Client) httpGetBytes(path string) ([]byte, http.Header, error) {
	resp, err := c.request(http.MethodGet, path, "", nil, http.StatusOK)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s:\n%w", path, err)
	}

	return data, resp.Header, nil
}

// httpPostJSON performs a POST request with JSON body and decodes the JSON
// response when the status is one of ok.
func (c *Client) httpPostJSON(path string, body, result any, ok ...int) (int, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal body:\n%w", err)
		}
		reader = bytes.NewReader(jsonBytes)
	}

	resp, err := c.request(http.MethodPost, path, "application/json", reader, ok...)
	if err != nil {
		return 0, err
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if result == nil {
		return resp.StatusCode, nil
	}

	return resp.StatusCode, decodeJSON(resp, result)
}
