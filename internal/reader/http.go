package reader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// HTTPReader posts the reader context to a remote endpoint. The endpoint may
// answer with a {success, data, error} envelope or with bare JSON data.
type HTTPReader struct {
	id     string
	url    string
	client *resty.Client
}

type httpRequest struct {
	ReaderID   string                 `json:"reader_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Context    Context                `json:"context"`
}

type httpEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// NewHTTPReader creates a reader backed by url.
func NewHTTPReader(id, url string, headers map[string]string) *HTTPReader {
	client := resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeaders(headers)
	return &HTTPReader{id: id, url: url, client: client}
}

// ID returns the reader id.
func (h *HTTPReader) ID() string { return h.id }

// Execute performs one POST request.
func (h *HTTPReader) Execute(ctx context.Context, params map[string]interface{}, rc Context) (*Result, error) {
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(httpRequest{ReaderID: h.id, Parameters: params, Context: rc}).
		Post(h.url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	body := resp.Body()
	if !json.Valid(body) {
		return nil, fmt.Errorf("response is not JSON")
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err == nil {
		if _, ok := probe["success"]; ok {
			var env httpEnvelope
			if err := json.Unmarshal(body, &env); err != nil {
				return nil, fmt.Errorf("decode envelope: %w", err)
			}
			return &Result{Success: env.Success, Data: env.Data, Error: env.Error}, nil
		}
	}
	return &Result{Success: true, Data: json.RawMessage(body)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
