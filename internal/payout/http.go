package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpRequest/httpResponse are small seams so LencoProvider's tests can
// substitute a fake transport instead of standing up an HTTP server,
// following the teacher's preference for interface fakes over mocking
// frameworks (pkg/payment/offramp/*_test.go).
type httpRequest struct {
	ctx    context.Context
	method string
	path   string
	body   any
}

type httpResponse struct {
	StatusCode int
	Body       []byte
}

func (r *httpResponse) bodyString() string { return string(r.Body) }

func (r *httpResponse) decodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

type realHTTPDoer struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newHTTPDoer(baseURL, apiKey string, timeout time.Duration) httpDoer {
	return &realHTTPDoer{baseURL: baseURL, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

func (d *realHTTPDoer) Do(req *httpRequest) (*httpResponse, error) {
	var bodyReader io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(req.ctx, req.method, d.baseURL+req.path, bodyReader)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", d.apiKey))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &httpResponse{StatusCode: resp.StatusCode, Body: body}, nil
}
