package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/internal/httpclient"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTP fetches records from a remote JSON endpoint. The request travels as
// query parameters (symbol, type, start, end as RFC 3339) and the endpoint
// answers with an array of observations:
//
//	[{"ts": "2024-03-01T00:00:00Z", "values": {"close": 101.5, ...}}, ...]
//
// Endpoint URLs come from operator config, so all traffic goes through the
// screened httpclient.
type HTTP struct {
	base   *url.URL
	client *httpclient.Client
}

// NewHTTP creates a collector for the given endpoint. The URL is screened
// here so a misconfigured endpoint fails at registration, not on the first
// scheduled fetch.
func NewHTTP(baseURL string, timeout time.Duration) (*HTTP, error) {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return NewHTTPWithClient(baseURL, httpclient.New(timeout))
}

// NewHTTPWithClient is NewHTTP with a caller-supplied client. Tests use it
// with httpclient.NewInsecure to reach httptest servers.
func NewHTTPWithClient(baseURL string, client *httpclient.Client) (*HTTP, error) {
	u, err := client.ValidateURL(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid provider endpoint %q", baseURL)
	}
	return &HTTP{base: u, client: client}, nil
}

// wireRecord is the JSON shape of one observation on the wire.
type wireRecord struct {
	Timestamp time.Time          `json:"ts"`
	Values    map[string]float64 `json:"values"`
}

// Collect implements Collector.
func (h *HTTP) Collect(ctx context.Context, req Request) ([]Record, error) {
	u := *h.base
	q := u.Query()
	q.Set("symbol", req.Symbol)
	q.Set("type", string(req.AssetType))
	q.Set("start", req.Start.UTC().Format(time.RFC3339))
	q.Set("end", req.End.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", h.base.Host)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("%s returned %s: %s",
			h.base.Host, resp.Status, strings.TrimSpace(string(excerpt)))
	}

	var wire []wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, errors.Wrapf(err, "failed to decode response from %s", h.base.Host)
	}

	records := make([]Record, 0, len(wire))
	for _, w := range wire {
		records = append(records, Record{Timestamp: w.Timestamp, Values: w.Values})
	}
	return records, nil
}
