package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// HTTPDoer abstracts http.Client for ease of testing, mirroring the swap
// package's own seam for stubbing upstream price calls.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultHermesEndpoint = "https://hermes.pyth.network/api/latest_price_feeds"

// PythHermesSource adapts the Pyth Hermes REST API to the PriceSource
// interface: one feed ID per configured collateral denom, polled on demand.
type PythHermesSource struct {
	client   HTTPDoer
	endpoint string
}

// NewPythHermesSource constructs a PriceSource backed by a Pyth Hermes
// endpoint. A nil client falls back to http.DefaultClient; an empty
// endpoint falls back to the public Hermes URL.
func NewPythHermesSource(client HTTPDoer, endpoint string) *PythHermesSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultHermesEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &PythHermesSource{client: client, endpoint: ep}
}

// hermesFeed mirrors the subset of Hermes's latest_price_feeds response this
// gateway needs; the upstream payload carries EMA and metadata fields this
// engine has no use for.
type hermesFeed struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Expo        int32  `json:"expo"`
		Conf        string `json:"conf"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
}

// Price fetches the latest quote for feedID from Hermes.
func (s *PythHermesSource) Price(ctx context.Context, feedID string) (Price, error) {
	if s == nil {
		return Price{}, fmt.Errorf("pyth hermes source: not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Price{}, err
	}
	q := req.URL.Query()
	q.Set("ids[]", feedID)
	req.URL.RawQuery = q.Encode()

	resp, err := s.client.Do(req)
	if err != nil {
		return Price{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Price{}, fmt.Errorf("pyth hermes source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var feeds []hermesFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return Price{}, fmt.Errorf("pyth hermes source: decode: %w", err)
	}
	for _, feed := range feeds {
		if !strings.EqualFold(strings.TrimPrefix(feed.ID, "0x"), strings.TrimPrefix(feedID, "0x")) {
			continue
		}
		mantissa, err := strconv.ParseInt(feed.Price.Price, 10, 64)
		if err != nil {
			return Price{}, fmt.Errorf("pyth hermes source: invalid price %q: %w", feed.Price.Price, err)
		}
		confidence, err := strconv.ParseUint(feed.Price.Conf, 10, 64)
		if err != nil {
			return Price{}, fmt.Errorf("pyth hermes source: invalid confidence %q: %w", feed.Price.Conf, err)
		}
		return Price{
			Mantissa:   mantissa,
			Exponent:   feed.Price.Expo,
			Confidence: confidence,
			Timestamp:  feed.Price.PublishTime,
		}, nil
	}
	return Price{}, fmt.Errorf("pyth hermes source: feed %s not present in response", feedID)
}
