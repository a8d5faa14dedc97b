// Package feed is the Feed Adapter: a paginated fetch of the latest
// transactions/transfers for one entity from an external block-explorer
// REST endpoint, with endpoint fallback for wallet lookups. One shared
// http.Client issues every call under a per-request context timeout; the
// endpoint table itself comes from internal/config.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chainwatch/internal/config"
	"chainwatch/internal/models"
)

// ErrNotFound is returned by FetchLatest when every candidate endpoint
// responded with a definitive 404 (as opposed to a timeout or 5xx): the
// entity itself does not exist upstream.
var ErrNotFound = errors.New("entity not found upstream")

// Item is one upstream transaction/transfer record, kept intentionally
// loose (map-shaped) since the three analyzers each read a different
// subset of fields from it.
type Item map[string]interface{}

// Page is the result of one fetchLatest call.
type Page struct {
	Items       []Item
	TokenInfo   map[string]interface{}
	DataQuality models.DataQuality
}

// Adapter fetches pages from the upstream block-explorer REST API.
type Adapter struct {
	client  *http.Client
	timeout time.Duration
}

// New returns an Adapter whose HTTP calls are each bounded by timeout.
func New(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// FetchLatest resolves the network's endpoint and fetches the latest page
// for entity, applying kind-specific endpoint fallback.
func (a *Adapter) FetchLatest(ctx context.Context, entity string, kind models.SnapshotKind, network models.Network, limit int) (Page, error) {
	if limit <= 0 {
		limit = config.DefaultFeedLimit
	}

	baseURL, err := config.ResolveEndpoint(string(network))
	if err != nil {
		return Page{}, fmt.Errorf("resolve endpoint: %w", err)
	}

	var candidates []string
	switch kind {
	case models.KindWallet:
		candidates = config.WalletEndpointCandidates(baseURL, entity)
	case models.KindToken:
		candidates = []string{config.TokenTransferEndpoint(baseURL, entity, 0, limit)}
	case models.KindNFT:
		candidates = []string{config.NFTTransferEndpoint(baseURL, entity, 0, limit)}
	default:
		return Page{}, fmt.Errorf("unknown snapshot kind %q", kind)
	}

	return a.fetchCandidates(ctx, entity, candidates)
}

// fetchCandidates tries each candidate URL in order and classifies the
// all-failed case: a unanimous 404 across every candidate is reported as
// ErrNotFound, anything else degrades to a SERVICE_UNAVAILABLE page.
func (a *Adapter) fetchCandidates(ctx context.Context, entity string, candidates []string) (Page, error) {
	allNotFound := true
	for _, url := range candidates {
		page, ok, status := a.tryFetch(ctx, url)
		if ok {
			return page, nil
		}
		if status != http.StatusNotFound {
			allNotFound = false
		}
	}

	if allNotFound {
		return Page{}, fmt.Errorf("%w: %s", ErrNotFound, entity)
	}

	// All tries failed: annotate as SERVICE_UNAVAILABLE. The
	// caller (Analyzer) decides whether this is fatal for the kind in play.
	return Page{DataQuality: models.QualityServiceUnavailable}, nil
}

// tryFetch attempts one candidate URL. The returned status is the upstream
// HTTP status code when a response was received (0 for a transport-level
// failure), so fetchCandidates can distinguish "definitely not found" from
// "unreachable/misbehaving".
func (a *Adapter) tryFetch(ctx context.Context, url string) (Page, bool, int) {
	reqCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, false, 0
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return Page{}, false, 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, false, resp.StatusCode
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Page{}, false, resp.StatusCode
	}

	itemsField, hasItems := raw["items"]
	transfersField, hasTransfers := raw["transfers"]
	if !hasItems && !hasTransfers {
		// Body doesn't expose the shape this kind expects; try the next candidate.
		return Page{}, false, resp.StatusCode
	}

	var items []Item
	field := itemsField
	if !hasItems {
		field = transfersField
	}
	if err := json.Unmarshal(field, &items); err != nil {
		return Page{}, false, resp.StatusCode
	}

	var tokenInfo map[string]interface{}
	if tiField, ok := raw["tokenInfo"]; ok {
		_ = json.Unmarshal(tiField, &tokenInfo)
	}

	return Page{Items: items, TokenInfo: tokenInfo, DataQuality: models.QualityComplete}, true, resp.StatusCode
}
