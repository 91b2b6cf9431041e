package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"mcphub-go/internal/cache"
	"mcphub-go/internal/contracts"
	"mcphub-go/internal/gateway"
	"mcphub-go/internal/mcperr"
	"mcphub-go/internal/store"
)

const marketplaceTimeout = 10 * time.Second

// MarketplaceResult is a catalog page, possibly served from the local cache
type MarketplaceResult struct {
	Items     []contracts.MarketplaceItem
	Stale     bool // the hub request failed and the cache answered
	FetchedAt time.Time
}

// DetailsResult is one catalog entry's details, possibly served from the local cache
type DetailsResult struct {
	Details   contracts.MarketplaceDetails
	Stale     bool
	FetchedAt time.Time
}

// FetchMarketplace loads the catalog from GET /marketplace. When the hub
// cannot answer, the last cached page for the same query is served with
// Stale set; without one the MARKETPLACE error is returned.
func (c *Client) FetchMarketplace(ctx context.Context, query contracts.MarketplaceQuery) (*MarketplaceResult, error) {
	c.store.Batch(func(tx *store.Tx) { tx.SetMarketplaceStatus(store.MarketplaceLoading) })

	params := url.Values{}
	if query.Search != "" {
		params.Set("search", query.Search)
	}
	if query.Category != "" {
		params.Set("category", query.Category)
	}
	if query.Sort != "" {
		params.Set("sort", query.Sort)
	}

	var resp contracts.MarketplaceResponse
	err := c.marketplaceCall(ctx, gateway.Request{
		Method:      http.MethodGet,
		Path:        "/marketplace",
		Query:       params,
		Timeout:     marketplaceTimeout,
		Category:    mcperr.CategoryMarketplace,
		FailureCode: mcperr.CodeFetchError,
	}, &resp)
	if err == nil {
		now := time.Now()
		if c.cache != nil {
			c.cacheWrite("put_catalog", c.cache.PutCatalog(query, resp.Items))
		}
		c.store.Batch(func(tx *store.Tx) { tx.SetMarketplace(query, resp.Items, false) })
		return &MarketplaceResult{Items: resp.Items, FetchedAt: now}, nil
	}

	if c.cache != nil {
		entry, cerr := c.cache.Catalog(query)
		c.cacheRead("get_catalog", cerr)
		if cerr == nil {
			c.logger.Info("Serving marketplace catalog from cache",
				zap.Time("fetched_at", entry.FetchedAt), zap.Bool("expired", entry.Expired))
			c.store.Batch(func(tx *store.Tx) { tx.SetMarketplace(query, entry.Items, true) })
			return &MarketplaceResult{Items: entry.Items, Stale: true, FetchedAt: entry.FetchedAt}, nil
		}
	}

	c.store.Batch(func(tx *store.Tx) { tx.SetMarketplaceStatus(store.MarketplaceError) })
	return nil, err
}

// GetMarketplaceDetails loads one entry's details from POST /marketplace/details
func (c *Client) GetMarketplaceDetails(ctx context.Context, mcpID string) (*DetailsResult, error) {
	if mcpID == "" {
		return nil, mcperr.Runtime(mcperr.CodeInvalidParams, "marketplace id is required", nil)
	}

	var resp contracts.MarketplaceDetailsResponse
	err := c.marketplaceCall(ctx, gateway.Request{
		Method:      http.MethodPost,
		Path:        "/marketplace/details",
		Body:        contracts.MarketplaceDetailsRequest{MCPID: mcpID},
		Timeout:     marketplaceTimeout,
		Category:    mcperr.CategoryMarketplace,
		FailureCode: mcperr.CodeDetailsError,
	}, &resp)
	if err == nil {
		details := resp.Server
		if details.MCPID == "" {
			details.MCPID = mcpID
		}
		if c.cache != nil {
			c.cacheWrite("put_details", c.cache.PutDetails(details))
		}
		c.store.Batch(func(tx *store.Tx) { tx.SetMarketplaceDetails(details) })
		return &DetailsResult{Details: details, FetchedAt: time.Now()}, nil
	}

	if c.cache != nil {
		entry, cerr := c.cache.Details(mcpID)
		c.cacheRead("get_details", cerr)
		if cerr == nil {
			c.store.Batch(func(tx *store.Tx) { tx.SetMarketplaceDetails(entry.Details) })
			return &DetailsResult{Details: entry.Details, Stale: true, FetchedAt: entry.FetchedAt}, nil
		}
	}
	return nil, err
}

// marketplaceCall keeps decode failures in the MARKETPLACE category; the
// gateway has already fed transport and status failures.
func (c *Client) marketplaceCall(ctx context.Context, req gateway.Request, out any) error {
	body, err := c.gw.Send(ctx, req).Wait(ctx)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if uerr := json.Unmarshal(body, out); uerr != nil {
		merr := mcperr.Wrap(mcperr.CategoryMarketplace, req.FailureCode, "unexpected marketplace response from hub", uerr,
			map[string]any{"kind": string(mcperr.CodeAPIError), "reason": "invalid_response", "path": req.Path})
		c.store.AddError(merr)
		c.obs.RecordError(string(merr.Category), string(merr.Code))
		return merr
	}
	return nil
}

func (c *Client) cacheWrite(op string, err error) {
	if err != nil {
		c.logger.Warn("Marketplace cache write failed", zap.String("operation", op), zap.Error(err))
		c.obs.RecordCacheOperation(op, "error")
		return
	}
	c.obs.RecordCacheOperation(op, "ok")
}

func (c *Client) cacheRead(op string, err error) {
	switch {
	case err == nil:
		c.obs.RecordCacheOperation(op, "hit")
	case errors.Is(err, cache.ErrNotFound):
		c.obs.RecordCacheOperation(op, "miss")
	default:
		c.logger.Warn("Marketplace cache read failed", zap.String("operation", op), zap.Error(err))
		c.obs.RecordCacheOperation(op, "error")
	}
}
