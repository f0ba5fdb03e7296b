// Package app wires the pipeline together: URL guard, plan resolution,
// fetch, extraction, and storage. One Convert call is strictly sequential;
// independent requests run concurrently, with same-URL-same-plan
// conversions coalesced so a burst of identical submissions costs one fetch.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/hyperifyio/webtapi/internal/extract"
	"github.com/hyperifyio/webtapi/internal/fetch"
	"github.com/hyperifyio/webtapi/internal/planner"
	"github.com/hyperifyio/webtapi/internal/store"
	"github.com/hyperifyio/webtapi/internal/urlcheck"
)

// App owns the conversion pipeline. Construct with New; all collaborators
// are injected so tests can point the fetcher at an httptest server and the
// store at a temp file.
type App struct {
	Guard     *urlcheck.Guard
	Fetcher   *fetch.Client
	Extractor *extract.Extractor
	Resolver  planner.Resolver
	Store     *store.Store

	group singleflight.Group
}

// New assembles an App with the default guard and extractor around the
// given fetcher, resolver, and store.
func New(fetcher *fetch.Client, resolver planner.Resolver, st *store.Store) *App {
	if resolver == nil {
		resolver = planner.StaticResolver{}
	}
	return &App{
		Guard:     &urlcheck.Guard{Prober: urlcheck.NopProber{}},
		Fetcher:   fetcher,
		Extractor: extract.New(),
		Resolver:  resolver,
		Store:     st,
	}
}

// ConvertRequest is the Create operation input. Plan, when present, wins
// over Intent; Intent goes through the plan resolver; with neither, the
// default plan applies. FreshnessHours is validated and clamped but the
// effective freshness window is a property of the store.
type ConvertRequest struct {
	URL            string
	Intent         string
	Plan           *extract.Plan
	FreshnessHours int
}

// ConvertResponse pairs the derived key with the extraction result that was
// stored under it.
type ConvertResponse struct {
	Key    string
	Result extract.Result
}

// Convert runs the full pipeline for one URL and returns the stored key.
// Errors carry a boundary Kind; see KindOf.
func (a *App) Convert(ctx context.Context, req ConvertRequest) (ConvertResponse, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return ConvertResponse{}, &Error{Kind: KindInvalidURL, Message: "url is required"}
	}
	if req.FreshnessHours < 0 {
		return ConvertResponse{}, &Error{Kind: KindInvalidURL, Message: "freshness_hours must be non-negative"}
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	if err := a.Guard.Check(ctx, rawURL); err != nil {
		return ConvertResponse{}, &Error{Kind: KindInvalidURL, Message: "URL failed validation", Err: err}
	}

	plan := a.resolvePlan(ctx, req)

	key := store.KeyFrom(rawURL)
	v, err, shared := a.group.Do(flightKey(key, plan), func() (any, error) {
		return a.convertOnce(ctx, rawURL, plan)
	})
	if err != nil {
		return ConvertResponse{}, err
	}
	if shared {
		log.Debug().Str("key", key).Msg("app: coalesced concurrent conversion")
	}
	return v.(ConvertResponse), nil
}

// flightKey scopes coalescing to URL and plan: only requests that would
// produce the same extraction share a flight.
func flightKey(key string, plan extract.Plan) string {
	b, _ := json.Marshal(plan)
	h := sha256.Sum256(b)
	return key + ":" + hex.EncodeToString(h[:8])
}

func (a *App) convertOnce(ctx context.Context, rawURL string, plan extract.Plan) (ConvertResponse, error) {
	doc, err := a.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) {
			return ConvertResponse{}, fromFetchError(fe)
		}
		return ConvertResponse{}, &Error{Kind: KindNetworkError, Message: "fetch failed", Err: err}
	}

	res := a.Extractor.Extract(doc.Body, plan, rawURL)
	res.FetchedAt = doc.FetchedAt
	if res.Status == extract.StatusError {
		return ConvertResponse{}, &Error{Kind: KindParseError, Message: res.ErrorMessage}
	}

	key, err := a.Store.Put(ctx, rawURL, res)
	if err != nil {
		return ConvertResponse{}, &Error{Kind: KindStorageError, Message: "persist result", Err: err}
	}
	log.Info().Str("key", key).Str("url", rawURL).Msg("app: stored extraction")
	return ConvertResponse{Key: key, Result: res}, nil
}

// resolvePlan picks the plan for a request: explicit plan, resolved intent,
// or the default. Resolver failures degrade to the default plan; plan
// resolution never fails a conversion.
func (a *App) resolvePlan(ctx context.Context, req ConvertRequest) extract.Plan {
	if req.Plan != nil {
		return req.Plan.Normalize()
	}
	if strings.TrimSpace(req.Intent) != "" {
		plan, err := a.Resolver.Resolve(ctx, req.Intent)
		if err == nil {
			return plan
		}
		log.Warn().Err(err).Msg("app: plan resolver failed, using default plan")
	}
	return extract.DefaultPlan()
}

// Lookup returns the stored result for key, or ErrNotFound when the record
// is absent or stale.
func (a *App) Lookup(ctx context.Context, key string) (*extract.Result, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &Error{Kind: KindInvalidURL, Message: "key is required"}
	}
	res, ok, err := a.Store.Get(ctx, key)
	if err != nil {
		return nil, &Error{Kind: KindStorageError, Message: "read store", Err: err}
	}
	if !ok {
		return nil, ErrNotFound
	}
	return res, nil
}
