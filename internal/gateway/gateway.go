package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/betcore/sprintbet/pkg/cache"
	"github.com/betcore/sprintbet/pkg/types"
	"github.com/betcore/sprintbet/pkg/websocket"
)

const (
	defaultTickSize = 0.01
	tickSizeTTL     = time.Hour

	bookRatePerSec = 40
)

// Feed is the streaming side of the market data source.
type Feed interface {
	Subscribe(tokenIDs []string) error
	Unsubscribe(tokenIDs []string) error
	MessageChan() <-chan *types.OrderbookMessage
}

// Gateway serves order book snapshots for the tokens of active rounds. The
// feed keeps snapshots warm; cache misses and stale entries fall back to the
// REST book endpoint.
type Gateway struct {
	baseURL    string
	feed       Feed
	cache      cache.Cache
	freshness  time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// Config holds gateway configuration.
type Config struct {
	CLOBBaseURL string
	Feed        Feed // nil disables streaming, REST only
	Cache       cache.Cache
	Freshness   time.Duration
	Timeout     time.Duration
	Logger      *zap.Logger
}

// New creates a gateway.
func New(cfg *Config) *Gateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Gateway{
		baseURL:    cfg.CLOBBaseURL,
		feed:       cfg.Feed,
		cache:      cfg.Cache,
		freshness:  cfg.Freshness,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(bookRatePerSec, 10),
		logger:     cfg.Logger,
	}
}

// Start launches the feed consumer. No-op when the gateway is REST only.
func (g *Gateway) Start(ctx context.Context) {
	if g.feed == nil {
		return
	}

	g.wg.Add(1)
	go g.consumeFeed(ctx)
}

// Wait blocks until the feed consumer has exited.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

// Watch subscribes the feed to a round's token.
func (g *Gateway) Watch(tokenID string) error {
	if g.feed == nil {
		return nil
	}
	return g.feed.Subscribe([]string{tokenID})
}

// Unwatch drops a finished round's token from the feed.
func (g *Gateway) Unwatch(tokenID string) error {
	if g.feed == nil {
		return nil
	}
	g.cache.Delete(bookKey(tokenID))
	return g.feed.Unsubscribe([]string{tokenID})
}

// Book returns a snapshot no older than the configured freshness window,
// fetching over REST when the cached one is stale or missing.
func (g *Gateway) Book(ctx context.Context, tokenID string) (*types.BookSnapshot, error) {
	if cached, found := g.cache.Get(bookKey(tokenID)); found {
		snapshot, ok := cached.(*types.BookSnapshot)
		if ok && snapshot.Age() <= g.freshness {
			return snapshot, nil
		}
	}

	return g.Refresh(ctx, tokenID)
}

// Refresh fetches the book over REST unconditionally. The taker phase uses
// this to re-validate against a guaranteed-fresh book.
func (g *Gateway) Refresh(ctx context.Context, tokenID string) (*types.BookSnapshot, error) {
	err := g.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	body, err := g.get(ctx, "/book?token_id="+tokenID)
	BookFetchDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		BookFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("fetch book: %w", err)
	}
	BookFetchesTotal.WithLabelValues("ok").Inc()

	var resp restBook
	err = json.Unmarshal(body, &resp)
	if err != nil {
		return nil, fmt.Errorf("parse book: %w", err)
	}

	snapshot, err := g.buildSnapshot(tokenID, resp.Bids, resp.Asks)
	if err != nil {
		return nil, err
	}
	snapshot.TickSize = g.tickSize(ctx, tokenID)

	g.cache.Set(bookKey(tokenID), snapshot, g.freshness)

	return snapshot, nil
}

type restBook struct {
	Market string             `json:"market"`
	Bids   []types.PriceLevel `json:"bids"`
	Asks   []types.PriceLevel `json:"asks"`
}

type restTickSize struct {
	MinimumTickSize float64 `json:"minimum_tick_size"`
}

// tickSize fetches the token's minimum tick, cached for an hour. A fetch
// failure falls back to the coarse default rather than blocking routing.
func (g *Gateway) tickSize(ctx context.Context, tokenID string) float64 {
	key := tickKey(tokenID)
	if cached, found := g.cache.Get(key); found {
		if tick, ok := cached.(float64); ok {
			return tick
		}
	}

	body, err := g.get(ctx, "/tick-size?token_id="+tokenID)
	if err != nil {
		g.logger.Warn("tick-size-fetch-failed",
			zap.String("token-id", tokenID),
			zap.Error(err))
		return defaultTickSize
	}

	var resp restTickSize
	err = json.Unmarshal(body, &resp)
	if err != nil || resp.MinimumTickSize <= 0 {
		return defaultTickSize
	}

	g.cache.Set(key, resp.MinimumTickSize, tickSizeTTL)
	return resp.MinimumTickSize
}

func (g *Gateway) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// consumeFeed applies streamed book events to the cache.
func (g *Gateway) consumeFeed(ctx context.Context) {
	defer g.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-g.feed.MessageChan():
			if !ok {
				return
			}
			g.handleFeedMessage(ctx, msg)
		}
	}
}

func (g *Gateway) handleFeedMessage(ctx context.Context, msg *types.OrderbookMessage) {
	switch msg.EventType {
	case "book":
		snapshot, err := g.buildSnapshot(msg.AssetID, msg.Bids, msg.Asks)
		if err != nil {
			g.logger.Debug("feed-book-unusable",
				zap.String("token-id", msg.AssetID),
				zap.Error(err))
			return
		}
		snapshot.TickSize = g.tickSize(ctx, msg.AssetID)
		g.cache.Set(bookKey(msg.AssetID), snapshot, g.freshness)
		FeedUpdatesTotal.WithLabelValues("book").Inc()

	case "price_change":
		// Best-level patches carry no depth; only apply them on top of an
		// existing full snapshot.
		cached, found := g.cache.Get(bookKey(msg.AssetID))
		if !found {
			return
		}
		prev, ok := cached.(*types.BookSnapshot)
		if !ok {
			return
		}

		next := *prev
		next.Asks = prev.Asks
		if price, _, err := bestLevel(msg.Bids); err == nil {
			next.BestBid = price
		}
		if price, _, err := bestLevel(msg.Asks); err == nil {
			next.BestAsk = price
		}
		next.CapturedAt = time.Now()
		g.cache.Set(bookKey(msg.AssetID), &next, g.freshness)
		FeedUpdatesTotal.WithLabelValues("price_change").Inc()
	}
}

// buildSnapshot parses wire levels into a snapshot with asks ascending.
func (g *Gateway) buildSnapshot(tokenID string, bids, asks []types.PriceLevel) (*types.BookSnapshot, error) {
	bestBid, _, err := bestLevel(bids)
	if err != nil {
		return nil, fmt.Errorf("extract best bid: %w", err)
	}

	askLevels, err := parseLevels(asks)
	if err != nil {
		return nil, fmt.Errorf("parse asks: %w", err)
	}
	sort.Slice(askLevels, func(i, j int) bool { return askLevels[i].Price < askLevels[j].Price })

	return &types.BookSnapshot{
		TokenID:    tokenID,
		BestBid:    bestBid,
		BestAsk:    askLevels[0].Price,
		Asks:       askLevels,
		CapturedAt: time.Now(),
	}, nil
}

func parseLevels(levels []types.PriceLevel) ([]types.BookLevel, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("no price levels")
	}

	parsed := make([]types.BookLevel, 0, len(levels))
	for _, lvl := range levels {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("parse size: %w", err)
		}
		if size <= 0 {
			continue
		}
		parsed = append(parsed, types.BookLevel{Price: price, Size: size})
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("no price levels")
	}
	return parsed, nil
}

// bestLevel returns the best price and size from wire levels, which arrive
// best-first.
func bestLevel(levels []types.PriceLevel) (float64, float64, error) {
	if len(levels) == 0 {
		return 0, 0, fmt.Errorf("no price levels")
	}

	price, err := strconv.ParseFloat(levels[0].Price, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse price: %w", err)
	}

	size, err := strconv.ParseFloat(levels[0].Size, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse size: %w", err)
	}

	return price, size, nil
}

func bookKey(tokenID string) string { return "book:" + tokenID }
func tickKey(tokenID string) string { return "tick:" + tokenID }

var _ Feed = (*websocket.Client)(nil)
