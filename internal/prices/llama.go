package prices

import (
	"context"
	"time"

	"github.com/gustavo/lendctl/internal/cache"
	"github.com/gustavo/lendctl/internal/httpx"
)

const (
	defaultEndpoint = "https://coins.llama.fi/prices/current/coingecko:ethereum"
	ethUSDCacheKey  = "eth-usd"
	rateCacheTTL    = 10 * time.Minute
)

// Llama upgrades the static heuristic with a live USD/ETH rate from the
// DefiLlama coins API. Fetch failures fall back to the static rate; the
// estimate never blocks an operation on price-feed availability.
type Llama struct {
	http     *httpx.Client
	rates    *cache.RateStore
	endpoint string
	fallback Static
}

func NewLlama(httpClient *httpx.Client, rates *cache.RateStore) *Llama {
	return &Llama{
		http:     httpClient,
		rates:    rates,
		endpoint: defaultEndpoint,
		fallback: NewStatic(0),
	}
}

type llamaResponse struct {
	Coins map[string]struct {
		Price float64 `json:"price"`
	} `json:"coins"`
}

func (l *Llama) ETHValue(ctx context.Context, symbol string, amount float64) (float64, error) {
	if isETHPegged(symbol) {
		return amount, nil
	}
	if !isUSDStable(symbol) {
		return amount, nil
	}
	return amount / l.ethUSDRate(ctx), nil
}

func (l *Llama) ethUSDRate(ctx context.Context) float64 {
	if rate, ok, _ := l.rates.Get(ethUSDCacheKey); ok && rate > 0 {
		return rate
	}

	var resp llamaResponse
	if err := l.http.GetJSON(ctx, l.endpoint, &resp); err != nil {
		return l.fallback.ETHUSDRate
	}
	coin, ok := resp.Coins["coingecko:ethereum"]
	if !ok || coin.Price <= 0 {
		return l.fallback.ETHUSDRate
	}
	_ = l.rates.Put(ethUSDCacheKey, coin.Price, rateCacheTTL)
	return coin.Price
}
