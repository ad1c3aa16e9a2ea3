package generator

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/tick-hub/pkg/models"
)

const (
	defaultBasePrice = 100.0
	// max relative move per trade
	volatility = 0.005
	minPrice   = 0.01
)

type StockGenerator struct {
	logger   *zap.Logger
	feed     Feed
	tickers  []string
	prices   map[string]float64
	rand     Rand
	clock    Clock
	maxBatch int
	interval time.Duration
}

func NewStockGenerator(
	logger *zap.Logger,
	feed Feed,
	tickers []string,
	basePrices map[string]float64,
	rnd Rand,
	clock Clock,
	maxBatch int,
	interval time.Duration,
) *StockGenerator {
	if maxBatch < 1 {
		maxBatch = 1
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	prices := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		p, ok := basePrices[t]
		if !ok || p <= 0 {
			p = defaultBasePrice
		}
		prices[t] = p
	}

	return &StockGenerator{
		logger:   logger,
		feed:     feed,
		tickers:  tickers,
		prices:   prices,
		rand:     rnd,
		clock:    clock,
		maxBatch: maxBatch,
		interval: interval,
	}
}

func (sg *StockGenerator) Run(ctx context.Context) {
	sg.logger.Info("Generator Started", zap.Strings("tickers", sg.tickers), zap.Duration("interval", sg.interval))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(sg.tickers) == 0 {
				sg.clock.Sleep(1 * time.Second)
				continue
			}

			sg.feed.Publish(sg.NextBatch())
			sg.clock.Sleep(sg.interval)
		}
	}
}

// NextBatch produces between 1 and maxBatch trades, each a random-walk step of its symbol.
func (sg *StockGenerator) NextBatch() []models.TradeData {
	n := 1 + sg.rand.Intn(sg.maxBatch)
	trades := make([]models.TradeData, 0, n)
	now := sg.clock.Now().UnixMilli()

	for i := 0; i < n; i++ {
		symbol := sg.tickers[sg.rand.Intn(len(sg.tickers))]

		last := sg.prices[symbol]
		// Float64 of 0.5 leaves the price unchanged
		price := last + (sg.rand.Float64()*2-1)*last*volatility
		price = math.Max(math.Round(price*100)/100, minPrice)
		sg.prices[symbol] = price

		trades = append(trades, models.TradeData{
			Symbol:    symbol,
			Price:     price,
			Timestamp: now,
			Volume:    float64(1 + sg.rand.Intn(100)),
		})
	}
	return trades
}
