package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"martingale_bot/bot"
	"martingale_bot/client"
	"martingale_bot/config"
	"martingale_bot/db"
	"martingale_bot/interfaces"
	"martingale_bot/logger"
	"martingale_bot/metrics"
	"martingale_bot/models"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	streamReconnectAttempts = 5
	streamReconnectDelay    = 5 * time.Second
	paperFollowInterval     = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log", "", "Log level: debug, info, warn, error (overrides config)")
	exchange := flag.String("exchange", "", "Exchange: binance or paper (overrides config)")
	symbol := flag.String("symbol", "", "Trading pair, e.g. SOLUSDT (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *exchange != "" {
		cfg.Exchange = *exchange
	}
	if *symbol != "" {
		cfg.Symbol = *symbol
	}
	logger.InitLogger(&cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("Martingale bot stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Infof("Martingale bot stopped")
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	var bt *bot.MartingaleBot
	onFill := func(f models.Fill) { bt.HandleFill(f) }

	exchange, stream, err := connect(ctx, cfg, onFill, collector)
	if err != nil {
		return err
	}

	store, err := db.Open(ctx, cfg.Database)
	if err != nil {
		stream.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	bt = bot.NewMartingaleBot(cfg.BotConfig(), exchange, stream, store)
	bt.SetObserver(collector)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, prometheus.DefaultGatherer); err != nil {
				logger.Errorf("Metrics server failed: %v", err)
			}
		}()
	}
	if cfg.MetricsInterval > 0 {
		go metrics.MonitorPerformance(ctx, bt.Performance, cfg.MetricsCSV, cfg.MetricsInterval)
	}

	logger.Infof("/// Starting martingale bot on %s (%s) ///", cfg.Symbol, cfg.Exchange)
	return bt.Run(ctx)
}

// connect builds the exchange and push stream for cfg.Exchange. Paper trading
// mirrors live Binance prices through the public API.
func connect(ctx context.Context, cfg *config.Config, onFill interfaces.FillHandler, collector *metrics.Collector) (interfaces.ExchangeClient, interfaces.MarketStream, error) {
	switch cfg.Exchange {
	case config.ExchangePaper:
		live := client.NewBinanceClient("", "", cfg.Testnet)
		limits, err := live.GetMarketLimits(ctx, cfg.Symbol)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load %s limits: %w", cfg.Symbol, err)
		}
		paper := client.NewPaperExchange(limits, cfg.PaperBalance, onFill)
		if err := paper.SyncFrom(ctx, live); err != nil {
			return nil, nil, err
		}
		paper.OnDisconnect = collector.StreamDisconnected
		paper.OnReconnect = collector.StreamReconnected
		go paper.Follow(ctx, live, paperFollowInterval)
		logger.Infof("Paper trading %s with %s %s", cfg.Symbol, cfg.PaperBalance, limits.QuoteAsset)
		return paper, paper, nil
	default:
		cl := client.NewBinanceClient(cfg.APIKey, cfg.APISecret, cfg.Testnet)
		stream := client.NewBinanceStream(cl, cfg.Symbol, onFill, streamReconnectAttempts, streamReconnectDelay)
		stream.OnDisconnect = collector.StreamDisconnected
		stream.OnReconnect = collector.StreamReconnected
		return cl, stream, nil
	}
}
