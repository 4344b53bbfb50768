package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/intraday_ladder_bot/internal/domain"
	"github.com/vitos/intraday_ladder_bot/internal/infrastructure/exchange"
	"github.com/vitos/intraday_ladder_bot/internal/infrastructure/feed"
	"github.com/vitos/intraday_ladder_bot/internal/infrastructure/logger"
	"github.com/vitos/intraday_ladder_bot/internal/infrastructure/storage"
	"github.com/vitos/intraday_ladder_bot/internal/usecase"
	"github.com/vitos/intraday_ladder_bot/internal/web"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Storage struct {
		Driver string `yaml:"driver"` // sqlite (default) or postgres
		Path   string `yaml:"path"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`
	Feed struct {
		URL            string `yaml:"url"`
		InitialDelayMs int    `yaml:"initial_delay_ms"`
		MaxDelayMs     int    `yaml:"max_delay_ms"`
	} `yaml:"feed"`
	Broker struct {
		Mode        string `yaml:"mode"` // paper (default) or kite
		APIKey      string `yaml:"api_key"`
		AccessToken string `yaml:"access_token"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"broker"`
	Engine struct {
		IncreasePct   float64 `yaml:"increase_pct"`
		TSLPct        float64 `yaml:"tsl_pct"`
		MaxLevels     int     `yaml:"max_levels"`
		Capital       float64 `yaml:"capital"`
		SquareOffTime string  `yaml:"square_off_time"`
		Timezone      string  `yaml:"timezone"`
		LockTTLMs     int     `yaml:"lock_ttl_ms"`
		SweepEveryMs  int     `yaml:"sweep_every_ms"`
	} `yaml:"engine"`
	Instruments []struct {
		Token    int64  `yaml:"token"`
		Symbol   string `yaml:"symbol"`
		Exchange string `yaml:"exchange"`
		Segment  string `yaml:"segment"`
	} `yaml:"instruments"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type store interface {
	domain.LadderRepository
	domain.TradeRepository
	domain.InstrumentRepository
	Close() error
}

func main() {
	// 1. Load Config (.env first so it can override yaml secrets)
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	var db store
	switch cfg.Storage.Driver {
	case "", "sqlite":
		dbPath := cfg.Storage.Path
		if dbPath == "" {
			dbPath = "ladder.db"
		}
		db, err = storage.NewSQLiteStore(dbPath)
	case "postgres":
		db, err = storage.OpenPostgres(cfg.Storage.DSN)
	default:
		log.Fatal("Unknown storage driver", zap.String("driver", cfg.Storage.Driver))
	}
	if err != nil {
		log.Fatal("Failed to init storage", zap.Error(err))
	}
	defer db.Close()

	// 4. Seed instruments from config
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, ins := range cfg.Instruments {
		err := db.UpsertInstrument(ctx, &domain.Instrument{
			Token:    ins.Token,
			Symbol:   ins.Symbol,
			Exchange: ins.Exchange,
			Segment:  ins.Segment,
		})
		if err != nil {
			log.Fatal("Failed to seed instrument", zap.Int64("token", ins.Token), zap.Error(err))
		}
	}

	// 5. Init Order Gateway
	var gateway domain.OrderGateway
	switch cfg.Broker.Mode {
	case "", "paper":
		gateway = exchange.NewPaperGateway()
		log.Info("Order gateway: paper trading")
	case "kite":
		apiKey := cfg.Broker.APIKey
		if v := os.Getenv("KITE_API_KEY"); v != "" {
			apiKey = v
		}
		accessToken := cfg.Broker.AccessToken
		if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
			accessToken = v
		}
		if apiKey == "" || accessToken == "" {
			log.Fatal("Kite broker requires api_key and access_token")
		}
		gateway = exchange.NewKiteGateway(apiKey, accessToken, cfg.Broker.BaseURL)
		log.Info("Order gateway: kite")
	default:
		log.Fatal("Unknown broker mode", zap.String("mode", cfg.Broker.Mode))
	}

	// 6. Init Engine and Service
	squareOff := cfg.Engine.SquareOffTime
	if squareOff == "" {
		squareOff = "15:15"
	}
	tz := cfg.Engine.Timezone
	if tz == "" {
		tz = "Asia/Kolkata"
	}
	engine, err := usecase.NewDecisionEngine(squareOff, tz)
	if err != nil {
		log.Fatal("Failed to init decision engine", zap.Error(err))
	}

	locks := usecase.NewLockManager(time.Duration(cfg.Engine.LockTTLMs)*time.Millisecond, 0)

	svc := usecase.NewLadderService(db, db, db, gateway, engine, locks, usecase.LadderServiceConfig{
		LockTTL:     time.Duration(cfg.Engine.LockTTLMs) * time.Millisecond,
		SweepEvery:  time.Duration(cfg.Engine.SweepEveryMs) * time.Millisecond,
		IncreasePct: cfg.Engine.IncreasePct,
		TSLPct:      cfg.Engine.TSLPct,
		MaxLevels:   cfg.Engine.MaxLevels,
		Capital:     cfg.Engine.Capital,
	}, log)

	// Seed the active-ladders gauge from the store
	ladders, err := db.List(ctx)
	if err != nil {
		log.Fatal("Failed to list ladders", zap.Error(err))
	}
	active := 0
	for _, l := range ladders {
		if l.IsActive {
			active++
		}
	}
	usecase.ActiveLadders.Set(float64(active))
	log.Info("Loaded ladders", zap.Int("total", len(ladders)), zap.Int("active", active))

	// 7. Connect the tick feed
	feedClient := feed.NewClient(feed.Config{
		URL:          cfg.Feed.URL,
		InitialDelay: time.Duration(cfg.Feed.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Feed.MaxDelayMs) * time.Millisecond,
	})
	feedClient.OnTick(func(tick domain.PriceTick) {
		if err := svc.ProcessTick(ctx, tick); err != nil {
			log.Error("Error processing tick", zap.Int64("token", tick.InstrumentToken), zap.Error(err))
		}
	})

	instruments, err := db.ListInstruments(ctx)
	if err != nil {
		log.Fatal("Failed to list instruments", zap.Error(err))
	}
	tokens := make([]int64, 0, len(instruments))
	for _, ins := range instruments {
		tokens = append(tokens, ins.Token)
	}
	if err := feedClient.SetTokens(tokens); err != nil {
		log.Error("Failed to set feed subscriptions", zap.Error(err))
	}
	go feedClient.Run(ctx)

	// 8. Square-off sweeper
	go svc.RunSquareOffSweeper(ctx)

	// 9. Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, db, db, db, svc, feedClient, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 10. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}
