package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type FMP struct {
	Enabled              bool   `json:"enabled"`
	APIKey               string `json:"api_key"`
	BaseURL              string `json:"base_url"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
	MaxSymbolsPerRequest int    `json:"max_symbols_per_request"`
}

type Finnhub struct {
	Enabled              bool   `json:"enabled"`
	APIKey               string `json:"api_key"`
	BaseURL              string `json:"base_url"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	Burst                int    `json:"burst"`
	MaxConcurrency       int    `json:"max_concurrency"`
	NewsWindowDays       int    `json:"news_window_days"`
}

type RSS struct {
	Enabled              bool     `json:"enabled"`
	Feeds                []string `json:"feeds"`
	MaxRequestsPerMinute int      `json:"max_requests_per_minute"`
	Burst                int      `json:"burst"`
}

type Cache struct {
	MaxEntries     int `json:"max_entries"`
	QuoteTTLSec    int `json:"quote_ttl_sec"`
	OHLCTTLSec     int `json:"ohlc_ttl_sec"`
	NewsTTLSec     int `json:"news_ttl_sec"`
	SymbolsTTLSec  int `json:"symbols_ttl_sec"`
	HealthTTLSec   int `json:"health_ttl_sec"`
}

type Bus struct {
	BatchWindowMS int `json:"batch_window_ms"`
	MaxBatch      int `json:"max_batch"`
}

type Universe struct {
	RefreshIntervalHours int `json:"refresh_interval_hours"`
}

type Scanner struct {
	ChunkSize  int `json:"chunk_size"`
	MaxSymbols int `json:"max_symbols"`
	RVOLWindow int `json:"rvol_window"`
}

type Config struct {
	Server   Server   `json:"server"`
	FMP      FMP      `json:"fmp"`
	Finnhub  Finnhub  `json:"finnhub"`
	RSS      RSS      `json:"rss"`
	Cache    Cache    `json:"cache"`
	Bus      Bus      `json:"bus"`
	Universe Universe `json:"universe"`
	Scanner  Scanner  `json:"scanner"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 15},
		FMP: FMP{
			Enabled:              true,
			MaxRequestsPerMinute: 30,
			Burst:                10,
			MaxSymbolsPerRequest: 100,
		},
		Finnhub: Finnhub{
			Enabled:              true,
			MaxRequestsPerMinute: 60,
			Burst:                20,
			MaxConcurrency:       4,
			NewsWindowDays:       7,
		},
		RSS: RSS{
			Enabled:              true,
			Feeds:                []string{},
			MaxRequestsPerMinute: 12,
			Burst:                3,
		},
		Cache: Cache{
			MaxEntries:    10000,
			QuoteTTLSec:   30,
			OHLCTTLSec:    60,
			NewsTTLSec:    120,
			SymbolsTTLSec: 86400,
			HealthTTLSec:  10,
		},
		Bus:      Bus{BatchWindowMS: 100, MaxBatch: 50},
		Universe: Universe{RefreshIntervalHours: 24},
		Scanner:  Scanner{ChunkSize: 50, MaxSymbols: 500, RVOLWindow: 20},
	}
}

// Load reads JSON config from path. If path is empty or file does not exist,
// it returns defaults. Environment variables override select fields so API
// keys stay out of the config file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}

	if v := os.Getenv("FMP_API_KEY"); v != "" {
		cfg.FMP.APIKey = v
	}
	if v := os.Getenv("FMP_BASE_URL"); v != "" {
		cfg.FMP.BaseURL = v
	}
	if v := os.Getenv("FMP_MAX_RPM"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.FMP.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("FMP_BURST"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.FMP.Burst = x
		}
	}

	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Finnhub.APIKey = v
	}
	if v := os.Getenv("FINNHUB_BASE_URL"); v != "" {
		cfg.Finnhub.BaseURL = v
	}
	if v := os.Getenv("FINNHUB_MAX_RPM"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Finnhub.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("FINNHUB_BURST"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Finnhub.Burst = x
		}
	}

	if v := os.Getenv("RSS_ENABLED"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.RSS.Enabled = true
		case "0", "false", "no", "n":
			cfg.RSS.Enabled = false
		}
	}
	if v := os.Getenv("RSS_FEEDS"); v != "" {
		cfg.RSS.Feeds = splitCSV(v)
	}

	if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Cache.MaxEntries = x
		}
	}
	if v := os.Getenv("BATCH_WINDOW_MS"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Bus.BatchWindowMS = x
		}
	}
	if v := os.Getenv("SCANNER_MAX_SYMBOLS"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Scanner.MaxSymbols = x
		}
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
