package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	QueueSize int
}

// WebhooksCfg configures the consumer of Strava webhook events. It shares
// the brokers of EventsCfg.
type WebhooksCfg struct {
	Enabled bool
	Topic   string
	GroupID string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	StravaAPIURL    string
	UpstreamTimeout time.Duration
	RedisAddr       string
	CacheTTL        time.Duration
	CacheLRUSize    int
	CacheOpTimeout  time.Duration
	MapSize         int
	H3Res           int
	CORSOrigins     []string
	Events          EventsCfg
	Webhooks        WebhooksCfg
	MetricsEnabled  bool
	MetricsAddr     string
	MetricsPath     string
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 || res > 15 {
		res = 8
	}
	mapSize := getint("MAP_SIZE", 400)
	if mapSize <= 0 {
		mapSize = 400
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		StravaAPIURL:    strings.TrimRight(getenv("STRAVA_API_URL", "https://www.strava.com/api"), "/"),
		UpstreamTimeout: getduration("UPSTREAM_TIMEOUT", 10*time.Second),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		CacheTTL:        getduration("CACHE_TTL", 5*time.Minute),
		CacheLRUSize:    getint("CACHE_LRU_SIZE", 256),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		MapSize:         mapSize,
		H3Res:           res,
		CORSOrigins:     parseList(getenv("CORS_ORIGINS", "*")),
		Events: EventsCfg{
			Enabled:   getbool("EVENTS_ENABLED", false),
			Brokers:   parseList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:     getenv("KAFKA_TOPIC", "feed-events"),
			QueueSize: getint("EVENTS_QUEUE", 1024),
		},
		Webhooks: WebhooksCfg{
			Enabled: getbool("WEBHOOKS_ENABLED", false),
			Topic:   getenv("KAFKA_WEBHOOK_TOPIC", "strava-webhooks"),
			GroupID: getenv("KAFKA_GROUP_ID", "stravafeeds"),
		},
		MetricsEnabled: getbool("METRICS_ENABLED", false),
		MetricsAddr:    getenv("METRICS_ADDR", ":9090"),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a, b,c" into a list, dropping empties
func parseList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
