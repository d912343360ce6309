package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ArtifactMemory = "memory"
	ArtifactRedis  = "redis"
)

type InvalidationCfg struct {
	Enabled bool
	Topic   string
	Brokers []string
	GroupID string
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type ArtifactCfg struct {
	Driver     string
	TTL        time.Duration
	MemorySize int
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int

	DataDir          string
	DatasetCacheSize int
	Blacklist        []string
	// externally visible base URL for artifact links
	PublicBaseURL string

	Artifacts      ArtifactCfg
	RedisAddr      string
	CacheOpTimeout time.Duration

	Invalidation InvalidationCfg
	Metrics      MetricsCfg
}

func FromEnv() Config {
	driver := strings.ToLower(getenv("ARTIFACT_DRIVER", ArtifactMemory))
	if driver != ArtifactRedis {
		driver = ArtifactMemory
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),

		DataDir:          getenv("DATA_DIR", "./data"),
		DatasetCacheSize: getint("DATASET_CACHE_SIZE", 64),
		Blacklist:        splitCSV(getenv("WFS_BLACKLIST", "")),
		PublicBaseURL:    strings.TrimRight(getenv("PUBLIC_BASE_URL", ""), "/"),

		Artifacts: ArtifactCfg{
			Driver:     driver,
			TTL:        getduration("ARTIFACT_TTL", time.Hour),
			MemorySize: getint("ARTIFACT_MEMORY_SIZE", 256),
		},
		RedisAddr:      getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "dataset-invalidation"),
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),
			GroupID: getenv("KAFKA_GROUP_ID", "wfs-dataset-cache"),
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", false),
			Addr:    getenv("METRICS_ADDR", ""),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
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

// parse "a, b,,c" into [a b c]
func splitCSV(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
