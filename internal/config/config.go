// Package config resolves runtime settings from the environment, optionally
// seeded from a .env file. Command-line flags override what is loaded here.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Python         string   // interpreter used to launch the detector
	DetectorScript string   // path to python/detector.py
	ModelPath      string   // YOLO weights
	WorkerTimeout  string   // per-frame detector timeout, e.g. "30s"
	SampleEvery    int      // default sampling interval for videos
	DatabaseURL    string   // PostgreSQL connection string
	KafkaBrokers   []string // empty disables publishing
	KafkaTopic     string
	MetricsAddr    string // empty disables the /metrics endpoint
}

// Load reads envFile if it exists and then the process environment. A missing
// .env file is not an error.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	return Config{
		Python:         getEnv("TRAFFIC_PYTHON", "python3"),
		DetectorScript: getEnv("TRAFFIC_DETECTOR_SCRIPT", "python/detector.py"),
		ModelPath:      getEnv("TRAFFIC_MODEL_PATH", "models/best.pt"),
		WorkerTimeout:  getEnv("TRAFFIC_WORKER_TIMEOUT", "30s"),
		SampleEvery:    getEnvInt("TRAFFIC_SAMPLE_EVERY", 3),
		DatabaseURL:    databaseURL(),
		KafkaBrokers:   splitAndTrim(os.Getenv("KAFKA_BROKERS"), ","),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "traffic.frames"),
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}, nil
}

// databaseURL prefers DATABASE_URL, then assembles one from POSTGRES_*, then
// falls back to a local default.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/trafficvision"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "trafficvision"),
	)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
