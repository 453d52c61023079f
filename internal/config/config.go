package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by RESONA_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("RESONA_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Missing files are fine; the environment may already be set.
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// StoreDriver returns the storage backend: postgres (default) or sqlite.
func StoreDriver() string {
	d := strings.ToLower(os.Getenv("STORE_DRIVER"))
	if d == "" {
		return "postgres"
	}
	return d
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func SQLitePath() string {
	p := os.Getenv("SQLITE_PATH")
	if p == "" {
		return "resona.db"
	}
	return p
}

// AutoMigrate reports whether the embedded schema is applied at startup.
// Defaults to true.
func AutoMigrate() bool {
	v, err := strconv.ParseBool(os.Getenv("AUTO_MIGRATE"))
	if err != nil {
		return true
	}
	return v
}

// BroadcastInterval is the live feed period. Defaults to 2s.
func BroadcastInterval() time.Duration {
	return duration("BROADCAST_INTERVAL", 2*time.Second)
}

// CycleTimeout bounds the store reads of one live feed cycle. Defaults to 5s.
func CycleTimeout() time.Duration {
	return duration("CYCLE_TIMEOUT", 5*time.Second)
}

// EventWindow is the number of newest events the coherence window reads.
func EventWindow() int {
	return positiveInt("EVENT_WINDOW", 100)
}

// IncidentWindow is the number of recent incidents carried in a state bundle.
func IncidentWindow() int {
	return positiveInt("INCIDENT_WINDOW", 10)
}

// CoherenceSpan limits the coherence window in time, measured back from the
// newest event. Zero disables the limit.
func CoherenceSpan() time.Duration {
	if os.Getenv("COHERENCE_SPAN") == "0" {
		return 0
	}
	return duration("COHERENCE_SPAN", 30*time.Minute)
}

// CoherenceAggregator selects the scoring function: composite or signal_mean.
func CoherenceAggregator() string {
	a := os.Getenv("COHERENCE_AGGREGATOR")
	if a == "" {
		return "composite"
	}
	return a
}

func CoherenceSignalKey() string {
	k := os.Getenv("COHERENCE_SIGNAL_KEY")
	if k == "" {
		return "coherence"
	}
	return k
}

// ReturnEpsilon is the band inside the corridor bounds that yields a weak
// return mapping. Defaults to 0.005.
func ReturnEpsilon() float64 {
	v, err := strconv.ParseFloat(os.Getenv("RETURN_EPSILON"), 64)
	if err != nil || v < 0 {
		return 0.005
	}
	return v
}

// DropThreshold is the score drop that raises a coherence_drop incident.
// Defaults to 0.15.
func DropThreshold() float64 {
	v, err := strconv.ParseFloat(os.Getenv("DROP_THRESHOLD"), 64)
	if err != nil || v <= 0 {
		return 0.15
	}
	return v
}

// APIKeys returns the accepted bearer keys. Empty disables authentication.
func APIKeys() []string {
	var keys []string
	for _, k := range strings.Split(os.Getenv("API_KEYS"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ExportSalt keys the pseudonyms of anonymized exports. Keep it stable to
// get the same pseudonyms across exports.
func ExportSalt() string {
	return os.Getenv("EXPORT_SALT")
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return positiveInt("RATE_LIMIT_BURST", 20)
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

func duration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func positiveInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
