package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	GinMode   string
	LogLevel  string
	LogFormat string

	// Research backend
	ResearchAPIURL     string
	ResearchAPIKey     string
	ResearchAPITimeout time.Duration

	// Status polling. The interval starts at PollInitialInterval and doubles
	// PollMaxDoublings times; a failed poll waits PollErrorInterval.
	PollInitialInterval time.Duration
	PollMaxDoublings    int
	PollErrorInterval   time.Duration
	PollTimeout         time.Duration
	PollMaxAttempts     int

	// Progress simulation
	ProgressTick       time.Duration
	EventStreamEnabled bool

	// Pacing beats
	PaceThinking    time.Duration
	PaceEcho        time.Duration
	PaceKickoff     time.Duration
	PaceHistoryStep time.Duration

	// Console sessions
	SessionTokenSecret string
	SessionTokenTTL    time.Duration
	SessionIdleTimeout time.Duration
	JanitorSchedule    string

	CORSAllowedOrigins []string
	NatsURL            string

	// Preference store
	StoreDriver       string // "file" or "postgres"
	StorePath         string
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	ResearchAreasFile string
	ShutdownTimeout   time.Duration

	// Areas is the research area catalog: the built-in defaults overlaid
	// with ResearchAreasFile when set.
	Areas []ResearchArea
}

// Load reads .env (if present) and the environment, then the research
// area catalog.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg := &Config{
		Port:      getEnvOrDefault("PORT", "8080"),
		GinMode:   getEnvOrDefault("GIN_MODE", "debug"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),

		ResearchAPIURL:     getEnvOrDefault("RESEARCH_API_URL", "http://localhost:3001/api"),
		ResearchAPIKey:     os.Getenv("RESEARCH_API_KEY"),
		ResearchAPITimeout: time.Duration(getEnvAsInt("RESEARCH_API_TIMEOUT_SECONDS", 30)) * time.Second,

		PollInitialInterval: getEnvAsMillis("POLL_INITIAL_INTERVAL_MS", 500),
		PollMaxDoublings:    getEnvAsInt("POLL_MAX_DOUBLINGS", 3),
		PollErrorInterval:   getEnvAsMillis("POLL_MAX_INTERVAL_MS", 5000),
		PollTimeout:         time.Duration(getEnvAsInt("POLL_TIMEOUT_SECONDS", 300)) * time.Second,
		PollMaxAttempts:     getEnvAsInt("POLL_MAX_ATTEMPTS", 60),

		ProgressTick:       getEnvAsMillis("PROGRESS_TICK_MS", 1000),
		EventStreamEnabled: getEnvAsBool("RESEARCH_EVENT_STREAM", false),

		PaceThinking:    getEnvAsMillis("PACE_THINKING_MS", 1000),
		PaceEcho:        getEnvAsMillis("PACE_ECHO_MS", 200),
		PaceKickoff:     getEnvAsMillis("PACE_KICKOFF_MS", 500),
		PaceHistoryStep: getEnvAsMillis("PACE_HISTORY_STEP_MS", 600),

		SessionTokenSecret: os.Getenv("SESSION_TOKEN_SECRET"),
		SessionTokenTTL:    time.Duration(getEnvAsInt("SESSION_TOKEN_TTL_HOURS", 12)) * time.Hour,
		SessionIdleTimeout: time.Duration(getEnvAsInt("SESSION_IDLE_TIMEOUT_MINUTES", 60)) * time.Minute,
		JanitorSchedule:    getEnvOrDefault("SESSION_JANITOR_SCHEDULE", "@every 5m"),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		NatsURL:            os.Getenv("NATS_URL"),

		StoreDriver:       getEnvOrDefault("STORE_DRIVER", "file"),
		StorePath:         getEnvOrDefault("STORE_PATH", "./data/preferences"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		ResearchAreasFile: os.Getenv("RESEARCH_AREAS_FILE"),
		ShutdownTimeout:   time.Duration(getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	areas := DefaultAreas()
	if cfg.ResearchAreasFile != "" {
		f, err := os.Open(cfg.ResearchAreasFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		overrides, err := LoadAreasFile(f)
		if err != nil {
			return nil, err
		}
		areas = MergeAreas(areas, overrides)
	}
	cfg.Areas = areas

	if cfg.SessionTokenSecret == "" {
		log.Println("Warning: SESSION_TOKEN_SECRET is empty; session tokens are signed with a random per-process key.")
	}
	if cfg.StoreDriver == "postgres" && cfg.DatabaseURL == "" {
		log.Println("Warning: STORE_DRIVER=postgres but DATABASE_URL is empty.")
	}

	return cfg, nil
}

// MaxPollInterval is the ceiling the regular poll schedule reaches after
// PollMaxDoublings doublings, bounded by the error interval.
func (c *Config) MaxPollInterval() time.Duration {
	d := c.PollInitialInterval
	for i := 0; i < c.PollMaxDoublings; i++ {
		d *= 2
	}
	if c.PollErrorInterval > 0 && d > c.PollErrorInterval {
		return c.PollErrorInterval
	}
	return d
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as time.Duration, using default %v: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as int, using default %d: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultValue)) * time.Millisecond
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		} else {
			log.Printf("Warning: Failed to parse environment variable %s='%s' as bool, using default %t: %v", key, value, defaultValue, err)
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
