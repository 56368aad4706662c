package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                     string
	AllowedOrigin            string
	StoreBackend             string
	DatabaseURL              string
	SQLitePath               string
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	SnapshotTTLHours         int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	AdminUsername            string
	AdminPassword            string
	ViewerUsername           string
	ViewerPassword           string
	CompositionsFallbackFile string
	CatalogFile              string
	ResolverRulesFile        string
	ClassifyRulesFile        string
	PricesInCents            bool
	ExportsKeep              int
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] WARN: .env not loaded: %v", err)
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	snapshotTTL, err := strconv.Atoi(getEnv("SNAPSHOT_TTL_HOURS", "720"))
	if err != nil || snapshotTTL < 0 {
		snapshotTTL = 720
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	exportsKeep, err := strconv.Atoi(getEnv("EXPORTS_KEEP", "24"))
	if err != nil || exportsKeep < 2 {
		exportsKeep = 24
	}
	// Register exports carry prices in cents.
	pricesInCents, err := strconv.ParseBool(getEnv("PRICES_IN_CENTS", "true"))
	if err != nil {
		pricesInCents = true
	}

	cfg := Config{
		Port:                     getEnv("PORT", "8080"),
		AllowedOrigin:            getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		StoreBackend:             strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		SQLitePath:               getEnv("SQLITE_PATH", "posfusion.db"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  redisDB,
		SnapshotTTLHours:         snapshotTTL,
		AuthSecret:               strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:    tokenTTL,
		AdminUsername:            getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:            strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),
		ViewerUsername:           strings.TrimSpace(os.Getenv("VIEWER_USERNAME")),
		ViewerPassword:           strings.TrimSpace(os.Getenv("VIEWER_PASSWORD")),
		CompositionsFallbackFile: os.Getenv("COMPOSITIONS_FALLBACK_FILE"),
		CatalogFile:              os.Getenv("CATALOG_FILE"),
		ResolverRulesFile:        os.Getenv("RESOLVER_RULES_FILE"),
		ClassifyRulesFile:        os.Getenv("CLASSIFY_RULES_FILE"),
		PricesInCents:            pricesInCents,
		ExportsKeep:              exportsKeep,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
