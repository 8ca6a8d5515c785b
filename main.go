package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"isotope-route-dashboard/pkg/apiclient"
	"isotope-route-dashboard/pkg/dashboard"
	"isotope-route-dashboard/pkg/database"
	"isotope-route-dashboard/pkg/geomap"
	"isotope-route-dashboard/pkg/logger"
	"isotope-route-dashboard/pkg/routeview"
)

// CompileVersion is set with -ldflags "-X 'main.CompileVersion=...'".
var CompileVersion = "dev"

// ROUTEDASH_* variables, from the environment or a .env file, provide the
// flag defaults.
func envString(name, def string) string {
	if v, ok := os.LookupEnv("ROUTEDASH_" + name); ok {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	if n, err := strconv.Atoi(envString(name, "")); err == nil {
		return n
	}
	return def
}

func envBool(name string, def bool) bool {
	if b, err := strconv.ParseBool(envString(name, "")); err == nil {
		return b
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envString(name, "")); err == nil {
		return d
	}
	return def
}

func main() {
	// a missing .env is normal
	_ = godotenv.Load()

	var (
		port        = flag.Int("port", envInt("PORT", 8765), "Port for running the server")
		domain      = flag.String("domain", envString("DOMAIN", ""), "Use 80 and 443 ports. Automatic HTTPS cert via Let's Encrypt.")
		publicURL   = flag.String("public-url", envString("PUBLIC_URL", ""), "Base URL encoded in share codes (defaults to the request host)")
		apiURL      = flag.String("api-url", envString("API_URL", "http://localhost:3000"), "Base URL of the route API")
		apiTimeout  = flag.Duration("api-timeout", envDuration("API_TIMEOUT", 15*time.Second), "Timeout of one route API request")
		apiCacheTTL = flag.Duration("api-cache-ttl", envDuration("API_CACHE_TTL", 5*time.Second), "How long route API reads are cached (0 disables)")
		dbType      = flag.String("db-type", envString("DB_TYPE", "sqlite"), "Type of the database driver: sqlite, chai, genji, duckdb, or pgx (postgresql)")
		dbPath      = flag.String("db-path", envString("DB_PATH", ""), "Path to the database file (embedded drivers)")
		dbConn      = flag.String("db-conn", envString("DB_CONN", ""), "Full PostgreSQL connection string (pgx driver)")
		dbHost      = flag.String("db-host", envString("DB_HOST", "127.0.0.1"), "Database host (pgx driver)")
		dbPort      = flag.Int("db-port", envInt("DB_PORT", 5432), "Database port (pgx driver)")
		dbUser      = flag.String("db-user", envString("DB_USER", "postgres"), "Database user (pgx driver)")
		dbPass      = flag.String("db-pass", envString("DB_PASS", ""), "Database password (pgx driver)")
		dbName      = flag.String("db-name", envString("DB_NAME", "routedash"), "Database name (pgx driver)")
		pgSSLMode   = flag.String("pg-ssl-mode", envString("PG_SSL_MODE", "prefer"), "PostgreSQL SSL mode: disable, allow, prefer, require, verify-ca, or verify-full")
		chartWidth  = flag.Int("chart-width", envInt("CHART_WIDTH", 900), "Chart width in pixels")
		chartHeight = flag.Int("chart-height", envInt("CHART_HEIGHT", 320), "Chart height in pixels")
		attempts    = flag.Int("init-attempts", envInt("INIT_ATTEMPTS", geomap.DefaultInitAttempts), "Map initialisation attempts before giving up")
		initDelay   = flag.Duration("init-delay", envDuration("INIT_DELAY", geomap.DefaultInitDelay), "Pause between map initialisation attempts")
		settle      = flag.Duration("settle-delay", envDuration("SETTLE_DELAY", routeview.DefaultSettleDelay), "Pause before the first map attempt and the size re-check")
		sessionTTL  = flag.Duration("session-ttl", envDuration("SESSION_TTL", 30*time.Minute), "Idle time after which a browser session is dropped")
		readOnly    = flag.Bool("read-only", envBool("READ_ONLY", false), "Hide point deletion")
		debug       = flag.Bool("debug", envBool("DEBUG", false), "Turn on debugging output")
		version     = flag.Bool("version", false, "Show the application version")
	)
	flag.Parse()

	if *version {
		fmt.Printf("isotope-route-dashboard version %s\n", CompileVersion)
		return
	}

	zl, err := logger.New(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()
	logf := logger.Printf(zl, "dashboard")

	if *domain != "" && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		log.Warn("binding to :80 / :443 requires super-user rights; run with sudo or as root")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(ctx, database.Config{
		DBType:    *dbType,
		DBPath:    *dbPath,
		DBConn:    *dbConn,
		DBHost:    *dbHost,
		DBPort:    *dbPort,
		DBUser:    *dbUser,
		DBPass:    *dbPass,
		DBName:    *dbName,
		PGSSLMode: *pgSSLMode,
		Port:      *port,
		Logf:      logger.Printf(zl, "database"),
	})
	if err != nil {
		log.Fatalf("DB init: %v", err)
	}
	defer db.Close()

	srv, err := dashboard.New(dashboard.Config{
		APIURL:     *apiURL,
		APITimeout: *apiTimeout,
		CacheTTL:   *apiCacheTTL,
		Backoff: apiclient.Backoff{
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
		},
		Init:        geomap.Initializer{MaxAttempts: *attempts, Delay: *initDelay},
		SettleDelay: *settle,
		ReadOnly:    *readOnly,
		ChartWidth:  *chartWidth,
		ChartHeight: *chartHeight,
		SessionTTL:  *sessionTTL,
		PublicURL:   *publicURL,
		Store:       db,
		Version:     CompileVersion,
		Logf:        logf,
	})
	if err != nil {
		log.Fatalf("dashboard: %v", err)
	}
	defer srv.Close()
	go srv.Run(ctx)

	log.Infow("starting", "version", CompileVersion, "api", *apiURL, "db", *dbType)

	errLog := logger.Std(zl, "http")
	if *domain != "" {
		err = serveWithDomain(ctx, *domain, srv.Handler(), errLog, logger.Printf(zl, "http"))
	} else {
		err = serveHTTP(ctx, fmt.Sprintf(":%d", *port), srv.Handler(), errLog, logger.Printf(zl, "http"))
	}
	if err != nil {
		log.Errorf("server: %v", err)
	}
	log.Info("stopped")
}
