package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

var (
	db *gorm.DB

	erpMu  sync.Mutex
	erpDBs = map[string]*gorm.DB{}
)

// GetDB returns the shadow database (order links, sync runs).
func GetDB() *gorm.DB {
	return db
}

func init() {
	// Load env from .env
	godotenv.Load()
	// IMPORTANT (Cloud Run):
	// Do NOT block startup in init() waiting for DB.
	// Cloud Run requires the container to start listening on $PORT quickly.
}

// ConnectDatabaseWithRetry connects the shadow database and sets the global.
// Call this from main() AFTER the HTTP server is listening.
func ConnectDatabaseWithRetry() {
	dbName := os.Getenv("SHADOW_DB_NAME")

	var attempt int
	for {
		attempt++
		conn, err := gorm.Open(mysql.Open(buildDSN(dbName)), initConfig())
		if err == nil {
			tunePool(conn)
			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			db = conn
			log.Printf("connected to shadow database (attempt=%d)", attempt)
			return
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect shadow database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}

// GetERPDB returns a connection to one tenant's ERP database, opening and
// caching it on first use. ERP databases live on the same server as the
// shadow store unless ERP_DB_HOST overrides it.
func GetERPDB(database string) (*gorm.DB, error) {
	database = strings.TrimSpace(database)
	if database == "" {
		return nil, fmt.Errorf("erp database name is empty")
	}

	erpMu.Lock()
	defer erpMu.Unlock()

	if conn, ok := erpDBs[database]; ok {
		return conn, nil
	}

	conn, err := gorm.Open(mysql.Open(buildERPDSN(database)), initConfig())
	if err != nil {
		return nil, fmt.Errorf("connect erp database %s: %w", database, err)
	}
	tunePool(conn)
	if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
		log.Printf("erp db %s connected but failed to install otelgorm plugin: %v", database, pluginErr)
	}
	erpDBs[database] = conn
	return conn, nil
}

func buildDSN(dbName string) string {
	return dsnFor(
		os.Getenv("DB_USER"),
		os.Getenv("DB_PASSWORD"),
		os.Getenv("DB_HOST"),
		os.Getenv("DB_PORT"),
		dbName,
	)
}

func buildERPDSN(dbName string) string {
	host := os.Getenv("ERP_DB_HOST")
	port := os.Getenv("ERP_DB_PORT")
	user := os.Getenv("ERP_DB_USER")
	password := os.Getenv("ERP_DB_PASSWORD")
	if host == "" {
		host = os.Getenv("DB_HOST")
		port = os.Getenv("DB_PORT")
	}
	if user == "" {
		user = os.Getenv("DB_USER")
		password = os.Getenv("DB_PASSWORD")
	}
	return dsnFor(user, password, host, port, dbName)
}

func dsnFor(user, password, host, port, dbName string) string {
	network := "tcp"
	address := fmt.Sprintf("%s:%s", host, port)

	// Cloud Run + Cloud SQL: when the host is "/cloudsql/<CONNECTION_NAME>",
	// connect using a Unix domain socket provided by Cloud SQL Auth Proxy.
	if strings.HasPrefix(host, "/cloudsql/") {
		network = "unix"
		address = host
	}

	return fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
		user, password, network, address, dbName)
}

// Tune database/sql pool for Cloud SQL / production.
// Env overrides (optional):
// - DB_MAX_OPEN_CONNS (default 50)
// - DB_MAX_IDLE_CONNS (default 25)
// - DB_CONN_MAX_LIFETIME_SECONDS (default 300)
// - DB_CONN_MAX_IDLE_TIME_SECONDS (default 60)
func tunePool(conn *gorm.DB) {
	sqlDB, err := conn.DB()
	if err != nil || sqlDB == nil {
		return
	}
	maxOpen := intFromEnv("DB_MAX_OPEN_CONNS", 50)
	maxIdle := intFromEnv("DB_MAX_IDLE_CONNS", 25)
	connMaxLife := time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second
	connMaxIdle := time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second

	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if connMaxLife > 0 {
		sqlDB.SetConnMaxLifetime(connMaxLife)
	}
	if connMaxIdle > 0 {
		sqlDB.SetConnMaxIdleTime(connMaxIdle)
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// InitConfig Initialize Config
func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
	return newLogger
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
