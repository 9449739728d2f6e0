package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"verdantdo/api"
	"verdantdo/identity"
	"verdantdo/storage"
	"verdantdo/storage/memstore"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("load .env: %v", err)
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	}
	logger := log.StandardLogger()

	var store api.Store
	switch backend := strings.ToLower(os.Getenv("STORE_BACKEND")); backend {
	case "memory":
		log.Warn("using in-memory store; data is lost on restart")
		store = memstore.New()
	case "", "azure":
		store = azureStore(logger)
	default:
		log.Fatalf("unsupported STORE_BACKEND %q", backend)
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(api.GzipRequestMiddleware(64 << 10))

	api.Register(e, store, verifier(), logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func azureStore(logger *log.Logger) *storage.Storage {
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := os.Getenv("TASKS_TABLE")
	categoriesTable := os.Getenv("CATEGORIES_TABLE")
	if connStr == "" || tasksTable == "" || categoriesTable == "" {
		log.Fatal("missing storage config")
	}
	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	cacheTTL := 5 * time.Minute
	if v := os.Getenv("SNAPSHOT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			log.Fatalf("invalid SNAPSHOT_CACHE_TTL: %q", v)
		}
		cacheTTL = d
	}
	rc := redis.NewClient(storage.RedisOptions(redisConn))
	store, err := storage.New(storage.Config{
		ConnectionString: connStr,
		TasksTable:       tasksTable,
		CategoriesTable:  categoriesTable,
		EventsQueue:      os.Getenv("EVENTS_QUEUE"),
		CacheTTL:         cacheTTL,
	}, rc, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	return store
}

func verifier() *identity.Auth {
	keyTTL := identity.DefaultKeyCacheTTL
	if raw := os.Getenv("JWKS_CACHE_TTL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			log.Fatal("invalid JWKS_CACHE_TTL")
		}
		keyTTL = d
	}
	audience := os.Getenv("AUTH0_AUDIENCE")
	domain := os.Getenv("AUTH0_DOMAIN")

	if mode := strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")); mode != "" {
		if mode != "hs256" {
			log.Fatal("unsupported LOCAL_AUTH_MODE value")
		}
		secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			log.Fatal("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
		}
		log.Warn("local HS256 authentication enabled")
		return identity.NewAuth(nil, identity.Config{Audience: audience, LocalSecret: []byte(secret)})
	}

	if audience == "" || domain == "" {
		log.Fatal("missing Auth0 config")
	}
	jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
	})
	if err != nil {
		log.Fatalf("jwks: %v", err)
	}
	return identity.NewAuth(jwks, identity.Config{
		Audience:    audience,
		Issuer:      "https://" + domain + "/",
		KeyCacheTTL: keyTTL,
	})
}
