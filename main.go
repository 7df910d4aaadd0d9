package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"boardsync/api"
	"boardsync/config"
	"boardsync/engine"
	"boardsync/store"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()

	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !os.IsNotExist(err) && !strings.Contains(err.Error(), "no such file") {
			log.Fatalf("config: %v", err)
		}
		cfg = config.Default()
	}

	var st store.Store
	switch cfg.Storage.Backend {
	case "memory":
		st = store.NewMemoryStore()
		logger.Warn("using in-memory store; data will not survive restarts")
	case "table":
		if cfg.Storage.ConnectionString == "" || cfg.Redis.ConnectionString == "" {
			log.Fatal("missing storage config")
		}
		rc := redis.NewClient(redisOptions(cfg.Redis.ConnectionString))
		ts, err := store.NewTableStore(cfg.Storage.ConnectionString, cfg.Storage.TasksTable, rc, cfg.Redis.Channel, logger)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		ttl, err := cfg.CacheTTL()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		st = store.NewCache(ts, rc, ttl)
	default:
		log.Fatalf("unknown storage backend %q", cfg.Storage.Backend)
	}

	testMode := os.Getenv("AUTH_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		if cfg.Auth.Audience == "" || cfg.Auth.Domain == "" {
			log.Fatal("missing auth config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth.Domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, cfg.Auth.Audience, "https://"+cfg.Auth.Domain+"/")
	}

	boards := engine.NewManager(st, logger)
	defer boards.Shutdown()

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("boardsync"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, boards, auth, logger)

	listenAddr := cfg.Server.Addr
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

// redisOptions accepts either a redis URL or the comma-separated
// host,password=...,ssl=... form some providers hand out.
func redisOptions(connStr string) *redis.Options {
	opts, err := redis.ParseURL(connStr)
	if err == nil {
		return opts
	}
	parts := strings.Split(connStr, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
