package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"worship-service/internal/worship"
)

func main() {
	port := getenv("PORT", "3005")
	dsn := getenv("DATABASE_URL", "")
	redisURL := getenv("REDIS_URL", "")

	cfg := worship.DefaultConfig()
	cfg.JWTSecret = getenv("JWT_SECRET", "")
	if v := getenvInt("HEARTBEAT_INTERVAL_SECONDS", 0); v > 0 {
		cfg.HeartbeatInterval = time.Duration(v) * time.Second
	}
	if v := getenvInt("SYNC_START_BUFFER_MS", 0); v > 0 {
		cfg.StartBuffer = time.Duration(v) * time.Millisecond
	}
	if v := getenvInt("ROOM_IDLE_GRACE_SECONDS", 0); v > 0 {
		cfg.IdleGrace = time.Duration(v) * time.Second
	}

	ctx := context.Background()

	var store worship.Store
	if dsn == "" {
		log.Printf("worship-service: DATABASE_URL not set, using in-memory store")
		store = worship.NewMemoryStore()
	} else {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Fatalf("worship-service: pg: %v", err)
		}
		defer pool.Close()
		if err := worship.AutoMigrate(ctx, pool); err != nil {
			log.Fatalf("worship-service: %v", err)
		}
		store = worship.NewPostgresStore(pool)
	}

	var rdb *redis.Client
	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			log.Fatalf("worship-service: redis: %v", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	} else {
		log.Printf("worship-service: REDIS_URL not set, events stay local")
	}

	rooms := worship.NewRoomManager(cfg.IdleGrace)
	gw := worship.NewGateway(rooms, rdb)
	srv := worship.NewServer(store, rooms, gw, cfg)

	go gw.RunSubscriber(ctx)
	go srv.StartSweeper(ctx)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", srv.Routes())

	log.Printf("worship-service on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("worship-service: %v", err)
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("worship-service: %s must be an integer: %v", k, err)
	}
	return n
}
