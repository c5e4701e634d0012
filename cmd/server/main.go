package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/music-room-sync/internal/audiocache"
	"github.com/music-room-sync/internal/auth"
	"github.com/music-room-sync/internal/autoplay"
	"github.com/music-room-sync/internal/config"
	"github.com/music-room-sync/internal/ratelimit"
	"github.com/music-room-sync/internal/room"
	"github.com/music-room-sync/internal/ws"
	"github.com/music-room-sync/pkg/clock"
	"github.com/music-room-sync/pkg/database"
	"github.com/music-room-sync/pkg/events"
	"github.com/music-room-sync/pkg/redis"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	if os.Getenv("ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	clk := clock.RealClock{}

	// Rate limiter: generic rule plus the tighter bring-to-top window.
	limiter := ratelimit.NewLimiter(clk, ratelimit.Rule{
		Max:    cfg.Throttle.ActionMax,
		Window: time.Duration(cfg.Throttle.ActionWindowSec) * time.Second,
	})
	limiter.SetRule("bring_to_top", ratelimit.Rule{
		Max:    cfg.Throttle.TopMax,
		Window: time.Duration(cfg.Throttle.TopWindowSec) * time.Second,
	})

	// Audio cache with the yt-dlp/ffmpeg acquisition pipeline.
	cache, err := audiocache.NewCache(
		cfg.Cache.Dir,
		&audiocache.YTDLPFetcher{Bitrate: cfg.Cache.Bitrate},
		clk,
		audiocache.Options{
			MaxSizeBytes:   cfg.Cache.MaxSizeBytes,
			MaxAge:         time.Duration(cfg.Cache.MaxAgeHours) * time.Hour,
			AcquireTimeout: time.Duration(cfg.Cache.AcquireTimeoutSec) * time.Second,
			ErrorCooldown:  time.Duration(cfg.Cache.ErrorCooldownSec) * time.Second,
			MaxDuration:    cfg.Playback.SongLengthLimitSec,
		},
	)
	if err != nil {
		log.Fatalf("Failed to initialize audio cache: %v", err)
	}

	registry := room.NewRegistry(clk, cfg.Rooms.NumericCodes)
	service := room.NewService(registry, limiter, cache, clk, cfg)

	// Optional collaborators: the server runs without any of them.
	if host := os.Getenv("REDIS_HOST"); host != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     host + ":" + os.Getenv("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		})
		service.SetSnapshotStore(redis.NewRoomStore(redisClient))
	}

	if host := os.Getenv("MYSQL_HOST"); host != "" {
		db, err := database.NewMySQLDB(
			host,
			os.Getenv("MYSQL_PORT"),
			os.Getenv("MYSQL_USER"),
			os.Getenv("MYSQL_PASSWORD"),
			os.Getenv("MYSQL_DATABASE"),
		)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		service.SetStorage(db)
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kafkaClient := events.NewKafkaClient(strings.Split(brokers, ","), "room-sync-events")
		defer kafkaClient.Close()
		service.SetEventPublisher(kafkaClient)
	}

	if cfg.Autoplay.RecommenderURL != "" {
		service.SetRecommender(autoplay.NewClient(cfg.Autoplay.RecommenderURL))
	}

	hub := ws.NewHub()
	service.SetNotifier(hub)

	roomHandler := room.NewHandler(service)
	wsHandler := ws.NewHandler(hub, service)
	audioHandler := audiocache.NewHandler(cache, service, limiter)

	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "Accept-Ranges"},
		AllowCredentials: true,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_rooms": registry.Count()})
	})

	v1 := router.Group("/api/v1")
	roomHandler.RegisterRoutes(v1)
	audioHandler.RegisterRoutes(v1)
	v1.GET("/ws/:roomId", wsHandler.HandleWebSocket)

	// Room creation is reserved for the chat-bot integration.
	internal := v1.Group("/internal")
	internal.Use(auth.InternalOnly(cfg.Server.InternalSecret))
	roomHandler.RegisterInternalRoutes(internal)

	// Background loops: progress ticks, inactivity sweep, cache eviction.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.RunProgressLoop(ctx)
	go service.RunSweeper(ctx, time.Minute)
	go cache.RunSweeper(ctx, time.Duration(cfg.Cache.SweepIntervalSec)*time.Second)

	port := cfg.Server.Port
	if envPort := os.Getenv("PORT"); envPort != "" {
		port = envPort
	}

	log.Printf("Server starting on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
