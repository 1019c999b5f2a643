package main

import (
	"net/http"

	"swiftdash-backend/internal/config"
	"swiftdash-backend/internal/database"
	"swiftdash-backend/internal/handlers"
	"swiftdash-backend/internal/logger"
	"swiftdash-backend/internal/middleware"
	"swiftdash-backend/internal/orders"
	"swiftdash-backend/internal/realtime"
	"swiftdash-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("🚀 SWIFTDASH BACKEND SERVER STARTING")
	log.Println("═══════════════════════════════════════════════════════════════════")

	// Load .env file
	log.Println("📂 Loading environment variables...")
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  Warning: .env file not found, using environment variables from system")
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Invalid configuration")
		log.Printf("   Error: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	log.Println("✅ Configuration loaded")

	// Connect to database
	log.Println("🔌 Connecting to database...")
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database connection failed")
		log.Printf("   Error: %v", err)
		log.Println("   This is usually caused by:")
		log.Println("   1. Wrong DATABASE_URL format")
		log.Println("   2. PostgreSQL service is down")
		log.Println("   3. Network connectivity issue")
		log.Println("   4. Invalid credentials")
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	defer db.Close()
	log.Println("✅ Database connection established")

	// Run migrations
	log.Println("🔄 Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Database migrations failed")
		log.Printf("   Error: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	log.Println("✅ Database migrations completed")

	// Seed database
	log.Println("🌱 Seeding database with initial data...")
	if err := database.SeedUsers(db); err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: User seeding failed")
		log.Printf("   Error: %v", err)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
	log.Println("✅ Users seeded successfully")

	// Initialize Firebase Cloud Messaging
	// Supports both file path and base64-encoded credentials (for cloud deployments)
	var fcmService *services.FCMService
	if cfg.FirebaseCredentialsBase64 != "" {
		fcmService, err = services.NewFCMServiceFromBase64(cfg.FirebaseCredentialsBase64)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from base64: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from base64 credentials")
		}
	} else {
		credentialsFile := cfg.FirebaseCredentialsFile
		if credentialsFile == "" {
			credentialsFile = "./firebase-service-account.json"
		}
		fcmService, err = services.NewFCMService(credentialsFile)
		if err != nil {
			log.Printf("⚠️  Failed to initialize FCM from file: %v (push notifications disabled)", err)
			fcmService = nil
		} else {
			log.Println("✅ Firebase Cloud Messaging initialized from file")
		}
	}

	// Optional Redis cache for last-known partner locations
	var locationCache *services.LocationCache
	if cfg.RedisAddr != "" {
		locationCache, err = services.NewLocationCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, services.DefaultLocationTTL)
		if err != nil {
			log.Printf("⚠️  Failed to connect to Redis at %s: %v (location cache disabled)", cfg.RedisAddr, err)
			locationCache = nil
		} else {
			defer locationCache.Close()
			log.Println("✅ Redis location cache connected")
		}
	} else {
		log.Println("⚠️  REDIS_ADDR not set, location cache disabled")
	}

	// Realtime plumbing: hub, presence registry, location tracker, sweeper
	hub := realtime.NewHub()
	go hub.Run()
	log.Println("✅ WebSocket hub started")

	orderStore := database.NewOrderStore(db)
	partnerStore := database.NewPartnerStore(db)

	presence := realtime.NewPresence(hub, orderStore)

	var trackerCache realtime.LocationCache
	if locationCache != nil {
		trackerCache = locationCache
	}
	tracker := realtime.NewTracker(orderStore, hub, presence, trackerCache, cfg.ArrivalRadiusMeters)

	sweeper := realtime.NewSweeper(presence, cfg.HeartbeatSweepInterval, cfg.HeartbeatTimeout)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("❌ Failed to start heartbeat sweeper: %v", err)
	}
	defer sweeper.Stop()
	log.Printf("✅ Heartbeat sweeper started (every %s, timeout %s)", cfg.HeartbeatSweepInterval, cfg.HeartbeatTimeout)

	// Order state machine
	notifier := services.NewPushNotifier(db, fcmService)
	machine := orders.NewMachine(orderStore, partnerStore, hub, notifier, cfg.JobCatchmentKm)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Authentication routes (no auth required)
	r.Post("/api/auth/login", handlers.Login(db))

	// WebSocket endpoint (authentication handled in handler via query param)
	r.Get("/ws", realtime.HandleWebSocket(hub, db, presence, tracker))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth)

			// Orders
			r.Get("/orders", handlers.ListOrders(orderStore, db))
			r.Get("/orders/{id}", handlers.GetOrder(orderStore, db))
			r.Get("/orders/{id}/partner-location", handlers.GetPartnerLocation(orderStore, db, locationCache))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("client"))
				r.Post("/orders", handlers.CreateOrder(machine))
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("store", "admin"))
				r.Patch("/orders/{id}/status", handlers.UpdateOrderStatus(machine, orderStore, db))
			})

			// Partner job flow
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("partner"))
				r.Get("/partner/jobs", handlers.ListOpenJobs(orderStore))
				r.Post("/orders/{id}/claim", handlers.ClaimJob(machine, db))
				r.Post("/orders/{id}/verify-delivery", handlers.VerifyDelivery(machine, db))
				r.Post("/partner/fcm-token", handlers.RegisterFCMToken(db))
			})

			// FCM token registration for clients and stores
			r.Post("/user/fcm-token", handlers.RegisterFCMToken(db))

			// Admin user provisioning
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole("admin"))
				r.Post("/admin/users", handlers.CreateUser(db))
			})
		})
	})

	log.Println("═══════════════════════════════════════════════════════════════════")
	log.Println("✅ ALL INITIALIZATION COMPLETE")
	log.Printf("🚀 Server starting on http://localhost:%s", cfg.Port)
	log.Println("🔌 Ready to accept requests!")
	log.Println("═══════════════════════════════════════════════════════════════════")

	// Start server
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Println("❌ FATAL ERROR: Server failed to start")
		log.Printf("   Error: %v", err)
		log.Printf("   Port: %s", cfg.Port)
		log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		log.Fatal(err)
	}
}
