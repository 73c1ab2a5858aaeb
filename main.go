package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	clerk "github.com/clerk/clerk-sdk-go/v2"
	gorilllaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/api/option"

	"confidencePoolAPI/handlers"
	"confidencePoolAPI/internal/docstore"
	"confidencePoolAPI/internal/espn"
	"confidencePoolAPI/internal/perf"
	"confidencePoolAPI/internal/recovery"
	"confidencePoolAPI/middleware"
	"confidencePoolAPI/services"

	_ "net/http/pprof"
)

var (
	firestoreClient *firestore.Client
	manager         *services.ConfidenceManager
	compat          *services.CompatService
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	clerkSecretKey := os.Getenv("CLERK_SECRET_KEY")
	if clerkSecretKey == "" {
		log.Fatal("CLERK_SECRET_KEY environment variable is not set")
	}
	clerk.SetKey(clerkSecretKey)
	log.Println("Clerk initialized successfully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	firestoreClient, err = newFirestoreClient(ctx, "./serviceAccountKey.json")
	if err != nil {
		log.Fatal("Failed to initialize Firestore:", err)
	}
	log.Println("Successfully connected to Firestore")

	poolID := os.Getenv("POOL_ID")
	if poolID == "" {
		log.Fatal("POOL_ID environment variable is not set")
	}
	season, err := strconv.Atoi(os.Getenv("SEASON"))
	if err != nil {
		log.Fatal("SEASON environment variable must be a year, e.g. 2025")
	}
	currentWeek, _ := strconv.Atoi(os.Getenv("CURRENT_WEEK"))
	if currentWeek < 1 {
		currentWeek = 1
	}

	store := docstore.NewFirestoreStore(firestoreClient)
	feed := espn.NewClient()
	rec := recovery.NewManager()
	monitor := perf.NewMonitor()

	cfg := services.ConfidenceConfig{
		PoolID:      poolID,
		Season:      season,
		CurrentWeek: currentWeek,
	}
	manager = services.NewConfidenceManager(store, feed, rec, monitor, cfg)
	legacy := services.NewLegacyService(store, feed, monitor, cfg)
	compat = services.NewCompatService(manager, legacy)

	middleware.InitPrometheus()
	perf.InitPrometheus()
}

// newFirestoreClient first attempts credentials from the
// FIREBASE_SERVICE_ACCOUNT_JSON environment variable (Base64 encoded) and
// falls back to a local service account key file.
func newFirestoreClient(ctx context.Context, localFilePath string) (*firestore.Client, error) {
	var opt option.ClientOption

	encodedCreds := os.Getenv("FIREBASE_SERVICE_ACCOUNT_JSON")
	if encodedCreds != "" {
		decoded, err := base64.StdEncoding.DecodeString(encodedCreds)
		if err != nil {
			return nil, err
		}
		opt = option.WithCredentialsJSON(decoded)
		log.Println("Firestore: Initializing from FIREBASE_SERVICE_ACCOUNT_JSON environment variable.")
	} else {
		if _, err := os.Stat(localFilePath); os.IsNotExist(err) {
			return nil, err
		}
		opt = option.WithCredentialsFile(localFilePath)
		log.Printf("Firestore: Initializing from local file: %s.", localFilePath)
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, err
	}
	return app.Firestore(ctx)
}

func main() {
	defer func() {
		log.Println("Closing Firestore client...")
		firestoreClient.Close()
	}()

	confidenceHandler := handlers.NewConfidenceHandler(compat, manager)

	r := mux.NewRouter()

	standardRouter := r.PathPrefix("/").Subrouter()

	go middleware.CleanupVisitors()
	go manager.Cache().CleanupLoop()

	standardRouter.Use(middleware.RateLimitMiddleware)
	standardRouter.Use(middleware.MonitorMiddleware)

	standardRouter.Handle("/metrics", middleware.BasicAuthMiddleware(promhttp.Handler()))
	standardRouter.PathPrefix("/debug/pprof/").Handler(middleware.PprofSecurityMiddleware(http.DefaultServeMux))

	standardRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		report := manager.HealthCheck(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status": "unhealthy", "error": "document store unreachable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy", "service": "confidence-pool-api"}`))
	}).Methods("GET")

	// -------------------------------------------------------------------------
	// API V1 SUBROUTER
	// -------------------------------------------------------------------------
	api := standardRouter.PathPrefix("/api/v1").Subrouter()

	// -------------------------------------------------------------------------
	// PROTECTED ROUTES (REQUIRE AUTH HEADER)
	// -------------------------------------------------------------------------
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.ClerkAuthMiddleware)

	protected.HandleFunc("/leaderboard", confidenceHandler.GetLeaderboard).Methods("GET")
	protected.HandleFunc("/picks", confidenceHandler.SubmitPicks).Methods("POST")
	protected.HandleFunc("/picks", confidenceHandler.GetMyPicks).Methods("GET")

	protected.HandleFunc("/pool/metrics", confidenceHandler.GetPoolMetrics).Methods("GET")
	protected.HandleFunc("/pool/health", confidenceHandler.HealthCheck).Methods("GET")
	protected.HandleFunc("/pool/cache/clear", confidenceHandler.ClearCache).Methods("POST")
	protected.HandleFunc("/pool/cache/invalidate", confidenceHandler.InvalidateCache).Methods("POST")
	protected.HandleFunc("/pool/mode", confidenceHandler.SetMode).Methods("POST")

	// CORS configuration
	corsHandler := gorilllaHandlers.CORS(
		gorilllaHandlers.AllowedOrigins([]string{"*"}),
		gorilllaHandlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		gorilllaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Pprof-Secret"}),
		gorilllaHandlers.ExposedHeaders([]string{"Content-Length"}),
		gorilllaHandlers.AllowCredentials(),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "3333"
	}
	port = ":" + port

	server := http.Server{
		Addr:         port,
		Handler:      corsHandler(r),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error starting server:", err)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	sig := <-sigChan
	log.Println("Got signal:", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server shutdown complete")
}
