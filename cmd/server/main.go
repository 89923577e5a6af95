/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env / .env via viper, flags override)
  2. Initialize SQLite store
  3. Create the Bank service and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  LEDGER_PORT     HTTP server port (default: 8080)
  LEDGER_DB_PATH  SQLite database path (default: ledger.db)
                  Use ":memory:" for an in-memory database
  Flags -port and -db override both.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/meridianpay/ledger-engine/api"
	"github.com/meridianpay/ledger-engine/ledger"
	"github.com/meridianpay/ledger-engine/store/sqlite"
)

func main() {
	// Config: .env file if present, environment variables on top
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}
	viper.SetDefault("port", 8080)
	viper.SetDefault("db_path", "ledger.db")
	viper.BindEnv("port", "LEDGER_PORT")
	viper.BindEnv("db_path", "LEDGER_DB_PATH")

	// Flags override env
	port := flag.Int("port", viper.GetInt("port"), "HTTP server port")
	dbPath := flag.String("db", viper.GetString("db_path"), "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine
	bank := ledger.NewBank(store)
	handler := api.NewHandler(bank)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Ledger engine listening on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
