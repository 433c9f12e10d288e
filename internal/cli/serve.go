package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/splitclass/splitclass/internal/engine"
	"github.com/splitclass/splitclass/internal/server"
	"github.com/splitclass/splitclass/internal/store"
)

var (
	port          int
	sweepInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the splitclass HTTP server.

The server provides:
  - Assignment and conversion endpoints for your platform
  - Token-protected admin API for test authoring and results
  - Prometheus metrics and a health check
  - A background sweep completing tests past their end date

Example:
  splitclass serve --port 8080 --sweep-interval 1h`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("SC_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	defaultSweep := time.Hour
	if d := os.Getenv("SC_SWEEP_INTERVAL"); d != "" {
		if parsed, err := time.ParseDuration(d); err == nil {
			defaultSweep = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	serveCmd.Flags().DurationVar(&sweepInterval, "sweep-interval", defaultSweep, "how often to complete expired tests")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	e := engine.New(s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.RunSweeper(ctx, sweepInterval)

	srv := server.New(e, s, port, tokenFilePath())

	fmt.Println()
	fmt.Printf("splitclass running on http://localhost:%d\n", port)
	fmt.Printf("Admin token: %s (also in %s)\n", srv.Token(), tokenFilePath())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	return srv.Start()
}
