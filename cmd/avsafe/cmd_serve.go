package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/avsafe-data/avsafe.report/internal/api"
	"github.com/avsafe-data/avsafe.report/internal/store"
)

var (
	serveListen  string
	serveDB      string
	serveProfile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session API and report server",
	Long: `Serves the HTTP API over the sqlite session store: session
management, chain-checked record ingest, verification, rule evaluation,
and the HTML report and spectrum endpoints.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from AVSAFE_LISTEN)")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "sqlite database path (default from AVSAFE_DB)")
	serveCmd.Flags().StringVar(&serveProfile, "profile", "", "Profile YAML path (default: embedded profile)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveListen == "" {
		serveListen = cfg.Listen
	}
	if serveDB == "" {
		serveDB = cfg.DBPath
	}
	if serveProfile == "" {
		serveProfile = cfg.ProfilePath
	}

	profile, err := loadProfile(serveProfile)
	if err != nil {
		return err
	}
	st, err := store.Open(serveDB)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := api.NewServer(st, profile, cfg.StrictCrypto)
	server := &http.Server{
		Addr:    serveListen,
		Handler: api.LoggingMiddleware(srv.ServeMux()),
	}

	errChan := make(chan error, 1)
	go func() {
		log.Printf("serving on %s (db %s, profile %s)", serveListen, serveDB, profile.Name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-cmd.Context().Done():
	}

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
