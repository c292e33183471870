package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/avsafe-data/avsafe.report/internal/ingest"
	"github.com/avsafe-data/avsafe.report/internal/store"
)

var (
	ingestBroker string
	ingestTopic  string
	ingestDB     string
	ingestStrict bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Subscribe to device record topics and store sealed minutes",
	Long: `Connects to the MQTT broker and consumes minute records published
by capture devices, one session per device. Every record is checked
against the stored chain tail before it is written; tampered or
out-of-order records are dropped and logged.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestBroker, "broker", "", "MQTT broker URL (default from AVSAFE_MQTT_BROKER)")
	ingestCmd.Flags().StringVar(&ingestTopic, "topic", "", "Subscription filter (default from AVSAFE_MQTT_TOPIC)")
	ingestCmd.Flags().StringVar(&ingestDB, "db", "", "sqlite database path (default from AVSAFE_DB)")
	ingestCmd.Flags().BoolVar(&ingestStrict, "strict", false, "Require valid ed25519 signatures on ingested records")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if ingestBroker == "" {
		ingestBroker = cfg.MQTTBroker
	}
	if ingestTopic == "" {
		ingestTopic = cfg.MQTTTopic
	}
	if ingestDB == "" {
		ingestDB = cfg.DBPath
	}

	st, err := store.Open(ingestDB)
	if err != nil {
		return err
	}
	defer st.Close()

	in := ingest.New(st, ingest.Config{
		Broker: ingestBroker,
		Topic:  ingestTopic,
		Strict: ingestStrict || cfg.StrictCrypto,
		Locale: cfg.Locale,
	})
	err = in.Run(cmd.Context())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
