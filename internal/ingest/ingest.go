// Package ingest consumes sealed minute records from MQTT device topics and
// appends them to the evidence store. Each device gets its own session;
// records that fail the incremental chain check are dropped and logged,
// never stored.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/avsafe-data/avsafe.report/internal/integrity"
	"github.com/avsafe-data/avsafe.report/internal/minute"
	"github.com/avsafe-data/avsafe.report/internal/monitoring"
	"github.com/avsafe-data/avsafe.report/internal/store"
)

// Config configures one ingest run.
type Config struct {
	Broker   string
	ClientID string
	// Topic is the subscription filter, e.g. "avsafe/+/minutes". The
	// wildcard segment is the device id.
	Topic string
	// Strict rejects demo-scheme signatures.
	Strict bool
	// Locale is assigned to sessions created for newly seen devices.
	Locale string
}

// Ingestor routes incoming records into per-device sessions.
type Ingestor struct {
	store *store.Store
	cfg   Config

	mu       sync.Mutex
	sessions map[string]string // device id -> session id
}

func New(st *store.Store, cfg Config) *Ingestor {
	if cfg.ClientID == "" {
		cfg.ClientID = "avsafe-ingest"
	}
	if cfg.Topic == "" {
		cfg.Topic = "avsafe/+/minutes"
	}
	return &Ingestor{store: st, cfg: cfg, sessions: make(map[string]string)}
}

// Run connects to the broker, subscribes, and blocks until ctx is done.
func (in *Ingestor) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(in.cfg.Broker)
	opts.SetClientID(in.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		monitoring.Logf("ingest: connected to %s", in.cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		monitoring.Logf("ingest: connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: connect %s: %w", in.cfg.Broker, token.Error())
	}
	defer client.Disconnect(250)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := in.HandleMessage(context.Background(), msg.Topic(), msg.Payload()); err != nil {
			monitoring.Logf("ingest: %s: %v", msg.Topic(), err)
		}
	}
	if token := client.Subscribe(in.cfg.Topic, 1, handler); token.Wait() && token.Error() != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", in.cfg.Topic, token.Error())
	}
	monitoring.Logf("ingest: subscribed to %s", in.cfg.Topic)

	<-ctx.Done()
	return ctx.Err()
}

// HandleMessage processes one record message. It is the whole ingest path
// minus the broker, so tests drive it directly.
func (in *Ingestor) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	deviceID, ok := DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("no device id in topic %q", topic)
	}
	var rec minute.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	sessionID, err := in.sessionFor(ctx, deviceID)
	if err != nil {
		return err
	}

	prevHash, prevIdx, exists, err := in.store.LastChainHash(ctx, sessionID)
	if err != nil {
		return err
	}
	expectIdx := 0
	if exists {
		expectIdx = prevIdx + 1
	}
	if err := integrity.VerifyAppend(prevHash, rec, expectIdx); err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}
	if in.cfg.Strict {
		if status := integrity.VerifySignature(rec.Payload, rec.Chain, true); status != integrity.SignatureValid {
			return fmt.Errorf("device %s idx %d: signature %s", deviceID, rec.Idx, status)
		}
	}
	return in.store.AppendRecord(ctx, sessionID, rec)
}

// sessionFor returns the open session for a device, creating one on first
// contact.
func (in *Ingestor) sessionFor(ctx context.Context, deviceID string) (string, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if id, ok := in.sessions[deviceID]; ok {
		return id, nil
	}
	sess, err := in.store.CreateSession(ctx, deviceID, in.cfg.Locale, "mqtt ingest")
	if err != nil {
		return "", fmt.Errorf("create session for %s: %w", deviceID, err)
	}
	monitoring.Logf("ingest: new session %s for device %s", sess.ID, deviceID)
	in.sessions[deviceID] = sess.ID
	return sess.ID, nil
}

// DeviceFromTopic extracts the device id from an "avsafe/{device}/minutes"
// style topic.
func DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
