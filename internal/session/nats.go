package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/voxloop/widget-core/internal/model"
	"github.com/voxloop/widget-core/pkg/logger"
)

const (
	// StreamName is the JetStream stream holding session history.
	StreamName = "CHAT_SESSIONS"

	// SubjectPrefix is the prefix for all session subjects.
	SubjectPrefix = "chatsess"

	// sessionMaxAge bounds how long session history is retained.
	sessionMaxAge = 24 * time.Hour
)

// NATSConfig holds connection configuration for the NATS-backed store.
type NATSConfig struct {
	URL   string
	Token string
}

// NATSStore persists session history in a JetStream stream, one subject per
// session, so history survives server restarts.
type NATSStore struct {
	conn *nats.Conn
	js   jetstream.JetStream
	log  *logger.Logger
}

// ConnectNATS connects to NATS and ensures the session stream exists.
func ConnectNATS(ctx context.Context, cfg NATSConfig, log *logger.Logger) (*NATSStore, error) {
	if log == nil {
		log = logger.NewNop()
	}

	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warnw("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infow("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store := &NATSStore{conn: nc, js: js, log: log}
	if err := store.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return store, nil
}

func (s *NATSStore) ensureStream(ctx context.Context) error {
	if _, err := s.js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := s.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      sessionMaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Widget chat session history",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func sessionSubject(sessionID string) string {
	return fmt.Sprintf("%s.%s", SubjectPrefix, sessionID)
}

// Append publishes one message onto the session's subject.
func (s *NATSStore) Append(ctx context.Context, sessionID string, msg model.InputMessage) error {
	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if _, err := s.js.Publish(ctx, sessionSubject(sessionID), data); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// History replays the session's subject through an ephemeral consumer.
func (s *NATSStore) History(ctx context.Context, sessionID string) ([]model.InputMessage, error) {
	consumer, err := s.js.CreateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: sessionSubject(sessionID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read consumer info: %w", err)
	}
	pending := int(info.NumPending)
	if pending == 0 {
		return nil, nil
	}

	batch, err := consumer.Fetch(pending, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	var history []model.InputMessage
	for msg := range batch.Messages() {
		var m model.InputMessage
		if err := json.Unmarshal(msg.Data(), &m); err != nil {
			s.log.Warnw("skipping undecodable session message", "session_id", sessionID)
			continue
		}
		history = append(history, m)
	}
	if batch.Error() != nil {
		return nil, fmt.Errorf("batch error: %w", batch.Error())
	}
	return history, nil
}

// End purges the session's subject.
func (s *NATSStore) End(ctx context.Context, sessionID string) error {
	stream, err := s.js.Stream(ctx, StreamName)
	if err != nil {
		return err
	}
	return stream.Purge(ctx, jetstream.WithPurgeSubject(sessionSubject(sessionID)))
}

// IsConnected reports whether the NATS connection is up.
func (s *NATSStore) IsConnected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Close closes the NATS connection.
func (s *NATSStore) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
