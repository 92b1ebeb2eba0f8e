// Package persistence implements the dispatcher's persistence boundary:
// ensure_session, append_message, and the notification tag resolved
// alongside a message write. The default Store is Postgres-backed via
// lib/pq and defers writes to an async worker pool (buffered channel + N
// workers + graceful degradation on a full queue). Message content is
// carried in plaintext; schema and at-rest encryption are out of scope
// for this core.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"
	"github.com/iammarcin/streamgate/internal/logger"
)

// Attachment is a reference to a previously uploaded blob.
type Attachment struct {
	URL string
	ContentType string
}

// PendingMessage is one append_message call queued for the worker pool.
type PendingMessage struct {
	SessionID string
	ClientMsgID string // optional, for idempotent append
	Role string // "user" | "assistant"
	Content string
	Attachments []Attachment
	Metadata map[string]any
	// NotificationTag is best-effort: written atomically with the message
	// row when present, but its absence or failure never blocks or fails
	// the append itself.
	NotificationTag string
	done chan appendResult
}

type appendResult struct {
	messageID string
	err error
}

// Store is the default Postgres-backed persistence boundary.
type Store struct {
	db *sql.DB
	log *logger.Logger
	queue chan PendingMessage
	wg sync.WaitGroup
	stop chan struct{}
	closed atomic.Bool
}

// Config configures worker pool sizing and the per-op timeout.
type Config struct {
	WorkerPoolSize int
	BufferSize int
	OpTimeout time.Duration
}

// Open connects to Postgres and starts the worker pool. Schema migration
// is out of scope; callers are expected to have migrated the two tables
// this store touches: sessions(id, customer_id, created_at) and
// messages(id, session_id, role, content, notification_tag, created_at).
// A PendingMessage's Attachments and Metadata are not written.
func Open(dsn string, cfg Config, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("persistence: ping db: %w", err)
	}

	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 5
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 500
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 30 * time.Second
	}

	s := &Store{
		db: db,
		log: log,
		queue: make(chan PendingMessage, cfg.BufferSize),
		stop: make(chan struct{}),
	}

	for i := 0; i < cfg.WorkerPoolSize; i++ {
		s.wg.Add(1)
		go s.worker(cfg.OpTimeout)
	}

	log.Info("persistence store started", slog.Int("worker_pool_size", cfg.WorkerPoolSize), slog.Int("buffer_size", cfg.BufferSize))
	return s, nil
}

func (s *Store) worker(timeout time.Duration) {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.queue:
			s.handle(msg, timeout)
		case <-s.stop:
			for {
				select {
				case msg := <-s.queue:
					s.handle(msg, timeout)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) handle(msg PendingMessage, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	id := msg.ClientMsgID
	if id == "" {
		id = uuid.NewString()
	}

	var notificationTag sql.NullString
	if msg.NotificationTag != "" {
		notificationTag = sql.NullString{String: msg.NotificationTag, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, notification_tag, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (id) DO NOTHING`,
		id, msg.SessionID, msg.Role, msg.Content, notificationTag,
	)
	if msg.done != nil {
		msg.done <- appendResult{messageID: id, err: err}
		close(msg.done)
	}
	if err != nil {
		s.log.Error("append_message failed", slog.String("session_id", msg.SessionID), slog.String("error", err.Error()))
	}
}

// EnsureSession creates a session row when sessionID is empty and returns
// the effective session identifier. When sessionID is non-empty, it is
// verified against customerID rather than trusted blindly: a missing row
// surfaces as a codes.NotFound status error, a row owned by a different
// customer as codes.PermissionDenied, matching how a Firestore-backed store
// reports the same two cases.
func (s *Store) EnsureSession(ctx context.Context, customerID, sessionID string) (string, error) {
	if sessionID != "" {
		var owner string
		err := s.db.QueryRowContext(ctx, `SELECT customer_id FROM sessions WHERE id = $1`, sessionID).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return "", status.Errorf(codes.NotFound, "persistence: session not found: %s", sessionID)
		case err != nil:
			return "", fmt.Errorf("persistence: ensure_session: %w", err)
		case owner != customerID:
			return "", status.Error(codes.PermissionDenied, "persistence: session belongs to a different customer")
		}
		return sessionID, nil
	}
	newID := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, customer_id, created_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO NOTHING`,
		newID, customerID,
	)
	if err != nil {
		return "", fmt.Errorf("persistence: ensure_session: %w", err)
	}
	return newID, nil
}

// ErrQueueFull is returned when the async append queue has no capacity;
// callers surface this as a non-terminal "error" event with
// stage="persistence".
var ErrQueueFull = errors.New("persistence: message queue is full")

// AppendMessage enqueues an insert-only message write and blocks until the
// assigned worker reports the result, matching the dispatcher's need to
// emit db_operation_executed with an accurate success flag before
// signalling completion.
func (s *Store) AppendMessage(ctx context.Context, msg PendingMessage) (string, error) {
	if s.closed.Load() {
		return "", errors.New("persistence: store is shutting down")
	}

	msg.done = make(chan appendResult, 1)
	select {
	case s.queue <- msg:
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		s.log.Warn("append_message queue full, dropping", slog.String("session_id", msg.SessionID))
		return "", ErrQueueFull
	}

	select {
	case res := <-msg.done:
		return res.messageID, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// SweepExpiredSessions deletes sessions idle for longer than ttl — a
// session row with no message newer than ttl — in batches of 500, returning
// the total rows removed. Meant to be driven by a periodic scheduler (see
// cmd/server/main.go's cron-driven reaper); a single call is a no-op if
// nothing has gone idle yet.
func (s *Store) SweepExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	ttlSeconds := ttl.Seconds()
	var total int64
	for {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM sessions WHERE id IN (
				SELECT s.id FROM sessions s
				WHERE s.created_at < now() - ($1 * interval '1 second')
				AND NOT EXISTS (
					SELECT 1 FROM messages m
					WHERE m.session_id = s.id AND m.created_at > now() - ($1 * interval '1 second')
				)
				LIMIT 500
			)`, ttlSeconds)
		if err != nil {
			return total, fmt.Errorf("persistence: sweep_expired_sessions: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("persistence: sweep_expired_sessions: %w", err)
		}
		total += n
		if n < 500 {
			return total, nil
		}
	}
}

// Shutdown drains the queue and waits for all in-flight writes to finish.
func (s *Store) Shutdown() {
	s.log.Info("shutting down persistence store")
	s.closed.Store(true)
	close(s.stop)
	s.wg.Wait()
	close(s.queue)
	_ = s.db.Close()
}
