package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"kahani/internal/metrics"
)

// Store is the SQLite story store. Every change is published to the
// subscribers of the affected owner.
type Store struct {
	db      *sql.DB
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

type subscriber struct {
	owner string
	ch    chan []Story
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records query latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the source of created_at and last_modified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the SQLite database at the given path and runs
// migrations. busyTimeout bounds how long a write waits for a lock.
func Open(path string, busyTimeout time.Duration, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s := &Store{
		db:      db,
		now:     time.Now,
		metrics: metrics.Default(),
		logger:  slog.Default(),
		subs:    make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "store")
	return s, nil
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) stamp() int64 {
	return s.now().UTC().UnixNano()
}

// Create inserts an empty story owned by ownerID and returns its id.
func (s *Store) Create(ctx context.Context, ownerID string) (string, error) {
	defer s.metrics.RecordStore(ctx, "create", time.Now())

	if ownerID == "" {
		return "", errors.New("create story: empty owner id")
	}

	id := uuid.NewString()
	ts := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (id, owner_id, title, content, created_at, last_modified)
		VALUES (?, ?, ?, '', ?, ?)`,
		id, ownerID, DefaultTitle, ts, ts,
	)
	if err != nil {
		return "", fmt.Errorf("insert story: %w", err)
	}

	s.logger.Debug("story created", "doc_id", id, "owner", ownerID)
	s.publish(ctx, ownerID)
	return id, nil
}

// Update applies a partial update and stamps last_modified.
func (s *Store) Update(ctx context.Context, id string, p Patch) error {
	defer s.metrics.RecordStore(ctx, "update", time.Now())

	var (
		sets []string
		args []any
	)
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Content != nil {
		sets = append(sets, "content = ?")
		args = append(args, *p.Content)
	}
	sets = append(sets, "last_modified = ?")
	args = append(args, s.stamp(), id)

	var owner string
	err := s.db.QueryRowContext(ctx,
		"UPDATE stories SET "+strings.Join(sets, ", ")+" WHERE id = ? RETURNING owner_id",
		args...,
	).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update story: %w", err)
	}

	s.publish(ctx, owner)
	return nil
}

// Delete removes a story.
func (s *Store) Delete(ctx context.Context, id string) error {
	defer s.metrics.RecordStore(ctx, "delete", time.Now())

	var owner string
	err := s.db.QueryRowContext(ctx, "DELETE FROM stories WHERE id = ? RETURNING owner_id", id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("delete story: %w", err)
	}

	s.logger.Debug("story deleted", "doc_id", id)
	s.publish(ctx, owner)
	return nil
}

// Get retrieves a story by id.
func (s *Store) Get(ctx context.Context, id string) (*Story, error) {
	defer s.metrics.RecordStore(ctx, "get", time.Now())

	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, content, created_at, last_modified
		FROM stories WHERE id = ?`, id)
	st, err := scanStory(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get story: %w", err)
	}
	return st, nil
}

// List returns the owner's stories, most recently modified first.
func (s *Store) List(ctx context.Context, ownerID string) ([]Story, error) {
	defer s.metrics.RecordStore(ctx, "list", time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, title, content, created_at, last_modified
		FROM stories WHERE owner_id = ?
		ORDER BY last_modified DESC, created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	stories := []Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		stories = append(stories, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return stories, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStory(row scanner) (*Story, error) {
	var (
		st               Story
		created, updated int64
	)
	if err := row.Scan(&st.ID, &st.OwnerID, &st.Title, &st.Content, &created, &updated); err != nil {
		return nil, err
	}
	st.CreatedAt = time.Unix(0, created).UTC()
	st.LastModified = time.Unix(0, updated).UTC()
	return &st, nil
}

// Subscribe delivers the owner's story list now and after every change
// until ctx is done, when the channel is closed. A slow reader only ever
// misses intermediate snapshots, never the latest one.
func (s *Store) Subscribe(ctx context.Context, ownerID string) (<-chan []Story, error) {
	initial, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{owner: ownerID, ch: make(chan []Story, 1)}
	sub.ch <- initial

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.subMu.Unlock()
	}()
	return sub.ch, nil
}

func (s *Store) publish(ctx context.Context, ownerID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	var targets []*subscriber
	for sub := range s.subs {
		if sub.owner == ownerID {
			targets = append(targets, sub)
		}
	}
	if len(targets) == 0 {
		return
	}

	stories, err := s.List(context.WithoutCancel(ctx), ownerID)
	if err != nil {
		s.logger.Warn("publish snapshot failed", "owner", ownerID, "error", err)
		return
	}
	for _, sub := range targets {
		// replace an unread snapshot with the newer one
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- stories
	}
}
