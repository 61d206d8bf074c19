package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"workescrow/core/events"
)

// Record kinds.
const (
	KindEvent   = "event"
	KindRequest = "request"
)

// Record is one audit log row: either a committed escrow event or a mutating
// gateway request.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Kind       string    `gorm:"size:16;index"`
	Type       string    `gorm:"size:64;index"`
	Instance   string    `gorm:"size:42;index"`
	ContractID string    `gorm:"size:32;index"`
	Caller     string    `gorm:"size:42;index"`
	Status     int
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Kind     string
	Type     string
	Instance string
	Caller   string
	Limit    int
}

// Store persists audit records through gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	queue  chan Record
	wg     sync.WaitGroup
	closed chan struct{}
	once   sync.Once
}

// Open connects to the configured driver ("postgres" or "sqlite") and
// migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: nil database")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		logger: log.With("component", "audit"),
		nowFn:  time.Now,
		queue:  make(chan Record, 1024),
		closed: make(chan struct{}),
	}, nil
}

// Record writes rec synchronously, filling ID and CreatedAt when unset.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.nowFn().UTC()
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// List returns matching records, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	query := s.db.WithContext(ctx).Model(&Record{})
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Instance != "" {
		query = query.Where("instance = ?", strings.ToLower(filter.Instance))
	}
	if filter.Caller != "" {
		query = query.Where("caller = ?", strings.ToLower(filter.Caller))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []Record
	err := query.Order("created_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// Start drains queued records in the background until Close.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case rec := <-s.queue:
				s.write(rec)
			case <-s.closed:
				for {
					select {
					case rec := <-s.queue:
						s.write(rec)
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Store) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Record(ctx, rec); err != nil {
		s.logger.Warn("audit write failed", "type", rec.Type, "error", err)
	}
}

// Enqueue hands rec to the background writer, dropping it when the queue is full.
func (s *Store) Enqueue(rec Record) {
	select {
	case <-s.closed:
		return
	default:
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.nowFn().UTC()
	}
	select {
	case s.queue <- rec:
	default:
		s.logger.Warn("audit queue full, record dropped", "type", rec.Type)
	}
}

// Emit implements events.Emitter so the store can sit behind the engine's
// committed-event fan-out.
func (s *Store) Emit(evt events.Event) {
	rendered := events.Render(evt)
	if rendered == nil {
		return
	}
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		attrs = []byte("{}")
	}
	s.Enqueue(Record{
		Kind:       KindEvent,
		Type:       rendered.Type,
		Instance:   strings.ToLower(rendered.Attr("instance")),
		ContractID: rendered.Attr("contractId"),
		Caller:     strings.ToLower(firstNonEmpty(rendered.Attr("caller"), rendered.Attr("client"), rendered.Attr("contractor"))),
		Attributes: string(attrs),
	})
}

// Close stops the writer after flushing queued records, then closes the database.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.closed) })
	s.wg.Wait()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
