package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"projectservice/internal/config"
	"projectservice/internal/domain"
	"projectservice/internal/engine/membership"
	"projectservice/internal/events"
	"projectservice/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Publisher events.Publisher
	Members   membership.Service
	Config    *config.Config
	Now       func() time.Time
	NewID     func() string
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Publisher: events.NopPublisher{},
		Config:    cfg,
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) reserveOnInvite() bool {
	return e.Config != nil && e.Config.Stages.ReserveOnInvite
}

// outbox collects audit messages written during a transaction; they are
// published only after commit.
type outbox []events.Message

// inTx runs fn in a transaction bound to a tx-scoped Repo and publishes
// the collected events once the commit succeeds.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx, r repo.Repo, ob *outbox) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var ob outbox
	if err := fn(tx, e.Repo.Tx(tx), &ob); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	events.PublishAll(ctx, e.Publisher, ob)
	return nil
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, ob *outbox, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	w := e.Events
	w.Now = e.now
	msg, err := w.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload)
	if err != nil {
		return err
	}
	*ob = append(*ob, msg)
	return nil
}

// saveStage wraps repo.SaveStage, turning a lost optimistic lock into a
// ConflictError.
func saveStage(ctx context.Context, r repo.Repo, s domain.Stage) (int, error) {
	v, err := r.SaveStage(ctx, s)
	if errors.Is(err, repo.ErrVersionConflict) {
		log.WithField("stage_id", s.ID).Warn("stage modified concurrently")
		return 0, ConflictError{Message: "stage " + s.ID + " was modified concurrently; reload and retry"}
	}
	if err != nil {
		return 0, notFound(err, "stage", s.ID)
	}
	return v, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
