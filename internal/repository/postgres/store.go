package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/evv-api/internal/model"
	"github.com/jwalitptl/evv-api/internal/repository"
	apperrors "github.com/jwalitptl/evv-api/pkg/errors"
	"github.com/jwalitptl/evv-api/pkg/logger"
	"github.com/jwalitptl/evv-api/pkg/metrics"
)

const (
	maxTxAttempts = 3

	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"

	constraintOneInProgress = "visits_one_in_progress_per_caregiver"
	constraintClaimPerVisit = "claims_visit_id_key"
)

// Store implements repository.Store over PostgreSQL. Transactions run at
// SERIALIZABLE and are retried on serialization failures.
type Store struct {
	db      *sqlx.DB
	q       sqlx.ExtContext
	inTx    bool
	log     *logger.Logger
	metrics *metrics.Metrics
}

var _ repository.Store = (*Store)(nil)

func NewStore(db *sqlx.DB, log *logger.Logger, m *metrics.Metrics) *Store {
	return &Store{db: db, q: db, log: log, metrics: m}
}

func (s *Store) Visits() repository.VisitRepository                 { return &visitRepository{s} }
func (s *Store) Authorizations() repository.AuthorizationRepository { return &authorizationRepository{s} }
func (s *Store) Claims() repository.ClaimRepository                 { return &claimRepository{s} }
func (s *Store) Directory() repository.DirectoryRepository          { return &directoryRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository                { return &outboxRepository{s} }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction. Nested calls join the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
		s.log.Debug("retrying serializable transaction", "attempt", attempt)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(repository.Store) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, q: tx, inTx: true, log: s.log, metrics: s.metrics}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, s.q, dest, query, args...)
	s.track(op, err)
	return err
}

func (s *Store) selectAll(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.SelectContext(ctx, s.q, dest, query, args...)
	s.track(op, err)
	return err
}

// exec returns the number of affected rows.
func (s *Store) exec(ctx context.Context, op string, query string, args ...interface{}) (int64, error) {
	res, err := s.q.ExecContext(ctx, query, args...)
	s.track(op, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) track(op string, err error) {
	status := "ok"
	switch {
	case errors.Is(err, sql.ErrNoRows):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	s.metrics.DatabaseOperations.WithLabelValues(op, status).Inc()
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeSerializationFailure
}

// translate maps constraint violations onto engine errors.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeUniqueViolation {
		return err
	}
	switch pqErr.Constraint {
	case constraintOneInProgress:
		return apperrors.ErrAlreadyOnVisit
	case constraintClaimPerVisit:
		return apperrors.NewConflict("visit already has a claim", err)
	}
	return apperrors.NewConflict("duplicate record", err)
}

func idStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func statusStrings(statuses []model.VisitStatus) pq.StringArray {
	out := make(pq.StringArray, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
