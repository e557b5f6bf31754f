// Package postgres implements the membership ledger on PostgreSQL using pgx
// directly (no ORM) for transparency and performance.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/model"
	"github.com/academic-moodle-cooperation/moodle-mod-grouptool-sub000/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS slots (
	id          UUID PRIMARY KEY,
	instance_id TEXT NOT NULL,
	group_id    TEXT NOT NULL,
	capacity    INT,
	queue_limit INT,
	active      BOOLEAN NOT NULL DEFAULT TRUE,
	sort_order  INT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS slots_instance_idx ON slots (instance_id);

CREATE TABLE IF NOT EXISTS registrations (
	id         UUID PRIMARY KEY,
	slot_id    UUID NOT NULL REFERENCES slots (id),
	user_id    TEXT NOT NULL,
	confirmed  BOOLEAN NOT NULL,
	actor_id   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (slot_id, user_id)
);

CREATE TABLE IF NOT EXISTS queue_entries (
	id         UUID PRIMARY KEY,
	slot_id    UUID NOT NULL REFERENCES slots (id),
	user_id    TEXT NOT NULL,
	priority   BOOLEAN NOT NULL,
	seq        BIGINT GENERATED ALWAYS AS IDENTITY,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (slot_id, user_id)
);

CREATE TABLE IF NOT EXISTS policies (
	instance_id      TEXT PRIMARY KEY,
	allow_multiple   BOOLEAN NOT NULL,
	min_selections   INT NOT NULL,
	max_selections   INT NOT NULL,
	queueing_on      BOOLEAN NOT NULL,
	user_queue_limit INT,
	slot_queue_limit INT,
	allow_unreg      BOOLEAN NOT NULL,
	immediate_sync   BOOLEAN NOT NULL,
	opens_at         TIMESTAMPTZ,
	closes_at        TIMESTAMPTZ
);
`

// Store is the pgx-backed Ledger.
type Store struct {
	db *pgxpool.Pool
}

// New constructs a Store on an existing connection pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

var _ store.Ledger = (*Store)(nil)

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) CreateSlot(ctx context.Context, slot *model.Slot) error {
	if slot.ID == "" {
		slot.ID = uuid.New().String()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO slots (id, instance_id, group_id, capacity, queue_limit, active, sort_order, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		slot.ID, slot.InstanceID, slot.GroupID, slot.Capacity, slot.QueueLimit,
		slot.Active, slot.SortOrder, slot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

func (s *Store) UpdateSlot(ctx context.Context, slot model.Slot) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE slots SET capacity = $2, queue_limit = $3, active = $4, sort_order = $5
		 WHERE id = $1`,
		slot.ID, slot.Capacity, slot.QueueLimit, slot.Active, slot.SortOrder,
	)
	if err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetSlot(ctx context.Context, id string) (model.Slot, error) {
	var sl model.Slot
	err := s.db.QueryRow(ctx,
		`SELECT id, instance_id, group_id, capacity, queue_limit, active, sort_order, created_at
		 FROM slots WHERE id = $1`,
		id,
	).Scan(&sl.ID, &sl.InstanceID, &sl.GroupID, &sl.Capacity, &sl.QueueLimit,
		&sl.Active, &sl.SortOrder, &sl.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Slot{}, store.ErrNotFound
		}
		return model.Slot{}, fmt.Errorf("get slot: %w", err)
	}
	return sl, nil
}

func (s *Store) ListSlots(ctx context.Context, instanceID string, activeOnly bool) ([]model.Slot, error) {
	q := `SELECT id, instance_id, group_id, capacity, queue_limit, active, sort_order, created_at
	      FROM slots WHERE instance_id = $1`
	if activeOnly {
		q += ` AND active`
	}
	q += ` ORDER BY sort_order, created_at`
	rows, err := s.db.Query(ctx, q, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var out []model.Slot
	for rows.Next() {
		var sl model.Slot
		if err := rows.Scan(&sl.ID, &sl.InstanceID, &sl.GroupID, &sl.Capacity, &sl.QueueLimit,
			&sl.Active, &sl.SortOrder, &sl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

func (s *Store) GetPolicy(ctx context.Context, instanceID string) (model.Policy, error) {
	var p model.Policy
	err := s.db.QueryRow(ctx,
		`SELECT instance_id, allow_multiple, min_selections, max_selections, queueing_on,
		        user_queue_limit, slot_queue_limit, allow_unreg, immediate_sync, opens_at, closes_at
		 FROM policies WHERE instance_id = $1`,
		instanceID,
	).Scan(&p.InstanceID, &p.AllowMultiple, &p.MinSelections, &p.MaxSelections, &p.QueueingOn,
		&p.UserQueueLimit, &p.SlotQueueLimit, &p.AllowUnreg, &p.ImmediateSync, &p.OpensAt, &p.ClosesAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DefaultPolicy(instanceID), nil
		}
		return model.Policy{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

func (s *Store) PutPolicy(ctx context.Context, pol model.Policy) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO policies (instance_id, allow_multiple, min_selections, max_selections, queueing_on,
		                       user_queue_limit, slot_queue_limit, allow_unreg, immediate_sync, opens_at, closes_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (instance_id) DO UPDATE SET
		   allow_multiple = EXCLUDED.allow_multiple,
		   min_selections = EXCLUDED.min_selections,
		   max_selections = EXCLUDED.max_selections,
		   queueing_on = EXCLUDED.queueing_on,
		   user_queue_limit = EXCLUDED.user_queue_limit,
		   slot_queue_limit = EXCLUDED.slot_queue_limit,
		   allow_unreg = EXCLUDED.allow_unreg,
		   immediate_sync = EXCLUDED.immediate_sync,
		   opens_at = EXCLUDED.opens_at,
		   closes_at = EXCLUDED.closes_at`,
		pol.InstanceID, pol.AllowMultiple, pol.MinSelections, pol.MaxSelections, pol.QueueingOn,
		pol.UserQueueLimit, pol.SlotQueueLimit, pol.AllowUnreg, pol.ImmediateSync, pol.OpensAt, pol.ClosesAt,
	)
	if err != nil {
		return fmt.Errorf("put policy: %w", err)
	}
	return nil
}

func (s *Store) CreateRegistration(ctx context.Context, reg *model.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.New().String()
	}
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	// Lock the slot row first so concurrent writers against the same slot
	// serialise here as well as in the service; interleaved capacity checks
	// are the classic double-booking race.
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT TRUE FROM slots WHERE id = $1 FOR UPDATE`, reg.SlotID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("lock slot row: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO registrations (id, slot_id, user_id, confirmed, actor_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		reg.ID, reg.SlotID, reg.UserID, reg.Confirmed, reg.ActorID, reg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) ConfirmRegistration(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `UPDATE registrations SET confirmed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("confirm registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteRegistration(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM registrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListRegistrations(ctx context.Context, instanceID string) ([]model.Registration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT r.id, r.slot_id, r.user_id, r.confirmed, r.actor_id, r.created_at
		 FROM registrations r
		 JOIN slots s ON s.id = r.slot_id
		 WHERE s.instance_id = $1
		 ORDER BY r.created_at, r.id`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()
	return scanRegistrations(rows)
}

func (s *Store) ListSlotRegistrations(ctx context.Context, slotID string) ([]model.Registration, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, slot_id, user_id, confirmed, actor_id, created_at
		 FROM registrations
		 WHERE slot_id = $1
		 ORDER BY created_at, id`,
		slotID,
	)
	if err != nil {
		return nil, fmt.Errorf("list slot registrations: %w", err)
	}
	defer rows.Close()
	return scanRegistrations(rows)
}

func scanRegistrations(rows pgx.Rows) ([]model.Registration, error) {
	var out []model.Registration
	for rows.Next() {
		var r model.Registration
		if err := rows.Scan(&r.ID, &r.SlotID, &r.UserID, &r.Confirmed, &r.ActorID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateQueueEntry(ctx context.Context, entry *model.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRow(ctx,
		`INSERT INTO queue_entries (id, slot_id, user_id, priority, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING seq`,
		entry.ID, entry.SlotID, entry.UserID, entry.Priority, entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (s *Store) DeleteQueueEntry(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM queue_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete queue entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListQueueEntries(ctx context.Context, instanceID string) ([]model.QueueEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT q.id, q.slot_id, q.user_id, q.priority, q.seq, q.created_at
		 FROM queue_entries q
		 JOIN slots s ON s.id = q.slot_id
		 WHERE s.instance_id = $1
		 ORDER BY q.seq`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		if err := rows.Scan(&e.ID, &e.SlotID, &e.UserID, &e.Priority, &e.Seq, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
