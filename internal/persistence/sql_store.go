package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/reportflow/pkg/api"
)

// sqlDialect captures what differs between the SQL backends.
type sqlDialect struct {
	name string
	// numbered placeholders ($1, $2, ...) instead of '?'.
	numbered bool
}

func (d sqlDialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sqlInstanceStore keeps one row per instance. Indexed columns are
// duplicated out of the snapshot so filters run in SQL; the full instance
// lives in the state column.
type sqlInstanceStore struct {
	db      *sql.DB
	dialect sqlDialect
	codec   Codec
}

func (s *sqlInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	state, err := encodeInstance(s.codec, inst)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO instances (id, instance_key, generation, status, current_phase, state, start_time, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		inst.ID,
		inst.Key,
		inst.Generation,
		string(inst.Status),
		inst.CurrentPhase,
		state,
		inst.StartTime.UnixNano(),
		closeNanos(inst.CloseTime),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceExists
	}
	return nil
}

func (s *sqlInstanceStore) UpdateInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	state, err := encodeInstance(s.codec, inst)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE instances
		SET status = ?, current_phase = ?, state = ?, close_time = ?
		WHERE id = ?`),
		string(inst.Status),
		inst.CurrentPhase,
		state,
		closeNanos(inst.CloseTime),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

func (s *sqlInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT state FROM instances WHERE id = ?`),
		id,
	)

	var state []byte
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeInstance(s.codec, state)
}

func (s *sqlInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `SELECT state FROM instances`
	var args []any
	var clauses []string

	if filter.Key != "" {
		clauses = append(clauses, "instance_key = ?")
		args = append(args, filter.Key)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY instance_key, generation, id"

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.WorkflowInstance
	for rows.Next() {
		var state []byte
		if err := rows.Scan(&state); err != nil {
			return nil, err
		}
		inst, err := decodeInstance(s.codec, state)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return instances, nil
}

// Leases live in their own table so snapshot writes never touch them.

func (s *sqlInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be > 0")
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO instance_leases (instance_id, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (instance_id) DO UPDATE
		SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE instance_leases.owner = excluded.owner OR instance_leases.expires_at <= ?`),
		instanceID,
		owner,
		now.Add(ttl).UnixNano(),
		now.UnixNano(),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqlInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be > 0")
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE instance_leases
		SET expires_at = ?
		WHERE instance_id = ? AND owner = ? AND expires_at > ?`),
		now.Add(ttl).UnixNano(),
		instanceID,
		owner,
		now.UnixNano(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrLeaseNotHeld
	}
	return nil
}

func (s *sqlInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		DELETE FROM instance_leases WHERE instance_id = ? AND owner = ?`),
		instanceID,
		owner,
	)
	return err
}

func closeNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// sqlEventStore appends events to the instance_events table.
type sqlEventStore struct {
	db      *sql.DB
	dialect sqlDialect
}

func (s *sqlEventStore) AppendEvent(ctx context.Context, ev api.WorkflowEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO instance_events (instance_id, at, type, phase, step, detail)
		VALUES (?, ?, ?, ?, ?, ?)`),
		ev.InstanceID,
		at.UnixNano(),
		string(ev.Type),
		ev.Phase,
		ev.Step,
		ev.Detail,
	)
	return err
}

func (s *sqlEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
		SELECT instance_id, at, type, phase, step, detail
		FROM instance_events
		WHERE instance_id = ?
		ORDER BY id ASC`), instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.WorkflowEvent
	for rows.Next() {
		var (
			id     string
			atN    int64
			typ    string
			phase  string
			step   string
			detail string
		)
		if err := rows.Scan(&id, &atN, &typ, &phase, &step, &detail); err != nil {
			return nil, err
		}
		out = append(out, api.WorkflowEvent{
			InstanceID: id,
			At:         time.Unix(0, atN),
			Type:       api.EventType(typ),
			Phase:      phase,
			Step:       step,
			Detail:     detail,
		})
	}
	return out, rows.Err()
}
