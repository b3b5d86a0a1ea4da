package archive

import (
	"context"
	"encoding/json"
	"errors"

	"backend-etaone/internal/db"

	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	db    db.Querier
	limit int
}

func NewPostgresRepository(q db.Querier, limit int) *PostgresRepository {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &PostgresRepository{db: q, limit: limit}
}

func (r *PostgresRepository) Save(ctx context.Context, rec Record) error {
	positions, err := json.Marshal(rec.Positions)
	if err != nil {
		return err
	}
	sectors, err := json.Marshal(rec.Sectors)
	if err != nil {
		return err
	}
	strategies, err := json.Marshal(rec.Strategies)
	if err != nil {
		return err
	}
	delays, err := json.Marshal(rec.Delays)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO sessions (id, circuit, started_at, ended_at, created_at, total_points, positions, sectors, strategies, delays)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, rec.ID, rec.Circuit, rec.StartedAt, rec.EndedAt, rec.CreatedAt, rec.TotalPoints, positions, sectors, strategies, delays)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		DELETE FROM sessions
		WHERE id NOT IN (SELECT id FROM sessions ORDER BY created_at DESC LIMIT $1)
	`, r.limit)
	return err
}

func (r *PostgresRepository) List(ctx context.Context) ([]Summary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, circuit, started_at, ended_at, created_at, total_points
		FROM sessions
		ORDER BY created_at DESC
		LIMIT $1
	`, r.limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Circuit, &s.StartedAt, &s.EndedAt, &s.CreatedAt, &s.TotalPoints); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, circuit, started_at, ended_at, created_at, total_points, positions, sectors, strategies, delays
		FROM sessions WHERE id=$1
	`, id)

	var rec Record
	var positions, sectors, strategies, delays []byte
	err := row.Scan(&rec.ID, &rec.Circuit, &rec.StartedAt, &rec.EndedAt, &rec.CreatedAt, &rec.TotalPoints,
		&positions, &sectors, &strategies, &delays)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	for _, col := range []struct {
		raw  []byte
		dest any
	}{
		{positions, &rec.Positions},
		{sectors, &rec.Sectors},
		{strategies, &rec.Strategies},
		{delays, &rec.Delays},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return Record{}, err
		}
	}
	return rec, nil
}
