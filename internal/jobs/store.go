// Package jobs persists processing jobs in SQLite. Job rows are the source
// of truth for lifecycle state; artifacts live in the artifact store and are
// referenced by name only.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"soundstage/internal/config"
	"soundstage/internal/stage"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies migrations.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.DataDir, "jobs.db"))
}

// OpenPath opens the job database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// NewJob inserts a pending job for an uploaded file.
func (s *Store) NewJob(ctx context.Context, inputFile, inputDigest, language, positionModel string) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	stagesJSON, err := marshalStages(NewStageRecords())
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, status, input_file, input_digest, language, position_model,
            cancel_requested, stages_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		id,
		StatusPending,
		nullableString(inputFile),
		inputDigest,
		nullableString(language),
		nullableString(positionModel),
		stagesJSON,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. A missing job returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindByDigest returns the most recent job for a content digest, if any.
func (s *Store) FindByDigest(ctx context.Context, digest string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE input_digest = ? ORDER BY created_at DESC LIMIT 1`,
		digest,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by digest: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()

	stagesJSON, err := marshalStages(job.Stages)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, input_file = ?, input_digest = ?, language = ?,
             position_model = ?, error_message = ?, error_kind = ?,
             cancel_requested = ?, stages_json = ?, updated_at = ?,
             started_at = ?, finished_at = ?
         WHERE id = ?`,
		job.Status,
		nullableString(job.InputFile),
		job.InputDigest,
		nullableString(job.Language),
		nullableString(job.PositionModel),
		nullableString(job.ErrorMessage),
		nullableString(job.ErrorKind),
		boolToInt(job.CancelRequested),
		stagesJSON,
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set, newest first, or all jobs when
// no status is provided.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var result []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// ClaimNextPending atomically moves the oldest pending job to running and
// returns it. Workers race on the conditional update, so a job is only ever
// claimed once. Returns (nil, nil) when no pending work exists.
func (s *Store) ClaimNextPending(ctx context.Context) (*Job, error) {
	for {
		row := s.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`, StatusPending)
		var id string
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("next pending: %w", err)
		}

		now := time.Now().UTC()
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusRunning,
			now.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
			id,
			StatusPending,
		)
		if err != nil {
			return nil, fmt.Errorf("claim pending: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker claimed it first; look again.
			continue
		}
		return s.GetByID(ctx, id)
	}
}

// RequestCancel marks a pending or running job for cancellation. It reports
// whether the flag was set; terminal jobs are left untouched.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusPending,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// CancelRequested re-reads just the cancellation flag. The orchestrator
// polls this between stages so a cancel lands at the next boundary.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id)
	var flag int
	if err := row.Scan(&flag); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// ResetStuckRunning returns jobs left in running state by an unclean
// shutdown to pending. Cached stage results make the re-run cheap.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE status = ?`,
		StatusPending,
		DaemonRestartNote,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Remove deletes a job row by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearTerminal removes completed, failed, and cancelled jobs.
func (s *Store) ClearTerminal(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?, ?)`,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("clear terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = "id, status, input_file, input_digest, language, position_model, error_message, error_kind, cancel_requested, stages_json, created_at, updated_at, started_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id            string
		statusStr     string
		inputFile     sql.NullString
		inputDigest   string
		language      sql.NullString
		positionModel sql.NullString
		errorMessage  sql.NullString
		errorKind     sql.NullString
		cancelFlag    sql.NullInt64
		stagesJSON    string
		createdRaw    sql.NullString
		updatedRaw    sql.NullString
		startedRaw    sql.NullString
		finishedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&statusStr,
		&inputFile,
		&inputDigest,
		&language,
		&positionModel,
		&errorMessage,
		&errorKind,
		&cancelFlag,
		&stagesJSON,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	stages, err := unmarshalStages(stagesJSON)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:            id,
		Status:        Status(statusStr),
		InputFile:     inputFile.String,
		InputDigest:   inputDigest,
		Language:      language.String,
		PositionModel: positionModel.String,
		ErrorMessage:  errorMessage.String,
		ErrorKind:     errorKind.String,
		Stages:        stages,
	}
	if cancelFlag.Valid {
		job.CancelRequested = cancelFlag.Int64 != 0
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return job, nil
}

func marshalStages(stages map[stage.Stage]*StageRecord) (string, error) {
	if stages == nil {
		stages = NewStageRecords()
	}
	data, err := json.Marshal(stages)
	if err != nil {
		return "", fmt.Errorf("marshal stages: %w", err)
	}
	return string(data), nil
}

func unmarshalStages(value string) (map[stage.Stage]*StageRecord, error) {
	if value == "" {
		return NewStageRecords(), nil
	}
	stages := make(map[stage.Stage]*StageRecord)
	if err := json.Unmarshal([]byte(value), &stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	for _, st := range stage.All() {
		if _, ok := stages[st]; !ok {
			stages[st] = &StageRecord{State: StageNotStarted}
		}
	}
	return stages, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
