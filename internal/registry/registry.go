package registry

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"droidship/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertRun(ctx context.Context, run domain.PipelineRun) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO runs(id,variant,bump,version,version_code,status,log_path,started_at) VALUES (?,?,?,?,?,?,?,?)`,
		run.ID, run.Variant, run.Bump, nullable(run.Version), run.VersionCode,
		string(run.Status), run.LogPath, run.StartedAt.UTC().Format(time.RFC3339))
	return err
}

// UpdateRunVersion records the bumped version once the version stage ran.
func (r Repo) UpdateRunVersion(ctx context.Context, runID, version string, code int) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE runs SET version=?, version_code=? WHERE id=?`,
		version, code, runID)
	return err
}

// CloseRun marks the run's terminal status.
func (r Repo) CloseRun(ctx context.Context, runID string, status domain.RunStatus, endedAt time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE runs SET status=?, ended_at=? WHERE id=?`,
		string(status), endedAt.UTC().Format(time.RFC3339), runID)
	return err
}

func (r Repo) GetRun(ctx context.Context, runID string) (domain.PipelineRun, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,variant,bump,COALESCE(version,''),COALESCE(version_code,0),status,log_path,started_at,ended_at FROM runs WHERE id=?`, runID)
	return scanRun(row)
}

func (r Repo) ListRuns(ctx context.Context, limit int) ([]domain.PipelineRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,variant,bump,COALESCE(version,''),COALESCE(version_code,0),status,log_path,started_at,ended_at FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []domain.PipelineRun
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendOutcome adds the next stage outcome for a run. Seq is assigned
// monotonically per run; the sequence is append-only.
func (r Repo) AppendOutcome(ctx context.Context, o domain.StageOutcome) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO stage_outcomes(run_id,seq,stage,outcome,detail,ts)
		 VALUES (?,(SELECT COALESCE(MAX(seq),0)+1 FROM stage_outcomes WHERE run_id=?),?,?,?,?)`,
		o.RunID, o.RunID, o.Stage, string(o.Outcome), nullable(o.Detail), o.TS)
	return err
}

func (r Repo) ListOutcomes(ctx context.Context, runID string) ([]domain.StageOutcome, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT run_id,seq,stage,outcome,COALESCE(detail,''),ts FROM stage_outcomes WHERE run_id=? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var outcomes []domain.StageOutcome
	for rows.Next() {
		var o domain.StageOutcome
		var outcome string
		if err := rows.Scan(&o.RunID, &o.Seq, &o.Stage, &outcome, &o.Detail, &o.TS); err != nil {
			return nil, err
		}
		o.Outcome = domain.Outcome(outcome)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// RegisterArtifact records a release candidate. Callers only register
// artifacts that reached the aligned state.
func (r Repo) RegisterArtifact(ctx context.Context, a domain.BuildArtifact) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO artifacts(id,run_id,kind,path,size_bytes,signature_state,version,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.RunID, string(a.Kind), a.Path, a.SizeBytes, string(a.State), a.Version, a.CreatedAt)
	return err
}

func (r Repo) ListArtifacts(ctx context.Context, limit int) ([]domain.BuildArtifact, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,run_id,kind,path,size_bytes,signature_state,version,created_at FROM artifacts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var artifacts []domain.BuildArtifact
	for rows.Next() {
		var a domain.BuildArtifact
		var kind, state string
		if err := rows.Scan(&a.ID, &a.RunID, &kind, &a.Path, &a.SizeBytes, &state, &a.Version, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = domain.ArtifactKind(kind)
		a.State = domain.SignatureState(state)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row *sql.Row) (domain.PipelineRun, error) {
	run, err := scanRunFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return run, ErrNotFound
	}
	return run, err
}

func scanRunRows(rows *sql.Rows) (domain.PipelineRun, error) {
	return scanRunFrom(rows)
}

func scanRunFrom(s rowScanner) (domain.PipelineRun, error) {
	var run domain.PipelineRun
	var status, startedAt string
	var endedAt sql.NullString
	if err := s.Scan(&run.ID, &run.Variant, &run.Bump, &run.Version, &run.VersionCode,
		&status, &run.LogPath, &startedAt, &endedAt); err != nil {
		return run, err
	}
	run.Status = domain.RunStatus(status)
	run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	if endedAt.Valid {
		if t, err := time.Parse(time.RFC3339, endedAt.String); err == nil {
			run.EndedAt = &t
		}
	}
	return run, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
