package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vidvault/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, type, payload, owner, status, error_message, added_at, processed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var jobType string
	if err := row.Scan(&j.ID, &jobType, &j.Payload, &j.Owner, &j.Status,
		&j.ErrorMessage, &j.AddedAt, &j.ProcessedAt); err != nil {
		return nil, err
	}
	j.Type = models.JobType(jobType)
	return &j, nil
}

// EnqueueJob relies on the partial unique index over queued (type, payload)
// so concurrent callers cannot create two queued rows.
func (s *PostgresStore) EnqueueJob(ctx context.Context, jobType models.JobType, payload, owner string) (*models.Job, bool, error) {
	if !jobType.Valid() {
		return nil, false, fmt.Errorf("enqueue job: unknown job type %q", jobType)
	}

	// The queued row can leave the queue between the insert and the lookup,
	// so try a few times before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		job, err := scanJob(s.pool.QueryRow(ctx,
			`INSERT INTO jobs (id, type, payload, owner, status, added_at)
			 VALUES ($1, $2, $3, $4, 'queued', $5)
			 ON CONFLICT (type, payload) WHERE status = 'queued' DO NOTHING
			 RETURNING `+jobColumns,
			uuid.New(), string(jobType), payload, owner, time.Now().UTC()))
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("enqueue job: %w", err)
		}

		job, err = scanJob(s.pool.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs
			 WHERE type = $1 AND payload = $2 AND status = 'queued' LIMIT 1`,
			string(jobType), payload))
		if err == nil {
			return job, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("find queued job: %w", err)
		}
	}
	return nil, false, fmt.Errorf("enqueue job: queued row for %s %q kept changing", jobType, payload)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	// Build WHERE clause dynamically
	var conditions []string
	var args []any
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, string(filter.Type))
		argIdx++
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	query += fmt.Sprintf(" ORDER BY added_at ASC, id ASC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus moves a job to status if the transition is allowed from its
// current status. The check and the write are one statement, so two workers
// racing to claim the same queued job cannot both succeed.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	errMsg := ApplyJobUpdateOptions(opts...)

	from := AllowedFrom(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", ErrInvalidTransition, status)
	}

	query := `UPDATE jobs SET status = $2`
	args := []any{id, status}
	argIdx := 3

	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		query += fmt.Sprintf(", processed_at = $%d", argIdx)
		args = append(args, time.Now().UTC())
		argIdx++
	}
	if errMsg != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *errMsg)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, from)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func (s *PostgresStore) DeleteCompletedJobs(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE status = 'completed'`)
	if err != nil {
		return 0, fmt.Errorf("delete completed jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Videos ---

const videoColumns = `id, store, video_path, video_sha256, info_path, info_sha256, thumb_path, thumb_sha256,
	media_size, width, height, source, external_id, channel_id, channel_name, title, description,
	duration, published, language, age_limit, tags, event, added_at`

func scanVideo(row pgx.Row) (*models.VideoAsset, error) {
	var v models.VideoAsset
	err := row.Scan(&v.ID, &v.Store, &v.VideoPath, &v.VideoSha256, &v.InfoPath, &v.InfoSha256,
		&v.ThumbPath, &v.ThumbSha256, &v.MediaSize, &v.Width, &v.Height, &v.Source, &v.ExternalID,
		&v.ChannelID, &v.ChannelName, &v.Title, &v.Description, &v.Duration, &v.Published,
		&v.Language, &v.AgeLimit, &v.Tags, &v.Event, &v.AddedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// SaveVideo inserts the video or overwrites the row with the same id.
// A nil ID is replaced with a fresh one.
func (s *PostgresStore) SaveVideo(ctx context.Context, v *models.VideoAsset) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.AddedAt.IsZero() {
		v.AddedAt = time.Now().UTC()
	}
	if v.Published.IsZero() {
		v.Published = v.AddedAt
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO videos (`+videoColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		 ON CONFLICT (id) DO UPDATE SET
		   store = EXCLUDED.store, video_path = EXCLUDED.video_path, video_sha256 = EXCLUDED.video_sha256,
		   info_path = EXCLUDED.info_path, info_sha256 = EXCLUDED.info_sha256,
		   thumb_path = EXCLUDED.thumb_path, thumb_sha256 = EXCLUDED.thumb_sha256,
		   media_size = EXCLUDED.media_size, width = EXCLUDED.width, height = EXCLUDED.height,
		   source = EXCLUDED.source, external_id = EXCLUDED.external_id,
		   channel_id = EXCLUDED.channel_id, channel_name = EXCLUDED.channel_name,
		   title = EXCLUDED.title, description = EXCLUDED.description, duration = EXCLUDED.duration,
		   published = EXCLUDED.published, language = EXCLUDED.language, age_limit = EXCLUDED.age_limit,
		   tags = EXCLUDED.tags, event = EXCLUDED.event`,
		v.ID, v.Store, v.VideoPath, v.VideoSha256, v.InfoPath, v.InfoSha256, v.ThumbPath, v.ThumbSha256,
		v.MediaSize, v.Width, v.Height, v.Source, v.ExternalID, v.ChannelID, v.ChannelName, v.Title,
		v.Description, v.Duration, v.Published, v.Language, v.AgeLimit, v.Tags, v.Event, v.AddedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("save video: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, id uuid.UUID) (*models.VideoAsset, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) FindVideoBySha256(ctx context.Context, sha256 string) (*models.VideoAsset, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE video_sha256 = $1 ORDER BY added_at ASC LIMIT 1`,
		strings.ToLower(sha256)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find video by sha256: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) FindVideoByEvent(ctx context.Context, eventID string) (*models.VideoAsset, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE event = $1 LIMIT 1`, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find video by event: %w", err)
	}
	return v, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
