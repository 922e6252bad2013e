package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/wardenhq/warden/internal/interfaces"
	"github.com/wardenhq/warden/internal/models"
)

// TaskStorage implements SQLite storage for tasks
type TaskStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewTaskStorage creates a new task storage instance
func NewTaskStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `task_id, site_id, status, msg, error_details, task_metadata, system_info,
	created_at, updated_at, completed_at`

// InsertTask creates a new task row
func (s *TaskStorage) InsertTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errorDetails, err := marshalMap(task.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to serialize error details: %w", err)
	}
	metadata, err := marshalMap(task.TaskMetadata)
	if err != nil {
		return fmt.Errorf("failed to serialize task metadata: %w", err)
	}
	systemInfo, err := marshalMap(task.SystemInfo)
	if err != nil {
		return fmt.Errorf("failed to serialize system info: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.db.ExecContext(ctx, query,
		task.TaskID,
		task.SiteID,
		string(task.Status),
		task.Msg,
		errorDetails,
		metadata,
		systemInfo,
		task.CreatedAt.Unix(),
		task.UpdatedAt.Unix(),
		nullableUnix(task.CompletedAt),
	)

	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to insert task")
		return fmt.Errorf("failed to insert task: %w", err)
	}

	s.logger.Debug().Str("task_id", task.TaskID).Str("site_id", task.SiteID).Msg("Task inserted")
	return nil
}

// GetTask retrieves a task by ID. Returns (nil, nil) when absent.
func (s *TaskStorage) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = ?`

	row := s.db.db.QueryRowContext(ctx, query, taskID)
	task, err := scanTask(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks lists tasks with filters and pagination
func (s *TaskStorage) ListTasks(ctx context.Context, opts *interfaces.TaskListOptions) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []interface{}{}

	if opts != nil {
		if opts.SiteID != "" {
			query += " AND site_id = ?"
			args = append(args, opts.SiteID)
		}
		if opts.Status != "" {
			statuses := []string{}
			for _, st := range strings.Split(opts.Status, ",") {
				if trimmed := strings.TrimSpace(st); trimmed != "" {
					statuses = append(statuses, trimmed)
				}
			}
			if len(statuses) == 1 {
				query += " AND status = ?"
				args = append(args, statuses[0])
			} else if len(statuses) > 1 {
				placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
				query += fmt.Sprintf(" AND status IN (%s)", placeholders)
				for _, st := range statuses {
					args = append(args, st)
				}
			}
		}

		orderBy := "created_at"
		if opts.OrderBy != "" {
			orderBy = opts.OrderBy
		}
		orderDir := "DESC"
		if opts.OrderDir != "" {
			orderDir = opts.OrderDir
		}
		query += fmt.Sprintf(" ORDER BY %s %s", orderBy, orderDir)

		if opts.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, opts.Limit)
			if opts.Offset > 0 {
				query += " OFFSET ?"
				args = append(args, opts.Offset)
			}
		}
	} else {
		query += " ORDER BY created_at DESC LIMIT 50"
	}

	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask rewrites the mutable columns of a task row. Callers other than
// the status reconciler must not use this method.
func (s *TaskStorage) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errorDetails, err := marshalMap(task.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to serialize error details: %w", err)
	}
	metadata, err := marshalMap(task.TaskMetadata)
	if err != nil {
		return fmt.Errorf("failed to serialize task metadata: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = ?, msg = ?, error_details = ?, task_metadata = ?, updated_at = ?, completed_at = ?
		WHERE task_id = ?
	`

	result, err := s.db.db.ExecContext(ctx, query,
		string(task.Status),
		task.Msg,
		errorDetails,
		metadata,
		task.UpdatedAt.Unix(),
		nullableUnix(task.CompletedAt),
		task.TaskID,
	)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to update task")
		return fmt.Errorf("failed to update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	s.logger.Debug().Str("task_id", task.TaskID).Str("status", string(task.Status)).Msg("Task updated")
	return nil
}

// CountTasksByStatus counts tasks in a given status
func (s *TaskStorage) CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE status = ?", string(status)).Scan(&count)
	return count, err
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		taskID, siteID, status                string
		msg                                   sql.NullString
		errorDetails, metadata, systemInfo    sql.NullString
		createdAt, updatedAt                  int64
		completedAt                           sql.NullInt64
	)

	err := row.Scan(&taskID, &siteID, &status, &msg, &errorDetails, &metadata, &systemInfo,
		&createdAt, &updatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	task := &models.Task{
		TaskID:    taskID,
		SiteID:    siteID,
		Status:    models.TaskStatus(status),
		CreatedAt: unixToTime(createdAt),
		UpdatedAt: unixToTime(updatedAt),
	}
	if msg.Valid {
		task.Msg = msg.String
	}
	if completedAt.Valid {
		t := unixToTime(completedAt.Int64)
		task.CompletedAt = &t
	}

	task.ErrorDetails = unmarshalMap(errorDetails)
	task.TaskMetadata = unmarshalMap(metadata)
	task.SystemInfo = unmarshalMap(systemInfo)

	return task, nil
}

func marshalMap(m map[string]interface{}) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{Valid: true, String: string(data)}, nil
}

func unmarshalMap(ns sql.NullString) map[string]interface{} {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil
	}
	return m
}
