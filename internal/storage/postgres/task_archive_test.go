package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/spider-orchestrator/internal/tasks"
)

func TestArchiveInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewTaskArchiveWithPool(mock, "task_archive")
	require.NoError(t, err)

	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(2 * time.Minute)

	record := tasks.TaskRecord{
		TaskID:     "uuid-v7",
		SpiderName: "example_spider",
		Kwargs:     tasks.Kwargs{"max_items": 5},
		Status:     tasks.StatusCompleted,
		StartTime:  start,
		EndTime:    &end,
		ItemsCount: 5,
	}

	mock.ExpectExec("INSERT INTO task_archive").
		WithArgs(
			record.TaskID,
			record.SpiderName,
			"completed",
			record.StartTime,
			record.EndTime,
			record.ItemsCount,
			record.FailureReason,
			[]byte(`{"max_items":5}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = archive.Archive(context.Background(), record)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRequiresTaskID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewTaskArchiveWithPool(mock, "")
	require.NoError(t, err)

	err = archive.Archive(context.Background(), tasks.TaskRecord{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "task id is required")
}

func TestArchiveInsertFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewTaskArchiveWithPool(mock, "task_archive")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO task_archive").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(fmt.Errorf("connection reset"))

	err = archive.Archive(context.Background(), tasks.TaskRecord{
		TaskID:     "uuid-v7",
		SpiderName: "example_spider",
		Status:     tasks.StatusFailed,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert archived task")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchivePing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	archive, err := NewTaskArchiveWithPool(mock, "task_archive")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, archive.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(fmt.Errorf("no route to host"))
	require.Error(t, archive.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewTaskArchiveWithPoolValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewTaskArchiveWithPool(nil, "task_archive"); err == nil {
		t.Fatal("expected error for nil pool")
	}

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	if _, err := NewTaskArchiveWithPool(mock, "bad-table-name;drop"); err == nil {
		t.Fatal("expected error for invalid table name")
	}
}
