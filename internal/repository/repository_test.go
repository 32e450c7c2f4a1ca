package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-autotest/internal/models"
)

func setupTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

func TestAssignmentRepositoryRoundTrip(t *testing.T) {
	db := setupTestDB(t, &models.Assignment{})
	repo := NewAssignmentRepository(db)
	ctx := context.Background()

	fixed := 12.5
	assignment := models.Assignment{
		Title:                "Linked lists",
		Rubric:               datatypes.JSON(`[]`),
		FixedMaxRubricPoints: &fixed,
	}
	require.NoError(t, repo.Create(ctx, &assignment))
	require.NotZero(t, assignment.ID)

	assignment.AutoTest = datatypes.JSON(`{"id": 3, "sets": []}`)
	require.NoError(t, repo.Update(ctx, &assignment))

	stored, err := repo.GetByID(ctx, assignment.ID)
	require.NoError(t, err)
	require.Equal(t, "Linked lists", stored.Title)
	require.NotNil(t, stored.FixedMaxRubricPoints)
	require.Equal(t, 12.5, *stored.FixedMaxRubricPoints)

	def, ok, err := stored.DecodeAutoTest()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, def.ID)

	_, err = repo.GetByID(ctx, assignment.ID+1)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestRubricSelectionRepositoryUpsertReplacesRow(t *testing.T) {
	db := setupTestDB(t, &models.RubricSelection{})
	repo := NewRubricSelectionRepository(db)
	ctx := context.Background()

	first := models.RubricSelection{AssignmentID: 1, SubmissionID: 7, RowID: 2, ItemID: 20, Multiplier: 1}
	require.NoError(t, repo.Upsert(ctx, &first))

	second := models.RubricSelection{AssignmentID: 1, SubmissionID: 7, RowID: 2, ItemID: 21, Multiplier: 0.5}
	require.NoError(t, repo.Upsert(ctx, &second))

	other := models.RubricSelection{AssignmentID: 1, SubmissionID: 7, RowID: 1, ItemID: 10, Multiplier: 1}
	require.NoError(t, repo.Upsert(ctx, &other))

	selections, err := repo.ListForSubmission(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, selections, 2)
	require.Equal(t, 1, selections[0].RowID)
	require.Equal(t, 21, selections[1].ItemID)
	require.Equal(t, 0.5, selections[1].Multiplier)

	require.NoError(t, repo.Delete(ctx, 1, 7, 1))
	selections, err = repo.ListForSubmission(ctx, 1, 7)
	require.NoError(t, err)
	require.Len(t, selections, 1)

	empty, err := repo.ListForSubmission(ctx, 1, 8)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestAutoTestRunRepositoryEventsAreOrdered(t *testing.T) {
	db := setupTestDB(t, &models.AutoTestRun{}, &models.AutoTestEvent{})
	repo := NewAutoTestRunRepository(db)
	ctx := context.Background()

	run := models.AutoTestRun{ID: 42, AssignmentID: 5}
	require.NoError(t, repo.EnsureRun(ctx, &run))
	again := models.AutoTestRun{ID: 42, AssignmentID: 5}
	require.NoError(t, repo.EnsureRun(ctx, &again))

	stored, err := repo.GetRun(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, uint(5), stored.AssignmentID)

	now := time.Now()
	require.NoError(t, repo.AppendEvent(ctx, &models.AutoTestEvent{RunID: 42, Kind: models.AutoTestEventSnapshot, Payload: datatypes.JSON(`{"id": 42}`), ReceivedAt: now}))
	require.NoError(t, repo.AppendEvent(ctx, &models.AutoTestEvent{RunID: 42, Kind: models.AutoTestEventRestart, ResultID: 9, ReceivedAt: now}))
	require.NoError(t, repo.AppendEvent(ctx, &models.AutoTestEvent{RunID: 43, Kind: models.AutoTestEventSnapshot, ReceivedAt: now}))

	events, err := repo.ListEvents(ctx, 42)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, models.AutoTestEventSnapshot, events[0].Kind)
	require.Equal(t, models.AutoTestEventRestart, events[1].Kind)
	require.Equal(t, 9, events[1].ResultID)
}
