package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/opsgate/internal/models"
)

func testChange(id string, created time.Time) models.PendingChange {
	return models.PendingChange{
		ID:          id,
		Kind:        models.KindFileEdit,
		Path:        "/opt/iot-stack/volumes/nginx/conf/app.conf",
		Preview:     "--- app.conf (current)\n+++ app.conf (proposed)\n",
		CommandPlan: []string{"printf x", "sudo mv a b"},
		Status:      models.ChangePending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestCreateChange(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := openTestStore(t)
		created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		err := store.CreateChange(ctx, testChange("chg_0001", created))
		require.NoError(t, err)

		got, err := store.GetChange(ctx, "chg_0001")
		require.NoError(t, err)
		assert.Equal(t, "chg_0001", got.ID)
		assert.Equal(t, models.KindFileEdit, got.Kind)
		assert.Equal(t, "/opt/iot-stack/volumes/nginx/conf/app.conf", got.Path)
		assert.Equal(t, []string{"printf x", "sudo mv a b"}, got.CommandPlan)
		assert.Equal(t, models.ChangePending, got.Status)
		assert.True(t, got.CreatedAt.Equal(created))
	})

	t.Run("nil store", func(t *testing.T) {
		err := (*Store)(nil).CreateChange(ctx, testChange("chg_x", time.Now()))
		assert.EqualError(t, err, "db store is nil")
	})

	t.Run("missing id", func(t *testing.T) {
		store := openTestStore(t)
		change := testChange("", time.Now())
		err := store.CreateChange(ctx, change)
		assert.EqualError(t, err, "change id is required")
	})

	t.Run("missing plan", func(t *testing.T) {
		store := openTestStore(t)
		change := testChange("chg_0002", time.Now())
		change.CommandPlan = nil
		err := store.CreateChange(ctx, change)
		assert.EqualError(t, err, "change command plan is required")
	})

	t.Run("duplicate id", func(t *testing.T) {
		store := openTestStore(t)
		change := testChange("chg_0003", time.Now())
		require.NoError(t, store.CreateChange(ctx, change))
		assert.Error(t, store.CreateChange(ctx, change))
	})

	t.Run("service action round trip", func(t *testing.T) {
		store := openTestStore(t)
		change := models.PendingChange{
			ID:          "chg_0004",
			Kind:        models.KindServiceAction,
			ProjectDir:  "/opt/iot-stack",
			Service:     "nginx",
			Action:      models.ServiceRestart,
			Preview:     "restart service nginx in /opt/iot-stack",
			CommandPlan: []string{"cd /opt/iot-stack && docker-compose restart nginx"},
			Status:      models.ChangePending,
			CreatedAt:   time.Now().UTC(),
		}
		require.NoError(t, store.CreateChange(ctx, change))
		got, err := store.GetChange(ctx, "chg_0004")
		require.NoError(t, err)
		assert.Equal(t, "/opt/iot-stack", got.ProjectDir)
		assert.Equal(t, "nginx", got.Service)
		assert.Equal(t, models.ServiceRestart, got.Action)
	})
}

func TestGetChangeNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetChange(context.Background(), "chg_missing")
	var notFound *models.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "change", notFound.Kind)
	assert.Equal(t, "chg_missing", notFound.Name)
}

func TestListChangesByStatus(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateChange(ctx, testChange("chg_a", base)))
	require.NoError(t, store.CreateChange(ctx, testChange("chg_b", base.Add(time.Minute))))
	ok, err := store.TransitionChange(ctx, "chg_a", models.ChangePending, models.ChangeApplied)
	require.NoError(t, err)
	require.True(t, ok)

	t.Run("filtered", func(t *testing.T) {
		pending, err := store.ListChangesByStatus(ctx, models.ChangePending)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "chg_b", pending[0].ID)
	})

	t.Run("all newest first", func(t *testing.T) {
		all, err := store.ListChangesByStatus(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "chg_b", all[0].ID)
		assert.Equal(t, "chg_a", all[1].ID)
	})
}

func TestTransitionChange(t *testing.T) {
	ctx := context.Background()

	t.Run("compare and set", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateChange(ctx, testChange("chg_cas", time.Now().UTC())))

		ok, err := store.TransitionChange(ctx, "chg_cas", models.ChangePending, models.ChangeApplied)
		require.NoError(t, err)
		assert.True(t, ok)

		// The record already left PENDING; a second transition must lose.
		ok, err = store.TransitionChange(ctx, "chg_cas", models.ChangePending, models.ChangeRejected)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.GetChange(ctx, "chg_cas")
		require.NoError(t, err)
		assert.Equal(t, models.ChangeApplied, got.Status)
	})

	t.Run("unknown id", func(t *testing.T) {
		store := openTestStore(t)
		ok, err := store.TransitionChange(ctx, "chg_nope", models.ChangePending, models.ChangeRejected)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing status", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.TransitionChange(ctx, "chg_x", "", models.ChangeRejected)
		assert.EqualError(t, err, "change status is required")
	})
}

func TestSweepExpiredChanges(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	old := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateChange(ctx, testChange("chg_old", old)))
	require.NoError(t, store.CreateChange(ctx, testChange("chg_fresh", fresh)))

	applied := testChange("chg_done", old)
	require.NoError(t, store.CreateChange(ctx, applied))
	ok, err := store.TransitionChange(ctx, "chg_done", models.ChangePending, models.ChangeApplied)
	require.NoError(t, err)
	require.True(t, ok)

	swept, err := store.SweepExpiredChanges(ctx, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"chg_old"}, swept)

	got, err := store.GetChange(ctx, "chg_old")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeExpired, got.Status)

	got, err = store.GetChange(ctx, "chg_fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ChangePending, got.Status)

	// Terminal records are untouched by the sweep.
	got, err = store.GetChange(ctx, "chg_done")
	require.NoError(t, err)
	assert.Equal(t, models.ChangeApplied, got.Status)
}
