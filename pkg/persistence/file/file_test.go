package file

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence"
	"github.com/nexusflow/funnel/pkg/testutil"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func TestFunnelRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	funnel := testutil.CreateTestFunnel()
	funnel.ID = ""

	require.NoError(t, store.SaveFunnel(ctx, funnel))
	require.NotEmpty(t, funnel.ID)
	assert.False(t, funnel.CreatedAt.IsZero())

	got, err := store.FunnelByID(ctx, funnel.ID)
	require.NoError(t, err)
	assert.Equal(t, funnel.Name, got.Name)
	assert.Equal(t, funnel.CompanyID, got.CompanyID)
	require.NotNil(t, got.Graph.FirstTrigger())
}

func TestFunnelByIDNotFound(t *testing.T) {
	store := newTestPersistence(t)

	_, err := store.FunnelByID(context.Background(), "missing")

	require.Error(t, err)
	assert.True(t, persistence.IsFunnelNotFound(err))
}

func TestActiveFunnels(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	active := testutil.CreateTestFunnel()
	require.NoError(t, store.SaveFunnel(ctx, active))

	inactive := testutil.CreateTestFunnel(testutil.Inactive())
	require.NoError(t, store.SaveFunnel(ctx, inactive))

	otherCompany := testutil.CreateTestFunnel(testutil.WithCompany("company-2"))
	require.NoError(t, store.SaveFunnel(ctx, otherCompany))

	t.Run("filters by company", func(t *testing.T) {
		funnels, err := store.ActiveFunnels(ctx, "company-1")
		require.NoError(t, err)
		require.Len(t, funnels, 1)
		assert.Equal(t, active.ID, funnels[0].ID)
	})

	t.Run("empty company returns all active", func(t *testing.T) {
		funnels, err := store.ActiveFunnels(ctx, "")
		require.NoError(t, err)
		assert.Len(t, funnels, 2)
	})
}

func TestAddFunnelStats(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	funnel := testutil.CreateTestFunnel()
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	require.NoError(t, store.AddFunnelStats(ctx, funnel.ID, models.FunnelStats{TotalExecutions: 1}))
	require.NoError(t, store.AddFunnelStats(ctx, funnel.ID, models.FunnelStats{TotalExecutions: 1, CompletedExecutions: 1}))

	got, err := store.FunnelByID(ctx, funnel.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stats.TotalExecutions)
	assert.Equal(t, 1, got.Stats.CompletedExecutions)
	assert.Equal(t, 0, got.Stats.FailedExecutions)

	err = store.AddFunnelStats(ctx, "missing", models.FunnelStats{TotalExecutions: 1})
	assert.True(t, persistence.IsFunnelNotFound(err))
}

func TestExecutionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	execution := &models.Execution{
		ID:        "exec-1",
		FunnelID:  "funnel-1",
		ContactID: "contact-1",
		Status:    models.ExecutionStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	require.NoError(t, store.CreateExecution(ctx, execution))

	got, err := store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)

	got.Status = models.ExecutionStatusCompleted
	require.NoError(t, store.UpdateExecution(ctx, got))

	got, err = store.ExecutionByID(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)

	t.Run("update unknown execution", func(t *testing.T) {
		err := store.UpdateExecution(ctx, &models.Execution{ID: "missing"})
		assert.True(t, persistence.IsExecutionNotFound(err))
	})

	t.Run("get unknown execution", func(t *testing.T) {
		_, err := store.ExecutionByID(ctx, "missing")
		assert.True(t, persistence.IsExecutionNotFound(err))
	})
}

func TestWaitingExecutions(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		lastAction := now.Add(-time.Duration(i+1) * time.Hour)
		require.NoError(t, store.CreateExecution(ctx, &models.Execution{
			ID:           fmt.Sprintf("waiting-%d", i),
			FunnelID:     "funnel-1",
			ContactID:    fmt.Sprintf("contact-%d", i),
			Status:       models.ExecutionStatusWaiting,
			StartedAt:    now,
			LastActionAt: &lastAction,
		}))
	}

	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID:        "running-1",
		FunnelID:  "funnel-1",
		ContactID: "contact-9",
		Status:    models.ExecutionStatusRunning,
		StartedAt: now,
	}))

	executions, err := store.WaitingExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, executions, 3)

	// Oldest wait first.
	assert.Equal(t, "waiting-2", executions[0].ID)
	assert.Equal(t, "waiting-1", executions[1].ID)
	assert.Equal(t, "waiting-0", executions[2].ID)

	limited, err := store.WaitingExecutions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "waiting-2", limited[0].ID)
}

func TestActiveExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	now := time.Now().UTC()

	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID:        "done-1",
		FunnelID:  "funnel-1",
		ContactID: "contact-1",
		Status:    models.ExecutionStatusCompleted,
		StartedAt: now,
	}))

	got, err := store.ActiveExecution(ctx, "funnel-1", "contact-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID:        "active-1",
		FunnelID:  "funnel-1",
		ContactID: "contact-1",
		Status:    models.ExecutionStatusWaiting,
		StartedAt: now,
	}))

	got, err = store.ActiveExecution(ctx, "funnel-1", "contact-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "active-1", got.ID)

	got, err = store.ActiveExecution(ctx, "funnel-2", "contact-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReleaseStaleExecution(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	now := time.Now().UTC()
	staleBefore := now.Add(-5 * time.Minute)

	t.Run("releases execution without progress", func(t *testing.T) {
		require.NoError(t, store.CreateExecution(ctx, &models.Execution{
			ID:        "stuck-1",
			FunnelID:  "funnel-1",
			ContactID: "contact-1",
			Status:    models.ExecutionStatusRunning,
			StartedAt: now.Add(-time.Hour),
		}))

		released, err := store.ReleaseStaleExecution(ctx, "stuck-1", staleBefore, "auto-released: execution stuck without progress")
		require.NoError(t, err)
		assert.True(t, released)

		got, err := store.ExecutionByID(ctx, "stuck-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, got.Status)
		assert.Equal(t, "auto-released: execution stuck without progress", got.ErrorMessage)
	})

	t.Run("releases execution with old last action", func(t *testing.T) {
		lastAction := now.Add(-10 * time.Minute)
		require.NoError(t, store.CreateExecution(ctx, &models.Execution{
			ID:           "stuck-2",
			FunnelID:     "funnel-1",
			ContactID:    "contact-2",
			Status:       models.ExecutionStatusRunning,
			StartedAt:    now.Add(-time.Hour),
			LastActionAt: &lastAction,
		}))

		released, err := store.ReleaseStaleExecution(ctx, "stuck-2", staleBefore, "stale")
		require.NoError(t, err)
		assert.True(t, released)
	})

	t.Run("keeps execution with recent progress", func(t *testing.T) {
		lastAction := now.Add(-time.Minute)
		require.NoError(t, store.CreateExecution(ctx, &models.Execution{
			ID:           "fresh-1",
			FunnelID:     "funnel-1",
			ContactID:    "contact-3",
			Status:       models.ExecutionStatusRunning,
			StartedAt:    now,
			LastActionAt: &lastAction,
		}))

		released, err := store.ReleaseStaleExecution(ctx, "fresh-1", staleBefore, "stale")
		require.NoError(t, err)
		assert.False(t, released)

		got, err := store.ExecutionByID(ctx, "fresh-1")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	})

	t.Run("ignores terminal execution", func(t *testing.T) {
		require.NoError(t, store.CreateExecution(ctx, &models.Execution{
			ID:        "done-2",
			FunnelID:  "funnel-1",
			ContactID: "contact-4",
			Status:    models.ExecutionStatusFailed,
			StartedAt: now,
		}))

		released, err := store.ReleaseStaleExecution(ctx, "done-2", staleBefore, "stale")
		require.NoError(t, err)
		assert.False(t, released)
	})
}

func TestActionLogs(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	now := time.Now().UTC()

	first := &models.ActionLog{
		ID:          "log-1",
		ExecutionID: "exec-1",
		NodeID:      "trigger-1",
		NodeType:    models.NodeTypeTriggerKeyword,
		Status:      models.ActionLogStatusPending,
		CreatedAt:   now,
	}
	require.NoError(t, store.CreateActionLog(ctx, first))

	second := &models.ActionLog{
		ID:          "log-2",
		ExecutionID: "exec-1",
		NodeID:      "tag-1",
		NodeType:    models.NodeTypeAddTag,
		Status:      models.ActionLogStatusSuccess,
		CreatedAt:   now.Add(time.Second),
	}
	require.NoError(t, store.CreateActionLog(ctx, second))

	require.NoError(t, store.CreateActionLog(ctx, &models.ActionLog{
		ID:          "log-other",
		ExecutionID: "exec-2",
		NodeID:      "trigger-1",
		Status:      models.ActionLogStatusSuccess,
		CreatedAt:   now,
	}))

	first.Status = models.ActionLogStatusSuccess
	first.DurationMS = 12
	require.NoError(t, store.UpdateActionLog(ctx, first))

	entries, err := store.ActionLogsByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "log-1", entries[0].ID)
	assert.Equal(t, models.ActionLogStatusSuccess, entries[0].Status)
	assert.Equal(t, int64(12), entries[0].DurationMS)
	assert.Equal(t, "log-2", entries[1].ID)

	err = store.UpdateActionLog(ctx, &models.ActionLog{ID: "missing"})
	assert.ErrorIs(t, err, persistence.ErrActionLogNotFound)
}

func TestContactRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	contact := testutil.CreateTestContact()
	contact.ID = ""

	require.NoError(t, store.SaveContact(ctx, contact))
	require.NotEmpty(t, contact.ID)

	got, err := store.ContactByID(ctx, contact.ID)
	require.NoError(t, err)
	assert.Equal(t, contact.Name, got.Name)
	assert.Equal(t, contact.Phone, got.Phone)

	_, err = store.ContactByID(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrContactNotFound)
}

func TestContactsWithoutReply(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	now := time.Now().UTC()
	inactiveSince := now.Add(-time.Hour)
	completedSince := now.Add(-24 * time.Hour)

	saveContact := func(id string, lastInbound *time.Time, companyID string) {
		t.Helper()
		require.NoError(t, store.SaveContact(ctx, &models.Contact{
			ID:            id,
			CompanyID:     companyID,
			Name:          id,
			LastInboundAt: lastInbound,
		}))
	}

	old := now.Add(-2 * time.Hour)
	older := now.Add(-3 * time.Hour)
	recent := now.Add(-time.Minute)

	saveContact("silent-1", &old, "company-1")
	saveContact("silent-2", &older, "company-1")
	saveContact("chatty", &recent, "company-1")
	saveContact("never-wrote", nil, "company-1")
	saveContact("wrong-company", &old, "company-2")

	// Contact already inside the funnel.
	saveContact("in-funnel", &old, "company-1")
	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID:        "exec-active",
		FunnelID:  "funnel-1",
		ContactID: "in-funnel",
		Status:    models.ExecutionStatusRunning,
		StartedAt: now,
	}))

	// Contact that finished the funnel within the cooldown window.
	saveContact("recently-done", &old, "company-1")
	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID:        "exec-done",
		FunnelID:  "funnel-1",
		ContactID: "recently-done",
		Status:    models.ExecutionStatusCompleted,
		StartedAt: now.Add(-2 * time.Hour),
	}))

	// Cooldown expired for this one, it is eligible again.
	saveContact("done-long-ago", &old, "company-1")
	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID:        "exec-ancient",
		FunnelID:  "funnel-1",
		ContactID: "done-long-ago",
		Status:    models.ExecutionStatusCompleted,
		StartedAt: now.Add(-48 * time.Hour),
	}))

	contacts, err := store.ContactsWithoutReply(ctx, "funnel-1", "company-1", inactiveSince, completedSince, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ID)
	}

	assert.ElementsMatch(t, []string{"silent-1", "silent-2", "done-long-ago"}, ids)

	// Oldest silence first.
	assert.Equal(t, "silent-2", contacts[0].ID)

	limited, err := store.ContactsWithoutReply(ctx, "funnel-1", "company-1", inactiveSince, completedSince, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "silent-2", limited[0].ID)
}

func TestMessagingInstance(t *testing.T) {
	ctx := context.Background()
	store := newTestPersistence(t)

	instance := &models.MessagingInstance{
		CompanyID:    "company-1",
		InstanceName: "main",
		Token:        "secret",
	}

	require.NoError(t, store.SaveMessagingInstance(ctx, instance))
	require.NotEmpty(t, instance.ID)

	got, err := store.MessagingInstanceByCompany(ctx, "company-1")
	require.NoError(t, err)
	assert.Equal(t, "main", got.InstanceName)
	assert.Equal(t, "secret", got.Token)

	_, err = store.MessagingInstanceByCompany(ctx, "company-9")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)
}
