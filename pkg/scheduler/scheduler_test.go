package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/funnel/pkg/engine"
	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence/file"
	"github.com/nexusflow/funnel/pkg/testutil"
)

func newTestScheduler(t *testing.T) (*Scheduler, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	eng := engine.NewEngine(store, logger)

	return NewScheduler(eng, store, logger), store
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))

	return len(p), nil
}

func waitFunnelGraph() func(*models.Funnel) {
	return testutil.WithGraph(
		[]*models.Node{
			testutil.CreateTestNode(testutil.WithID("trigger-1"), testutil.WithType(models.NodeTypeTriggerKeyword), testutil.WithConfig(map[string]any{
				"triggerEvent": "received_message_keyword",
				"keywords":     []any{"oi"},
			})),
			testutil.CreateTestNode(testutil.WithID("wait-1"), testutil.WithType(models.NodeTypeWait), testutil.WithConfig(map[string]any{
				"wait_value": 1,
				"wait_unit":  "hours",
			})),
			testutil.CreateTestNode(testutil.WithID("tag-1"), testutil.WithType(models.NodeTypeAddTag), testutil.WithConfig(map[string]any{
				"tag_name": "after-wait",
			})),
		},
		[]*models.Connection{
			testutil.Connect("trigger-1", "output", "wait-1", "input"),
			testutil.Connect("wait-1", "output", "tag-1", "input"),
		},
	)
}

func seedWaitingExecution(t *testing.T, store *file.Persistence, funnelID, contactID, nodeID string, lastAction time.Time) *models.Execution {
	t.Helper()

	execution := &models.Execution{
		ID:            "exec-" + contactID,
		FunnelID:      funnelID,
		ContactID:     contactID,
		CurrentNodeID: nodeID,
		Status:        models.ExecutionStatusWaiting,
		StartedAt:     lastAction.Add(-time.Minute),
		LastActionAt:  &lastAction,
	}
	require.NoError(t, store.CreateExecution(context.Background(), execution))

	return execution
}

func TestProcessWaitingExecutions(t *testing.T) {
	ctx := context.Background()
	sched, store := newTestScheduler(t)

	funnel := testutil.CreateTestFunnel(waitFunnelGraph())
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	elapsed := testutil.CreateTestContact()
	require.NoError(t, store.SaveContact(ctx, elapsed))

	pending := testutil.CreateTestContact()
	require.NoError(t, store.SaveContact(ctx, pending))

	now := time.Now().UTC()
	seedWaitingExecution(t, store, funnel.ID, elapsed.ID, "wait-1", now.Add(-2*time.Hour))
	seedWaitingExecution(t, store, funnel.ID, pending.ID, "wait-1", now.Add(-10*time.Minute))

	sched.ProcessWaitingExecutions(ctx)

	done, err := store.ExecutionByID(ctx, "exec-"+elapsed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, done.Status)
	assert.Equal(t, "tag-1", done.CurrentNodeID)

	tagged, err := store.ContactByID(ctx, elapsed.ID)
	require.NoError(t, err)
	assert.True(t, tagged.HasTag("after-wait"))

	stillWaiting, err := store.ExecutionByID(ctx, "exec-"+pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, stillWaiting.Status)
	assert.Equal(t, "wait-1", stillWaiting.CurrentNodeID)

	untouched, err := store.ContactByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.False(t, untouched.HasTag("after-wait"))
}

func TestWaitingExecutionOnNonWaitNodeIsReleased(t *testing.T) {
	ctx := context.Background()
	sched, store := newTestScheduler(t)

	funnel := testutil.CreateTestFunnel(waitFunnelGraph())
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	contact := testutil.CreateTestContact()
	require.NoError(t, store.SaveContact(ctx, contact))

	seedWaitingExecution(t, store, funnel.ID, contact.ID, "tag-1", time.Now().UTC().Add(-2*time.Hour))

	sched.ProcessWaitingExecutions(ctx)

	got, err := store.ExecutionByID(ctx, "exec-"+contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.Equal(t, "tag-1", got.CurrentNodeID)
}

func TestWaitingExecutionWithMissingNodeIsSkipped(t *testing.T) {
	ctx := context.Background()
	sched, store := newTestScheduler(t)

	funnel := testutil.CreateTestFunnel(waitFunnelGraph())
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	contact := testutil.CreateTestContact()
	require.NoError(t, store.SaveContact(ctx, contact))

	seedWaitingExecution(t, store, funnel.ID, contact.ID, "deleted-node", time.Now().UTC().Add(-2*time.Hour))

	sched.ProcessWaitingExecutions(ctx)

	got, err := store.ExecutionByID(ctx, "exec-"+contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, got.Status)
}

func TestWaitResumeUsesInjectedClock(t *testing.T) {
	ctx := context.Background()

	store := file.NewPersistence(t.TempDir())
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	eng := engine.NewEngine(store, logger, engine.WithClock(clock))
	sched := NewScheduler(eng, store, logger).WithClock(clock)

	funnel := testutil.CreateTestFunnel(testutil.WithGraph(
		[]*models.Node{
			testutil.CreateTestNode(testutil.WithID("trigger-1"), testutil.WithType(models.NodeTypeTriggerKeyword), testutil.WithConfig(map[string]any{
				"triggerEvent": "received_message_keyword",
				"keywords":     []any{"oi"},
			})),
			testutil.CreateTestNode(testutil.WithID("wait-1"), testutil.WithType(models.NodeTypeWait), testutil.WithConfig(map[string]any{
				"wait_value": 1,
				"wait_unit":  "minutes",
			})),
			testutil.CreateTestNode(testutil.WithID("tag-1"), testutil.WithType(models.NodeTypeAddTag), testutil.WithConfig(map[string]any{
				"tag_name": "after-wait",
			})),
		},
		[]*models.Connection{
			testutil.Connect("trigger-1", "output", "wait-1", "input"),
			testutil.Connect("wait-1", "output", "tag-1", "input"),
		},
	))
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	contact := testutil.CreateTestContact()
	require.NoError(t, store.SaveContact(ctx, contact))

	seedWaitingExecution(t, store, funnel.ID, contact.ID, "wait-1", base)

	current = base.Add(30 * time.Second)
	sched.ProcessWaitingExecutions(ctx)

	got, err := store.ExecutionByID(ctx, "exec-"+contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusWaiting, got.Status)

	current = base.Add(61 * time.Second)
	sched.ProcessWaitingExecutions(ctx)

	got, err = store.ExecutionByID(ctx, "exec-"+contact.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, "tag-1", got.CurrentNodeID)

	tagged, err := store.ContactByID(ctx, contact.ID)
	require.NoError(t, err)
	assert.True(t, tagged.HasTag("after-wait"))
}

func TestCheckAndTriggerFunnelsKeyword(t *testing.T) {
	tests := []struct {
		name      string
		matchType string
		message   string
		triggers  bool
	}{
		{"exact match", "exact", "oi", true},
		{"exact match with casing and spaces", "exact", "  Oi ", true},
		{"exact rejects longer message", "exact", "oi tudo bem", false},
		{"contains match", "contains", "bom dia, oi tudo bem?", true},
		{"contains rejects unrelated text", "contains", "bom dia", false},
		{"empty message never matches", "exact", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sched, store := newTestScheduler(t)

			funnel := testutil.CreateTestFunnel(testutil.WithGraph(
				[]*models.Node{
					testutil.CreateTestNode(testutil.WithID("trigger-1"), testutil.WithType(models.NodeTypeTriggerKeyword), testutil.WithConfig(map[string]any{
						"triggerEvent": "received_message_keyword",
						"keywords":     []any{"oi"},
						"match_type":   tt.matchType,
					})),
					testutil.CreateTestNode(testutil.WithID("tag-1"), testutil.WithType(models.NodeTypeAddTag), testutil.WithConfig(map[string]any{
						"tag_name": "engaged",
					})),
				},
				[]*models.Connection{
					testutil.Connect("trigger-1", "output", "tag-1", "input"),
				},
			))
			require.NoError(t, store.SaveFunnel(ctx, funnel))

			contact := testutil.CreateTestContact()
			require.NoError(t, store.SaveContact(ctx, contact))

			sched.CheckAndTriggerFunnels(ctx, "company-1", contact.ID, tt.message)

			got, err := store.FunnelByID(ctx, funnel.ID)
			require.NoError(t, err)

			if tt.triggers {
				assert.Equal(t, 1, got.Stats.TotalExecutions)
			} else {
				assert.Equal(t, 0, got.Stats.TotalExecutions)
			}
		})
	}
}

func TestCheckAndTriggerFunnelsNewConversation(t *testing.T) {
	newConversationFunnel := func(t *testing.T, store *file.Persistence) *models.Funnel {
		t.Helper()

		funnel := testutil.CreateTestFunnel(testutil.WithGraph(
			[]*models.Node{
				testutil.CreateTestNode(testutil.WithID("trigger-1"), testutil.WithType(models.NodeTypeTriggerWhatsApp), testutil.WithConfig(map[string]any{
					"triggerEvent": "new_conversation",
				})),
				testutil.CreateTestNode(testutil.WithID("tag-1"), testutil.WithType(models.NodeTypeAddTag), testutil.WithConfig(map[string]any{
					"tag_name": "welcomed",
				})),
			},
			[]*models.Connection{
				testutil.Connect("trigger-1", "output", "tag-1", "input"),
			},
		))
		require.NoError(t, store.SaveFunnel(context.Background(), funnel))

		return funnel
	}

	t.Run("first message triggers", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)
		funnel := newConversationFunnel(t, store)

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		sched.CheckAndTriggerFunnels(ctx, "company-1", contact.ID, "ola")

		got, err := store.FunnelByID(ctx, funnel.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Stats.TotalExecutions)
	})

	t.Run("known contact does not trigger", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)
		funnel := newConversationFunnel(t, store)

		lastInbound := time.Now().UTC().Add(-time.Hour)
		contact := testutil.CreateTestContact(func(c *models.Contact) {
			c.LastInboundAt = &lastInbound
		})
		require.NoError(t, store.SaveContact(ctx, contact))

		sched.CheckAndTriggerFunnels(ctx, "company-1", contact.ID, "ola")

		got, err := store.FunnelByID(ctx, funnel.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Stats.TotalExecutions)
	})
}

func TestDuplicateStartGuard(t *testing.T) {
	t.Run("active execution blocks a new start", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)

		funnel := testutil.CreateTestFunnel()
		require.NoError(t, store.SaveFunnel(ctx, funnel))

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		lastAction := time.Now().UTC().Add(-time.Minute)
		require.NoError(t, store.CreateExecution(ctx, &models.Execution{
			ID:           "exec-active",
			FunnelID:     funnel.ID,
			ContactID:    contact.ID,
			Status:       models.ExecutionStatusRunning,
			StartedAt:    lastAction,
			LastActionAt: &lastAction,
		}))

		sched.CheckAndTriggerFunnels(ctx, "company-1", contact.ID, "oi")

		got, err := store.FunnelByID(ctx, funnel.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Stats.TotalExecutions)

		existing, err := store.ExecutionByID(ctx, "exec-active")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusRunning, existing.Status)
	})

	t.Run("stale execution is released and replaced", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)

		funnel := testutil.CreateTestFunnel()
		require.NoError(t, store.SaveFunnel(ctx, funnel))

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		lastAction := time.Now().UTC().Add(-10 * time.Minute)
		require.NoError(t, store.CreateExecution(ctx, &models.Execution{
			ID:           "exec-stuck",
			FunnelID:     funnel.ID,
			ContactID:    contact.ID,
			Status:       models.ExecutionStatusRunning,
			StartedAt:    lastAction,
			LastActionAt: &lastAction,
		}))

		sched.CheckAndTriggerFunnels(ctx, "company-1", contact.ID, "oi")

		released, err := store.ExecutionByID(ctx, "exec-stuck")
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionStatusFailed, released.Status)
		assert.Equal(t, staleReleaseReason, released.ErrorMessage)

		got, err := store.FunnelByID(ctx, funnel.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Stats.TotalExecutions)
	})
}

func TestCheckNoResponseTriggers(t *testing.T) {
	ctx := context.Background()
	sched, store := newTestScheduler(t)

	funnel := testutil.CreateTestFunnel(testutil.WithGraph(
		[]*models.Node{
			testutil.CreateTestNode(testutil.WithID("trigger-1"), testutil.WithType(models.NodeTypeTriggerWhatsApp), testutil.WithConfig(map[string]any{
				"triggerEvent":   "no_response",
				"noResponseTime": 60,
				"noResponseUnit": "minutes",
			})),
			testutil.CreateTestNode(testutil.WithID("tag-1"), testutil.WithType(models.NodeTypeAddTag), testutil.WithConfig(map[string]any{
				"tag_name": "follow-up",
			})),
		},
		[]*models.Connection{
			testutil.Connect("trigger-1", "output", "tag-1", "input"),
		},
	))
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	now := time.Now().UTC()

	silentSince := now.Add(-2 * time.Hour)
	silent := testutil.CreateTestContact(func(c *models.Contact) {
		c.LastInboundAt = &silentSince
	})
	require.NoError(t, store.SaveContact(ctx, silent))

	recentInbound := now.Add(-10 * time.Minute)
	chatty := testutil.CreateTestContact(func(c *models.Contact) {
		c.LastInboundAt = &recentInbound
	})
	require.NoError(t, store.SaveContact(ctx, chatty))

	cooledDownSince := now.Add(-3 * time.Hour)
	cooledDown := testutil.CreateTestContact(func(c *models.Contact) {
		c.LastInboundAt = &cooledDownSince
	})
	require.NoError(t, store.SaveContact(ctx, cooledDown))
	require.NoError(t, store.CreateExecution(ctx, &models.Execution{
		ID:        "exec-done",
		FunnelID:  funnel.ID,
		ContactID: cooledDown.ID,
		Status:    models.ExecutionStatusCompleted,
		StartedAt: now.Add(-2 * time.Hour),
	}))

	sched.CheckNoResponseTriggers(ctx)

	got, err := store.FunnelByID(ctx, funnel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Stats.TotalExecutions)

	followedUp, err := store.ContactByID(ctx, silent.ID)
	require.NoError(t, err)
	assert.True(t, followedUp.HasTag("follow-up"))

	untouched, err := store.ContactByID(ctx, chatty.ID)
	require.NoError(t, err)
	assert.False(t, untouched.HasTag("follow-up"))

	skipped, err := store.ContactByID(ctx, cooledDown.ID)
	require.NoError(t, err)
	assert.False(t, skipped.HasTag("follow-up"))
}

func TestCheckCRMTriggers(t *testing.T) {
	crmFunnel := func(t *testing.T, store *file.Persistence, config map[string]any) *models.Funnel {
		t.Helper()

		funnel := testutil.CreateTestFunnel(testutil.WithGraph(
			[]*models.Node{
				testutil.CreateTestNode(testutil.WithID("trigger-1"), testutil.WithType(models.NodeTypeTriggerCRM), testutil.WithConfig(config)),
				testutil.CreateTestNode(testutil.WithID("tag-1"), testutil.WithType(models.NodeTypeAddTag), testutil.WithConfig(map[string]any{
					"tag_name": "crm-matched",
				})),
			},
			[]*models.Connection{
				testutil.Connect("trigger-1", "output", "tag-1", "input"),
			},
		))
		require.NoError(t, store.SaveFunnel(context.Background(), funnel))

		return funnel
	}

	assertTriggered := func(t *testing.T, store *file.Persistence, funnelID string, want int) {
		t.Helper()

		got, err := store.FunnelByID(context.Background(), funnelID)
		require.NoError(t, err)
		assert.Equal(t, want, got.Stats.TotalExecutions)
	}

	t.Run("lead_created always matches", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)
		funnel := crmFunnel(t, store, map[string]any{"triggerEvent": "lead_created"})

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		sched.CheckCRMTriggers(ctx, "company-1", contact.ID, CRMEvent{Event: models.TriggerEventLeadCreated})

		assertTriggered(t, store, funnel.ID, 1)
	})

	t.Run("temperature change with any wildcard", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)
		funnel := crmFunnel(t, store, map[string]any{
			"triggerEvent":    "temperature_changed",
			"fromTemperature": "any",
			"toTemperature":   "hot",
		})

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		sched.CheckCRMTriggers(ctx, "company-1", contact.ID, CRMEvent{
			Event: models.TriggerEventTemperatureChanged,
			From:  "cold",
			To:    "hot",
		})

		assertTriggered(t, store, funnel.ID, 1)
	})

	t.Run("temperature change to wrong target", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)
		funnel := crmFunnel(t, store, map[string]any{
			"triggerEvent":    "temperature_changed",
			"fromTemperature": "cold",
			"toTemperature":   "hot",
		})

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		sched.CheckCRMTriggers(ctx, "company-1", contact.ID, CRMEvent{
			Event: models.TriggerEventTemperatureChanged,
			From:  "cold",
			To:    "warm",
		})

		assertTriggered(t, store, funnel.ID, 0)
	})

	t.Run("tag_added matches configured tag", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)
		funnel := crmFunnel(t, store, map[string]any{
			"triggerEvent": "tag_added",
			"tagName":      "vip",
		})

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		sched.CheckCRMTriggers(ctx, "company-1", contact.ID, CRMEvent{Event: models.TriggerEventTagAdded, Tag: "vip"})
		assertTriggered(t, store, funnel.ID, 1)

		sched.CheckCRMTriggers(ctx, "company-1", contact.ID, CRMEvent{Event: models.TriggerEventTagAdded, Tag: "other"})
		assertTriggered(t, store, funnel.ID, 1)
	})

	t.Run("wrong company never matches", func(t *testing.T) {
		ctx := context.Background()
		sched, store := newTestScheduler(t)
		funnel := crmFunnel(t, store, map[string]any{"triggerEvent": "lead_created"})

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		sched.CheckCRMTriggers(ctx, "company-9", contact.ID, CRMEvent{Event: models.TriggerEventLeadCreated})

		assertTriggered(t, store, funnel.ID, 0)
	})
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	ctx := context.Background()
	sched, _ := newTestScheduler(t)

	require.NoError(t, sched.Start(ctx))
	require.NoError(t, sched.Start(ctx))

	sched.Stop(ctx)
	sched.Stop(ctx)
}
