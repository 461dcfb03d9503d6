package web

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusflow/funnel/pkg/engine"
	"github.com/nexusflow/funnel/pkg/models"
	"github.com/nexusflow/funnel/pkg/persistence/file"
	"github.com/nexusflow/funnel/pkg/scheduler"
	"github.com/nexusflow/funnel/pkg/testutil"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := slog.Default()
	eng := engine.NewEngine(store, logger)
	sched := scheduler.NewScheduler(eng, store, logger)
	handlers := NewAPIHandlers(eng, sched, store, validator.New(), logger)

	return NewApp(handlers), store
}

func doJSON(t *testing.T, app *fiber.App, method, target string, payload any) *http.Response {
	t.Helper()

	var body *bytes.Buffer

	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)

		body = bytes.NewBuffer(data)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	})

	return resp
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateFunnel(t *testing.T) {
	t.Run("valid funnel", func(t *testing.T) {
		app, store := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/funnels", map[string]any{
			"company_id": "company-1",
			"name":       "Welcome Funnel",
			"active":     true,
			"graph": map[string]any{
				"nodes": []map[string]any{
					{"id": "trigger-1", "type": "trigger_keyword", "config": map[string]any{
						"triggerEvent": "received_message_keyword",
						"keywords":     []string{"oi"},
					}},
					{"id": "tag-1", "type": "add_tag", "config": map[string]any{"tag_name": "engaged"}},
				},
				"connections": []map[string]any{
					{"start": "trigger-1_output", "end": "tag-1_input"},
				},
			},
		})

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var created models.Funnel

		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "Welcome Funnel", created.Name)

		saved, err := store.FunnelByID(context.Background(), created.ID)
		require.NoError(t, err)
		assert.True(t, saved.Active)
	})

	t.Run("missing name", func(t *testing.T) {
		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/funnels", map[string]any{
			"company_id": "company-1",
			"graph":      map[string]any{"nodes": []any{}, "connections": []any{}},
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing graph", func(t *testing.T) {
		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/funnels", map[string]any{
			"company_id": "company-1",
			"name":       "No Graph Funnel",
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("malformed graph document", func(t *testing.T) {
		app, _ := setupTestApp(t)

		// Node without an id and connection without an end are rejected by the
		// schema check before the graph is ever decoded.
		resp := doJSON(t, app, http.MethodPost, "/funnels", map[string]any{
			"company_id": "company-1",
			"name":       "Shapeless Funnel",
			"graph": map[string]any{
				"nodes":       []map[string]any{{"type": "add_tag"}},
				"connections": []map[string]any{{"start": "tag-1_output"}},
			},
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var problem struct {
			Detail string `json:"detail"`
		}

		require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
		assert.Contains(t, problem.Detail, "id is required")
	})

	t.Run("graph is not an object", func(t *testing.T) {
		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/funnels", map[string]any{
			"company_id": "company-1",
			"name":       "Scalar Graph Funnel",
			"graph":      "not-a-graph",
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("invalid graph", func(t *testing.T) {
		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/funnels", map[string]any{
			"company_id": "company-1",
			"name":       "Broken Funnel",
			"graph": map[string]any{
				"nodes": []map[string]any{
					{"id": "tag-1", "type": "add_tag", "config": map[string]any{"tag_name": "x"}},
				},
				"connections": []map[string]any{
					{"start": "ghost_output", "end": "tag-1_input"},
				},
			},
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestGetFunnel(t *testing.T) {
	app, store := setupTestApp(t)

	funnel := testutil.CreateTestFunnel()
	require.NoError(t, store.SaveFunnel(context.Background(), funnel))

	t.Run("existing funnel", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/funnels/"+funnel.ID, nil)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.Funnel

		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, funnel.ID, got.ID)
	})

	t.Run("unknown funnel", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/funnels/missing", nil)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestStartExecution(t *testing.T) {
	t.Run("starts and completes", func(t *testing.T) {
		app, store := setupTestApp(t)
		ctx := context.Background()

		funnel := testutil.CreateTestFunnel()
		require.NoError(t, store.SaveFunnel(ctx, funnel))

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		resp := doJSON(t, app, http.MethodPost, "/funnels/"+funnel.ID+"/executions", map[string]any{
			"contact_id":   contact.ID,
			"trigger_data": map[string]any{"triggered_by": "manual"},
		})

		assert.Equal(t, http.StatusCreated, resp.StatusCode)

		var execution models.Execution

		require.NoError(t, json.NewDecoder(resp.Body).Decode(&execution))
		assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
		assert.Equal(t, contact.ID, execution.ContactID)
	})

	t.Run("unknown funnel", func(t *testing.T) {
		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/funnels/missing/executions", map[string]any{
			"contact_id": "contact-1",
		})

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("inactive funnel", func(t *testing.T) {
		app, store := setupTestApp(t)

		funnel := testutil.CreateTestFunnel(testutil.Inactive())
		require.NoError(t, store.SaveFunnel(context.Background(), funnel))

		resp := doJSON(t, app, http.MethodPost, "/funnels/"+funnel.ID+"/executions", map[string]any{
			"contact_id": "contact-1",
		})

		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("missing contact id", func(t *testing.T) {
		app, store := setupTestApp(t)

		funnel := testutil.CreateTestFunnel()
		require.NoError(t, store.SaveFunnel(context.Background(), funnel))

		resp := doJSON(t, app, http.MethodPost, "/funnels/"+funnel.ID+"/executions", map[string]any{})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPostMessage(t *testing.T) {
	t.Run("keyword starts the funnel", func(t *testing.T) {
		app, store := setupTestApp(t)
		ctx := context.Background()

		funnel := testutil.CreateTestFunnel()
		require.NoError(t, store.SaveFunnel(ctx, funnel))

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		resp := doJSON(t, app, http.MethodPost, "/companies/company-1/messages", map[string]any{
			"contact_id": contact.ID,
			"text":       "oi",
		})

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		got, err := store.ContactByID(ctx, contact.ID)
		require.NoError(t, err)
		assert.True(t, got.HasTag("engaged"))
	})

	t.Run("missing text", func(t *testing.T) {
		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/companies/company-1/messages", map[string]any{
			"contact_id": "contact-1",
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPostCRMEvent(t *testing.T) {
	t.Run("lead_created starts matching funnel", func(t *testing.T) {
		app, store := setupTestApp(t)
		ctx := context.Background()

		funnel := testutil.CreateTestFunnel(testutil.WithGraph(
			[]*models.Node{
				testutil.CreateTestNode(testutil.WithID("trigger-1"), testutil.WithType(models.NodeTypeTriggerCRM), testutil.WithConfig(map[string]any{
					"triggerEvent": "lead_created",
				})),
				testutil.CreateTestNode(testutil.WithID("tag-1"), testutil.WithType(models.NodeTypeAddTag), testutil.WithConfig(map[string]any{
					"tag_name": "new-lead",
				})),
			},
			[]*models.Connection{
				testutil.Connect("trigger-1", "output", "tag-1", "input"),
			},
		))
		require.NoError(t, store.SaveFunnel(ctx, funnel))

		contact := testutil.CreateTestContact()
		require.NoError(t, store.SaveContact(ctx, contact))

		resp := doJSON(t, app, http.MethodPost, "/companies/company-1/crm-events", map[string]any{
			"contact_id": contact.ID,
			"event":      "lead_created",
		})

		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		got, err := store.ContactByID(ctx, contact.ID)
		require.NoError(t, err)
		assert.True(t, got.HasTag("new-lead"))
	})

	t.Run("missing event", func(t *testing.T) {
		app, _ := setupTestApp(t)

		resp := doJSON(t, app, http.MethodPost, "/companies/company-1/crm-events", map[string]any{
			"contact_id": "contact-1",
		})

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestExecutionEndpoints(t *testing.T) {
	app, store := setupTestApp(t)
	ctx := context.Background()

	funnel := testutil.CreateTestFunnel()
	require.NoError(t, store.SaveFunnel(ctx, funnel))

	contact := testutil.CreateTestContact()
	require.NoError(t, store.SaveContact(ctx, contact))

	startResp := doJSON(t, app, http.MethodPost, "/funnels/"+funnel.ID+"/executions", map[string]any{
		"contact_id": contact.ID,
	})
	require.Equal(t, http.StatusCreated, startResp.StatusCode)

	var execution models.Execution
	require.NoError(t, json.NewDecoder(startResp.Body).Decode(&execution))

	t.Run("get execution", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/executions/"+execution.ID, nil)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var got models.Execution

		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, execution.ID, got.ID)
	})

	t.Run("get execution logs", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/executions/"+execution.ID+"/logs", nil)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var payload struct {
			ExecutionID string             `json:"execution_id"`
			Logs        []models.ActionLog `json:"logs"`
		}

		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		assert.Equal(t, execution.ID, payload.ExecutionID)
		require.Len(t, payload.Logs, 2)
		assert.Equal(t, models.ActionLogStatusSuccess, payload.Logs[0].Status)
	})

	t.Run("unknown execution", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/executions/missing", nil)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("logs for unknown execution", func(t *testing.T) {
		resp := doJSON(t, app, http.MethodGet, "/executions/missing/logs", nil)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
