package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatterfix/internal/ai"
	"chatterfix/internal/alerting"
	"chatterfix/internal/auth"
	"chatterfix/internal/autonomy"
	"chatterfix/internal/cache"
	"chatterfix/internal/config"
	"chatterfix/internal/events"
	"chatterfix/internal/knowledge"
	"chatterfix/internal/logs"
	"chatterfix/internal/monitor"
	"chatterfix/internal/scheduler"
	"chatterfix/internal/store"
	"chatterfix/internal/voice"
	"chatterfix/internal/websocket"
	"chatterfix/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

type testEnv struct {
	app     *ChatterFix
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, authEnabled bool) *testEnv {
	t.Helper()
	ctx := context.Background()

	cfg := config.Load()
	cfg.Auth.Enabled = authEnabled
	cfg.Auth.JWTSecret = "test-jwt-secret"
	cfg.HTTP.RateLimitRPS = 1000
	cfg.HTTP.RateLimitBurst = 1000
	cfg.HTTP.CORSOrigins = []string{"*"}
	cfg.Autonomy.Mode = "propose"

	st, err := store.Open(ctx, store.Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	memCache := cache.NewMemoryCache(time.Minute)
	t.Cleanup(func() { memCache.Close() })

	bus := events.NewBus(100)
	hub := websocket.NewHub(nil)
	logger := logs.NewLogger(100, logs.INFO)

	alerts := alerting.NewSystem(100)
	for _, rule := range alerting.DefaultRules() {
		alerts.RegisterRule(rule)
	}
	bus.Subscribe(alerts)

	index, err := knowledge.New(knowledge.Options{}, st)
	require.NoError(t, err)
	bus.Subscribe(index)

	mon := monitor.NewMonitor(cfg.Monitor, bus, logger)

	app := &ChatterFix{
		Settings:  config.NewSettingsManager(cfg),
		Store:     st,
		Cache:     memCache,
		Bus:       bus,
		Hub:       hub,
		Logger:    logger,
		Monitor:   mon,
		Alerts:    alerts,
		AI:        ai.NewServiceWithProviders(time.Second),
		Voice:     voice.NewProcessor(st, bus),
		Autonomy:  autonomy.NewEngine(cfg.Autonomy, st, mon, bus),
		Scheduler: scheduler.New(cfg.Scheduler, st, bus),
		Knowledge: index,
		Auth:      auth.NewService(cfg.Auth, st),
		Version:   "test",
	}
	srv := NewServer(app)
	return &testEnv{app: app, server: srv, handler: srv.Handler()}
}

// token creates a user with role and returns a bearer token for it
func (e *testEnv) token(t *testing.T, username string, role types.Role) string {
	t.Helper()
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)
	user := &types.User{Username: username, Email: username + "@example.com", Role: role, Active: true, PasswordHash: hash}
	require.NoError(t, e.app.Store.CreateUser(context.Background(), user))
	token, _, err := e.app.Auth.GenerateJWT(user)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodGet, "/ready", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
}

func TestWorkOrderLifecycle(t *testing.T) {
	env := newTestEnv(t, false)

	var asset types.Asset
	rec := env.do(t, http.MethodPost, "/api/v1/assets", map[string]interface{}{
		"name": "North pump", "asset_tag": "PMP-001", "location": "Plant 1", "criticality": 4,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &asset)
	require.NotZero(t, asset.ID)

	// Prime the list cache so the create below must invalidate it
	var list page[types.WorkOrder]
	rec = env.do(t, http.MethodGet, "/api/v1/work-orders", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, 0, list.Total)

	var wo types.WorkOrder
	rec = env.do(t, http.MethodPost, "/api/v1/work-orders", map[string]interface{}{
		"title": "Seal leaking", "priority": "high", "category": "plumbing", "asset_id": asset.ID,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &wo)
	assert.Equal(t, types.StatusOpen, wo.Status)
	assert.Equal(t, types.SourceManual, wo.Source)
	assert.Equal(t, "system", wo.CreatedBy)

	rec = env.do(t, http.MethodGet, "/api/v1/work-orders?active=true", nil, "")
	decode(t, rec, &list)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, wo.ID, list.Items[0].ID)

	rec = env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/work-orders/%d", wo.ID), map[string]interface{}{
		"status": "in_progress", "assigned_to": "tech1",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &wo)
	assert.Equal(t, types.StatusInProgress, wo.Status)
	assert.Equal(t, "Seal leaking", wo.Title, "fields absent from the body are kept")

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/work-orders/%d/complete", wo.ID), map[string]interface{}{
		"resolution_notes": "Replaced the shaft seal",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &wo)
	assert.Equal(t, types.StatusCompleted, wo.Status)
	assert.NotNil(t, wo.CompletedAt)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/assets/%d/work-orders", asset.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &list)
	assert.Equal(t, 1, list.Total)

	rec = env.do(t, http.MethodGet, "/api/v1/work-orders?active=true", nil, "")
	decode(t, rec, &list)
	assert.Equal(t, 0, list.Total)

	// completed work orders feed the knowledge index
	assert.Equal(t, 1, env.app.Knowledge.Count())

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/work-orders/%d", wo.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/work-orders/%d", wo.ID), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	entries, err := env.app.Store.ListAudit(context.Background(), 20)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 4)
}

func TestCompletingScheduledWorkOrderRefreshesSchedule(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	asset := &types.Asset{Name: "Compressor", AssetTag: "CMP-1", Criticality: 3}
	require.NoError(t, env.app.Store.CreateAsset(ctx, asset))
	sched := &types.MaintenanceSchedule{AssetID: asset.ID, Title: "Oil change", FrequencyDays: 90,
		Priority: types.PriorityMedium, NextDue: time.Now().Add(24 * time.Hour), Active: true}
	require.NoError(t, env.app.Store.CreateSchedule(ctx, sched))

	tests := []struct {
		name     string
		complete func(t *testing.T, woID int64)
	}{
		{"put status", func(t *testing.T, woID int64) {
			rec := env.do(t, http.MethodPut, fmt.Sprintf("/api/v1/work-orders/%d", woID),
				map[string]interface{}{"status": "completed"}, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}},
		{"voice", func(t *testing.T, woID int64) {
			rec := env.do(t, http.MethodPost, "/api/v1/voice/work-orders",
				map[string]interface{}{"transcript": fmt.Sprintf("Mark work order %d as completed", woID)}, "")
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wo := &types.WorkOrder{Title: "PM: Oil change", AssetID: &asset.ID, ScheduleID: &sched.ID, Source: types.SourceSchedule}
			require.NoError(t, env.app.Store.CreateWorkOrder(ctx, wo))
			sched.LastCompleted = nil
			require.NoError(t, env.app.Store.UpdateSchedule(ctx, sched))
			env.server.schedules.Invalidate(ctx)

			// Prime the schedule cache before completing
			var before types.MaintenanceSchedule
			rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/schedules/%d", sched.ID), nil, "")
			require.Equal(t, http.StatusOK, rec.Code)
			decode(t, rec, &before)
			require.Nil(t, before.LastCompleted)

			tt.complete(t, wo.ID)

			var after types.MaintenanceSchedule
			rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/schedules/%d", sched.ID), nil, "")
			require.Equal(t, http.StatusOK, rec.Code)
			decode(t, rec, &after)
			assert.NotNil(t, after.LastCompleted, "schedule read must not be served from a stale cache")
		})
	}
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodPost, "/api/v1/assets", map[string]interface{}{"name": "Chiller", "asset_tag": "CHL-1"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"missing work order", http.MethodGet, "/api/v1/work-orders/999", nil, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"missing title", http.MethodPost, "/api/v1/work-orders", map[string]interface{}{"priority": "high"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown asset", http.MethodPost, "/api/v1/work-orders", map[string]interface{}{"title": "x", "asset_id": 42}, http.StatusBadRequest, "INVALID_REFERENCE"},
		{"duplicate asset tag", http.MethodPost, "/api/v1/assets", map[string]interface{}{"name": "Chiller 2", "asset_tag": "CHL-1"}, http.StatusConflict, "RESOURCE_CONFLICT"},
		{"bad status filter", http.MethodGet, "/api/v1/work-orders?status=bogus", nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown route", http.MethodGet, "/api/v1/nothing-here", nil, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body, "")
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode(t, rec, nil)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	t.Run("content type required", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/work-orders", strings.NewReader(`{"title":"x"}`))
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t, true)
	viewer := env.token(t, "viewer1", types.RoleViewer)
	tech := env.token(t, "tech1", types.RoleTechnician)
	admin := env.token(t, "admin1", types.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/v1/work-orders", nil, "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/work-orders", nil, viewer).Code)

	body := map[string]interface{}{"title": "Lights out in bay 3"}
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/v1/work-orders", body, viewer).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/work-orders", body, tech)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var wo types.WorkOrder
	decode(t, rec, &wo)
	assert.Equal(t, "tech1", wo.CreatedBy)

	path := fmt.Sprintf("/api/v1/work-orders/%d", wo.ID)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, path, nil, tech).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/v1/users", nil, tech).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/api/v1/settings", nil, tech).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/users", nil, admin).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, path, nil, admin).Code)
}

func TestUsers_SelfProtection(t *testing.T) {
	env := newTestEnv(t, true)
	admin := env.token(t, "admin1", types.RoleAdmin)

	var me types.User
	rec := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, admin)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &me)

	path := fmt.Sprintf("/api/v1/users/%d", me.ID)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodPut, path, map[string]interface{}{"role": "viewer"}, admin).Code)
	assert.Equal(t, http.StatusConflict, env.do(t, http.MethodDelete, path, nil, admin).Code)

	rec = env.do(t, http.MethodPost, "/api/v1/users", map[string]interface{}{"username": "newtech", "email": "newtech@example.com"}, admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "password is required")

	rec = env.do(t, http.MethodPost, "/api/v1/users", map[string]interface{}{
		"username": "newtech", "email": "newtech@example.com", "password": "long-enough-pw",
	}, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	var created types.User
	decode(t, rec, &created)
	assert.Equal(t, types.RoleTechnician, created.Role)
}

func TestPartAdjustAndLowStockAlert(t *testing.T) {
	env := newTestEnv(t, false)

	var part types.Part
	rec := env.do(t, http.MethodPost, "/api/v1/parts", map[string]interface{}{
		"part_number": "BRG-6204", "name": "Bearing 6204", "quantity": 5, "min_quantity": 2,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &part)

	adjust := fmt.Sprintf("/api/v1/parts/%d/adjust", part.ID)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, adjust, map[string]interface{}{"delta": 0}, "").Code)

	rec = env.do(t, http.MethodPost, adjust, map[string]interface{}{"delta": -10}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", decode(t, rec, nil).Error.Code)

	rec = env.do(t, http.MethodPost, adjust, map[string]interface{}{"delta": -4, "reason": "PM job"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &part)
	assert.Equal(t, 1, part.Quantity)

	var lowStock struct {
		Count int `json:"count"`
		Items []struct {
			Part            types.Part `json:"part"`
			ReorderQuantity int        `json:"reorder_quantity"`
		} `json:"items"`
	}
	rec = env.do(t, http.MethodGet, "/api/v1/parts/low-stock", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &lowStock)
	require.Equal(t, 1, lowStock.Count)
	assert.Equal(t, 3, lowStock.Items[0].ReorderQuantity)

	active := env.app.Alerts.GetActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "low-stock", active[0].RuleID)

	rec = env.do(t, http.MethodPost, "/api/v1/alerts/"+active[0].ID+"/resolve", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.app.Alerts.GetActiveAlerts())
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/v1/alerts/missing/resolve", nil, "").Code)
}

func TestVoiceCommands(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/v1/voice/work-orders", map[string]interface{}{
		"transcript": "The conveyor belt on line 2 is broken",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var result voice.Result
	decode(t, rec, &result)
	require.NotNil(t, result.WorkOrder)
	assert.Equal(t, types.SourceVoice, result.WorkOrder.Source)
	assert.Equal(t, types.CategoryMechanical, result.WorkOrder.Category)

	rec = env.do(t, http.MethodPost, "/api/v1/voice/work-orders", map[string]interface{}{"transcript": "   "}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/voice/parse", map[string]interface{}{
		"transcript": "Mark work order 12 as completed",
	}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var intent voice.Intent
	decode(t, rec, &intent)
	assert.Equal(t, voice.ActionComplete, intent.Action)
	require.NotNil(t, intent.WorkOrderID)
	assert.Equal(t, int64(12), *intent.WorkOrderID)
}

func TestAIWithoutProviders(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/ai/providers", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"available":false`)

	rec = env.do(t, http.MethodPost, "/api/v1/ai/chat", map[string]interface{}{"message": "How do I reset the chiller?"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/grok/chat", map[string]interface{}{"prompt": "hello"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/ai/chat", map[string]interface{}{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKnowledgeSearch(t *testing.T) {
	env := newTestEnv(t, false)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/v1/knowledge/search", nil, "").Code)

	rec := env.do(t, http.MethodGet, "/api/v1/knowledge/search?q=pump+seal", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"matches":[]`)
}

func TestSettings_RedactionAndUpdate(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/settings", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got config.Config
	decode(t, rec, &got)
	assert.Equal(t, config.RedactedValue, got.Auth.JWTSecret)

	// Send the redacted document back with one change
	got.Autonomy.Mode = "off"
	rec = env.do(t, http.MethodPut, "/api/v1/settings", got, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current := env.app.Settings.GetSettings()
	assert.Equal(t, "off", current.Autonomy.Mode)
	assert.Equal(t, "test-jwt-secret", current.Auth.JWTSecret)

	rec = env.do(t, http.MethodPut, "/api/v1/settings", map[string]interface{}{"server_port": 0}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "off", env.app.Settings.GetSettings().Autonomy.Mode)
}

func TestAPIDocs(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/docs", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var docs struct {
		Routes  []Route                    `json:"routes"`
		Schemas map[string]json.RawMessage `json:"schemas"`
	}
	decode(t, rec, &docs)

	paths := map[string][]string{}
	for _, r := range docs.Routes {
		paths[r.Path] = r.Methods
	}
	assert.ElementsMatch(t, []string{"GET", "POST"}, paths["/api/v1/work-orders"])
	assert.Contains(t, paths, "/api/v1/parts/{id:[0-9]+}/adjust")
	assert.Contains(t, docs.Schemas, "WorkOrder")
	assert.Contains(t, string(docs.Schemas["WorkOrder"]), "asset_id")
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `id="login-form"`)

	tech := env.token(t, "tech1", types.RoleTechnician)
	rec = env.do(t, http.MethodPost, "/api/v1/work-orders", map[string]interface{}{"title": "Boiler pressure low", "priority": "critical"}, tech)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/", nil, tech)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `id="login-form"`)
	assert.Contains(t, rec.Body.String(), "Boiler pressure low")

	rec = env.do(t, http.MethodGet, "/api/v1/dashboard/summary", nil, tech)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	decode(t, rec, &summary)
	require.NotNil(t, summary.Stats)
	assert.Equal(t, 1, summary.Stats.OpenWorkOrders)
	assert.Equal(t, 1, summary.Stats.CriticalOpen)
	assert.Equal(t, 1, summary.ActiveAlerts, "critical work orders raise an alert")

	rec = env.do(t, http.MethodGet, "/static/dashboard.css", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBackgroundEventsInvalidateCache(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	var list page[types.WorkOrder]
	decode(t, env.do(t, http.MethodGet, "/api/v1/work-orders", nil, ""), &list)
	require.Equal(t, 0, list.Total)

	wo := &types.WorkOrder{Title: "Quarterly PM: compressor", Source: types.SourceSchedule}
	require.NoError(t, env.app.Store.CreateWorkOrder(ctx, wo))

	decode(t, env.do(t, http.MethodGet, "/api/v1/work-orders", nil, ""), &list)
	assert.Equal(t, 0, list.Total, "served from cache")

	env.app.Bus.Publish(ctx, events.New(events.ScheduleTriggered, "scheduler", map[string]interface{}{"work_order_id": wo.ID}))

	decode(t, env.do(t, http.MethodGet, "/api/v1/work-orders", nil, ""), &list)
	assert.Equal(t, 1, list.Total)
}
