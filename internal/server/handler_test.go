package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cryptodefiza-create/content-machine/internal/dedupe"
	"github.com/cryptodefiza-create/content-machine/internal/export"
	"github.com/cryptodefiza-create/content-machine/internal/llm"
	"github.com/cryptodefiza-create/content-machine/internal/persona"
	"github.com/cryptodefiza-create/content-machine/internal/pipeline"
	"github.com/cryptodefiza-create/content-machine/internal/queue"
	"github.com/cryptodefiza-create/content-machine/internal/scout"
	"github.com/cryptodefiza-create/content-machine/internal/telemetry"
)

type cannedGateway struct{}

func (cannedGateway) Generate(ctx context.Context, runID, stage, personaKey, prompt string) (*llm.Result, error) {
	var data map[string]interface{}
	switch stage {
	case pipeline.StageScout:
		data = map[string]interface{}{"summary": "summary"}
	case pipeline.StageIdeate:
		data = map[string]interface{}{
			"angles": []interface{}{"angle"},
			"hooks":  []interface{}{"hook"},
			"ctas":   []interface{}{"cta"},
		}
	default:
		data = map[string]interface{}{
			"content": fmt.Sprintf("A sharp take for %s on %s. What would change your mind?", personaKey, prompt[:20]),
		}
	}
	return &llm.Result{Data: data, PromptTokens: 10, CompletionTokens: 5, Cost: 0.0001}, nil
}

const personaYAML = `version: 1
personas:
  alice:
    name: Alice
    bio: DeFi researcher
    tone:
      serious: 0.7
`

func setupRouter(t *testing.T) (*gin.Engine, *queue.Store) {
	router, store, _ := setupRouterTracker(t)
	return router, store
}

func setupRouterTracker(t *testing.T) (*gin.Engine, *queue.Store, *telemetry.Tracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	personaPath := filepath.Join(dir, "personas.yml")
	require.NoError(t, os.WriteFile(personaPath, []byte(personaYAML), 0o644))
	personas, err := persona.LoadStore(personaPath)
	require.NoError(t, err)

	store, err := queue.Open(filepath.Join(dir, "queue.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p, err := pipeline.New(pipeline.Options{
		Gateway:  cannedGateway{},
		Dedupe:   dedupe.New(0.82, 7),
		Queue:    store,
		Personas: personas,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	exporter := export.New(export.Options{Enabled: true, ExportDir: filepath.Join(dir, "exports")}, zap.NewNop())
	scanner := scout.NewScanner(scout.Options{}, zap.NewNop())
	tracker, err := telemetry.NewTracker(filepath.Join(dir, "telemetry", "usage.jsonl"))
	require.NoError(t, err)

	router := gin.New()
	NewHandler(p, store, exporter, scanner, tracker, zap.NewNop()).RegisterRoutes(router)
	return router, store, tracker
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t)
	w := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGenerateApproveExportFlow(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/generate", gin.H{
		"topics":   []string{"Chainlink x SWIFT settlement pilot"},
		"personas": []string{"alice"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var run pipeline.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	require.Equal(t, 1, run.Queued)
	id := run.Pairs[0].QueueID
	require.NotEmpty(t, id)

	w = doJSON(t, router, http.MethodPost, "/api/v1/queue/"+id+"/approve", gin.H{"actor": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/queue/"+id+"/approve", gin.H{"actor": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/queue/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var exported struct {
		CSVPath string `json:"csv_path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exported))
	assert.FileExists(t, exported.CSVPath)

	w = doJSON(t, router, http.MethodPost, "/api/v1/runs/"+run.RunID+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"exported":1`)
}

func TestExportRequiresApproval(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/generate", gin.H{
		"topics": []string{"L2 fee markets after 4844"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var run pipeline.RunResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	id := run.Pairs[0].QueueID

	w = doJSON(t, router, http.MethodPost, "/api/v1/queue/"+id+"/export", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/queue/unknown-id/export", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPendingAndStats(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/generate", gin.H{
		"topics": []string{"restaking risks nobody prices in"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Equal(t, 1, pending.Count)

	w = doJSON(t, router, http.MethodGet, "/api/v1/queue/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "\"dry_run\"")
}

func TestDryRunToggle(t *testing.T) {
	router, store := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/dryrun", gin.H{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "true")

	w = doJSON(t, router, http.MethodPost, "/api/v1/generate", gin.H{
		"topics": []string{"a dry run topic that queues nothing"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestGenerateValidation(t *testing.T) {
	router, _ := setupRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/generate", gin.H{"topics": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/generate", gin.H{
		"topics":   []string{"valid topic text here"},
		"personas": []string{"ghost"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunUsageSummarizesTrackedCalls(t *testing.T) {
	router, _, tracker := setupRouterTracker(t)

	require.NoError(t, tracker.Record(telemetry.UsageRecord{
		RunID: "run42", Stage: "draft", PromptTokens: 100, CompletionTokens: 40, Cost: 0.002,
	}))
	require.NoError(t, tracker.Record(telemetry.UsageRecord{
		RunID: "run42", Stage: "scout", PromptTokens: 50, CompletionTokens: 10, Cost: 0.001, Cached: true,
	}))
	require.NoError(t, tracker.Record(telemetry.UsageRecord{
		RunID: "other", Stage: "draft", PromptTokens: 999, Cost: 9,
	}))

	w := doJSON(t, router, http.MethodGet, "/api/v1/runs/run42/usage", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var usage struct {
		RunID            string  `json:"run_id"`
		Calls            int     `json:"calls"`
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		Cost             float64 `json:"cost"`
		CacheHits        int     `json:"cache_hits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &usage))
	assert.Equal(t, "run42", usage.RunID)
	assert.Equal(t, 2, usage.Calls)
	assert.Equal(t, 150, usage.PromptTokens)
	assert.Equal(t, 50, usage.CompletionTokens)
	assert.InDelta(t, 0.003, usage.Cost, 1e-9)
	assert.Equal(t, 1, usage.CacheHits)
}
