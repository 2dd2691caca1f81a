package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rawblock/persona-engine/internal/bank"
	"github.com/rawblock/persona-engine/internal/db"
	"github.com/rawblock/persona-engine/internal/engine"
	"github.com/rawblock/persona-engine/internal/replay"
	"github.com/rawblock/persona-engine/pkg/models"
)

type APIHandler struct {
	eng     *engine.Engine
	banks   *bank.Registry
	dbStore *db.PostgresStore
	wsHub   *Hub
}

func SetupRouter(eng *engine.Engine, banks *bank.Registry, dbStore *db.PostgresStore, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://app.example.com
	// Development: ALLOWED_ORIGINS=http://localhost:3000 (or leave empty for *)
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{eng: eng, banks: banks, dbStore: dbStore, wsHub: wsHub}

	limiter := NewRateLimiter(120, 30)

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware())
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/stream", wsHub.Subscribe)

		authed := api.Group("")
		authed.Use(AuthMiddleware())
		{
			authed.GET("/banks", handler.handleListBanks)

			authed.POST("/session", handler.handleInitSession)
			authed.GET("/session/:id", handler.handleGetSession)
			authed.POST("/session/:id/picks", handler.handleSetPicks)
			authed.GET("/session/:id/next", handler.handleNextQuestion)
			authed.POST("/session/:id/answer", handler.handleSubmitAnswer)
			authed.POST("/session/:id/finalize", handler.handleFinalize)
			authed.POST("/session/:id/abort", handler.handleAbort)
			authed.POST("/session/:id/pause", handler.handlePause)
			authed.POST("/session/:id/resume", handler.handleResume)
			authed.POST("/session/:id/save", handler.handleSaveSession)
			authed.POST("/session/:id/restore", handler.handleRestoreSession)

			authed.GET("/results", handler.handleRecentResults)
			authed.POST("/replay", handler.handleReplay)
		}
	}

	return r
}

// fail renders a coded engine error with its mapped HTTP status.
func fail(c *gin.Context, err error) {
	if e, ok := err.(*models.Error); ok {
		c.JSON(models.HTTPStatus(e.Code), gin.H{"error": e})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": err.Error()}})
}

// handleInitSession starts a session. The seed may be omitted, in which
// case the server mints one; deterministic replays must supply their own.
// POST /api/v1/session { "sessionSeed": "s1", "bankHash": "<64 hex>" }
func (h *APIHandler) handleInitSession(c *gin.Context) {
	var req struct {
		SessionSeed string `json:"sessionSeed"`
		BankHash    string `json:"bankHash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {sessionSeed?, bankHash}"})
		return
	}
	seed := req.SessionSeed
	if seed == "" {
		seed = uuid.NewString()
	}

	res, err := h.eng.InitSession(seed, req.BankHash)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": res, "sessionSeed": seed})
}

func (h *APIHandler) handleGetSession(c *gin.Context) {
	view, err := h.eng.Session(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleSetPicks records up to seven families of interest.
// POST /api/v1/session/:id/picks { "picks": ["Control", "Pace"] }
func (h *APIHandler) handleSetPicks(c *gin.Context) {
	var req struct {
		Picks []string `json:"picks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {picks}"})
		return
	}
	summary, err := h.eng.SetPicks(c.Param("id"), req.Picks)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *APIHandler) handleNextQuestion(c *gin.Context) {
	q, err := h.eng.NextQuestion(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// handleSubmitAnswer ingests one answer; resubmission with the same key is
// idempotent, a different key replaces the prior answer.
// POST /api/v1/session/:id/answer { "qid": "CTRL_Q1", "key": "A" }
func (h *APIHandler) handleSubmitAnswer(c *gin.Context) {
	var req struct {
		QID string `json:"qid"`
		Key string `json:"key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body. Expected: {qid, key}"})
		return
	}
	res, err := h.eng.SubmitAnswer(c.Param("id"), req.QID, req.Key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) handleFinalize(c *gin.Context) {
	res, err := h.eng.FinalizeSession(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	// Persist to DB if connected
	if h.dbStore != nil {
		if err := h.dbStore.SaveFinalSnapshot(context.Background(), res.Snapshot, res.SnapshotHash); err != nil {
			log.Printf("Failed to save final snapshot to DB: %v", err)
		}
	}
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) handleAbort(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req) // reason is optional
	state, err := h.eng.AbortSession(c.Param("id"), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *APIHandler) handlePause(c *gin.Context) {
	state, err := h.eng.Pause(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *APIHandler) handleResume(c *gin.Context) {
	state, err := h.eng.Resume(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// handleReplay runs a replay.v1 descriptor and reports MATCH/MISMATCH.
// POST /api/v1/replay { "schema": "replay.v1", "session_seed": ..., ... }
func (h *APIHandler) handleReplay(c *gin.Context) {
	var desc models.ReplayDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid replay descriptor"})
		return
	}
	res, err := replay.Run(h.banks, desc, nil)
	if err != nil {
		fail(c, err)
		return
	}

	if h.dbStore != nil {
		if err := h.dbStore.SaveReplayAudit(context.Background(), desc, res.ComputedHash, res.Match); err != nil {
			log.Printf("Failed to save replay audit to DB: %v", err)
		}
	}

	verdict := "MATCH"
	if !res.Match {
		verdict = "MISMATCH"
	}
	c.JSON(http.StatusOK, gin.H{"verdict": verdict, "result": res})
}

// requireDB guards the persistence-backed endpoints: they are only served
// when DATABASE_URL was configured at boot.
func (h *APIHandler) requireDB(c *gin.Context) bool {
	if h.dbStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Persistence is not configured. Set DATABASE_URL to enable this endpoint.",
		})
		return false
	}
	return true
}

// handleSaveSession serializes a live session into the session_records
// table so it survives a process restart.
// POST /api/v1/session/:id/save
func (h *APIHandler) handleSaveSession(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	rec, err := h.eng.SnapshotSession(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.dbStore.SaveSessionRecord(context.Background(), rec.SessionID, rec); err != nil {
		log.Printf("Failed to save session record to DB: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to persist session record"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessionId": rec.SessionID, "state": rec.State})
}

// handleRestoreSession loads a stored session record and installs it in the
// engine; the restored session continues exactly where it left off.
// POST /api/v1/session/:id/restore
func (h *APIHandler) handleRestoreSession(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	raw, err := h.dbStore.LoadSessionRecord(context.Background(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No stored record for this session"})
		return
	}
	var rec engine.SessionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		log.Printf("Stored session record %s does not decode: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stored session record does not decode"})
		return
	}
	if err := h.eng.RestoreSession(&rec); err != nil {
		fail(c, err)
		return
	}
	view, err := h.eng.Session(rec.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleRecentResults lists finalized sessions, newest first.
// GET /api/v1/results?page=1&limit=50
func (h *APIHandler) handleRecentResults(c *gin.Context) {
	if !h.requireDB(c) {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	results, total, err := h.dbStore.RecentFinalSnapshots(context.Background(), page, limit)
	if err != nil {
		log.Printf("Failed to list final snapshots: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list results"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"results":    results,
		"totalCount": total,
		"page":       page,
		"limit":      limit,
	})
}

func (h *APIHandler) handleListBanks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"banks": h.banks.Hashes()})
}

// handleHealth returns engine status and capabilities for service discovery
func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "operational",
		"engine": "Persona Assessment Engine v1.0",
		"capabilities": gin.H{
			"deterministic_schedule": true,
			"idempotent_answers":     true,
			"replay_v1":              true,
			"session_snapshots":      true,
		},
		"banksLoaded": len(h.banks.Hashes()),
		"dbConnected": h.dbStore != nil,
	})
}

// BroadcastEvent returns an EventSink pushing every engine event to the
// WebSocket hub and, when connected, the DB event log. Wired as the
// engine's Events callback; the DB write runs off the session lock.
func BroadcastEvent(wsHub *Hub, dbStore *db.PostgresStore) models.EventSink {
	return func(ev models.Event) {
		wsHub.BroadcastJSON(gin.H{"type": "engine_event", "event": ev})
		if dbStore != nil {
			go func() {
				if err := dbStore.SaveEvent(context.Background(), ev); err != nil {
					log.Printf("Failed to save event to DB: %v", err)
				}
			}()
		}
	}
}
