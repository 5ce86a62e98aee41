package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"solana-trading-bot/internal/database"
	"solana-trading-bot/internal/position"
)

func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	storeStatus := "ok"
	if err := s.store.HealthCheck(c.Request.Context()); err != nil {
		status = http.StatusServiceUnavailable
		storeStatus = err.Error()
	}
	c.JSON(status, gin.H{
		"status": storeStatus,
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleListPositions(c *gin.Context) {
	positions, err := s.store.GetAllOpen(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     len(positions),
		"positions": positions,
	})
}

func (s *Server) handleGetPosition(c *gin.Context) {
	mint := c.Param("mint")
	pos, err := s.store.Get(c.Request.Context(), mint)
	if err != nil {
		if errors.Is(err, database.ErrPositionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) handleListAttempts(c *gin.Context) {
	if s.attempts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit database not configured"})
		return
	}
	mint := c.Param("mint")
	attempts, err := s.attempts.AttemptsForMint(c.Request.Context(), mint)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mint":     mint,
		"count":    len(attempts),
		"attempts": attempts,
	})
}

func (s *Server) handlePositionStats(c *gin.Context) {
	positions, err := s.store.GetAllOpen(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	var exposure, totalPnL float64
	profitable := 0
	for _, p := range positions {
		exposure += p.PositionSize
		totalPnL += p.PnL
		if p.PnLPercent > 0 {
			profitable++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"open_positions":     len(positions),
		"profitable":         profitable,
		"total_exposure_sol": exposure,
		"unrealized_pnl_sol": totalPnL,
	})
}

func (s *Server) handleListEndpoints(c *gin.Context) {
	if s.rpcMgr == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "endpoint manager not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": s.rpcMgr.Statuses()})
}

// commandRequest is the inbound command payload.
type commandRequest struct {
	Action            string   `json:"action" binding:"required"`
	TargetMint        string   `json:"target_mint"`
	Reason            string   `json:"reason"`
	Source            string   `json:"source"`
	TakeProfitPercent *float64 `json:"take_profit_percent"`
	StopLossPercent   *float64 `json:"stop_loss_percent"`
	StrategyTag       string   `json:"strategy_tag"`
	Resume            bool     `json:"resume"`
}

func (s *Server) handlePostCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := position.CommandAction(req.Action)
	if !action.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action: " + req.Action})
		return
	}
	if (action == position.ActionClosePosition || action == position.ActionAdjustTarget) && req.TargetMint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_mint required for " + req.Action})
		return
	}
	if action == position.ActionPauseStrategy && req.StrategyTag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "strategy_tag required for " + req.Action})
		return
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	cmd := position.Command{
		ID:                uuid.NewString(),
		TargetMint:        req.TargetMint,
		Action:            action,
		Reason:            req.Reason,
		Source:            source,
		IssuedAt:          time.Now(),
		TakeProfitPercent: req.TakeProfitPercent,
		StopLossPercent:   req.StopLossPercent,
		StrategyTag:       req.StrategyTag,
		Resume:            req.Resume,
	}

	if err := s.store.PushCommand(c.Request.Context(), cmd); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info("Command queued",
		"id", cmd.ID, "action", string(cmd.Action), "mint", cmd.TargetMint, "source", cmd.Source)
	c.JSON(http.StatusAccepted, gin.H{"id": cmd.ID, "status": "queued"})
}
