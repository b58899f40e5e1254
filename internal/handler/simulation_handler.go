package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"services/trading-simulation-service/internal/model"
	"services/trading-simulation-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SimulationHandler handles simulation HTTP requests
type SimulationHandler struct {
	simulationService *service.SimulationService
	logger            *zap.Logger
}

// NewSimulationHandler creates a new simulation handler
func NewSimulationHandler(simulationService *service.SimulationService, logger *zap.Logger) *SimulationHandler {
	return &SimulationHandler{
		simulationService: simulationService,
		logger:            logger,
	}
}

// ListAgents handles listing the available AI agents
func (h *SimulationHandler) ListAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": h.simulationService.ListAgents()})
}

// CreateSimulation handles creating a new simulation
func (h *SimulationHandler) CreateSimulation(c *gin.Context) {
	var request model.SimulationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	sim, err := h.simulationService.CreateSimulation(c.Request.Context(), userID.(int), &request)
	if err != nil {
		h.logger.Error("Failed to create simulation",
			zap.Error(err),
			zap.Int("userID", userID.(int)),
			zap.String("symbol", request.Symbol))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sim)
}

// StartSimulation handles dispatching a pending simulation to a worker
func (h *SimulationHandler) StartSimulation(c *gin.Context) {
	h.transition(c, "start", h.simulationService.StartSimulation)
}

// PauseSimulation handles pausing a running simulation
func (h *SimulationHandler) PauseSimulation(c *gin.Context) {
	h.transition(c, "pause", h.simulationService.PauseSimulation)
}

// ResumeSimulation handles re-dispatching a paused simulation
func (h *SimulationHandler) ResumeSimulation(c *gin.Context) {
	h.transition(c, "resume", h.simulationService.ResumeSimulation)
}

// StopSimulation handles stopping a simulation
func (h *SimulationHandler) StopSimulation(c *gin.Context) {
	h.transition(c, "stop", h.simulationService.StopSimulation)
}

// GetSimulation handles retrieving one simulation with its trades
func (h *SimulationHandler) GetSimulation(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}

	sim, trades, err := h.simulationService.GetSimulation(c.Request.Context(), id, userID)
	if err != nil {
		h.renderError(c, err, "Failed to get simulation", id, userID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"simulation": sim,
		"trades":     trades,
	})
}

// GetSimulationTrades handles retrieving a simulation's trade history
func (h *SimulationHandler) GetSimulationTrades(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}

	trades, err := h.simulationService.GetSimulationTrades(c.Request.Context(), id, userID)
	if err != nil {
		h.renderError(c, err, "Failed to get simulation trades", id, userID)
		return
	}

	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

// ListSimulations handles listing a user's simulations
func (h *SimulationHandler) ListSimulations(c *gin.Context) {
	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var query model.SimulationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sims, total, err := h.simulationService.ListSimulations(c.Request.Context(), userID.(int), &query)
	if err != nil {
		h.logger.Error("Failed to list simulations",
			zap.Error(err),
			zap.Int("userID", userID.(int)))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve simulations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"simulations": sims,
		"meta": gin.H{
			"total": total,
			"page":  query.Page,
			"limit": query.Limit,
		},
	})
}

// DeleteSimulation handles deleting a simulation and its trades
func (h *SimulationHandler) DeleteSimulation(c *gin.Context) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}

	if err := h.simulationService.DeleteSimulation(c.Request.Context(), id, userID); err != nil {
		h.renderError(c, err, "Failed to delete simulation", id, userID)
		return
	}

	c.Status(http.StatusNoContent)
}

// transition runs one lifecycle command and renders the updated record
func (h *SimulationHandler) transition(
	c *gin.Context,
	command string,
	fn func(ctx context.Context, id, userID int) (*model.Simulation, error),
) {
	id, userID, ok := h.idAndUser(c)
	if !ok {
		return
	}

	sim, err := fn(c.Request.Context(), id, userID)
	if err != nil {
		h.renderError(c, err, "Failed to "+command+" simulation", id, userID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"simulation": sim,
		"message":    "Simulation " + command + " accepted",
	})
}

// idAndUser extracts the path ID and authenticated user from the request
func (h *SimulationHandler) idAndUser(c *gin.Context) (int, int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid simulation ID"})
		return 0, 0, false
	}

	userID, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return 0, 0, false
	}

	return id, userID.(int), true
}

// renderError maps service errors onto HTTP status codes
func (h *SimulationHandler) renderError(c *gin.Context, err error, msg string, id, userID int) {
	switch {
	case errors.Is(err, service.ErrSimulationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Simulation not found"})
	case errors.Is(err, service.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg,
			zap.Error(err),
			zap.Int("id", id),
			zap.Int("userID", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
