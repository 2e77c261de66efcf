package handlers

import (
	"net/http"
	"strconv"

	"simboard/services"

	"github.com/gin-gonic/gin"
)

type TeamHandler struct {
	decisions *services.DecisionService
	registry  *services.Registry
}

func NewTeamHandler(decisions *services.DecisionService, registry *services.Registry) *TeamHandler {
	return &TeamHandler{decisions: decisions, registry: registry}
}

func (h *TeamHandler) sessionRuntime(c *gin.Context) (*services.Runtime, bool) {
	id, err := services.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}

	rt, err := h.registry.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}
	return rt, true
}

func (h *TeamHandler) ListTeams(c *gin.Context) {
	rt, ok := h.sessionRuntime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rt.Reconciler.Teams())
}

// SubmitDecision is the team-facing write: passcode-checked, no host
// token.
func (h *TeamHandler) SubmitDecision(c *gin.Context) {
	id, err := services.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}

	var req services.SubmitDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.decisions.Submit(c.Request.Context(), id, &req)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decision)
}

// ResetDecision removes one team's decision for one phase. Records
// under any other phase key, including the same round's immediate
// purchase, are untouched.
func (h *TeamHandler) ResetDecision(c *gin.Context) {
	rt, ok := h.sessionRuntime(c)
	if !ok {
		return
	}

	teamID, err := strconv.ParseUint(c.Param("teamId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid team id"})
		return
	}
	phaseID := c.Param("phaseId")

	if err := rt.Reconciler.ResetDecision(c.Request.Context(), c.Param("id"), uint(teamID), phaseID); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Decision reset"})
}

func (h *TeamHandler) GetDecisions(c *gin.Context) {
	rt, ok := h.sessionRuntime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rt.Reconciler.Decisions())
}

func (h *TeamHandler) GetRoundData(c *gin.Context) {
	rt, ok := h.sessionRuntime(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rt.Reconciler.RoundData())
}
