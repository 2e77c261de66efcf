package handlers

import (
	"errors"
	"net/http"

	"simboard/models"
	"simboard/services"

	"github.com/gin-gonic/gin"
)

type SessionHandler struct {
	sessions *services.SessionService
	registry *services.Registry
}

func NewSessionHandler(sessions *services.SessionService, registry *services.Registry) *SessionHandler {
	return &SessionHandler{sessions: sessions, registry: registry}
}

// errStatus maps service errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrSessionNotFound), errors.Is(err, services.ErrTeamNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrPrecondition), errors.Is(err, services.ErrUnsavedSession):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNavigationInFlight):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidPasscode):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func hostID(c *gin.Context) (uint, bool) {
	id, exists := c.Get("host_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Host not authenticated"})
		return 0, false
	}
	return id.(uint), true
}

// ownSession resolves the :id param and verifies the authenticated
// host owns the session.
func (h *SessionHandler) ownSession(c *gin.Context) (*models.Session, bool) {
	host, ok := hostID(c)
	if !ok {
		return nil, false
	}

	id, err := services.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}

	session, err := h.sessions.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}
	if session.HostID != host {
		c.JSON(http.StatusNotFound, gin.H{"error": services.ErrSessionNotFound.Error()})
		return nil, false
	}
	return session, true
}

type createDraftRequest struct {
	DeckID string `json:"deck_id" binding:"required"`
}

func (h *SessionHandler) CreateDraft(c *gin.Context) {
	host, ok := hostID(c)
	if !ok {
		return
	}

	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessions.CreateDraft(c.Request.Context(), host, req.DeckID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) SaveWizard(c *gin.Context) {
	session, ok := h.ownSession(c)
	if !ok {
		return
	}

	var partial models.JSONMap
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.sessions.SaveWizardProgress(c.Request.Context(), session.ID, partial); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Wizard progress saved"})
}

func (h *SessionHandler) Finalize(c *gin.Context) {
	session, ok := h.ownSession(c)
	if !ok {
		return
	}

	var req services.FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.sessions.Finalize(c.Request.Context(), session.ID, &req)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

type createActiveRequest struct {
	DeckID string `json:"deck_id" binding:"required"`
	services.FinalizeRequest
}

func (h *SessionHandler) CreateActive(c *gin.Context) {
	host, ok := hostID(c)
	if !ok {
		return
	}

	var req createActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessions.CreateActive(c.Request.Context(), host, req.DeckID, &req.FinalizeRequest)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	host, ok := hostID(c)
	if !ok {
		return
	}

	buckets, err := h.sessions.ListForHost(c.Request.Context(), host)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, buckets)
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, ok := h.ownSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) Update(c *gin.Context) {
	if _, ok := h.ownSession(c); !ok {
		return
	}

	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.sessions.Update(c.Request.Context(), c.Param("id"), fields)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *SessionHandler) Reset(c *gin.Context) {
	session, ok := h.ownSession(c)
	if !ok {
		return
	}

	updated, err := h.sessions.ResetProgress(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}

	// Re-point the running orchestrator, if any, at the rewound
	// session so its consequence guard starts fresh.
	if rt, err := h.registry.Get(c.Request.Context(), session.ID); err == nil {
		if err := rt.Orchestrator.LoadSession(c.Request.Context(), session.ID); err != nil {
			c.JSON(errStatus(err), gin.H{"error": err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, updated)
}

func (h *SessionHandler) Complete(c *gin.Context) {
	session, ok := h.ownSession(c)
	if !ok {
		return
	}

	updated, err := h.sessions.Complete(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	session, ok := h.ownSession(c)
	if !ok {
		return
	}

	h.registry.Close(session.ID)
	if err := h.sessions.Delete(c.Request.Context(), session.ID); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

// Status is the public lightweight probe; it never reports an error,
// only exists=false.
func (h *SessionHandler) Status(c *gin.Context) {
	id, err := services.ParseSessionID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusOK, services.SessionStatus{Exists: false})
		return
	}
	c.JSON(http.StatusOK, h.sessions.Status(c.Request.Context(), id))
}

// runtime resolves the owned session's runtime.
func (h *SessionHandler) runtime(c *gin.Context) (*services.Runtime, bool) {
	session, ok := h.ownSession(c)
	if !ok {
		return nil, false
	}

	rt, err := h.registry.Get(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return nil, false
	}
	return rt, true
}

func (h *SessionHandler) Advance(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}

	if err := rt.Orchestrator.Advance(c.Request.Context()); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rt.Orchestrator.Session())
}

func (h *SessionHandler) Retreat(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}

	if err := rt.Orchestrator.Retreat(c.Request.Context()); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rt.Orchestrator.Session())
}

type jumpRequest struct {
	Index *int `json:"index" binding:"required"`
}

func (h *SessionHandler) Jump(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}

	var req jumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := rt.Orchestrator.JumpTo(c.Request.Context(), *req.Index); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rt.Orchestrator.Session())
}

type playRequest struct {
	Playing *bool `json:"playing" binding:"required"`
}

func (h *SessionHandler) SetPlaying(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}

	var req playRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := rt.Orchestrator.SetPlaying(c.Request.Context(), *req.Playing); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rt.Orchestrator.Session())
}

type notesRequest struct {
	Text string `json:"text"`
}

func (h *SessionHandler) UpdateNotes(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}

	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := rt.Orchestrator.UpdateHostNotes(c.Request.Context(), req.Text); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Notes updated"})
}

func (h *SessionHandler) DismissAlert(c *gin.Context) {
	rt, ok := h.runtime(c)
	if !ok {
		return
	}

	if err := rt.Orchestrator.DismissAlert(c.Request.Context()); err != nil {
		c.JSON(errStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rt.Orchestrator.Session())
}
