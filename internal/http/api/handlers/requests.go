package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PromptLedger/internal/completion"
	"github.com/router-for-me/PromptLedger/internal/ledger"
	"github.com/router-for-me/PromptLedger/internal/models"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Completer forwards a prompt to the completion API and returns the generated text.
type Completer interface {
	Complete(ctx context.Context, model, prompt string, parameters map[string]any) (string, error)
}

// RequestHandler serves the prompt ledger endpoints.
type RequestHandler struct {
	ledger    *ledger.Ledger
	completer Completer
}

// NewRequestHandler constructs a RequestHandler.
func NewRequestHandler(l *ledger.Ledger, completer Completer) *RequestHandler {
	return &RequestHandler{ledger: l, completer: completer}
}

// createRequestRequest defines the request body for prompt submission.
// Prompt may be empty but must be present.
type createRequestRequest struct {
	Model      string          `json:"model" binding:"required,allowedmodel"`
	Prompt     *string         `json:"prompt" binding:"required,max=1000"`
	Parameters json.RawMessage `json:"parameters"`
}

// decodeParameters returns the parameters object, defaulting to empty when the
// field is absent. Any value other than a JSON object, null included, is rejected.
func decodeParameters(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return map[string]any{}, true
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return nil, false
	}
	parameters := map[string]any{}
	if errDecode := json.Unmarshal(raw, &parameters); errDecode != nil {
		return nil, false
	}
	return parameters, true
}

// Create forwards a prompt upstream and records the result for the caller.
func (h *RequestHandler) Create(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body createRequestRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		abortValidation(c, errBind)
		return
	}
	parameters, ok := decodeParameters(body.Parameters)
	if !ok {
		abortFieldErrors(c, []fieldError{{Field: "parameters", Message: "must be a JSON object"}})
		return
	}
	model := completion.NormalizeModel(body.Model)
	prompt := *body.Prompt

	// Once dispatched, the upstream call and the write that follows it run to completion
	// even if the client disconnects.
	ctx := context.WithoutCancel(c.Request.Context())

	text, errComplete := h.completer.Complete(ctx, model, prompt, parameters)
	if errComplete != nil {
		log.WithError(errComplete).WithFields(log.Fields{
			"user_id":  user.ID,
			"model":    model,
			"upstream": completion.IsUpstreamFailure(errComplete),
		}).Error("completion request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	row, errCreate := h.ledger.Create(ctx, user.ID, model, prompt, parameters, text)
	if errCreate != nil {
		log.WithError(errCreate).WithField("user_id", user.ID).Error("store request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Request created successfully!",
		"request_id": row.ID,
	})
}

// List returns the caller's requests in insertion order.
func (h *RequestHandler) List(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	rows, errList := h.ledger.ListByUser(c.Request.Context(), user.ID)
	if errList != nil {
		log.WithError(errList).WithField("user_id", user.ID).Error("list requests failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, requestView(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

// Get returns one request owned by the caller.
func (h *RequestHandler) Get(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	row, errFind := h.ledger.FindByID(c.Request.Context(), id)
	if errFind != nil {
		log.WithError(errFind).WithField("request_id", id).Error("load request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if row == nil || row.UserID != user.ID {
		c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
		return
	}
	c.JSON(http.StatusOK, requestView(row))
}

func requestView(row *models.Request) gin.H {
	parameters := map[string]any(row.Parameters)
	if parameters == nil {
		parameters = map[string]any{}
	}
	return gin.H{
		"id":         row.ID,
		"model":      row.Model,
		"prompt":     row.Prompt,
		"parameters": parameters,
		"response":   row.Response,
		"created_at": row.CreatedAt,
	}
}
