package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/civictriage/backend/internal/apperrors"
	"github.com/civictriage/backend/internal/middleware"
	"github.com/civictriage/backend/internal/services"
	"github.com/civictriage/backend/pkg/logger"
	"github.com/civictriage/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

// IssueHandler serves citizen submission and the officer issue workflows.
type IssueHandler struct {
	issues         *services.IssueService
	classifier     *services.ClassificationService
	assist         *services.AssistService
	feedback       *services.FeedbackService
	images         services.ImageStore
	maxUploadBytes int64
}

func NewIssueHandler(
	issues *services.IssueService,
	classifier *services.ClassificationService,
	assist *services.AssistService,
	feedback *services.FeedbackService,
	images services.ImageStore,
	maxUploadBytes int64,
) *IssueHandler {
	return &IssueHandler{
		issues:         issues,
		classifier:     classifier,
		assist:         assist,
		feedback:       feedback,
		images:         images,
		maxUploadBytes: maxUploadBytes,
	}
}

// Coordinates bind as text so a non-numeric value becomes a field error
// instead of a bind failure; ranges are checked by SubmitInput.Validate.
type submitForm struct {
	Title       string `form:"title" binding:"required,min=3,max=255"`
	Description string `form:"description" binding:"required,min=10"`
	Latitude    string `form:"latitude" binding:"required"`
	Longitude   string `form:"longitude" binding:"required"`
}

// parseCoordinate records a field error unless raw is a number. Missing
// values were already reported by binding.
func parseCoordinate(fields map[string]string, name, raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fields[name] = "must be a number"
		return 0
	}
	return v
}

// Submit accepts a citizen report with a photo.
// POST /api/issues (multipart/form-data)
func (h *IssueHandler) Submit(c *gin.Context) {
	var form submitForm
	fields := map[string]string{}
	if err := c.ShouldBind(&form); err != nil {
		verrs, ok := bindingFields(err)
		if !ok {
			response.BadRequest(c, err.Error())
			return
		}
		fields = verrs
	}

	file, err := c.FormFile("file")
	switch {
	case err != nil:
		fields["file"] = "an image is required"
	case !strings.HasPrefix(file.Header.Get("Content-Type"), "image/"):
		fields["file"] = "must be an image"
	case h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes:
		fields["file"] = "image is too large"
	}

	in := services.SubmitInput{
		Title:       form.Title,
		Description: form.Description,
		Latitude:    parseCoordinate(fields, "latitude", form.Latitude),
		Longitude:   parseCoordinate(fields, "longitude", form.Longitude),
	}
	// cheap checks first so a bad form never writes a file
	var ve *apperrors.ValidationError
	if err := in.Validate(); errors.As(err, &ve) {
		for name, msg := range ve.Fields {
			if _, seen := fields[name]; !seen {
				fields[name] = msg
			}
		}
	}
	if len(fields) > 0 {
		response.ValidationFailed(c, fields)
		return
	}

	src, err := file.Open()
	if err != nil {
		response.BadRequest(c, "cannot read uploaded image")
		return
	}
	defer src.Close()

	ctx := c.Request.Context()
	url, err := h.images.Save(ctx, file.Filename, src)
	if err != nil {
		fail(c, err)
		return
	}
	in.ImageURL = url

	issue, err := h.issues.Submit(ctx, in)
	if err != nil {
		if delErr := h.images.Delete(ctx, url); delErr != nil {
			logger.Warn().Err(delErr).Str("image_url", url).Msg("[Issue] Failed to remove orphaned image")
		}
		fail(c, err)
		return
	}

	response.Created(c, issue)
}

type listQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Status   string `form:"status"`
	Category string `form:"category"`
	Severity string `form:"severity"`
	Keyword  string `form:"keyword"`
}

// List returns paginated issues, newest first.
// GET /api/issues
func (h *IssueHandler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badBinding(c, err)
		return
	}

	result, err := h.issues.List(c.Request.Context(), services.IssueListParams{
		Page:     q.Page,
		PageSize: q.PageSize,
		Status:   q.Status,
		Category: q.Category,
		Severity: q.Severity,
		Keyword:  q.Keyword,
	})
	if err != nil {
		fail(c, err)
		return
	}

	page, size := q.Page, q.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	response.Paged(c, result.Items, result.Total, page, size)
}

// GET /api/issues/:id
func (h *IssueHandler) Get(c *gin.Context) {
	issue, err := h.issues.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, issue)
}

// Update edits status and labels.
// PATCH /api/issues/:id
func (h *IssueHandler) Update(c *gin.Context) {
	var req services.IssueUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	issue, err := h.issues.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, issue)
}

// Analyze runs retrieval-augmented classification.
// POST /api/issues/:id/analyze
func (h *IssueHandler) Analyze(c *gin.Context) {
	result, err := h.classifier.Classify(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, result)
}

// Accept keeps the AI labels and moves the issue to in_progress.
// POST /api/issues/:id/accept
func (h *IssueHandler) Accept(c *gin.Context) {
	issue, err := h.issues.Accept(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, issue)
}

type correctRequest struct {
	Category string `json:"category" binding:"required"`
	Severity string `json:"severity" binding:"required"`
}

// Correct overrides the AI labels and records feedback.
// POST /api/issues/:id/correct
func (h *IssueHandler) Correct(c *gin.Context) {
	var req correctRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBinding(c, err)
		return
	}

	issue, err := h.issues.Correct(c.Request.Context(), c.Param("id"), services.CorrectionInput{
		Category:  req.Category,
		Severity:  req.Severity,
		OfficerID: middleware.GetOfficerID(c),
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, issue)
}

// Plan suggests an action checklist.
// POST /api/issues/:id/plan
func (h *IssueHandler) Plan(c *gin.Context) {
	plan, err := h.assist.SuggestPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"issue_id": c.Param("id"), "plan": plan})
}

// Reply drafts a formal response to the citizen.
// POST /api/issues/:id/reply
func (h *IssueHandler) Reply(c *gin.Context) {
	reply, err := h.assist.DraftReply(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"issue_id": c.Param("id"), "reply": reply})
}

// Feedback lists the corrections recorded for an issue.
// GET /api/issues/:id/feedback
func (h *IssueHandler) Feedback(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.issues.Get(ctx, id); err != nil {
		fail(c, err)
		return
	}

	records, err := h.feedback.ListByIssue(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, records)
}
