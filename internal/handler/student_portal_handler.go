package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/middleware"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/response"
	"github.com/stemsi/exam-portal/internal/service"
	"github.com/stemsi/exam-portal/internal/validator"
)

// StudentPortalHandler handles student-facing exam session endpoints.
type StudentPortalHandler struct {
	sessionService *service.ExamSessionService
	log            zerolog.Logger
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(sessionService *service.ExamSessionService, log zerolog.Logger) *StudentPortalHandler {
	return &StudentPortalHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "student_portal_handler").Logger(),
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}

// GetRegistration godoc
// GET /api/v1/student/exams/:exam_id/registration
// Resolves the caller's registration by account id, then application number.
func (h *StudentPortalHandler) GetRegistration(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}

	reg, err := h.sessionService.ResolveRegistration(c.Request.Context(), examID, middleware.MustStudent(c))
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"registration": reg})
}

// GetExamState godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns state, server deadline and saved drafts. Covers page reloads.
func (h *StudentPortalHandler) GetExamState(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}

	view, err := h.sessionService.GetSessionState(c.Request.Context(), examID, middleware.MustStudent(c))
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/start
// Starts the attempt. Idempotent for started or submitted attempts.
func (h *StudentPortalHandler) StartAttempt(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}

	view, err := h.sessionService.StartAttempt(c.Request.Context(), examID, middleware.MustStudent(c))
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": view})
}

// RecordAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers
func (h *StudentPortalHandler) RecordAnswer(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.sessionService.RecordAnswer(c.Request.Context(), examID, middleware.MustStudent(c), req.QuestionID.String(), *req.OptionIndex)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Commits the answer sheet exactly once. An empty body commits the drafts.
// A repeated submit reports ALREADY_SUBMITTED with the stored result.
func (h *StudentPortalHandler) Submit(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.sessionService.Submit(c.Request.Context(), examID, middleware.MustStudent(c), req.Answers)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// GetExamPaper godoc
// GET /api/v1/student/exams/:exam_id/paper
// Returns the questions without answers. Only while the attempt is in progress.
func (h *StudentPortalHandler) GetExamPaper(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}

	paper, err := h.sessionService.ExamPaper(c.Request.Context(), examID, middleware.MustStudent(c))
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}
