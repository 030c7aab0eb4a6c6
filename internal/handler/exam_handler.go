package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/middleware"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/response"
	"github.com/stemsi/exam-portal/internal/service"
	"github.com/stemsi/exam-portal/internal/validator"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExamHandler handles staff exam scheduling endpoints.
type ExamHandler struct {
	examService *service.ExamService
	log         zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		examService: examService,
		log:         log.With().Str("component", "exam_handler").Logger(),
	}
}

// ListExams godoc
// GET /api/v1/staff/exams
// Lists exams with pagination. Admins see all; staff see only their own.
func (h *ExamHandler) ListExams(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	exams, pagination, err := h.examService.List(c.Request.Context(), middleware.MustStaff(c), page, perPage)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"exams": exams}, pagination)
}

// GetExam godoc
// GET /api/v1/staff/exams/:id
func (h *ExamHandler) GetExam(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}

	exam, err := h.examService.Get(c.Request.Context(), middleware.MustStaff(c), examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// CreateExam godoc
// POST /api/v1/staff/exams
func (h *ExamHandler) CreateExam(c *gin.Context) {
	var req model.ExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam := &model.Exam{}
	if err := copier.Copy(exam, &req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	if err := h.examService.Create(c.Request.Context(), middleware.MustStaff(c), exam); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"exam": exam})
}

// UpdateExam godoc
// PUT /api/v1/staff/exams/:id
// Replaces title and schedule. Locked once attempts start, unless admin.
func (h *ExamHandler) UpdateExam(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req model.ExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	exam := &model.Exam{ID: examID}
	if err := copier.Copy(exam, &req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	if err := h.examService.Update(c.Request.Context(), middleware.MustStaff(c), exam); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam})
}

// DeleteExam godoc
// DELETE /api/v1/staff/exams/:id
func (h *ExamHandler) DeleteExam(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.examService.Delete(c.Request.Context(), middleware.MustStaff(c), examID); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "exam deleted"})
}

// ListQuestions godoc
// GET /api/v1/staff/exams/:id/questions
func (h *ExamHandler) ListQuestions(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}

	questions, err := h.examService.ListQuestions(c.Request.Context(), middleware.MustStaff(c), examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}
	if questions == nil {
		questions = []model.Question{}
	}

	response.Success(c, http.StatusOK, gin.H{"questions": questions})
}

// AddQuestion godoc
// POST /api/v1/staff/exams/:id/questions
func (h *ExamHandler) AddQuestion(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req model.AddQuestionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	q := &model.Question{ExamID: examID}
	if err := copier.Copy(q, &req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}
	q.CorrectIndex = *req.CorrectIndex

	if err := h.examService.AddQuestion(c.Request.Context(), middleware.MustStaff(c), q); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"question": q})
}

// DeleteQuestion godoc
// DELETE /api/v1/staff/exams/:id/questions/:question_id
func (h *ExamHandler) DeleteQuestion(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}
	questionID, ok := parseID(c, "question_id")
	if !ok {
		return
	}

	if err := h.examService.DeleteQuestion(c.Request.Context(), middleware.MustStaff(c), examID, questionID); err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "question deleted"})
}

// GetResults godoc
// GET /api/v1/staff/exams/:id/results
func (h *ExamHandler) GetResults(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}

	exam, rows, err := h.examService.Results(c.Request.Context(), middleware.MustStaff(c), examID)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"exam": exam, "results": rows})
}

// ExportResults godoc
// GET /api/v1/staff/exams/:id/results/export
// Streams the results as an xlsx workbook.
func (h *ExamHandler) ExportResults(c *gin.Context) {
	examID, ok := parseID(c, "id")
	if !ok {
		return
	}

	// Buffered so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.examService.ExportResults(c.Request.Context(), middleware.MustStaff(c), examID, &buf); err != nil {
		failWithError(c, h.log, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="results-%s.xlsx"`, examID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
