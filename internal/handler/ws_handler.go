package handler

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/middleware"
	"github.com/stemsi/exam-portal/internal/model"
	"github.com/stemsi/exam-portal/internal/response"
	"github.com/stemsi/exam-portal/internal/service"
	ws "github.com/stemsi/exam-portal/internal/websocket"
)

const (
	tickInterval      = time.Second
	autoSubmitTimeout = 15 * time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams an in-progress attempt: countdown ticks, draft autosave,
// submit, and auto-submit when the server-side deadline is reached.
type WSHandler struct {
	sessionService *service.ExamSessionService
	clock          clock.Clock
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	tick           time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.ExamSessionService, clk clock.Clock, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		clock:          clk,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		tick:           tickInterval,
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	examID, ok := parseID(c, "exam_id")
	if !ok {
		return
	}
	student := middleware.MustStudent(c)

	// Refuse before upgrading so the client gets a regular error response.
	view, err := h.sessionService.GetSessionState(c.Request.Context(), examID, student)
	if err != nil {
		failWithError(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer raw.Close()
	conn := ws.Wrap(raw)

	wsLog := h.log.With().
		Str("student", view.StudentIdentity).
		Str("exam_id", examID.String()).
		Logger()

	if err := conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Session: view}); err != nil {
		return
	}
	if view.State != model.StateInProgress {
		_ = conn.CloseNormal("attempt is " + string(view.State))
		return
	}

	wsLog.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	countdown := clock.NewCountdown(h.clock, *view.Deadline, h.tick)
	countdown.Start(ctx)
	defer countdown.Stop()

	go h.watchCountdown(ctx, cancel, conn, countdown, examID, student, wsLog)

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, examID, student, &msg)
		case ws.ActionSubmit:
			if h.handleSubmit(ctx, conn, wsLog, examID, student, &msg) {
				countdown.Stop()
				_ = conn.CloseNormal("submitted")
				return
			}
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError("", "unknown action: "+string(msg.Action))
		}
	}
}

// watchCountdown forwards ticks and auto-submits the drafts on expiry.
func (h *WSHandler) watchCountdown(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *ws.Conn,
	countdown *clock.Countdown,
	examID uuid.UUID,
	student service.Student,
	wsLog zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case remaining := <-countdown.Ticks():
			_ = conn.WriteTyped(ws.TickResponse{
				Event:            ws.EventTick,
				RemainingSeconds: int64(math.Ceil(remaining.Seconds())),
			})

		case <-countdown.Expired():
			submitCtx, done := context.WithTimeout(context.Background(), autoSubmitTimeout)
			result, err := h.sessionService.AutoSubmit(submitCtx, examID, student, countdown.Deadline())
			done()
			if err != nil {
				wsLog.Error().Err(err).Msg("Auto-submit failed")
				_, code := classify(err)
				_ = conn.WriteError(string(code), "auto-submit failed")
			} else {
				wsLog.Info().
					Str("status", result.Status).
					Int("score", result.Score).
					Msg("Attempt auto-submitted at deadline")
				_ = conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventExpired, Result: result})
			}
			_ = conn.CloseNormal("deadline reached")
			cancel()
			// Unblock the read loop even if the client never answers the close.
			_ = conn.Close()
			return
		}
	}
}

// handleAutosave records one draft answer.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, examID uuid.UUID, student service.Student, msg *ws.RequestPayload) {
	if msg.QuestionID == "" || msg.OptionIndex == nil {
		_ = conn.WriteError(string(response.ErrValidation), "question_id and option_index are required")
		return
	}
	// Question ids are embedded in Redis hash fields; reject anything else.
	if _, err := uuid.Parse(msg.QuestionID); err != nil {
		_ = conn.WriteError(string(response.ErrValidation), "invalid question_id format")
		return
	}

	if err := h.sessionService.RecordAnswer(ctx, examID, student, msg.QuestionID, *msg.OptionIndex); err != nil {
		_, code := classify(err)
		_ = conn.WriteError(string(code), err.Error())
		return
	}

	_ = conn.WriteTyped(ws.SavedResponse{Event: ws.EventSaved, QuestionID: msg.QuestionID})
}

// handleSubmit commits the sheet and reports whether the attempt is closed.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *ws.Conn, wsLog zerolog.Logger, examID uuid.UUID, student service.Student, msg *ws.RequestPayload) bool {
	result, err := h.sessionService.Submit(ctx, examID, student, msg.Answers)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			wsLog.Error().Err(err).Msg("Submit failed")
		}
		_ = conn.WriteError(string(code), "submit failed")
		// A lapsed deadline closes the attempt; anything else may be retried.
		return status == http.StatusGone
	}

	wsLog.Info().
		Str("status", result.Status).
		Int("score", result.Score).
		Msg("Exam submitted")
	_ = conn.WriteTyped(ws.SubmittedResponse{Event: ws.EventSubmitted, Result: result})
	return true
}
