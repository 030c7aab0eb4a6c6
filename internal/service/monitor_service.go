package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exam-portal/internal/clock"
	"github.com/stemsi/exam-portal/internal/config"
	"github.com/stemsi/exam-portal/internal/model"
)

// MonitorService builds live snapshots of an exam for staff.
type MonitorService struct {
	exams *ExamService
	regs  RegistrationStore
	rdb   *redis.Client
	clock clock.Clock
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(exams *ExamService, regs RegistrationStore, rdb *redis.Client, clk clock.Clock) *MonitorService {
	return &MonitorService{exams: exams, regs: regs, rdb: rdb, clock: clk}
}

// StudentProgress is one registration's live progress.
type StudentProgress struct {
	StudentIdentity string             `json:"student_identity"`
	State           model.SessionState `json:"state"`
	Answered        int64              `json:"answered"`
	Score           *int               `json:"score,omitempty"`
}

// MonitorSnapshot summarises every registration of an exam.
type MonitorSnapshot struct {
	ExamID   uuid.UUID                  `json:"exam_id"`
	Counts   map[model.SessionState]int `json:"counts"`
	Students []StudentProgress          `json:"students"`
}

// Snapshot returns state counts and per-student draft progress. Draft counts
// are best-effort; registrations are authoritative.
func (s *MonitorService) Snapshot(ctx context.Context, staff Staff, examID uuid.UUID) (*MonitorSnapshot, error) {
	exam, err := s.exams.getOwned(ctx, staff, examID)
	if err != nil {
		return nil, err
	}

	regs, err := s.regs.ListByExam(ctx, examID)
	if err != nil {
		return nil, unavailable("list registrations", err)
	}

	now := s.clock.Now()
	snap := &MonitorSnapshot{
		ExamID:   examID,
		Counts:   make(map[model.SessionState]int),
		Students: make([]StudentProgress, len(regs)),
	}

	var pipe redis.Pipeliner
	pending := make(map[int]*redis.IntCmd)
	if s.rdb != nil {
		pipe = s.rdb.Pipeline()
	}

	for i := range regs {
		state := EvaluateState(exam, &regs[i], now)
		snap.Counts[state]++
		snap.Students[i] = StudentProgress{
			StudentIdentity: regs[i].StudentIdentity,
			State:           state,
			Score:           regs[i].Score,
		}
		switch {
		case state == model.StateSubmitted:
			snap.Students[i].Answered = int64(len(regs[i].Answers))
		case state == model.StateInProgress && pipe != nil:
			key := config.CacheKey.RegistrationDraftKey(examID.String(), regs[i].StudentIdentity)
			pending[i] = pipe.HLen(ctx, key)
		}
	}

	if len(pending) > 0 {
		_, _ = pipe.Exec(ctx)
		for i, cmd := range pending {
			if n, err := cmd.Result(); err == nil {
				snap.Students[i].Answered = n
			}
		}
	}

	return snap, nil
}
