package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tarmsledger/tarms/internal/database"
)

type AuditRepositoryTestSuite struct {
	suite.Suite
	db   *sql.DB
	repo AuditRepository
	ctx  context.Context
}

func (s *AuditRepositoryTestSuite) SetupTest() {
	db, err := database.OpenMemory()
	s.Require().NoError(err)
	s.db = db
	s.repo = NewAuditRepository(db)
	s.ctx = context.Background()
}

func (s *AuditRepositoryTestSuite) TearDownTest() {
	s.db.Close()
}

func TestAuditRepositorySuite(t *testing.T) {
	suite.Run(t, new(AuditRepositoryTestSuite))
}

func (s *AuditRepositoryTestSuite) TestLogAndList() {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first := &AuditEntry{
		Action:    ActionLoginFailed,
		RemoteIP:  "10.0.0.1",
		Details:   map[string]any{"reason": "not_found"},
		CreatedAt: base,
	}
	s.Require().NoError(s.repo.Log(s.ctx, first))
	s.NotZero(first.ID)

	second := &AuditEntry{
		Action:    ActionTransactionCreated,
		UserID:    ActorID(7),
		Username:  "clerk",
		TargetID:  "t_abc",
		CreatedAt: base.Add(time.Minute),
	}
	s.Require().NoError(s.repo.Log(s.ctx, second))

	entries, total, err := s.repo.List(s.ctx, "", 10, 0)
	s.Require().NoError(err)
	s.Equal(2, total)
	s.Require().Len(entries, 2)

	// Newest first.
	s.Equal(ActionTransactionCreated, entries[0].Action)
	s.Require().NotNil(entries[0].UserID)
	s.Equal(int64(7), *entries[0].UserID)
	s.Equal("t_abc", entries[0].TargetID)
	s.Nil(entries[0].Details)

	s.Nil(entries[1].UserID)
	s.Equal("not_found", entries[1].Details["reason"])
	s.Equal("10.0.0.1", entries[1].RemoteIP)
}

func (s *AuditRepositoryTestSuite) TestListFilterAndPaging() {
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.repo.Log(s.ctx, &AuditEntry{Action: ActionLoginSucceeded}))
	}
	s.Require().NoError(s.repo.Log(s.ctx, &AuditEntry{Action: ActionLoggedOut}))

	entries, total, err := s.repo.List(s.ctx, ActionLoginSucceeded, 2, 4)
	s.Require().NoError(err)
	s.Equal(5, total)
	s.Len(entries, 1)

	entries, total, err = s.repo.List(s.ctx, "unknown.action", 10, 0)
	s.Require().NoError(err)
	s.Zero(total)
	s.Empty(entries)
}

func (s *AuditRepositoryTestSuite) TestServiceRejectsEmptyAction() {
	svc := NewAuditService(s.repo)
	s.Error(svc.Log(s.ctx, &AuditEntry{}))

	svc.RecordCSRFMismatch(s.ctx, "192.0.2.4", "/login")
	entries, total, err := svc.List(s.ctx, ActionCSRFMismatch, 0)
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal("/login", entries[0].Details["path"])
}
