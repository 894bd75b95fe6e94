package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
	"github.com/prorroga-chain-server/internal/middleware"
	"github.com/prorroga-chain-server/internal/service"
)

type analyzeRequest struct {
	Cases []domain.LeaveCase `json:"cases"`
}

type batchRequest struct {
	Subjects []service.SubjectCases `json:"subjects"`
}

type detectRequest struct {
	Candidate  domain.LeaveCase   `json:"candidate"`
	PriorCases []domain.LeaveCase `json:"prior_cases"`
}

func (s *Server) handleScoreCorrelation(c *gin.Context) {
	var params service.ScoreCorrelationParams
	if !s.bind(c, &params) {
		return
	}
	result, err := s.service.ScoreCorrelation(c.Request.Context(), &params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleLookupCode(c *gin.Context) {
	lookup, err := s.service.LookupCode(c.Param("code"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lookup)
}

func (s *Server) handleRelatedCodes(c *gin.Context) {
	related, err := s.service.RelatedCodes(c.Param("code"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": c.Param("code"), "related": related})
}

func (s *Server) handleValidateDayCount(c *gin.Context) {
	var params service.DayCountParams
	if !s.bind(c, &params) {
		return
	}
	result, err := s.service.ValidateDayCount(&params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleValidateTypicalDays(c *gin.Context) {
	var params service.TypicalDaysParams
	if !s.bind(c, &params) {
		return
	}
	result, err := s.service.ValidateTypicalDays(&params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleAnalyzeSubject(c *gin.Context) {
	var req analyzeRequest
	if !s.bind(c, &req) {
		return
	}
	analysis, err := s.service.AnalyzeSubject(c.Request.Context(), c.Param("id"), req.Cases)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.broadcast(c.Request.Context(), analysis.Alerts)
	c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleAnalyzeStoredSubject(c *gin.Context) {
	analysis, err := s.service.AnalyzeSubjectFromSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.broadcast(c.Request.Context(), analysis.Alerts)
	c.JSON(http.StatusOK, analysis)
}

func (s *Server) handleDetectExtension(c *gin.Context) {
	var req detectRequest
	if !s.bind(c, &req) {
		return
	}
	result, err := s.service.DetectExtension(c.Request.Context(), &service.DetectExtensionParams{
		SubjectID:  c.Param("id"),
		Candidate:  req.Candidate,
		PriorCases: req.PriorCases,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleBatchAnalysis(c *gin.Context) {
	var req batchRequest
	if !s.bind(c, &req) {
		return
	}
	if len(req.Subjects) == 0 {
		s.writeError(c, domain.NewValidationError("subjects", "at least one subject is required", nil))
		return
	}
	batch, err := s.service.AnalyzeAll(c.Request.Context(), req.Subjects)
	if err != nil {
		s.writeError(c, err)
		return
	}
	s.broadcast(c.Request.Context(), batch.Alerts)
	c.JSON(http.StatusOK, batch)
}

func (s *Server) handleRecordDecision(c *gin.Context) {
	var params service.RecordDecisionParams
	if !s.bind(c, &params) {
		return
	}
	adj, err := s.service.RecordDecision(c.Request.Context(), &params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, adj)
}

func (s *Server) handleGetDecision(c *gin.Context) {
	adj, err := s.service.GetAdjustment(c.Request.Context(), c.Param("a"), c.Param("b"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, adj)
}

func (s *Server) handleReferenceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Info())
}

func (s *Server) handleReferenceReload(c *gin.Context) {
	info, err := s.service.ReloadReference()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// bind decodes the JSON body, answering 400 on malformed input.
func (s *Server) bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrCodeInvalidInput, "malformed request body", err.Error(), c.GetString(middleware.CorrelationIDKey)))
		return false
	}
	return true
}

// broadcast forwards analysis alerts to live feed subscribers.
func (s *Server) broadcast(ctx context.Context, alerts []domain.Alert) {
	if s.feed == nil || len(alerts) == 0 {
		return
	}
	if err := s.feed.Publish(ctx, alerts); err != nil {
		s.logger.WithError(err).Warn("Failed to broadcast alerts")
	}
}

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationIDKey)

	var (
		validationErr   *domain.ValidationError
		preconditionErr *domain.PreconditionError
		status          int
		apiErr          *domain.APIError
	)
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
		apiErr = domain.NewAPIError(domain.ErrCodeValidation, validationErr.Message, validationErr.Field, requestID)
	case errors.As(err, &preconditionErr):
		status = http.StatusUnprocessableEntity
		apiErr = domain.NewAPIError(domain.ErrCodePrecondition, preconditionErr.Reason, preconditionErr.Error(), requestID)
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		apiErr = domain.NewAPIError(domain.ErrCodeNotFound, err.Error(), "", requestID)
	case errors.Is(err, domain.ErrInvalidReference):
		status = http.StatusUnprocessableEntity
		apiErr = domain.NewAPIError(domain.ErrCodeReference, "reference data rejected", err.Error(), requestID)
	case errors.Is(err, service.ErrNoCaseSource), errors.Is(err, service.ErrNoLedger):
		status = http.StatusServiceUnavailable
		apiErr = domain.NewAPIError(domain.ErrCodeUnavailable, err.Error(), "", requestID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		apiErr = domain.NewAPIError(domain.ErrCodeInternalServer, "request cancelled", err.Error(), requestID)
	default:
		status = http.StatusInternalServerError
		apiErr = domain.NewAPIError(domain.ErrCodeInternalServer, "internal server error", "", requestID)
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"correlation_id": requestID,
			"path":           c.FullPath(),
			"error":          err,
		}).Error("Request failed")
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, apiErr)
}
