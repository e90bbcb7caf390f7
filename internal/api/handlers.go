package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "trendlab/internal/errors"
	"trendlab/internal/strategy/optimizer"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// TrialPage is one page of the trial history.
type TrialPage struct {
	Total  int               `json:"total"`
	Offset int               `json:"offset"`
	Limit  int               `json:"limit"`
	Trials []optimizer.Trial `json:"trials"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func errNoStudy() error {
	return apperrors.New(apperrors.ErrCodeNotFound, "no study has been started")
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	services := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			services[name] = gin.H{"status": "error", "error": err.Error()}
			status = "degraded"
			continue
		}
		services[name] = gin.H{"status": "ok"}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"time":       time.Now().UTC(),
		"services":   services,
		"ws_clients": s.hub.Count(),
	})
}

func (s *Server) getStudy(c *gin.Context) {
	study := s.currentStudy()
	if study == nil {
		_ = c.Error(errNoStudy())
		return
	}
	ok(c, study.Summary())
}

func (s *Server) getBest(c *gin.Context) {
	study := s.currentStudy()
	if study == nil {
		_ = c.Error(errNoStudy())
		return
	}
	best, found := study.Best()
	if !found {
		_ = c.Error(apperrors.New(apperrors.ErrCodeNotFound, "no feasible trial yet"))
		return
	}
	ok(c, best)
}

// listTrials supports ?state=complete|failed, ?feasible=true|false and
// offset/limit paging.
func (s *Server) listTrials(c *gin.Context) {
	study := s.currentStudy()
	if study == nil {
		_ = c.Error(errNoStudy())
		return
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		_ = c.Error(err)
		return
	}
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}

	state := optimizer.TrialState(c.Query("state"))
	var feasible *bool
	if raw := c.Query("feasible"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			_ = c.Error(apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "feasible must be a boolean"))
			return
		}
		feasible = &v
	}

	var filtered []optimizer.Trial
	for _, t := range study.Trials() {
		if state != "" && t.State != state {
			continue
		}
		if feasible != nil && t.Feasible != *feasible {
			continue
		}
		filtered = append(filtered, t)
	}

	page := TrialPage{Total: len(filtered), Offset: offset, Limit: limit, Trials: []optimizer.Trial{}}
	if offset < len(filtered) {
		end := offset + limit
		if end > len(filtered) {
			end = len(filtered)
		}
		page.Trials = filtered[offset:end]
	}
	ok(c, page)
}

func (s *Server) getTrial(c *gin.Context) {
	study := s.currentStudy()
	if study == nil {
		_ = c.Error(errNoStudy())
		return
	}
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		_ = c.Error(apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "trial number must be an integer"))
		return
	}
	for _, t := range study.Trials() {
		if t.Number == number {
			ok(c, t)
			return
		}
	}
	_ = c.Error(apperrors.Newf(apperrors.ErrCodeNotFound, "trial %d not found", number))
}

func (s *Server) runStudy(c *gin.Context) {
	if s.trigger == nil {
		_ = c.Error(apperrors.New(apperrors.ErrCodeNotFound, "study runs are not triggerable on this server"))
		return
	}
	if err := s.trigger(); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, Response{Success: true, Message: "study run scheduled"})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.Newf(apperrors.ErrCodeInvalidInput, "%s must be a non-negative integer", key)
	}
	return v, nil
}
