package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"lawcrawl/models"
	"lawcrawl/scraper"
	"lawcrawl/storage"
)

// Phrases directories show in place of a removed profile, usually with a
// 200 status.
var goneIndicators = []string{
	"profile is no longer available",
	"this attorney is no longer listed",
	"listing has been removed",
	"page you requested could not be found",
	"no longer practicing",
}

// CheckResult is the outcome of checking one detail page.
type CheckResult struct {
	IsLive     bool
	StatusCode int
	Err        error
}

type HealthcheckResult struct {
	Checked     int
	Deactivated int
	Reactivated int
	Errors      int
}

// HealthcheckService soft-deactivates lawyers whose directory profile has
// gone away. Rows are never deleted, and a profile that comes back is
// reactivated.
type HealthcheckService struct {
	store   storage.Store
	fetcher scraper.PageFetcher
	logger  *zap.Logger
}

func NewHealthcheckService(store storage.Store, fetcher scraper.PageFetcher, logger *zap.Logger) *HealthcheckService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthcheckService{store: store, fetcher: fetcher, logger: logger}
}

// Check fetches detailURL and decides whether the profile is still live.
// Errors that say nothing about the profile leave Err set.
func (s *HealthcheckService) Check(ctx context.Context, detailURL string) CheckResult {
	page, err := s.fetcher.FetchWith(ctx, detailURL, scraper.FetchOptions{})
	if err != nil {
		var fe *scraper.FetchError
		if errors.As(err, &fe) && (fe.StatusCode == http.StatusNotFound || fe.StatusCode == http.StatusGone) {
			return CheckResult{StatusCode: fe.StatusCode}
		}
		return CheckResult{Err: err}
	}
	if isGonePage(string(page.Body)) {
		return CheckResult{StatusCode: page.StatusCode}
	}
	return CheckResult{IsLive: true, StatusCode: page.StatusCode}
}

// CheckJob checks up to limit of the job's lawyers that have a detail URL.
// Zero means all of them.
func (s *HealthcheckService) CheckJob(ctx context.Context, jobID int64, limit int) (HealthcheckResult, error) {
	var res HealthcheckResult

	lawyers, err := s.store.ListLawyers(ctx, jobID, 0)
	if err != nil {
		return res, err
	}

	for i := range lawyers {
		l := &lawyers[i]
		if l.DetailURL == "" || l.IsSynthetic {
			continue
		}
		if limit > 0 && res.Checked >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		check := s.Check(ctx, l.DetailURL)
		res.Checked++

		switch {
		case check.Err != nil:
			res.Errors++
			s.logger.Warn("healthcheck failed", zap.Int64("lawyer_id", l.ID), zap.String("url", l.DetailURL), zap.Error(check.Err))
		case !check.IsLive && l.IsActive:
			if err := s.setActive(ctx, l, false); err != nil {
				return res, err
			}
			res.Deactivated++
			s.logger.Info("lawyer deactivated", zap.Int64("lawyer_id", l.ID), zap.Int("status", check.StatusCode))
		case check.IsLive && !l.IsActive:
			if err := s.setActive(ctx, l, true); err != nil {
				return res, err
			}
			res.Reactivated++
		}
	}

	s.logger.Info("healthcheck finished",
		zap.Int64("job_id", jobID),
		zap.Int("checked", res.Checked),
		zap.Int("deactivated", res.Deactivated),
		zap.Int("reactivated", res.Reactivated),
		zap.Int("errors", res.Errors))
	return res, nil
}

func (s *HealthcheckService) setActive(ctx context.Context, l *models.Lawyer, active bool) error {
	l.IsActive = active
	if err := s.store.UpdateLawyer(ctx, l); err != nil {
		return eris.Wrapf(err, "update lawyer %d", l.ID)
	}
	return nil
}

func isGonePage(html string) bool {
	lower := strings.ToLower(html)
	for _, indicator := range goneIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
