package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"opsdesk/internal/desk"
	"opsdesk/internal/remote"
)

// DashboardData is one tick of the dashboard screen.
type DashboardData struct {
	Basic        remote.Metrics
	Appointments remote.Metrics
}

// dashboardSource is the part of the remote client the dashboard polls.
type dashboardSource interface {
	BasicAnalytics(ctx context.Context) (remote.Metrics, error)
	AppointmentSummary(ctx context.Context, days int) (remote.Metrics, error)
}

// NewDashboard polls the basic analytics and the appointment summary
// together. A tick fails if either request fails.
func NewDashboard(src dashboardSource, days int, interval time.Duration, clock desk.Clock, logger desk.Logger) *desk.Poller[DashboardData] {
	return desk.NewPoller(func(ctx context.Context) (DashboardData, error) {
		return fetchDashboard(ctx, src, days)
	}, interval, clock, logger)
}

func fetchDashboard(ctx context.Context, src dashboardSource, days int) (DashboardData, error) {
	var data DashboardData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := src.BasicAnalytics(gctx)
		if err != nil {
			return fmt.Errorf("basic analytics: %w", err)
		}
		data.Basic = m
		return nil
	})
	g.Go(func() error {
		m, err := src.AppointmentSummary(gctx, days)
		if err != nil {
			return fmt.Errorf("appointment summary: %w", err)
		}
		data.Appointments = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return DashboardData{}, err
	}
	return data, nil
}
