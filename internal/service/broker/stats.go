package broker

import (
	"context"
	"fmt"
)

// RecentLimit is the number of records listed in Stats.
const RecentLimit = 10

type StatsFile struct {
	Code      string `json:"code"`
	FileType  string `json:"file_type"`
	Views     int64  `json:"views"`
	CreatedAt int64  `json:"created_at"`
}

type Stats struct {
	TotalFiles  int64       `json:"totalFiles"`
	TotalViews  int64       `json:"totalViews"`
	RecentFiles []StatsFile `json:"recentFiles"`
}

// Stats returns the read-only rollup shown on the dashboard.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	views, err := s.store.SumViews(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	recent, err := s.store.Recent(ctx, RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	out := &Stats{
		TotalFiles:  total,
		TotalViews:  views,
		RecentFiles: make([]StatsFile, 0, len(recent)),
	}
	for _, rec := range recent {
		out.RecentFiles = append(out.RecentFiles, StatsFile{
			Code:      rec.Code,
			FileType:  string(rec.Kind),
			Views:     rec.Views,
			CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}
