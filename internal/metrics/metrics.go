// Package metrics keeps a sqlite history of control cycles.
package metrics

import (
	"context"

	"codeberg.org/mutker/ipmifanctl/internal/control"
	"codeberg.org/mutker/ipmifanctl/internal/errors"
	"codeberg.org/mutker/ipmifanctl/internal/logger"
)

type service struct {
	repo Repository
}

type noopCollector struct{}

// NewService returns a Collector backed by sqlite, or a no-op collector when
// metrics are disabled.
func NewService(cfg Config, log logger.Logger) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Metrics collection disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo}, nil
}

func (s *service) Report(ctx context.Context, r control.Report) error {
	errFactory := errors.New()

	if r.Time.IsZero() {
		return errFactory.New(ErrInvalidRecord)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(errors.ErrReportFailed, err)
	}

	if err := s.repo.Record(newCycleRecord(r)); err != nil {
		return errFactory.Wrap(errors.ErrReportFailed, errFactory.Wrap(ErrRecordFailed, err))
	}

	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func newCycleRecord(r control.Report) *CycleRecord {
	rec := &CycleRecord{
		Timestamp: r.Time,
		Mode:      string(r.Mode),
		MinSpeed:  r.Bounds.Min,
	}
	for _, s := range r.Sensors() {
		rec.Sensors = append(rec.Sensors, SensorSample{
			Sensor:    s.ID,
			Current:   s.Current,
			Threshold: s.Threshold,
			Override:  s.Override,
		})
	}
	for _, f := range r.Fans() {
		rec.Fans = append(rec.Fans, FanSample{Fan: f.Fan, Speed: f.Speed})
	}
	return rec
}

func (*noopCollector) Report(context.Context, control.Report) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}
