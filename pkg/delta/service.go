package delta

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-builder/pkg/catalog"
	"github.com/Sriram-PR/sitemap-builder/pkg/config"
	"github.com/Sriram-PR/sitemap-builder/pkg/datasource"
	"github.com/Sriram-PR/sitemap-builder/pkg/models"
)

// ConfigView is the retention and emission configuration reported to operators
type ConfigView struct {
	RetentionDays                 int     `json:"retention_days"`
	ClearAfterEmit                bool    `json:"clear_after_emit"`
	Priority                      float64 `json:"priority"`
	Filename                      string  `json:"filename"`
	Path                          string  `json:"path"`
	TreatAllChangedOnStoreFailure bool    `json:"treat_all_changed_on_store_failure"`
	ClassifyChanges               bool    `json:"classify_changes"`
	Store                         string  `json:"store"`
}

// IngestResult counts the outcome of a batch ingestion
type IngestResult struct {
	Entity   models.EntityKind         `json:"entity"`
	Compared int                       `json:"compared"`
	Changed  int                       `json:"changed"`
	Skipped  int                       `json:"skipped"`
	ByType   map[models.ChangeType]int `json:"by_change_type"`
	Duration time.Duration             `json:"duration"`
}

// Service groups the operations exposed on the delta endpoint
type Service struct {
	tracker *Tracker
	emitter *Emitter
	cfg     config.DeltaConfig
	log     *logrus.Entry
}

// NewService wires a tracker and an emitter together
func NewService(tracker *Tracker, emitter *Emitter, cfg config.DeltaConfig, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{tracker: tracker, emitter: emitter, cfg: cfg, log: log.WithField("component", "delta_service")}
}

// Tracker returns the underlying tracker
func (s *Service) Tracker() *Tracker { return s.tracker }

func (s *Service) day(date string) (time.Time, error) {
	if date == "" {
		return s.tracker.now().UTC(), nil
	}
	return ParseDate(date)
}

// Record compares one URL's data, the per-write-event trigger
func (s *Service) Record(ctx context.Context, url string, data models.URLData) (CompareResult, error) {
	return s.tracker.Compare(ctx, url, data)
}

// Changes returns the change set of date (YYYY-MM-DD), today when empty
func (s *Service) Changes(ctx context.Context, date string) ([]Change, error) {
	day, err := s.day(date)
	if err != nil {
		return nil, err
	}
	return s.tracker.Changes(ctx, day)
}

// Stats counts the change set of date by change type
func (s *Service) Stats(ctx context.Context, date string) (Stats, error) {
	day, err := s.day(date)
	if err != nil {
		return Stats{}, err
	}
	return s.tracker.Stats(ctx, day)
}

// Emit writes the delta sitemap of date
func (s *Service) Emit(ctx context.Context, date string) (EmitResult, error) {
	day, err := s.day(date)
	if err != nil {
		return EmitResult{}, err
	}
	return s.emitter.Emit(ctx, day)
}

// EmitPending writes today's delta sitemap for a scheduled run. With the clear policy on, the
// previous day's set is still pending only if no run emitted it before midnight, so it joins the file.
func (s *Service) EmitPending(ctx context.Context) (EmitResult, error) {
	today := s.tracker.now().UTC()
	if !s.cfg.ShouldClearAfterEmit() {
		return s.emitter.EmitDays(ctx, today)
	}
	return s.emitter.EmitDays(ctx, today.AddDate(0, 0, -1), today)
}

// Cleanup applies retention
func (s *Service) Cleanup(ctx context.Context) (CleanupResult, error) {
	return s.tracker.Cleanup(ctx)
}

// Config returns the effective delta configuration
func (s *Service) Config() ConfigView {
	return ConfigView{
		RetentionDays:                 s.cfg.RetentionDays,
		ClearAfterEmit:                s.cfg.ShouldClearAfterEmit(),
		Priority:                      s.cfg.Priority,
		Filename:                      s.cfg.Filename,
		Path:                          s.emitter.Path(),
		TreatAllChangedOnStoreFailure: s.cfg.TreatAllChangedOnStoreFailure,
		ClassifyChanges:               s.cfg.ClassifyChanges,
		Store:                         s.cfg.Store,
	}
}

// Ingest pages through every row of entity and compares each one, the batch trigger
func (s *Service) Ingest(ctx context.Context, pager *datasource.Pager, entity models.EntityKind) (IngestResult, error) {
	start := time.Now()
	res := IngestResult{Entity: entity, ByType: make(map[models.ChangeType]int)}
	entryLog := s.log.WithField("entity", entity)
	entryLog.Info("Starting delta ingestion")

	_, err := pager.FetchAll(ctx, datasource.Query{Entity: entity}, func(page []models.Record) error {
		for _, rec := range page {
			loc, data := catalog.Fingerprint(rec)
			cr, err := s.tracker.Compare(ctx, loc, data)
			if err != nil {
				return fmt.Errorf("compare '%s': %w", loc, err)
			}
			res.Compared++
			switch {
			case cr.Skipped:
				res.Skipped++
			case cr.HasChanged:
				res.Changed++
				res.ByType[cr.ChangeType]++
			}
		}
		return nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		return res, err
	}

	entryLog.WithFields(logrus.Fields{
		"compared": res.Compared,
		"changed":  res.Changed,
		"skipped":  res.Skipped,
		"duration": res.Duration.Round(time.Millisecond),
	}).Info("Delta ingestion finished")
	return res, nil
}
