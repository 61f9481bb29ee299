// Package recorder persists arena score timelines and archives finished
// runs.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nightfeed/mazeshow/game/hook"
	"github.com/nightfeed/mazeshow/game/viewers"
	"github.com/nightfeed/mazeshow/game/world"
	"github.com/nightfeed/mazeshow/model"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrRunNotFound is returned when no archived run has the requested id.
var ErrRunNotFound = errors.New("recorder: run not found")

// Options tunes the background writer.
type Options struct {
	Buffer        int
	BatchSize     int
	FlushInterval time.Duration
	// MaxSeries caps the viewer points held per live arena. Past the cap
	// the series is thinned to every other point.
	MaxSeries int
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 1024
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 2 * time.Second
	}
	if o.MaxSeries < 2 {
		o.MaxSeries = 4096
	}
	return o
}

// Summary is the statistical digest stored with a run record.
type Summary struct {
	Samples       int     `json:"samples"`
	MeanViewers   float64 `json:"mean_viewers"`
	StdDevViewers float64 `json:"stddev_viewers"`
	PeakViewers   float64 `json:"peak_viewers"`
	FinalViewers  float64 `json:"final_viewers"`
	FinalLikes    int64   `json:"final_likes"`
}

// Service writes score samples asynchronously in batches and keeps each
// live arena's viewer series in memory for the run summary.
type Service struct {
	db     *gorm.DB
	opts   Options
	ch     chan *model.ScoreSample
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.Mutex
	series map[string]*viewerSeries
}

// viewerSeries keeps every stride-th viewer count of a run. Count and peak
// are exact; mean and deviation come from the thinned points.
type viewerSeries struct {
	xs     []float64
	n      int
	stride int
	peak   float64
}

func (s *viewerSeries) add(x float64, limit int) {
	if s.n == 0 || x > s.peak {
		s.peak = x
	}
	if s.n%s.stride == 0 {
		s.xs = append(s.xs, x)
		if len(s.xs) >= limit {
			kept := s.xs[:0]
			for i := 0; i < len(s.xs); i += 2 {
				kept = append(kept, s.xs[i])
			}
			s.xs = kept
			s.stride *= 2
		}
	}
	s.n++
}

// New creates a Service and starts its background worker.
func New(db *gorm.DB, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	svc := &Service{
		db:     db,
		opts:   opts,
		ch:     make(chan *model.ScoreSample, opts.Buffer),
		stopCh: make(chan struct{}),
		logger: logger,
		series: make(map[string]*viewerSeries),
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Attach samples every score change of every arena.
func (svc *Service) Attach(hc *hook.Center) {
	hc.Register(hook.ScoreChanged, 10, "recorder", func(_ context.Context, _ string, data any) (any, error) {
		if ev, ok := data.(hook.ScoreChangedEvent); ok {
			svc.Sample(ev.ArenaID, ev.SimTime, ev.Score, ev.Version)
		}
		return data, nil
	})
}

// Sample enqueues one score point for async DB write.
func (svc *Service) Sample(arenaID string, simTime time.Duration, score viewers.Score, version uint64) {
	svc.mu.Lock()
	vs := svc.series[arenaID]
	if vs == nil {
		vs = &viewerSeries{stride: 1}
		svc.series[arenaID] = vs
	}
	vs.add(score.Viewers, svc.opts.MaxSeries)
	svc.mu.Unlock()

	rec := &model.ScoreSample{
		ArenaID:   arenaID,
		SimTimeMs: simTime.Milliseconds(),
		Viewers:   score.Viewers,
		Likes:     score.Likes,
		Version:   version,
	}
	select {
	case svc.ch <- rec:
	default:
		svc.logger.Warn("recorder channel full, dropping sample",
			zap.String("arena", arenaID))
	}
}

// Summarize digests the viewer series sampled so far for an arena.
func (svc *Service) Summarize(arenaID string, final viewers.Score) Summary {
	svc.mu.Lock()
	vs := svc.series[arenaID]
	if vs == nil {
		svc.mu.Unlock()
		return summarize(nil, final)
	}
	xs := append([]float64(nil), vs.xs...)
	n, peak := vs.n, vs.peak
	svc.mu.Unlock()

	s := summarize(xs, final)
	s.Samples, s.PeakViewers = n, peak
	return s
}

// forget drops the in-memory series of an arena.
func (svc *Service) forget(arenaID string) {
	svc.mu.Lock()
	delete(svc.series, arenaID)
	svc.mu.Unlock()
}

func summarize(xs []float64, final viewers.Score) Summary {
	s := Summary{
		Samples:      len(xs),
		FinalViewers: final.Viewers,
		FinalLikes:   final.Likes,
	}
	if len(xs) == 0 {
		return s
	}
	s.PeakViewers = xs[0]
	for _, x := range xs[1:] {
		if x > s.PeakViewers {
			s.PeakViewers = x
		}
	}
	if len(xs) == 1 {
		s.MeanViewers = xs[0]
		return s
	}
	s.MeanViewers, s.StdDevViewers = stat.MeanStdDev(xs, nil)
	return s
}

// Archive stores the final state of a finished arena. The in-memory series
// is released whether or not the write succeeds.
func (svc *Service) Archive(ctx context.Context, snap world.Snapshot, cfg world.ArenaConfig) (*model.RunRecord, error) {
	summary := svc.Summarize(snap.ID, snap.Score)
	defer svc.forget(snap.ID)

	layout, err := json.Marshal(snap.Layout)
	if err != nil {
		return nil, fmt.Errorf("recorder: layout: %w", err)
	}
	door, err := json.Marshal(snap.Door)
	if err != nil {
		return nil, fmt.Errorf("recorder: door: %w", err)
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("recorder: config: %w", err)
	}
	sumJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("recorder: summary: %w", err)
	}

	rec := &model.RunRecord{
		ID:         snap.ID,
		Seed:       snap.Seed,
		Width:      snap.Width,
		Height:     snap.Height,
		Layout:     datatypes.JSON(layout),
		Door:       datatypes.JSON(door),
		Config:     datatypes.JSON(cfgJSON),
		Summary:    datatypes.JSON(sumJSON),
		Viewers:    snap.Score.Viewers,
		Likes:      snap.Score.Likes,
		Monsters:   cfg.Monsters,
		SimTimeMs:  snap.SimTime.Milliseconds(),
		StartedAt:  snap.CreatedAt,
		FinishedAt: time.Now(),
	}
	if err := svc.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("recorder: archive %s: %w", snap.ID, err)
	}
	return rec, nil
}

// Run loads an archived run.
func (svc *Service) Run(ctx context.Context, id string) (*model.RunRecord, error) {
	var rec model.RunRecord
	err := svc.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Best lists up to n archived runs by likes, highest first.
func (svc *Service) Best(ctx context.Context, n int) ([]model.RunRecord, error) {
	var recs []model.RunRecord
	err := svc.db.WithContext(ctx).
		Order("likes DESC").Order("finished_at ASC").
		Limit(n).
		Find(&recs).Error
	return recs, err
}

// Samples returns the persisted timeline of an arena in sim-time order.
func (svc *Service) Samples(ctx context.Context, arenaID string, limit int) ([]model.ScoreSample, error) {
	var out []model.ScoreSample
	q := svc.db.WithContext(ctx).Where("arena_id = ?", arenaID).Order("sim_time_ms ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// Stop flushes remaining samples and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	select {
	case <-svc.stopCh:
	default:
		close(svc.stopCh)
	}
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*model.ScoreSample, 0, svc.opts.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("sample batch write failed",
				zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= svc.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}
