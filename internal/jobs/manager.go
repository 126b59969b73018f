// Package jobs runs conversions and subset extractions in the background
// and tracks their progress.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/robertroutledge/pccf-converter/internal/converter"
	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/models"
	"github.com/robertroutledge/pccf-converter/internal/parser"
	"github.com/robertroutledge/pccf-converter/internal/subset"
)

var (
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidRequest wraps problems with the caller's parameters.
	ErrInvalidRequest = errors.New("invalid request")
)

// Kind is the type of work a job does.
type Kind string

const (
	KindConvert Kind = "convert"
	KindSubset  Kind = "subset"
)

// Status represents the job processing status.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Done reports whether the status is final.
func (s Status) Done() bool {
	return s == StatusComplete || s == StatusError || s == StatusCanceled
}

// Job represents an async conversion job.
type Job struct {
	ID             string           `json:"id" msgpack:"id"`
	Kind           Kind             `json:"kind" msgpack:"kind"`
	FileID         string           `json:"fileId" msgpack:"fileId"`
	FileName       string           `json:"fileName" msgpack:"fileName"`
	Status         Status           `json:"status" msgpack:"status"`
	Progress       float64          `json:"progress" msgpack:"progress"`
	LinesProcessed int              `json:"linesProcessed" msgpack:"linesProcessed"`
	BytesProcessed int64            `json:"bytesProcessed" msgpack:"bytesProcessed"`
	TotalBytes     int64            `json:"totalBytes" msgpack:"totalBytes"`
	Stats          *converter.Stats `json:"stats,omitempty" msgpack:"stats,omitempty"`
	SubsetStats    *subset.Stats    `json:"subsetStats,omitempty" msgpack:"subsetStats,omitempty"`
	Output         *models.FileInfo `json:"output,omitempty" msgpack:"output,omitempty"`
	Error          string           `json:"error,omitempty" msgpack:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt" msgpack:"createdAt"`
	StartedAt      *time.Time       `json:"startedAt,omitempty" msgpack:"startedAt,omitempty"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// ConvertRequest overrides the default conversion options for one job.
// Empty fields keep the defaults.
type ConvertRequest struct {
	FilterField  string `json:"filterField" msgpack:"filterField"`
	FilterPrefix string `json:"filterPrefix" msgpack:"filterPrefix"`
	OnError      string `json:"onError" msgpack:"onError"`
	ShortLines   string `json:"shortLines" msgpack:"shortLines"`
	Workers      int    `json:"workers" msgpack:"workers"`
	OutputName   string `json:"outputName" msgpack:"outputName"`
}

// SubsetRequest overrides the default subset options for one job.
type SubsetRequest struct {
	Field      string `json:"field" msgpack:"field"`
	Prefix     string `json:"prefix" msgpack:"prefix"`
	Delimiter  string `json:"delimiter" msgpack:"delimiter"`
	OutputName string `json:"outputName" msgpack:"outputName"`
}

// Store defines the interface needed from storage layer.
type Store interface {
	Get(id string) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	SetFormat(id string, format string) error
	ReserveOutput(name string, format string) (*models.FileInfo, string, error)
	CommitOutput(info *models.FileInfo) error
}

// Config holds the defaults and limits of a Manager.
type Config struct {
	Convert          converter.Options
	Subset           subset.Options
	MaxConcurrent    int
	ProgressInterval time.Duration
	Logger           *slog.Logger
}

// Manager handles async conversion jobs.
type Manager struct {
	jobs     map[string]*Job
	cancels  map[string]context.CancelFunc
	subs     map[string][]chan Job
	mu       sync.RWMutex
	store    Store
	registry *parser.Registry
	cfg      Config
	slots    chan struct{}
	ctx      context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

// NewManager creates a new job manager.
func NewManager(store Store, registry *parser.Registry, cfg Config) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if registry == nil {
		registry = parser.GetGlobalRegistry()
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		jobs:     make(map[string]*Job),
		cancels:  make(map[string]context.CancelFunc),
		subs:     make(map[string][]chan Job),
		store:    store,
		registry: registry,
		cfg:      cfg,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		ctx:      ctx,
		stop:     stop,
	}
}

// Detect sniffs the format of a stored file and records it. An
// unrecognised file yields an empty format and no error.
func (m *Manager) Detect(fileID string) (string, error) {
	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		return "", err
	}
	p, err := m.registry.FindParser(path)
	if err != nil {
		m.cfg.Logger.Debug("[jobs] format not recognised", "file", fileID, "error", err)
		return "", nil
	}
	if err := m.store.SetFormat(fileID, p.Name()); err != nil {
		return "", err
	}
	return p.Name(), nil
}

// ConvertOptions merges req into the configured defaults.
func (m *Manager) ConvertOptions(req ConvertRequest) (converter.Options, error) {
	opts := m.cfg.Convert
	if req.FilterField != "" {
		opts.Filter = converter.NewFilter(req.FilterField, req.FilterPrefix)
	}
	if req.OnError != "" {
		p, err := converter.ParseErrorPolicy(req.OnError)
		if err != nil {
			return opts, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		opts.OnError = p
	}
	if req.ShortLines != "" {
		p, err := converter.ParseShortLinePolicy(req.ShortLines)
		if err != nil {
			return opts, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		opts.ShortLines = p
	}
	if req.Workers > 0 {
		opts.Workers = req.Workers
	}
	if opts.Filter != nil {
		l := opts.Layout
		if l == nil {
			l = layout.PCCF()
		}
		if _, ok := l.Index(opts.Filter.Field); !ok {
			return opts, fmt.Errorf("%w: unknown filter field %q", ErrInvalidRequest, opts.Filter.Field)
		}
	}
	return opts, nil
}

// SubsetOptions merges req into the configured defaults.
func (m *Manager) SubsetOptions(req SubsetRequest) (subset.Options, error) {
	opts := m.cfg.Subset
	if req.Field != "" {
		opts.Field = req.Field
	}
	if req.Prefix != "" {
		opts.Prefix = req.Prefix
	}
	if req.Delimiter != "" {
		d, err := converter.ParseDelimiter(req.Delimiter)
		if err != nil {
			return opts, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		opts.OutputDelimiter = d
	}
	return opts, nil
}

// StartConvert queues a conversion of a stored fixed-width file.
func (m *Manager) StartConvert(fileID string, req ConvertRequest) (*Job, error) {
	opts, err := m.ConvertOptions(req)
	if err != nil {
		return nil, err
	}
	info, path, err := m.input(fileID)
	if err != nil {
		return nil, err
	}
	if info.Format == "pccf_tsv" {
		return nil, fmt.Errorf("%w: %s is already converted", ErrInvalidRequest, info.Name)
	}

	name := req.OutputName
	if name == "" {
		name = baseName(info.Name) + extension(opts.Delimiter)
	}

	job := m.newJob(KindConvert, info)
	m.launch(job, func(ctx context.Context) error {
		return m.runConvert(ctx, job.ID, path, name, opts)
	})
	return m.snapshot(job.ID), nil
}

// StartSubset queues a subset extraction from a stored converted file.
func (m *Manager) StartSubset(fileID string, req SubsetRequest) (*Job, error) {
	opts, err := m.SubsetOptions(req)
	if err != nil {
		return nil, err
	}
	info, path, err := m.input(fileID)
	if err != nil {
		return nil, err
	}
	if info.Format == "pccf_fixed" {
		return nil, fmt.Errorf("%w: %s must be converted first", ErrInvalidRequest, info.Name)
	}

	name := req.OutputName
	if name == "" {
		delim := opts.OutputDelimiter
		if delim == 0 {
			delim = ','
		}
		prefix := opts.Prefix
		if prefix == "" {
			prefix = "all"
		}
		name = baseName(info.Name) + "_" + prefix + extension(delim)
	}

	job := m.newJob(KindSubset, info)
	m.launch(job, func(ctx context.Context) error {
		return m.runSubset(ctx, job.ID, path, name, opts)
	})
	return m.snapshot(job.ID), nil
}

func (m *Manager) input(fileID string) (*models.FileInfo, string, error) {
	if _, err := m.Detect(fileID); err != nil {
		return nil, "", err
	}
	info, err := m.store.Get(fileID)
	if err != nil {
		return nil, "", err
	}
	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		return nil, "", err
	}
	return info, path, nil
}

func baseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func extension(delim rune) string {
	switch delim {
	case 0, '\t':
		return ".tsv"
	case ',':
		return ".csv"
	}
	return ".txt"
}

func (m *Manager) newJob(kind Kind, info *models.FileInfo) *Job {
	job := &Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		FileID:     info.ID,
		FileName:   info.Name,
		Status:     StatusQueued,
		TotalBytes: info.Size,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	jobsStarted.WithLabelValues(string(kind)).Inc()
	return job
}

// launch runs fn in the background once a slot is free.
func (m *Manager) launch(job *Job, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				m.cfg.Logger.Error("[jobs] panic recovered", "job", job.ID, "panic", r)
				m.finish(job.ID, fmt.Errorf("internal error: %v", r))
			}
		}()

		select {
		case m.slots <- struct{}{}:
		case <-ctx.Done():
			m.finish(job.ID, ctx.Err())
			return
		}
		defer func() { <-m.slots }()

		now := time.Now()
		m.update(job.ID, func(j *Job) {
			j.Status = StatusRunning
			j.StartedAt = &now
		})
		jobsRunning.Inc()
		defer jobsRunning.Dec()

		m.finish(job.ID, fn(ctx))
	}()
}

func (m *Manager) runConvert(ctx context.Context, jobID, inPath, outName string, opts converter.Options) error {
	out, outPath, err := m.store.ReserveOutput(outName, "pccf_tsv")
	if err != nil {
		return err
	}

	progress := rate.Sometimes{Interval: m.cfg.ProgressInterval}
	if progress.Interval <= 0 {
		progress.Every = 1
	}
	opts.Logger = m.cfg.Logger
	opts.OnProgress = func(lines int, bytes, total int64) {
		progress.Do(func() {
			m.update(jobID, func(j *Job) {
				j.LinesProcessed = lines
				j.BytesProcessed = bytes
				j.TotalBytes = total
				if total > 0 {
					j.Progress = min(float64(bytes)/float64(total)*100, 99)
				}
			})
		})
	}

	stats, err := converter.ConvertFile(ctx, inPath, outPath, opts)
	m.update(jobID, func(j *Job) {
		j.Stats = stats
		if stats != nil {
			j.LinesProcessed = stats.Lines
			j.BytesProcessed = stats.Bytes
		}
	})
	if err != nil {
		return err
	}

	if err := m.store.CommitOutput(out); err != nil {
		return err
	}
	m.update(jobID, func(j *Job) { j.Output = out })
	return nil
}

func (m *Manager) runSubset(ctx context.Context, jobID, inPath, outName string, opts subset.Options) error {
	out, outPath, err := m.store.ReserveOutput(outName, "pccf_subset")
	if err != nil {
		return err
	}

	opts.Logger = m.cfg.Logger
	stats, err := subset.FilterFile(ctx, inPath, outPath, opts)
	m.update(jobID, func(j *Job) {
		j.SubsetStats = stats
		if stats != nil {
			j.LinesProcessed = stats.Rows
		}
	})
	if err != nil {
		return err
	}

	if err := m.store.CommitOutput(out); err != nil {
		return err
	}
	m.update(jobID, func(j *Job) { j.Output = out })
	return nil
}

// update applies fn to a job and notifies subscribers (thread-safe).
func (m *Manager) update(id string, fn func(j *Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	m.notifyLocked(job)
}

// finish marks a job complete, failed or canceled.
func (m *Manager) finish(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status.Done() {
		return
	}

	now := time.Now()
	job.CompletedAt = &now
	switch {
	case err == nil:
		job.Status = StatusComplete
		job.Progress = 100
	case errors.Is(err, context.Canceled):
		job.Status = StatusCanceled
		job.Error = "canceled"
	default:
		job.Status = StatusError
		job.Error = err.Error()
		m.cfg.Logger.Error("[jobs] job failed", "job", id, "kind", job.Kind, "file", job.FileName, "error", err)
	}

	if job.StartedAt != nil {
		jobDuration.WithLabelValues(string(job.Kind)).Observe(now.Sub(*job.StartedAt).Seconds())
	}
	jobsFinished.WithLabelValues(string(job.Kind), string(job.Status)).Inc()

	delete(m.cancels, id)
	m.notifyLocked(job)
	for _, ch := range m.subs[id] {
		close(ch)
	}
	delete(m.subs, id)
}

// notifyLocked sends a snapshot to each subscriber without blocking. A slow
// subscriber misses intermediate updates but always gets the final one
// before its channel closes.
func (m *Manager) notifyLocked(job *Job) {
	snap := *job
	for _, ch := range m.subs[job.ID] {
		select {
		case ch <- snap:
		default:
			if snap.Status.Done() {
				select {
				case <-ch:
				default:
				}
				ch <- snap
			}
		}
	}
}

func (m *Manager) snapshot(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil
	}
	c := *job
	return &c
}

// GetJob retrieves a copy of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	j := m.snapshot(id)
	return j, j != nil
}

// ListJobs returns copies of all jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		c := *job
		list = append(list, &c)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Subscribe returns a channel of job snapshots that is closed when the job
// finishes. The current state is sent first. The returned func
// unsubscribes early.
func (m *Manager) Subscribe(id string) (<-chan Job, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	ch := make(chan Job, 16)
	ch <- *job
	if job.Status.Done() {
		close(ch)
		return ch, func() {}, nil
	}
	m.subs[id] = append(m.subs[id], ch)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			subs := m.subs[id]
			for i, c := range subs {
				if c == ch {
					m.subs[id] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
	return ch, unsubscribe, nil
}

// Cancel stops a queued or running job.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	_, ok := m.jobs[id]
	cancel := m.cancels[id]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// Wait blocks until every launched job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels all jobs and waits for them until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CleanupOldJobs removes finished jobs older than the specified duration.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}
