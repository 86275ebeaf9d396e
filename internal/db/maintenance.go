package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
)

// Maintenance keeps an indexer database compact while batches are being applied.
type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for it.
	Stop() error
	// AcquireOperationLock is held by every batch transaction. It returns the release function.
	AcquireOperationLock() func()
	// BatchCommitted records a committed batch; every CheckpointEveryBatches commits
	// a WAL checkpoint is scheduled.
	BatchCommitted()
	// RunMaintenance checkpoints the WAL and vacuums, waiting for in-flight batches.
	RunMaintenance(ctx context.Context) error
	// Stats returns what maintenance has done so far.
	Stats() Stats
}

// Stats describes the maintenance of one indexer database.
type Stats struct {
	Indexer     string
	Runs        uint64
	Checkpoints uint64
	Commits     uint64
	LastRun     time.Time
	LastError   error
}

// NoOpMaintenance only counts commits. It is used when maintenance is not configured.
type NoOpMaintenance struct {
	indexer string
	commits atomic.Uint64
}

func (m *NoOpMaintenance) Start(context.Context) error          { return nil }
func (m *NoOpMaintenance) Stop() error                          { return nil }
func (m *NoOpMaintenance) RunMaintenance(context.Context) error { return nil }
func (m *NoOpMaintenance) AcquireOperationLock() func()         { return func() {} }

func (m *NoOpMaintenance) BatchCommitted() {
	m.commits.Add(1)
	committedBatchInc(m.indexer)
}

func (m *NoOpMaintenance) Stats() Stats {
	return Stats{Indexer: m.indexer, Commits: m.commits.Load()}
}

// MaintenanceCoordinator serializes maintenance against batch transactions of one
// indexer: batches hold the read side of opLock, maintenance takes the write side.
type MaintenanceCoordinator struct {
	indexer string
	db      *sql.DB
	config  config.MaintenanceConfig
	dbPath  string
	log     *logger.Logger

	opLock sync.RWMutex

	commits    atomic.Uint64
	checkpoint chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsLock sync.Mutex
	stats     Stats
}

// NewMaintenanceCoordinator returns the maintenance of the database at dbPath. A nil
// cfg disables maintenance.
func NewMaintenanceCoordinator(
	indexer string,
	dbPath string,
	db *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil {
		return &NoOpMaintenance{indexer: indexer}
	}
	return newMaintenanceCoordinator(indexer, dbPath, db, *cfg, log)
}

func newMaintenanceCoordinator(
	indexer string,
	dbPath string,
	db *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	if log == nil {
		log = logger.NewNopLogger()
	}
	cfg.ApplyDefaults()

	return &MaintenanceCoordinator{
		indexer:    indexer,
		db:         db,
		config:     cfg,
		dbPath:     dbPath,
		log:        log.WithComponent(common.ComponentMaintenance),
		checkpoint: make(chan struct{}, 1),
		stats:      Stats{Indexer: indexer},
	}
}

// Start runs the startup vacuum if configured and starts the worker.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.config.Enabled {
		m.log.Info("background maintenance is disabled")
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		if err := m.RunMaintenance(ctx); err != nil {
			m.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	m.wg.Add(1)
	go m.worker(ctx)

	m.log.Infof("background maintenance started: interval=%v checkpoint_mode=%s checkpoint_every_batches=%d",
		m.config.CheckInterval.Duration, m.config.WALCheckpointMode, m.config.CheckpointEveryBatches)
	return nil
}

// Stop stops the worker and waits for a running pass to finish.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	m.log.Info("background maintenance stopped")
	return nil
}

func (m *MaintenanceCoordinator) worker(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.CheckInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := m.RunMaintenance(ctx); err != nil {
				m.log.Warnf("periodic maintenance failed: %v", err)
			}

		case <-m.checkpoint:
			if err := m.checkpointNow(ctx, TriggerCommits); err != nil {
				m.log.Warnf("WAL checkpoint after %d batches failed: %v", m.config.CheckpointEveryBatches, err)
			}
		}
	}
}

// BatchCommitted counts a committed batch and schedules a WAL checkpoint on the
// configured cadence. It never blocks the batch.
func (m *MaintenanceCoordinator) BatchCommitted() {
	n := m.commits.Add(1)
	committedBatchInc(m.indexer)

	every := m.config.CheckpointEveryBatches
	if !m.config.Enabled || every <= 0 || n%uint64(every) != 0 {
		return
	}
	select {
	case m.checkpoint <- struct{}{}:
	default:
	}
}

// checkpointNow runs a WAL checkpoint once the in-flight batch has committed.
func (m *MaintenanceCoordinator) checkpointNow(ctx context.Context, trigger string) error {
	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return m.walCheckpoint(trigger)
}

// RunMaintenance checkpoints the WAL and vacuums the database. New batches wait
// until it is done.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	before, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("failed to read database size: %v", err)
	}

	var runErr error
	if err := m.walCheckpoint(TriggerSchedule); err != nil {
		runErr = fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	if err := Vacuum(m.db); err != nil {
		m.log.Warnf("VACUUM failed: %v", err)
		if runErr == nil {
			runErr = fmt.Errorf("VACUUM failed: %w", err)
		}
	} else {
		vacuumInc(m.indexer)
	}

	after, err := DBTotalSize(m.dbPath)
	if err != nil {
		m.log.Warnf("failed to read database size: %v", err)
	}

	duration := time.Since(start)
	maintenanceRunLog(m.indexer, duration, runErr)
	dbSizeLog(m.indexer, after)

	m.statsLock.Lock()
	m.stats.Runs++
	m.stats.LastRun = time.Now().UTC()
	m.stats.LastError = runErr
	m.statsLock.Unlock()

	if runErr != nil {
		return runErr
	}

	if before > after {
		reclaimed := uint64(before - after)
		spaceReclaimedLog(m.indexer, reclaimed)
		m.log.Infof("maintenance done in %v, reclaimed %d MB", duration, common.BytesToMB(reclaimed))
	} else {
		m.log.Infof("maintenance done in %v", duration)
	}
	return nil
}

// walCheckpoint must be called with opLock held for writing.
func (m *MaintenanceCoordinator) walCheckpoint(trigger string) error {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		m.log.Debugf("journal mode is %s, skipping WAL checkpoint", mode)
		return nil
	}

	var busy, logFrames, checkpointed int
	stmt := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)
	if err := m.db.QueryRow(stmt).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to execute WAL checkpoint: %w", err)
	}

	walCheckpointInc(m.indexer, strings.ToLower(m.config.WALCheckpointMode), trigger)
	m.statsLock.Lock()
	m.stats.Checkpoints++
	m.statsLock.Unlock()

	m.log.Debugf("WAL checkpoint: trigger=%s mode=%s busy=%d log_frames=%d checkpointed=%d",
		trigger, m.config.WALCheckpointMode, busy, logFrames, checkpointed)
	if busy > 0 {
		m.log.Warnf("WAL checkpoint left %d busy pages", busy)
	}
	return nil
}

// AcquireOperationLock takes the shared side of the maintenance lock for a batch.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

func (m *MaintenanceCoordinator) Stats() Stats {
	m.statsLock.Lock()
	defer m.statsLock.Unlock()

	s := m.stats
	s.Commits = m.commits.Load()
	return s
}
