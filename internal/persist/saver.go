package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"github.com/l1jgo/worldmesh/internal/world"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Repos bundles the repositories the server reads at login.
type Repos struct {
	Accounts  *AccountRepo
	Locations *LocationRepo
	Items     *ItemRepo
}

func NewRepos(db *DB) *Repos {
	return &Repos{
		Accounts:  NewAccountRepo(db),
		Locations: NewLocationRepo(db),
		Items:     NewItemRepo(db),
	}
}

// SaveKind tags a SaveJob.
type SaveKind uint8

const (
	SaveLocation SaveKind = iota + 1
	SaveInventorySlot
	SaveEquipmentSlot
	SaveLogin
)

func (k SaveKind) String() string {
	switch k {
	case SaveLocation:
		return "location"
	case SaveInventorySlot:
		return "inventory"
	case SaveEquipmentSlot:
		return "equipment"
	case SaveLogin:
		return "login"
	}
	return fmt.Sprintf("SaveKind(%d)", uint8(k))
}

// SaveJob is one write. Only the fields of Kind are set.
type SaveJob struct {
	Kind      SaveKind   `msgpack:"k"`
	AccountID int64      `msgpack:"a"`
	Location  Location   `msgpack:"l"`
	Slot      uint16     `msgpack:"s"`
	Item      world.Item `msgpack:"i"`
	IP        string     `msgpack:"ip"`
	At        time.Time  `msgpack:"at"`
	Seq       uint64     `msgpack:"seq,omitempty"` // write order, set by the saver
}

// saveKey identifies the row a job overwrites.
type saveKey struct {
	kind    SaveKind
	account int64
	slot    uint16
}

func (j SaveJob) key() saveKey {
	return saveKey{kind: j.Kind, account: j.AccountID, slot: j.Slot}
}

// Saver owns every database write made after login. Jobs run on the Run
// goroutine; storage failures are retried with exponential backoff and then
// spooled to disk for a later flush. Every job carries a sequence number and
// a row is never overwritten by a job older than the one last written to it.
type Saver struct {
	repos *Repos
	spool *Spool
	store *world.Store
	cfg   config.PersistConfig
	queue chan SaveJob
	log   *zap.Logger

	seq atomic.Uint64

	mu      sync.Mutex
	written map[saveKey]uint64 // newest Seq stored per row
}

// NewSaver builds a saver. store may be nil, which disables the periodic
// location snapshot.
func NewSaver(repos *Repos, store *world.Store, cfg config.PersistConfig, log *zap.Logger) (*Saver, error) {
	spool, err := NewSpool(cfg.SpoolPath)
	if err != nil {
		return nil, err
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	s := &Saver{
		repos:   repos,
		spool:   spool,
		store:   store,
		cfg:     cfg,
		queue:   make(chan SaveJob, size),
		log:     log,
		written: make(map[saveKey]uint64),
	}
	// wall-clock seed keeps numbers above those spooled by earlier runs
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

func (s *Saver) stamp(job SaveJob) SaveJob {
	if job.Seq == 0 {
		job.Seq = s.seq.Add(1)
	}
	return job
}

// superseded reports whether a newer job already reached job's row.
func (s *Saver) superseded(job SaveJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return job.Seq != 0 && job.Seq < s.written[job.key()]
}

func (s *Saver) markWritten(job SaveJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.Seq > s.written[job.key()] {
		s.written[job.key()] = job.Seq
	}
}

// Enqueue hands job to the saver without blocking. When the queue is full
// the job goes straight to the spool.
func (s *Saver) Enqueue(job SaveJob) {
	job = s.stamp(job)
	select {
	case s.queue <- job:
		return
	default:
	}
	if err := s.spool.Append(job); err != nil {
		s.log.Error("存檔佇列已滿且暫存檔寫入失敗", zap.Stringer("kind", job.Kind), zap.Int64("account", job.AccountID), zap.Error(err))
		return
	}
	s.log.Warn("存檔佇列已滿，已寫入暫存檔", zap.Stringer("kind", job.Kind), zap.Int64("account", job.AccountID))
}

// Run processes jobs until ctx ends, then drains the queue and saves every
// online player's location once more.
func (s *Saver) Run(ctx context.Context) error {
	saveEvery, flushEvery := s.cfg.SaveInterval, s.cfg.FlushInterval
	if saveEvery <= 0 {
		saveEvery = 5 * time.Minute
	}
	if flushEvery <= 0 {
		flushEvery = time.Minute
	}
	save := time.NewTicker(saveEvery)
	defer save.Stop()
	flush := time.NewTicker(flushEvery)
	defer flush.Stop()

	s.flushAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return s.shutdown()
		case job := <-s.queue:
			s.handle(ctx, job)
		case <-save.C:
			n := s.saveAllLocations(ctx)
			s.log.Debug("自動存檔完成", zap.Int("players", n))
		case <-flush.C:
			s.flushAndLog(ctx)
		}
	}
}

func (s *Saver) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs error
	var pending []SaveJob
	for {
		select {
		case job := <-s.queue:
			if err := s.Save(ctx, job); err != nil {
				pending = append(pending, job)
				errs = multierr.Append(errs, err)
			}
			continue
		default:
		}
		break
	}
	for _, job := range s.locationJobs() {
		if err := s.Save(ctx, job); err != nil {
			pending = append(pending, job)
			errs = multierr.Append(errs, err)
		}
	}
	if err := s.spool.Append(pending...); err != nil {
		errs = multierr.Append(errs, err)
	}
	if len(pending) > 0 {
		s.log.Warn("關機存檔未完成，已寫入暫存檔", zap.Int("jobs", len(pending)), zap.String("spool", s.spool.Path()))
	}
	return errs
}

func (s *Saver) handle(ctx context.Context, job SaveJob) {
	job = s.stamp(job)
	err := s.Save(ctx, job)
	if err == nil {
		return
	}
	if serr := s.spool.Append(job); serr != nil {
		s.log.Error("存檔失敗且暫存檔寫入失敗",
			zap.Stringer("kind", job.Kind),
			zap.Int64("account", job.AccountID),
			zap.Error(multierr.Combine(err, serr)),
		)
		return
	}
	s.log.Warn("存檔失敗，已寫入暫存檔", zap.Stringer("kind", job.Kind), zap.Int64("account", job.AccountID), zap.Error(err))
}

// Save writes job now. Storage failures are retried; anything else fails
// at once. A job older than the last write to its row is skipped.
func (s *Saver) Save(ctx context.Context, job SaveJob) error {
	if s.superseded(job) {
		return nil
	}
	b := retry.WithMaxRetries(s.cfg.SaveRetries, retry.NewExponential(s.retryBase()))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := s.apply(ctx, job)
		if errors.Is(err, ErrPersistence) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		s.markWritten(job)
	}
	return err
}

func (s *Saver) retryBase() time.Duration {
	if s.cfg.RetryBase <= 0 {
		return 100 * time.Millisecond
	}
	return s.cfg.RetryBase
}

func (s *Saver) apply(ctx context.Context, job SaveJob) error {
	switch job.Kind {
	case SaveLocation:
		return s.repos.Locations.Save(ctx, job.AccountID, job.Location)
	case SaveInventorySlot:
		return s.repos.Items.SaveInventorySlot(ctx, job.AccountID, job.Slot, job.Item)
	case SaveEquipmentSlot:
		return s.repos.Items.SaveEquipmentSlot(ctx, job.AccountID, job.Slot, job.Item)
	case SaveLogin:
		return s.repos.Accounts.Save(ctx, job.AccountID, job.IP, job.At)
	}
	return fmt.Errorf("unknown save job %s", job.Kind)
}

// Flush replays the spool in write order, newest job per row only. Jobs
// that fail again go back to the spool.
func (s *Saver) Flush(ctx context.Context) (saved int, err error) {
	jobs, err := s.spool.Drain()
	if err != nil {
		return 0, err
	}
	var failed []SaveJob
	for _, job := range latestPerRow(jobs) {
		if serr := s.Save(ctx, job); serr != nil {
			failed = append(failed, job)
			err = multierr.Append(err, serr)
		}
	}
	err = multierr.Append(err, s.spool.Append(failed...))
	return len(jobs) - len(failed), err
}

// latestPerRow orders jobs by Seq and keeps the last one for each row.
func latestPerRow(jobs []SaveJob) []SaveJob {
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].Seq < jobs[j].Seq })
	last := make(map[saveKey]int, len(jobs))
	for i, job := range jobs {
		last[job.key()] = i
	}
	out := make([]SaveJob, 0, len(last))
	for i, job := range jobs {
		if last[job.key()] == i {
			out = append(out, job)
		}
	}
	return out
}

func (s *Saver) flushAndLog(ctx context.Context) {
	n, err := s.Flush(ctx)
	if n > 0 {
		s.log.Info("暫存檔已回寫資料庫", zap.Int("jobs", n))
	}
	if err != nil {
		s.log.Warn("暫存檔回寫未完成", zap.Error(err))
	}
}

// locationJobs snapshots the position of every online player.
func (s *Saver) locationJobs() []SaveJob {
	if s.store == nil {
		return nil
	}
	var jobs []SaveJob
	s.store.Client.Range(func(k world.GlobalKey, c world.Client) bool {
		if c.Online != packet.OnlineOnline || c.AccountID == 0 {
			return true
		}
		if sp, ok := s.store.Spatial.Get(k); ok {
			jobs = append(jobs, s.stamp(SaveJob{
				Kind:      SaveLocation,
				AccountID: c.AccountID,
				Location:  Location{Pos: sp.Pos, Dir: sp.Dir},
			}))
		}
		return true
	})
	return jobs
}

func (s *Saver) saveAllLocations(ctx context.Context) int {
	jobs := s.locationJobs()
	for _, job := range jobs {
		s.handle(ctx, job)
	}
	return len(jobs)
}
