package storage

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"zigbridge/internal/observability"
)

// DirtyClass is a bitmask naming which entity families have pending
// writes. Classes commit in a fixed order so referential rows land
// before the rows pointing at them.
type DirtyClass uint32

const (
	DirtyAuth DirtyClass = 1 << iota
	DirtyConfig
	DirtyUserParam
	DirtyGateways
	DirtyLights
	DirtyGroups
	DirtyScenes
	DirtyRules
	DirtyResourcelinks
	DirtySchedules
	DirtySensors
	DirtyQueryQueue
	// DirtySync forces a full WAL checkpoint after the commit.
	DirtySync
	// DirtyNoSave suppresses committing while set; pending classes are
	// retained and retried once the flag is cleared.
	DirtyNoSave
)

// DirtyAll covers every persistable class, without the control flags.
const DirtyAll = DirtyAuth | DirtyConfig | DirtyUserParam | DirtyGateways |
	DirtyLights | DirtyGroups | DirtyScenes | DirtyRules |
	DirtyResourcelinks | DirtySchedules | DirtySensors | DirtyQueryQueue

const (
	defaultShortDelay = 5 * time.Second
	defaultLongDelay  = 10 * time.Minute

	// queryQueuePressure is the queued-statement count past which the
	// next commit is pulled forward to the short delay.
	queryQueuePressure = 20

	// maintenanceInterval spaces out checkpoint and optimize passes.
	// Maintenance piggybacks on commits so it never reopens a
	// connection the idle TTL already closed.
	maintenanceInterval = time.Hour
)

// CommitSummary describes one completed commit, for observers such as
// the event notifier.
type CommitSummary struct {
	Classes  DirtyClass
	Rows     int
	Duration time.Duration
}

// Guard reports whether the foreground is in a phase during which
// commits must be postponed, such as an active firmware transfer.
type Guard func() bool

// Scheduler coalesces entity writes into periodic transactions. Callers
// mark classes dirty with a delay; the shortest requested delay wins
// and one transaction flushes every dirty class when the deadline
// passes. There is exactly one scheduler per store.
type Scheduler struct {
	store *Store
	cache *Cache

	logger  *slog.Logger
	metrics *observability.Metrics

	shortDelay time.Duration
	longDelay  time.Duration

	guards   []Guard
	onCommit func(CommitSummary)

	mu              sync.Mutex
	dirty           DirtyClass
	queryQueue      []string
	deadline        time.Time
	lastMaintenance time.Time

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithCommitDelays overrides the short and long coalescing delays.
func WithCommitDelays(short, long time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if short > 0 {
			s.shortDelay = short
		}
		if long > 0 {
			s.longDelay = long
		}
	}
}

// WithCommitGuard registers a postpone predicate. While any guard
// reports true, due commits are pushed back by the short delay.
func WithCommitGuard(g Guard) SchedulerOption {
	return func(s *Scheduler) {
		if g != nil {
			s.guards = append(s.guards, g)
		}
	}
}

// WithOnCommit registers a callback invoked after every successful
// commit, outside the scheduler's lock.
func WithOnCommit(fn func(CommitSummary)) SchedulerOption {
	return func(s *Scheduler) {
		s.onCommit = fn
	}
}

// NewScheduler builds a scheduler over a store and its cache. Start
// must be called before writes are flushed.
func NewScheduler(store *Store, cache *Cache, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		store:      store,
		cache:      cache,
		logger:     store.logger,
		metrics:    store.metrics,
		shortDelay: defaultShortDelay,
		longDelay:  defaultLongDelay,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the commit loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop terminates the commit loop and flushes whatever is still dirty.
func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
	s.Flush()
}

// QueueSave marks classes dirty and arms the commit deadline. A shorter
// delay than the currently armed one pulls the deadline forward; a
// longer one never pushes it back. Zero delay means the long default.
func (s *Scheduler) QueueSave(classes DirtyClass, delay time.Duration) {
	if delay <= 0 {
		delay = s.longDelay
	}
	target := time.Now().Add(delay)

	s.mu.Lock()
	s.dirty |= classes
	if s.deadline.IsZero() || target.Before(s.deadline) {
		s.deadline = target
	}
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SetNoSave raises or clears the commit suppression flag. While raised,
// dirty classes accumulate but nothing is written.
func (s *Scheduler) SetNoSave(on bool) {
	s.mu.Lock()
	if on {
		s.dirty |= DirtyNoSave
	} else {
		s.dirty &^= DirtyNoSave
	}
	s.mu.Unlock()
}

// PushZCLValue queues one time-series sample as a textual statement.
// Samples are dropped entirely while history collection is disabled. A
// queued statement for the same device, endpoint, cluster, attribute
// and data is replaced in place so a chatty attribute occupies one
// slot. Queue pressure pulls the commit forward.
func (s *Scheduler) PushZCLValue(v ZCLValue) {
	maxAge := s.store.ZCLValueMaxAge()
	if maxAge <= 0 {
		return
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	stmt := zclInsertSQL(v)
	key := zclStatementKey(stmt)

	s.mu.Lock()
	replaced := false
	for i, queued := range s.queryQueue {
		if zclStatementKey(queued) == key {
			s.queryQueue[i] = stmt
			replaced = true
			break
		}
	}
	if !replaced {
		s.queryQueue = append(s.queryQueue, stmt)
	}
	depth := len(s.queryQueue)
	s.mu.Unlock()

	s.metrics.ObserveQueueDepth(depth)

	delay := s.longDelay
	if depth > queryQueuePressure {
		delay = s.shortDelay
	}
	s.QueueSave(DirtyQueryQueue, delay)
}

// QueueStatement enqueues one raw statement for the next commit.
func (s *Scheduler) QueueStatement(stmt string) {
	s.mu.Lock()
	s.queryQueue = append(s.queryQueue, stmt)
	s.mu.Unlock()
	s.QueueSave(DirtyQueryQueue, s.shortDelay)
}

// Flush commits every dirty class immediately, ignoring the deadline.
// Guards are still honored only via their absence; shutdown must not
// hold data hostage to a foreground phase that will never end.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	s.dirty &^= DirtyNoSave
	pending := s.dirty != 0 || len(s.queryQueue) > 0
	s.mu.Unlock()
	if !pending {
		return
	}
	s.commit()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.kick:
			s.maybeCommit()
		case <-ticker.C:
			s.store.TickIdle()
			s.maybeCommit()
		}
	}
}

func (s *Scheduler) maybeCommit() {
	s.mu.Lock()
	due := s.dirty != 0 && !s.deadline.IsZero() && !time.Now().Before(s.deadline)
	suppressed := s.dirty&DirtyNoSave != 0
	s.mu.Unlock()
	if !due {
		return
	}
	if suppressed || s.guarded() {
		s.postpone()
		return
	}
	s.commit()
}

func (s *Scheduler) guarded() bool {
	for _, g := range s.guards {
		if g() {
			return true
		}
	}
	return false
}

// postpone pushes the deadline back by the short delay without touching
// the dirty mask.
func (s *Scheduler) postpone() {
	s.mu.Lock()
	s.deadline = time.Now().Add(s.shortDelay)
	s.mu.Unlock()
}

// pendingWrite pairs a statement to run inside the transaction with the
// cache mutation to apply once the transaction has durably committed.
type pendingWrite struct {
	apply func(ex execer) error
	done  func()
}

// commit runs one write transaction over every dirty class. Individual
// row failures are logged and the owning class stays dirty for the next
// round; a busy commit keeps everything dirty and retries after the
// short delay.
func (s *Scheduler) commit() {
	s.mu.Lock()
	classes := s.dirty &^ DirtyNoSave
	statements := s.queryQueue
	s.dirty = 0
	s.queryQueue = nil
	s.deadline = time.Time{}
	s.mu.Unlock()

	if classes == 0 && len(statements) == 0 {
		return
	}

	db, err := s.store.conn()
	if err != nil {
		s.requeue(classes, statements)
		return
	}

	start := time.Now()
	tx, err := db.Begin()
	if err != nil {
		s.logger.Error("commit begin failed", slog.Any("error", err))
		s.metrics.IncCommitErrors()
		s.requeue(classes, statements)
		return
	}

	var (
		rows    int
		failed  DirtyClass
		doneFns []func()
	)
	for _, step := range s.commitPlan(classes) {
		writes := step.collect()
		for _, w := range writes {
			if err := w.apply(tx); err != nil {
				failed |= step.class
				continue
			}
			if w.done != nil {
				doneFns = append(doneFns, w.done)
			}
			rows++
		}
	}

	if classes&DirtyQueryQueue != 0 {
		rows += s.drainQueue(tx, statements)
	}

	if err := tx.Commit(); err != nil {
		s.metrics.IncCommitErrors()
		if isBusy(err) {
			s.logger.Warn("commit busy, retrying", slog.Any("error", err))
		} else {
			s.logger.Error("commit failed", slog.Any("error", err))
		}
		// A failed COMMIT can leave the pinned connection inside the
		// transaction. Close it out so the retry starts clean.
		if _, rbErr := db.Exec("ROLLBACK"); rbErr != nil {
			s.logger.Debug("rollback after failed commit", slog.Any("error", rbErr))
		}
		s.requeue(classes, statements)
		return
	}

	// Cache state only changes once the transaction is durable.
	for _, fn := range doneFns {
		fn()
	}

	if failed != 0 {
		s.requeue(failed, nil)
	}
	if classes&DirtySync != 0 {
		if _, err := db.Exec("PRAGMA wal_checkpoint(FULL)"); err != nil {
			s.logger.Warn("post-commit checkpoint failed", slog.Any("error", err))
		}
	}

	elapsed := time.Since(start)
	s.metrics.ObserveCommit(elapsed)
	s.metrics.AddRowsWritten(rows)
	s.logger.Debug("commit finished",
		slog.Int("rows", rows),
		slog.Duration("elapsed", elapsed))

	if s.onCommit != nil {
		s.onCommit(CommitSummary{Classes: classes, Rows: rows, Duration: elapsed})
	}

	s.maybeMaintain()
}

// maybeMaintain runs the checkpoint and optimize pass at most once per
// maintenanceInterval, right after a commit while the connection is
// known to be open.
func (s *Scheduler) maybeMaintain() {
	s.mu.Lock()
	due := s.lastMaintenance.IsZero() || time.Since(s.lastMaintenance) >= maintenanceInterval
	if due {
		s.lastMaintenance = time.Now()
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if err := s.store.Maintenance(); err != nil {
		s.logger.Warn("maintenance pass failed", slog.Any("error", err))
	}
}

// requeue restores classes and statements after a failed or postponed
// commit, armed with the short delay.
func (s *Scheduler) requeue(classes DirtyClass, statements []string) {
	if len(statements) > 0 {
		s.mu.Lock()
		s.queryQueue = append(statements, s.queryQueue...)
		s.mu.Unlock()
		classes |= DirtyQueryQueue
	}
	if classes != 0 {
		s.QueueSave(classes, s.shortDelay)
	}
}

// drainQueue executes queued textual statements inside the
// transaction. When any sample landed and history is bounded, exactly
// one trim statement follows the batch.
func (s *Scheduler) drainQueue(ex execer, statements []string) int {
	rows := 0
	insertedSamples := false
	for _, stmt := range statements {
		if len(stmt) > formatBufferSize {
			s.logger.Error("queued statement skipped: format buffer overflow",
				slog.Int("length", len(stmt)))
			continue
		}
		if err := s.store.execOn(ex, stmt); err != nil {
			continue
		}
		rows++
		if strings.HasPrefix(stmt, "INSERT INTO zcl_values") {
			insertedSamples = true
		}
	}
	if insertedSamples {
		if maxAge := s.store.ZCLValueMaxAge(); maxAge > 0 {
			if err := s.store.execOn(ex, zclTrimSQL(maxAge, time.Now())); err == nil {
				rows++
			}
		}
	}
	return rows
}

type commitStep struct {
	class   DirtyClass
	collect func() []pendingWrite
}

// commitPlan orders the dirty classes for one transaction. Groups
// flush before scenes so a scene never references a vanished group
// within the same commit.
func (s *Scheduler) commitPlan(classes DirtyClass) []commitStep {
	var plan []commitStep
	add := func(class DirtyClass, collect func() []pendingWrite) {
		if classes&class != 0 {
			plan = append(plan, commitStep{class: class, collect: collect})
		}
	}
	add(DirtyAuth, s.collectAuth)
	add(DirtyConfig, s.collectConfig)
	add(DirtyUserParam, s.collectUserParams)
	add(DirtyGateways, s.collectGateways)
	add(DirtyLights, s.collectLights)
	add(DirtyGroups, s.collectGroups)
	add(DirtyScenes, s.collectScenes)
	add(DirtyRules, s.collectRules)
	add(DirtyResourcelinks, s.collectResourcelinks)
	add(DirtySchedules, s.collectSchedules)
	add(DirtySensors, s.collectSensors)
	return plan
}

func (s *Scheduler) collectAuth() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, t := range c.auth {
		key, t := key, t
		switch {
		case t.State == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteAuthToken(ex, t.APIKey) },
				done:  func() { c.mu.Lock(); delete(c.auth, key); c.mu.Unlock() },
			})
		case t.NeedSave:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveAuthToken(ex, t) },
				done:  func() { t.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectConfig() []pendingWrite {
	return []pendingWrite{{
		apply: func(ex execer) error { return s.store.saveConfig(ex, s.cache) },
	}}
}

func (s *Scheduler) collectUserParams() []pendingWrite {
	return []pendingWrite{{
		apply: func(ex execer) error { return s.store.saveUserParams(ex, s.cache) },
	}}
}

func (s *Scheduler) collectGateways() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, g := range c.gateways {
		key, g := key, g
		switch {
		case g.State == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteGateway(ex, g.UUID) },
				done:  func() { c.mu.Lock(); delete(c.gateways, key); c.mu.Unlock() },
			})
		case g.NeedSave:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveGateway(ex, g) },
				done:  func() { g.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectLights() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, l := range c.lights {
		key, l := key, l
		switch {
		case l.State == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteLight(ex, l.ID) },
				done:  func() { c.mu.Lock(); delete(c.lights, key); c.mu.Unlock() },
			})
		case l.NeedSave:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveLight(ex, l) },
				done:  func() { l.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectGroups() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, g := range c.groups {
		key, g := key, g
		switch {
		case g.State == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error {
					if err := s.store.deleteGroupScenes(ex, g.GID); err != nil {
						return err
					}
					return s.store.deleteGroup(ex, g.GID)
				},
				done: func() { c.mu.Lock(); delete(c.groups, key); c.mu.Unlock() },
			})
		case g.NeedSave:
			out = append(out, pendingWrite{
				apply: func(ex execer) error {
					if err := s.store.saveGroup(ex, g); err != nil {
						return err
					}
					// Soft-deleted groups keep their row but shed
					// their scenes in the same transaction.
					if g.State == StateDeleted {
						return s.store.deleteGroupScenes(ex, g.GID)
					}
					return nil
				},
				done: func() { g.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectScenes() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, scene := range c.scenes {
		key, scene := key, scene
		switch {
		case scene.Deleted:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteScene(ex, scene.GID, scene.SID) },
				done:  func() { c.mu.Lock(); delete(c.scenes, key); c.mu.Unlock() },
			})
		case scene.NeedSave:
			// Scenes of detached groups have nothing to hang off.
			if _, ok := c.groups[scene.GID]; !ok {
				continue
			}
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveScene(ex, scene) },
				done:  func() { scene.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectRules() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, r := range c.rules {
		key, r := key, r
		switch {
		case r.State == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteRule(ex, r.RID) },
				done:  func() { c.mu.Lock(); delete(c.rules, key); c.mu.Unlock() },
			})
		case r.NeedSave:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveRule(ex, r) },
				done:  func() { r.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectResourcelinks() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, r := range c.resourcelinks {
		key, r := key, r
		switch {
		case r.State == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteResourcelink(ex, r.ID) },
				done:  func() { c.mu.Lock(); delete(c.resourcelinks, key); c.mu.Unlock() },
			})
		case r.NeedSave:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveResourcelink(ex, r) },
				done:  func() { r.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectSchedules() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, sch := range c.schedules {
		key, sch := key, sch
		switch {
		case sch.State == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteSchedule(ex, sch.ID) },
				done:  func() { c.mu.Lock(); delete(c.schedules, key); c.mu.Unlock() },
			})
		case sch.NeedSave:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveSchedule(ex, sch) },
				done:  func() { sch.NeedSave = false },
			})
		}
	}
	return out
}

func (s *Scheduler) collectSensors() []pendingWrite {
	c := s.cache
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []pendingWrite
	for key, sensor := range c.sensors {
		key, sensor := key, sensor
		switch {
		case sensor.DeletedState == StateDeleteFromDB:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.deleteSensor(ex, sensor.SID) },
				done:  func() { c.mu.Lock(); delete(c.sensors, key); c.mu.Unlock() },
			})
		case sensor.NeedSave && !sensor.HandledByDDF:
			out = append(out, pendingWrite{
				apply: func(ex execer) error { return s.store.saveSensor(ex, sensor) },
				done:  func() { sensor.NeedSave = false },
			})
		}
	}
	return out
}
