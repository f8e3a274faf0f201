package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-attendance-core/internal/models"
	"github.com/noah-isme/sma-attendance-core/pkg/database"
)

// memStore is an in-memory stand-in for the attendance tables. Exec arguments are
// ignored; the coordinator fixture snapshots the store on begin and restores it on rollback.
type memStore struct {
	mu        sync.Mutex
	seq       int
	events    map[string]models.AttendanceEvent
	summaries map[models.SummaryKey]models.AttendanceSummary
	terms     map[string]models.AcademicTerm
	histories map[string]models.TermHistory
	students  map[string]models.StudentStatus

	summaryWrites int
	failures      map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		events:    map[string]models.AttendanceEvent{},
		summaries: map[models.SummaryKey]models.AttendanceSummary{},
		terms:     map[string]models.AcademicTerm{},
		histories: map[string]models.TermHistory{},
		students:  map[string]models.StudentStatus{},
		failures:  map[string]error{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) fail(op string) error {
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

type memSnapshot struct {
	seq       int
	events    map[string]models.AttendanceEvent
	summaries map[models.SummaryKey]models.AttendanceSummary
	terms     map[string]models.AcademicTerm
	histories map[string]models.TermHistory
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		seq:       m.seq,
		events:    copyMap(m.events),
		summaries: copyMap(m.summaries),
		terms:     copyMap(m.terms),
		histories: copyMap(m.histories),
	}
}

func (m *memStore) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = snap.seq
	m.events = snap.events
	m.summaries = snap.summaries
	m.terms = snap.terms
	m.histories = snap.histories
}

func (m *memStore) addTerm(label string, half, days int, active bool) models.AcademicTerm {
	m.mu.Lock()
	defer m.mu.Unlock()
	term := models.AcademicTerm{
		ID:                 m.nextID("term"),
		Label:              label,
		Half:               half,
		StartDate:          time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
		EndDate:            time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC),
		TotalEffectiveDays: days,
		IsActive:           active,
	}
	m.terms[term.ID] = term
	return term
}

func (m *memStore) summary(key models.SummaryKey) (models.AttendanceSummary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[key]
	return s, ok
}

func uniqueViolation(constraint string) error {
	return &pq.Error{Code: "23505", Constraint: constraint}
}

type memEvents struct{ *memStore }

func (r memEvents) Create(_ context.Context, _ sqlx.ExtContext, event *models.AttendanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("events.create"); err != nil {
		return err
	}
	for _, e := range r.events {
		if e.StudentID == event.StudentID && e.Date.Equal(event.Date) && e.Subject == event.Subject {
			return uniqueViolation(database.ConstraintEventUnique)
		}
	}
	if event.ID == "" {
		event.ID = r.nextID("evt")
	}
	r.events[event.ID] = *event
	return nil
}

func (r memEvents) FindByID(_ context.Context, _ sqlx.ExtContext, id string, _ bool) (*models.AttendanceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (r memEvents) ExistsForSlot(_ context.Context, _ sqlx.ExtContext, studentID string, date time.Time, subject, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.events {
		if id != excludeID && e.StudentID == studentID && e.Date.Equal(date) && e.Subject == subject {
			return true, nil
		}
	}
	return false, nil
}

func (r memEvents) Update(_ context.Context, _ sqlx.ExtContext, event *models.AttendanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; !ok {
		return sql.ErrNoRows
	}
	r.events[event.ID] = *event
	return nil
}

func (r memEvents) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.events, id)
	return nil
}

func sortEvents(events []models.AttendanceEvent) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Subject != b.Subject {
			return a.Subject < b.Subject
		}
		return a.ID < b.ID
	})
}

func (r memEvents) ListByKey(_ context.Context, _ sqlx.ExtContext, key models.SummaryKey) ([]models.AttendanceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AttendanceEvent
	for _, e := range r.events {
		if e.Key() == key {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

func (r memEvents) ListByTerm(_ context.Context, _ sqlx.ExtContext, label string, half int) ([]models.AttendanceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AttendanceEvent
	for _, e := range r.events {
		if e.TermLabel == label && e.TermHalf == half {
			out = append(out, e)
		}
	}
	sortEvents(out)
	return out, nil
}

func (r memEvents) DeleteByTerm(_ context.Context, _ sqlx.ExtContext, label string, half int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, e := range r.events {
		if e.TermLabel == label && e.TermHalf == half {
			delete(r.events, id)
			n++
		}
	}
	return n, nil
}

type memSummaries struct{ *memStore }

func (r memSummaries) Find(_ context.Context, _ sqlx.ExtContext, key models.SummaryKey, _ bool) (*models.AttendanceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (r memSummaries) Upsert(_ context.Context, _ sqlx.ExtContext, summary *models.AttendanceSummary) (*models.AttendanceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("summaries.upsert"); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	stored := *summary
	if existing, ok := r.summaries[summary.Key()]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.ID = r.nextID("sum")
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.summaries[stored.Key()] = stored
	r.summaryWrites++
	return &stored, nil
}

func (r memSummaries) InsertIfAbsent(_ context.Context, _ sqlx.ExtContext, summary *models.AttendanceSummary) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.summaries[summary.Key()]; ok {
		return false, nil
	}
	stored := *summary
	stored.ID = r.nextID("sum")
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	r.summaries[stored.Key()] = stored
	r.summaryWrites++
	return true, nil
}

func (r memSummaries) ListByTerm(_ context.Context, _ sqlx.ExtContext, label string, half int) ([]models.AttendanceSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AttendanceSummary
	for _, s := range r.summaries {
		if s.TermLabel == label && s.TermHalf == half {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (r memSummaries) DeleteByTerm(_ context.Context, _ sqlx.ExtContext, label string, half int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key := range r.summaries {
		if key.TermLabel == label && key.TermHalf == half {
			delete(r.summaries, key)
			n++
		}
	}
	return n, nil
}

func (r memSummaries) StudentIDsInTerm(_ context.Context, _ sqlx.ExtContext, label string, half int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for key := range r.summaries {
		if key.TermLabel == label && key.TermHalf == half {
			seen[key.StudentID] = true
		}
	}
	for _, e := range r.events {
		if e.TermLabel == label && e.TermHalf == half {
			seen[e.StudentID] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memTerms struct{ *memStore }

func (r memTerms) List(_ context.Context, filter models.TermFilter) ([]models.AcademicTerm, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AcademicTerm
	for _, t := range r.terms {
		if filter.Label != "" && t.Label != filter.Label {
			continue
		}
		if filter.IsActive != nil && t.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r memTerms) FindByID(_ context.Context, _ sqlx.ExtContext, id string, _ bool) (*models.AcademicTerm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &t, nil
}

func (r memTerms) FindByLabelHalf(_ context.Context, _ sqlx.ExtContext, label string, half int) (*models.AcademicTerm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.terms {
		if t.Label == label && t.Half == half {
			return &t, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memTerms) FindActive(_ context.Context, _ sqlx.ExtContext) (*models.AcademicTerm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.terms {
		if t.IsActive {
			return &t, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memTerms) ExistsByLabelAndHalf(_ context.Context, _ sqlx.ExtContext, label string, half int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.terms {
		if t.Label == label && t.Half == half {
			return true, nil
		}
	}
	return false, nil
}

func (r memTerms) Create(_ context.Context, _ sqlx.ExtContext, term *models.AcademicTerm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.terms {
		if t.Label == term.Label && t.Half == term.Half {
			return uniqueViolation(database.ConstraintTermUnique)
		}
	}
	if term.ID == "" {
		term.ID = r.nextID("term")
	}
	r.terms[term.ID] = *term
	return nil
}

func (r memTerms) LockAll(context.Context, sqlx.ExtContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fail("terms.lock")
}

func (r memTerms) SetActive(_ context.Context, _ sqlx.ExtContext, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("terms.set_active"); err != nil {
		return err
	}
	if _, ok := r.terms[id]; !ok {
		return sql.ErrNoRows
	}
	for tid, t := range r.terms {
		t.IsActive = tid == id
		r.terms[tid] = t
	}
	return nil
}

func (r memTerms) Delete(_ context.Context, _ sqlx.ExtContext, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.terms[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.terms, id)
	return nil
}

type memHistories struct{ *memStore }

func (r memHistories) Create(_ context.Context, _ sqlx.ExtContext, history *models.TermHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.histories {
		if h.TermLabel == history.TermLabel && h.TermHalf == history.TermHalf {
			return uniqueViolation(database.ConstraintHistoryUnique)
		}
	}
	if history.ID == "" {
		history.ID = r.nextID("hist")
	}
	r.histories[history.ID] = *history
	return nil
}

func (r memHistories) GetByID(_ context.Context, id string) (*models.TermHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histories[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &h, nil
}

func (r memHistories) FindByTerm(_ context.Context, label string, half int) (*models.TermHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.histories {
		if h.TermLabel == label && h.TermHalf == half {
			return &h, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r memHistories) List(_ context.Context, filter models.TermHistoryFilter) ([]models.TermHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TermHistory
	for _, h := range r.histories {
		if filter.TermLabel != "" && h.TermLabel != filter.TermLabel {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

type memStudents struct{ *memStore }

func (r memStudents) Exists(_ context.Context, _ sqlx.ExtContext, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("students.exists"); err != nil {
		return false, err
	}
	_, ok := r.students[id]
	return ok, nil
}

func (r memStudents) ListEligibleIDs(context.Context, sqlx.ExtContext) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eligible := map[models.StudentStatus]bool{}
	for _, s := range models.EligibleStudentStatuses {
		eligible[s] = true
	}
	var ids []string
	for id, status := range r.students {
		if eligible[status] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// memCache is a map-backed cache store that records evictions. A non-nil evictErr
// makes Delete and Invalidate fail without touching entries.
type memCache struct {
	mu       sync.Mutex
	entries  map[string]interface{}
	deleted  []string
	purged   []string
	evictErr error
}

func newMemCache() *memCache {
	return &memCache{entries: map[string]interface{}{}}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	switch d := dest.(type) {
	case *models.AttendanceSummary:
		*d = v.(models.AttendanceSummary)
	case *models.AcademicTerm:
		*d = v.(models.AcademicTerm)
	default:
		return false, nil
	}
	return true, nil
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case *models.AttendanceSummary:
		c.entries[key] = *v
	case *models.AcademicTerm:
		c.entries[key] = *v
	}
	return nil
}

func (c *memCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evictErr != nil {
		return c.evictErr
	}
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *memCache) Invalidate(_ context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.evictErr != nil {
		return c.evictErr
	}
	c.purged = append(c.purged, pattern)
	c.entries = map[string]interface{}{}
	return nil
}

// rollbackConnector hands out sqlmock connections whose transactions snapshot the
// memStore on begin and restore it on rollback, so a failed unit leaves no trace.
type rollbackConnector struct {
	dsn    string
	driver driver.Driver
	store  *memStore
}

func (c rollbackConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &rollbackConn{Conn: conn, store: c.store}, nil
}

func (c rollbackConnector) Driver() driver.Driver { return c.driver }

type rollbackConn struct {
	driver.Conn
	store *memStore
}

func (c *rollbackConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	snap := c.store.snapshot()
	var (
		tx  driver.Tx
		err error
	)
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		tx, err = b.BeginTx(ctx, opts)
	} else {
		tx, err = c.Conn.Begin() //nolint:staticcheck
	}
	if err != nil {
		return nil, err
	}
	return &rollbackTx{Tx: tx, store: c.store, snap: snap}, nil
}

type rollbackTx struct {
	driver.Tx
	store *memStore
	snap  memSnapshot
}

func (t *rollbackTx) Rollback() error {
	err := t.Tx.Rollback()
	t.store.restore(t.snap)
	return err
}

var fixtureSeq atomic.Int64

type coordinatorFixture struct {
	store   *memStore
	cache   *memCache
	metrics *MetricsService
	mock    sqlmock.Sqlmock
	coord   *Coordinator
	arch    *TermArchiver
}

func newCoordinatorFixture(t *testing.T, cfg CoordinatorConfig) *coordinatorFixture {
	return newLoggedCoordinatorFixture(t, cfg, nil)
}

// newLoggedCoordinatorFixture builds a coordinator over memStore. Students S1 to S3
// and S9 are registered as active in the directory.
func newLoggedCoordinatorFixture(t *testing.T, cfg CoordinatorConfig, log *zap.Logger) *coordinatorFixture {
	t.Helper()
	dsn := fmt.Sprintf("coordinator-fixture-%d", fixtureSeq.Add(1))
	mockDB, mock, err := sqlmock.NewWithDSN(dsn)
	require.NoError(t, err)

	store := newMemStore()
	for _, id := range []string{"S1", "S2", "S3", "S9"} {
		store.students[id] = models.StudentStatusActive
	}
	db := sql.OpenDB(rollbackConnector{dsn: dsn, driver: mockDB.Driver(), store: store})
	t.Cleanup(func() {
		db.Close()
		mockDB.Close()
	})

	cache := newMemCache()
	metrics := NewMetricsService()
	events := NewEventStore(memEvents{store}, memStudents{store}, nil, log)
	summaries := NewSummaryMaintainer(memSummaries{store}, memTerms{store}, memEvents{store}, log)
	terms := NewTermRegistry(memTerms{store}, cache, nil, log)
	archiver := NewTermArchiver(memTerms{store}, memEvents{store}, memSummaries{store}, memHistories{store}, TermArchiverConfig{ExportEnabled: true}, log)
	coord := NewCoordinator(sqlx.NewDb(db, "sqlmock"), events, summaries, terms, archiver, memStudents{store}, cache, metrics, cfg, log)
	return &coordinatorFixture{store: store, cache: cache, metrics: metrics, mock: mock, coord: coord, arch: archiver}
}

func (f *coordinatorFixture) expectCommit() {
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
}

func (f *coordinatorFixture) expectRollback() {
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
}
