package repository

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/WiesHerd/contractpipeline/model"
)

// Memory bundles in-memory repositories for tests and database-less runs.
type Memory struct {
	Templates   *MemoryTemplates
	Providers   *MemoryProviders
	Contracts   *MemoryContracts
	Audit       *MemoryAudit
	Assignments *MemoryAssignments
}

// NewMemory builds every in-memory repository. maxRecords bounds the
// generation log and the audit log, 0 = unlimited.
func NewMemory(maxRecords int) *Memory {
	return &Memory{
		Templates:   NewMemoryTemplates(),
		Providers:   NewMemoryProviders(),
		Contracts:   NewMemoryContracts(maxRecords),
		Audit:       NewMemoryAudit(maxRecords),
		Assignments: NewMemoryAssignments(),
	}
}

type MemoryTemplates struct {
	templates map[string]*model.Template
	mu        sync.RWMutex
	now       func() time.Time
}

func NewMemoryTemplates() *MemoryTemplates {
	return &MemoryTemplates{templates: make(map[string]*model.Template), now: time.Now}
}

func (s *MemoryTemplates) Get(ctx context.Context, id string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryTemplates) List(ctx context.Context) ([]*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Template, 0, len(s.templates))
	for _, t := range s.templates {
		cp := *t
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryTemplates) Save(ctx context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if prev, ok := s.templates[t.ID]; ok {
		t.Version = prev.Version + 1
		t.CreatedAt = prev.CreatedAt
	} else {
		t.Version = 1
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *MemoryTemplates) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return ErrNotFound
	}
	delete(s.templates, id)
	return nil
}

type MemoryProviders struct {
	providers map[string]*model.Provider
	mu        sync.RWMutex
}

func NewMemoryProviders() *MemoryProviders {
	return &MemoryProviders{providers: make(map[string]*model.Provider)}
}

func (s *MemoryProviders) Get(ctx context.Context, id string) (*model.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryProviders) List(ctx context.Context, pageToken string, limit int) (model.Page[*model.Provider], error) {
	limit = clampPageSize(limit)

	s.mu.RLock()
	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		if id > pageToken {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit+1 {
		ids = ids[:limit+1]
	}
	items := make([]*model.Provider, 0, len(ids))
	for _, id := range ids {
		cp := *s.providers[id]
		items = append(items, &cp)
	}
	s.mu.RUnlock()

	return pageOf(items, limit, func(p *model.Provider) string { return p.ID }), nil
}

func (s *MemoryProviders) Save(ctx context.Context, p *model.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.providers[p.ID] = &cp
	return nil
}

// MemoryContracts is an in-memory generation log.
type MemoryContracts struct {
	contracts  map[string]*model.GeneratedContract
	mu         sync.RWMutex
	maxRecords int // Maximum records to keep, 0 = unlimited
}

func NewMemoryContracts(maxRecords int) *MemoryContracts {
	if maxRecords < 0 {
		maxRecords = 0
	}
	return &MemoryContracts{
		contracts:  make(map[string]*model.GeneratedContract),
		maxRecords: maxRecords,
	}
}

func (s *MemoryContracts) Insert(ctx context.Context, c *model.GeneratedContract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	s.contracts[c.ID] = &cp

	s.cleanupIfNeeded()
	return nil
}

func (s *MemoryContracts) Latest(ctx context.Context, providerID, templateID string, statuses ...model.ContractStatus) (*model.GeneratedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.GeneratedContract
	for _, c := range s.contracts {
		if c.ProviderID != providerID || c.TemplateID != templateID || !statusIn(c.Status, statuses) {
			continue
		}
		if latest == nil || c.GeneratedAt.After(latest.GeneratedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryContracts) ListByTemplate(ctx context.Context, templateID string) ([]*model.GeneratedContract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.GeneratedContract
	for _, c := range s.contracts {
		if c.TemplateID == templateID {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].GeneratedAt.After(result[j].GeneratedAt)
	})
	return result, nil
}

func (s *MemoryContracts) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.contracts {
		if c.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryContracts) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.contracts[id]; ok {
			delete(s.contracts, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of records in the log
func (s *MemoryContracts) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contracts)
}

// cleanupIfNeeded removes the oldest superseded records once the log exceeds
// maxRecords. The newest record of every (provider, template) pair and its
// newest downloadable record are never removed, so template deletion guards
// and downloads keep seeing every stored contract. The bound is therefore soft.
// Must be called with lock held
func (s *MemoryContracts) cleanupIfNeeded() {
	if s.maxRecords <= 0 || len(s.contracts) <= s.maxRecords {
		return
	}

	type pair struct{ provider, template string }
	newest := make(map[pair]*model.GeneratedContract)
	downloadable := make(map[pair]*model.GeneratedContract)
	for _, c := range s.contracts {
		k := pair{c.ProviderID, c.TemplateID}
		if cur := newest[k]; cur == nil || c.GeneratedAt.After(cur.GeneratedAt) {
			newest[k] = c
		}
		if !statusIn(c.Status, []model.ContractStatus{model.StatusSuccess, model.StatusPartialSuccess}) {
			continue
		}
		if cur := downloadable[k]; cur == nil || c.GeneratedAt.After(cur.GeneratedAt) {
			downloadable[k] = c
		}
	}

	records := make([]*model.GeneratedContract, 0, len(s.contracts))
	for _, c := range s.contracts {
		k := pair{c.ProviderID, c.TemplateID}
		if newest[k] == c || downloadable[k] == c {
			continue
		}
		records = append(records, c)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].GeneratedAt.Before(records[j].GeneratedAt)
	})

	removeCount := min(len(s.contracts)-s.maxRecords, len(records))
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning superseded generation record",
			"record_id", records[i].ID,
			"contract_id", records[i].ContractID,
			"generated_at", records[i].GeneratedAt,
		)
		delete(s.contracts, records[i].ID)
	}
}

func statusIn(status model.ContractStatus, statuses []model.ContractStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

type MemoryAudit struct {
	events    []*model.AuditEvent
	mu        sync.RWMutex
	maxEvents int
	failWith  error
}

func NewMemoryAudit(maxEvents int) *MemoryAudit {
	return &MemoryAudit{maxEvents: maxEvents}
}

func (s *MemoryAudit) Insert(ctx context.Context, e *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	cp := *e
	s.events = append(s.events, &cp)
	if s.maxEvents > 0 && len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	return nil
}

func (s *MemoryAudit) List(ctx context.Context, limit int) ([]*model.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit = clampPageSize(limit)

	result := make([]*model.AuditEvent, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *s.events[i]
		result = append(result, &cp)
	}
	return result, nil
}

// FailWith makes every later Insert return err; nil restores normal behaviour.
func (s *MemoryAudit) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

type MemoryAssignments struct {
	sessions map[string]*AssignmentSession
	mu       sync.RWMutex
}

func NewMemoryAssignments() *MemoryAssignments {
	return &MemoryAssignments{sessions: make(map[string]*AssignmentSession)}
}

func (s *MemoryAssignments) Load(ctx context.Context, sessionID string) (*AssignmentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *MemoryAssignments) Save(ctx context.Context, sessionID string, sess *AssignmentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = cloneSession(sess)
	return nil
}

func (s *MemoryAssignments) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func cloneSession(s *AssignmentSession) *AssignmentSession {
	cp := &AssignmentSession{Selected: s.Selected, Assignments: make(map[string]string, len(s.Assignments))}
	for k, v := range s.Assignments {
		cp.Assignments[k] = v
	}
	return cp
}
