package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/WiesHerd/contractpipeline/audit"
	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/WiesHerd/contractpipeline/repository"
)

// AssignmentStore owns one session's provider -> template map and the
// globally selected template. Every mutation copies the map, applies the
// change and swaps it in under the lock, then mirrors the result to the
// persistence tier. Unassigned providers have no entry.
type AssignmentStore struct {
	sessionID   string
	mu          sync.RWMutex
	assignments map[string]string
	selected    string
	version     uint64
	persist     repository.Assignments

	saveMu sync.Mutex
	saved  uint64
}

func newAssignmentStore(sessionID string, persist repository.Assignments) *AssignmentStore {
	return &AssignmentStore{
		sessionID:   sessionID,
		assignments: make(map[string]string),
		persist:     persist,
	}
}

// NewAssignmentStore builds a store with no persistence tier.
func NewAssignmentStore() *AssignmentStore {
	return newAssignmentStore("", nil)
}

func (s *AssignmentStore) SessionID() string { return s.sessionID }

func (s *AssignmentStore) Get(providerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.assignments[providerID]
	return id, ok
}

func (s *AssignmentStore) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Snapshot returns a copy of the assignment map.
func (s *AssignmentStore) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.assignments)
}

func (s *AssignmentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.assignments)
}

// update applies fn to a copy of the map and swaps it in atomically.
func (s *AssignmentStore) update(ctx context.Context, fn func(m map[string]string) int) int {
	s.mu.Lock()
	next := maps.Clone(s.assignments)
	if next == nil {
		next = make(map[string]string)
	}
	changed := fn(next)
	s.assignments = next
	s.version++
	version := s.version
	snapshot := &repository.AssignmentSession{Selected: s.selected, Assignments: next}
	s.mu.Unlock()

	if changed > 0 {
		s.save(ctx, version, snapshot)
	}
	return changed
}

func (s *AssignmentStore) setSelected(ctx context.Context, templateID string) {
	s.mu.Lock()
	s.selected = templateID
	s.version++
	version := s.version
	snapshot := &repository.AssignmentSession{Selected: templateID, Assignments: s.assignments}
	s.mu.Unlock()
	s.save(ctx, version, snapshot)
}

// save mirrors to the persistence tier. A snapshot older than the last one
// written is skipped. The in-memory map stays authoritative when persistence fails.
func (s *AssignmentStore) save(ctx context.Context, version uint64, snapshot *repository.AssignmentSession) {
	if s.persist == nil || s.sessionID == "" {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if version <= s.saved {
		return
	}
	s.saved = version
	if err := s.persist.Save(ctx, s.sessionID, snapshot); err != nil {
		logger.Warn(ctx, "failed to persist assignments", "session", s.sessionID, "error", err)
	}
}

func (s *AssignmentStore) load(sess *repository.AssignmentSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments = maps.Clone(sess.Assignments)
	if s.assignments == nil {
		s.assignments = make(map[string]string)
	}
	s.selected = sess.Selected
}

// Sessions creates an AssignmentStore on session start and clears it on logout.
type Sessions struct {
	mu      sync.Mutex
	stores  map[string]*AssignmentStore
	persist repository.Assignments
}

func NewSessions(persist repository.Assignments) *Sessions {
	return &Sessions{stores: make(map[string]*AssignmentStore), persist: persist}
}

// Open returns the session's store, restoring it from the persistence tier
// the first time it is seen in this process.
func (s *Sessions) Open(ctx context.Context, sessionID string) (*AssignmentStore, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: empty session id", ErrSessionNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stores[sessionID]; ok {
		return st, nil
	}
	st := newAssignmentStore(sessionID, s.persist)
	if s.persist != nil {
		sess, err := s.persist.Load(ctx, sessionID)
		switch {
		case err == nil:
			st.load(sess)
		case errors.Is(err, repository.ErrNotFound):
		default:
			logger.Warn(ctx, "failed to restore assignments, starting empty", "session", sessionID, "error", err)
		}
	}
	s.stores[sessionID] = st
	return st, nil
}

// Close drops the session's store and its persisted copy.
func (s *Sessions) Close(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.stores, sessionID)
	s.mu.Unlock()

	if s.persist == nil {
		return nil
	}
	if err := s.persist.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	return nil
}

// Tracker answers "which template applies" and performs assignment mutations.
type Tracker struct {
	templates repository.Templates
	providers repository.Providers
	audit     Auditor
	batchSize int
}

func NewTracker(templates repository.Templates, providers repository.Providers, auditor Auditor, batchSize int) *Tracker {
	if auditor == nil {
		auditor = audit.NewRecorder(nil)
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Tracker{templates: templates, providers: providers, audit: auditor, batchSize: batchSize}
}

// ResolveTemplate applies a manual assignment first, then the selected
// template. A manual assignment to a template that is gone or has no id/name
// resolves to nil and does not fall through to the selected template.
func (t *Tracker) ResolveTemplate(ctx context.Context, store *AssignmentStore, providerID string) (*model.Template, error) {
	if templateID, ok := store.Get(providerID); ok {
		return t.validTemplate(ctx, templateID)
	}
	if selected := store.Selected(); selected != "" {
		return t.validTemplate(ctx, selected)
	}
	return nil, nil
}

func (t *Tracker) validTemplate(ctx context.Context, id string) (*model.Template, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	tpl, err := t.templates.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", id, err)
	}
	if !tpl.Valid() {
		return nil, nil
	}
	return tpl, nil
}

// AssignOne sets or, with an empty templateID, clears one provider's assignment.
func (t *Tracker) AssignOne(ctx context.Context, store *AssignmentStore, providerID, templateID string) error {
	if strings.TrimSpace(providerID) == "" {
		return model.NewDataError("providerId", "provider id is required")
	}
	if templateID != "" {
		if err := t.requireTemplate(ctx, templateID); err != nil {
			return err
		}
	}
	store.update(ctx, func(m map[string]string) int {
		if templateID == "" {
			delete(m, providerID)
		} else {
			m[providerID] = templateID
		}
		return 1
	})

	action := "TEMPLATE_ASSIGNED"
	if templateID == "" {
		action = "TEMPLATE_UNASSIGNED"
	}
	t.audit.Record(ctx, audit.Event{
		Action:       action,
		Severity:     model.SeverityInfo,
		Category:     "TEMPLATE_ASSIGNMENT",
		ResourceType: "provider",
		ResourceID:   providerID,
		Metadata:     map[string]any{"templateId": templateID},
	})
	return nil
}

// AssignManyFiltered assigns templateID to every provider in providerIDs. Each
// batch is swapped in atomically; one audit event summarises the operation.
func (t *Tracker) AssignManyFiltered(ctx context.Context, store *AssignmentStore, templateID string, providerIDs []string, progress ProgressFunc) (int, error) {
	if err := t.requireTemplate(ctx, templateID); err != nil {
		return 0, err
	}
	ids := uniqueIDs(providerIDs)
	n, err := t.inBatches(ctx, store, ids, progress, func(m map[string]string, id string) bool {
		m[id] = templateID
		return true
	})

	t.audit.Record(ctx, audit.Event{
		Action:       "TEMPLATE_ASSIGNED_BULK",
		Severity:     model.SeverityInfo,
		Category:     "TEMPLATE_ASSIGNMENT",
		ResourceType: "provider",
		Metadata: map[string]any{
			"providerCount": n,
			"providerIds":   ids[:n],
			"templateId":    templateID,
		},
	})
	return n, err
}

// ClearManyFiltered removes the assignments of providerIDs and reports how many existed.
func (t *Tracker) ClearManyFiltered(ctx context.Context, store *AssignmentStore, providerIDs []string, progress ProgressFunc) (int, error) {
	ids := uniqueIDs(providerIDs)
	cleared := 0
	processed, err := t.inBatches(ctx, store, ids, progress, func(m map[string]string, id string) bool {
		if _, ok := m[id]; !ok {
			return false
		}
		delete(m, id)
		cleared++
		return true
	})

	t.audit.Record(ctx, audit.Event{
		Action:       "TEMPLATE_UNASSIGNED_BULK",
		Severity:     model.SeverityInfo,
		Category:     "TEMPLATE_ASSIGNMENT",
		ResourceType: "provider",
		Metadata: map[string]any{
			"providerCount": processed,
			"providerIds":   ids[:processed],
			"clearedCount":  cleared,
		},
	})
	return cleared, err
}

// ClearAll drops every manual assignment. The selected template is kept.
func (t *Tracker) ClearAll(ctx context.Context, store *AssignmentStore) int {
	n := store.update(ctx, func(m map[string]string) int {
		n := len(m)
		clear(m)
		return n
	})
	t.audit.Record(ctx, audit.Event{
		Action:       "TEMPLATE_ASSIGNMENTS_CLEARED",
		Severity:     model.SeverityWarning,
		Category:     "TEMPLATE_ASSIGNMENT",
		ResourceType: "provider",
		Metadata:     map[string]any{"providerCount": n},
	})
	return n
}

// SelectTemplate sets the global fallback template; empty clears it.
func (t *Tracker) SelectTemplate(ctx context.Context, store *AssignmentStore, templateID string) error {
	if templateID != "" {
		if err := t.requireTemplate(ctx, templateID); err != nil {
			return err
		}
	}
	store.setSelected(ctx, templateID)
	t.audit.Record(ctx, audit.Event{
		Action:       "TEMPLATE_SELECTED",
		Severity:     model.SeverityInfo,
		Category:     "TEMPLATE_ASSIGNMENT",
		ResourceType: "template",
		ResourceID:   templateID,
	})
	return nil
}

// SmartAssignResult separates new assignments from providers that were skipped.
type SmartAssignResult struct {
	AssignedCount int               `json:"assigned_count"`
	SkippedCount  int               `json:"skipped_count"`
	MissingCount  int               `json:"missing_count"`
	Assignments   map[string]string `json:"assignments"`
}

// SmartAssign gives every unassigned provider a template matched by
// specialty, then provider type, then compensation model against template
// name and tags, falling back to the first template. Providers that already
// have a manual assignment are left alone.
func (t *Tracker) SmartAssign(ctx context.Context, store *AssignmentStore, providerIDs []string) (*SmartAssignResult, error) {
	templates, err := t.templates.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	candidates := templates[:0:0]
	for _, tpl := range templates {
		if tpl.Valid() {
			candidates = append(candidates, tpl)
		}
	}

	res := &SmartAssignResult{Assignments: make(map[string]string)}
	for _, id := range uniqueIDs(providerIDs) {
		if _, ok := store.Get(id); ok {
			res.SkippedCount++
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		p, err := t.providers.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			res.MissingCount++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load provider %s: %w", id, err)
		}
		res.Assignments[id] = matchTemplate(*p, candidates).ID
	}

	// Assignments made concurrently since the scan still win.
	res.AssignedCount = store.update(ctx, func(m map[string]string) int {
		n := 0
		for pid, tid := range res.Assignments {
			if _, ok := m[pid]; ok {
				delete(res.Assignments, pid)
				res.SkippedCount++
				continue
			}
			m[pid] = tid
			n++
		}
		return n
	})

	t.audit.Record(ctx, audit.Event{
		Action:       "TEMPLATE_SMART_ASSIGNED",
		Severity:     model.SeverityInfo,
		Category:     "TEMPLATE_ASSIGNMENT",
		ResourceType: "provider",
		Metadata: map[string]any{
			"providerCount": len(providerIDs),
			"assignedCount": res.AssignedCount,
			"skippedCount":  res.SkippedCount,
		},
	})
	return res, nil
}

func matchTemplate(p model.Provider, templates []*model.Template) *model.Template {
	for _, attr := range []string{p.Specialty, p.ProviderType, p.CompensationModel} {
		needle := strings.ToLower(strings.TrimSpace(attr))
		if needle == "" {
			continue
		}
		for _, tpl := range templates {
			if templateMatches(tpl, needle) {
				return tpl
			}
		}
	}
	return templates[0]
}

func templateMatches(tpl *model.Template, needle string) bool {
	if strings.Contains(strings.ToLower(tpl.Name), needle) {
		return true
	}
	for _, tag := range tpl.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" && (strings.Contains(tag, needle) || strings.Contains(needle, tag)) {
			return true
		}
	}
	return false
}

// inBatches applies fn per id, one atomic swap per batch, and returns how
// many ids were processed before ctx ended.
func (t *Tracker) inBatches(ctx context.Context, store *AssignmentStore, ids []string, progress ProgressFunc, fn func(m map[string]string, id string) bool) (int, error) {
	processed := 0
	for start := 0; start < len(ids); start += t.batchSize {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		end := min(start+t.batchSize, len(ids))
		store.update(ctx, func(m map[string]string) int {
			n := 0
			for _, id := range ids[start:end] {
				if fn(m, id) {
					n++
				}
			}
			return n
		})
		processed = end
		if progress != nil {
			progress(model.BulkProgress{Completed: processed, Total: len(ids)})
		}
	}
	return processed, nil
}

func (t *Tracker) requireTemplate(ctx context.Context, id string) error {
	tpl, err := t.validTemplate(ctx, id)
	if err != nil {
		return err
	}
	if tpl == nil {
		return fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ResolveItems loads every provider and resolves its template. Lookup
// failures are carried on the item so the bulk run reports them per provider.
func (t *Tracker) ResolveItems(ctx context.Context, store *AssignmentStore, providerIDs []string) []BulkItem {
	ids := uniqueIDs(providerIDs)
	items := make([]BulkItem, len(ids))
	for i, id := range ids {
		items[i].Provider = model.Provider{ID: id}
		p, err := t.providers.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			items[i].Err = fmt.Errorf("%w: %s", ErrProviderNotFound, id)
			continue
		}
		if err != nil {
			items[i].Err = fmt.Errorf("failed to load provider %s: %w", id, err)
			continue
		}
		items[i].Provider = *p
		items[i].Template, items[i].Err = t.ResolveTemplate(ctx, store, id)
	}
	return items
}

// AllProviderIDs walks every provider page.
func (t *Tracker) AllProviderIDs(ctx context.Context) ([]string, error) {
	var (
		ids   []string
		token string
	)
	for {
		page, err := t.providers.List(ctx, token, repository.MaxPageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list providers: %w", err)
		}
		for _, p := range page.Items {
			ids = append(ids, p.ID)
		}
		if page.NextPageToken == "" {
			return ids, nil
		}
		token = page.NextPageToken
	}
}

// GetProvider loads one provider.
func (t *Tracker) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	p, err := t.providers.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, err
}

// ListProviders returns one page of providers.
func (t *Tracker) ListProviders(ctx context.Context, pageToken string, limit int) (model.Page[*model.Provider], error) {
	return t.providers.List(ctx, pageToken, limit)
}
