// Package audit is the fire-and-forget audit sink.
package audit

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/WiesHerd/contractpipeline/model"
	"github.com/WiesHerd/contractpipeline/pkg/logger"
	"github.com/oklog/ulid/v2"
)

const (
	defaultCategory     = "SYSTEM"
	defaultResourceType = "unknown"
	maxTextLen          = 200
	maxMetadataListLen  = 500
)

// Event is one record(action, severity, category, resourceType, resourceId, metadata) call.
type Event struct {
	Action       string
	Severity     model.Severity
	Category     string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
}

// Store is where audit events end up.
type Store interface {
	Insert(ctx context.Context, e *model.AuditEvent) error
}

type Recorder struct {
	store Store
	clock func() time.Time
	idGen func() string
}

type Option func(*Recorder)

func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

func WithIDGenerator(gen func() string) Option {
	return func(r *Recorder) { r.idGen = gen }
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store: store,
		clock: time.Now,
		idGen: func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record persists the event. Store failures are logged and never reach the caller.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.store == nil {
		return
	}
	entry := r.build(ctx, e)
	if err := r.store.Insert(ctx, entry); err != nil {
		logger.Warn(ctx, "audit log append failed", "action", entry.Action, "error", err)
	}
}

func (r *Recorder) build(ctx context.Context, e Event) *model.AuditEvent {
	entry := &model.AuditEvent{
		ID:           r.idGen(),
		Action:       sanitizeText(e.Action),
		Severity:     normalizeSeverity(e.Severity),
		Category:     sanitizeText(e.Category),
		ResourceType: sanitizeText(e.ResourceType),
		ResourceID:   sanitizeText(e.ResourceID),
		Metadata:     sanitizeMetadata(e.Metadata),
		CreatedAt:    r.clock().UTC(),
	}
	if entry.Category == "" {
		entry.Category = defaultCategory
	}
	if entry.ResourceType == "" {
		entry.ResourceType = defaultResourceType
	}
	if ctx != nil {
		if actor, ok := ctx.Value(logger.UsernameKey).(string); ok {
			entry.Actor = sanitizeText(actor)
		}
	}
	return entry
}

func normalizeSeverity(s model.Severity) model.Severity {
	switch model.Severity(strings.ToUpper(strings.TrimSpace(string(s)))) {
	case model.SeverityWarning, "WARN":
		return model.SeverityWarning
	case model.SeverityCritical, "ERROR":
		return model.SeverityCritical
	default:
		return model.SeverityInfo
	}
}

func sanitizeText(s string) string {
	s = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s))
	if len(s) <= maxTextLen {
		return s
	}
	cut := maxTextLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// sanitizeMetadata drops blank keys and caps long id lists, keeping the real count.
func sanitizeMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		switch val := v.(type) {
		case string:
			out[key] = sanitizeText(val)
		case []string:
			if len(val) > maxMetadataListLen {
				out[key] = append([]string(nil), val[:maxMetadataListLen]...)
				out[key+"Truncated"] = true
				continue
			}
			out[key] = append([]string(nil), val...)
		default:
			out[key] = v
		}
	}
	return out
}
