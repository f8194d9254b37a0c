package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/panierapp/api/internal/domain"
	pfirestore "github.com/panierapp/api/internal/platform/firestore"
	"github.com/panierapp/api/internal/platform/pagination"
	"github.com/panierapp/api/internal/repositories"
)

const (
	auditLogCollection      = "auditLogs"
	defaultAuditLogPageSize = 50
	maxAuditLogPageSize     = 200
)

// AuditLogRepository stores immutable audit entries for admin and user actions.
type AuditLogRepository struct {
	base *pfirestore.BaseRepository[auditLogDocument]
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errors.New("audit log repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[auditLogDocument](provider, auditLogCollection, nil, nil)
	return &AuditLogRepository{base: base}, nil
}

// Append writes a new audit entry. Entries are never updated or deleted.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.base == nil {
		return errors.New("audit log repository not initialised")
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		return errors.New("audit log repository: entry id is required")
	}

	doc := auditLogDocument{
		Actor:     strings.TrimSpace(entry.Actor),
		ActorType: strings.TrimSpace(entry.ActorType),
		Action:    strings.TrimSpace(entry.Action),
		TargetRef: strings.TrimSpace(entry.TargetRef),
		Metadata:  entry.Metadata,
		Diff:      entry.Diff,
		IPHash:    strings.TrimSpace(entry.IPHash),
		UserAgent: strings.TrimSpace(entry.UserAgent),
		Severity:  strings.TrimSpace(entry.Severity),
		RequestID: strings.TrimSpace(entry.RequestID),
		CreatedAt: entry.CreatedAt.UTC(),
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return pfirestore.WrapError("firestore: audit_logs.append", err)
	}
	return nil
}

// List returns audit entries newest-first with optional actor, action, and
// target filters.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = defaultAuditLogPageSize
	}
	if pageSize > maxAuditLogPageSize {
		pageSize = maxAuditLogPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		if target := strings.TrimSpace(filter.TargetRef); target != "" {
			query = query.Where("targetRef", "==", target)
		}
		if actor := strings.TrimSpace(filter.Actor); actor != "" {
			query = query.Where("actor", "==", actor)
		}
		if actorType := strings.TrimSpace(filter.ActorType); actorType != "" {
			query = query.Where("actorType", "==", actorType)
		}
		if action := strings.TrimSpace(filter.Action); action != "" {
			query = query.Where("action", "==", action)
		}
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(decodeOrderCursor(cursor.StartAfter)...)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}

	page := domain.CursorPage[domain.AuditLogEntry]{Items: make([]domain.AuditLogEntry, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			last := docs[i-1]
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{last.Data.CreatedAt.UTC().Format(time.RFC3339Nano), last.ID},
			})
			if err != nil {
				return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("audit log repository: encode page token: %w", err)
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, documentToAuditEntry(doc.ID, doc.Data))
	}
	return page, nil
}

func documentToAuditEntry(id string, doc auditLogDocument) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		ID:        id,
		Actor:     doc.Actor,
		ActorType: doc.ActorType,
		Action:    doc.Action,
		TargetRef: doc.TargetRef,
		Metadata:  doc.Metadata,
		Diff:      doc.Diff,
		IPHash:    doc.IPHash,
		UserAgent: doc.UserAgent,
		Severity:  doc.Severity,
		RequestID: doc.RequestID,
		CreatedAt: doc.CreatedAt.UTC(),
	}
}

type auditLogDocument struct {
	Actor     string         `firestore:"actor"`
	ActorType string         `firestore:"actorType"`
	Action    string         `firestore:"action"`
	TargetRef string         `firestore:"targetRef,omitempty"`
	Metadata  map[string]any `firestore:"metadata,omitempty"`
	Diff      map[string]any `firestore:"diff,omitempty"`
	IPHash    string         `firestore:"ipHash,omitempty"`
	UserAgent string         `firestore:"userAgent,omitempty"`
	Severity  string         `firestore:"severity,omitempty"`
	RequestID string         `firestore:"requestId,omitempty"`
	CreatedAt time.Time      `firestore:"createdAt"`
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
