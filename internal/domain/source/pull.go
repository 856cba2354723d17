package source

import (
	"context"
	"fmt"
	"iter"
	"time"

	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
)

const DefaultPageSize = 100

// Pull обходит CRM постранично. При since == nil синхронизация полная.
type Pull struct {
	crm      CRM
	types    []entity.Type
	since    *time.Time
	pageSize int
	log      *slog.Logger
	now      func() time.Time
}

func NewPull(crm CRM, types []entity.Type, since *time.Time, pageSize int, log *slog.Logger) *Pull {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if len(types) == 0 {
		types = entity.Types
	}
	return &Pull{
		crm:      crm,
		types:    types,
		since:    since,
		pageSize: pageSize,
		log:      log.With("component", "pull_source"),
		now:      time.Now,
	}
}

func (p *Pull) Since() *time.Time {
	return p.since
}

// Changes лениво отдает изменения. Если ни одна страница не получена, отдается ErrSourceUnavailable
// и обход завершается; ошибки последующих страниц отдаются как *PageError.
func (p *Pull) Changes(ctx context.Context) iter.Seq2[Change, error] {
	return func(yield func(Change, error) bool) {
		reached := false
		for _, t := range p.types {
			seen := make(map[string]struct{})
			offset := 0
			for {
				if ctx.Err() != nil {
					return
				}

				page, err := p.crm.ListChanged(ctx, t, p.since, PageRequest{Offset: offset, Limit: p.pageSize})
				if err != nil {
					if !reached {
						yield(Change{Type: t}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err))
						return
					}
					if !yield(Change{Type: t}, &PageError{Type: t, Offset: offset, Err: err}) {
						return
					}
					break
				}
				reached = true
				fetchedAt := p.now().UTC()

				for _, raw := range page.Items {
					id, _ := entity.ExternalID(raw)
					if id != "" {
						if _, dup := seen[id]; dup {
							continue
						}
						seen[id] = struct{}{}
					}

					observedAt := fetchedAt
					if modified, ok := entity.ModifiedAt(raw); ok {
						if p.since != nil && modified.Before(*p.since) {
							p.log.Debug("Skipping entity outside sync window",
								"entity_type", t, "keap_id", id, "modified_at", modified)
							continue
						}
						observedAt = modified
					}

					if !yield(Change{Type: t, KeapID: id, Payload: raw, ObservedAt: observedAt}, nil) {
						return
					}
				}

				if !page.HasMore || len(page.Items) < p.pageSize {
					break
				}
				offset += len(page.Items)
			}
		}
	}
}
