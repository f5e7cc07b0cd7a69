package filter

import (
	"github.com/samber/lo"

	"github.com/vburojevic/roborec/internal/domain"
)

// Pipeline combines a category allowlist with where clauses. A nil pipeline
// matches everything.
type Pipeline struct {
	allow map[domain.EventType]struct{}
	where *WhereFilter
}

// NewPipeline returns nil when neither an allowlist nor clauses are given.
func NewPipeline(allow []domain.EventType, where *WhereFilter) *Pipeline {
	if len(allow) == 0 && where == nil {
		return nil
	}
	p := &Pipeline{where: where}
	if len(allow) > 0 {
		p.allow = lo.SliceToMap(allow, func(t domain.EventType) (domain.EventType, struct{}) {
			return t, struct{}{}
		})
	}
	return p
}

// Allows reports whether the category passes the allowlist.
func (p *Pipeline) Allows(t domain.EventType) bool {
	if p == nil || p.allow == nil {
		return true
	}
	_, ok := p.allow[t]
	return ok
}

// Match applies the allowlist and then the where clauses.
func (p *Pipeline) Match(ev *domain.InteractionEvent) bool {
	if p == nil {
		return true
	}
	return p.Allows(ev.EventType) && p.where.Match(ev)
}
