package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"payments_core/internal/domain"
)

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Slug()] = a
	}
	return r
}

func (r *Registry) Get(slug string) (Adapter, error) {
	a, ok := r.adapters[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}
	return a, nil
}

// Slugs lists registered providers in name order.
func (r *Registry) Slugs() []string {
	out := make([]string, 0, len(r.adapters))
	for s := range r.adapters {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ParseWebhook routes a callback to its provider and counts the parse outcome.
func (r *Registry) ParseWebhook(ctx context.Context, slug string, body []byte, header http.Header) (*domain.WebhookEvent, error) {
	a, err := r.Get(slug)
	if err != nil {
		webhooksTotal.WithLabelValues("unknown", "unknown_provider").Inc()
		return nil, err
	}
	ev, err := a.ParseWebhook(ctx, body, header)
	webhooksTotal.WithLabelValues(slug, outcomeLabel(err)).Inc()
	return ev, err
}
