package cart

import (
	"context"

	"github.com/sehatline/triage-ai/internal/catalog"
	"github.com/sehatline/triage-ai/pkg/logging"
)

// CatalogSource provides the indexed product catalog.
type CatalogSource interface {
	Products(ctx context.Context) ([]catalog.IndexedProduct, error)
}

// CartAPI is the subset of Client the resolver needs.
type CartAPI interface {
	Items(ctx context.Context) ([]Item, error)
	SetQuantity(ctx context.Context, productID string, quantity int) error
	Remove(ctx context.Context, productID string) error
}

// ResolveOptions controls how a batch of suggestions is applied to the cart.
type ResolveOptions struct {
	// ReplaceCart removes cart items that are not part of the resolved set.
	ReplaceCart bool
	// SyncCheckout marks the batch as feeding a checkout flow; quantities are
	// forced to 1 rather than incremented.
	SyncCheckout bool
}

// ResolveResult reports what happened to a batch. Unmatched suggestions are
// reported by name, never as an error.
type ResolveResult struct {
	Added  int
	Failed []string
}

// MetricsSink records resolution outcomes.
type MetricsSink interface {
	ObserveResolution(outcome string)
}

// Resolver applies AI medication suggestions to the cart by resolving each
// against the catalog first.
type Resolver struct {
	catalog CatalogSource
	cart    CartAPI
	metrics MetricsSink
	logger  *logging.Logger
}

// NewResolver wires a resolver; metrics may be nil.
func NewResolver(source CatalogSource, cartAPI CartAPI, metrics MetricsSink, logger *logging.Logger) *Resolver {
	if source == nil {
		panic("cart: catalog source required")
	}
	if cartAPI == nil {
		panic("cart: cart client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Resolver{catalog: source, cart: cartAPI, metrics: metrics, logger: logger}
}

// ResolveAll resolves every suggestion, deduplicates the hits, optionally
// prunes the cart down to the resolved set, and sets each resolved product to
// quantity 1. It never fails the whole batch: catalog or cart errors mark the
// affected suggestions as failed and processing continues.
func (r *Resolver) ResolveAll(ctx context.Context, suggestions []catalog.Suggestion, opts ResolveOptions) ResolveResult {
	result := ResolveResult{}
	if len(suggestions) == 0 {
		return result
	}

	indexed, err := r.catalog.Products(ctx)
	if err != nil {
		r.logger.Error("catalog unavailable, reporting all suggestions unmatched", "error", err)
		for _, s := range suggestions {
			result.Failed = append(result.Failed, s.Name)
			r.observe("unmatched")
		}
		return result
	}

	resolved := make([]catalog.Product, 0, len(suggestions))
	seen := map[string]struct{}{}
	for _, s := range suggestions {
		product, ok := catalog.Resolve(indexed, s)
		if !ok {
			result.Failed = append(result.Failed, s.Name)
			r.observe("unmatched")
			continue
		}
		r.observe("matched")
		if _, dup := seen[product.ID]; dup {
			continue
		}
		seen[product.ID] = struct{}{}
		resolved = append(resolved, *product)
	}

	if opts.ReplaceCart {
		r.pruneCart(ctx, seen)
	}

	for _, product := range resolved {
		if err := r.cart.SetQuantity(ctx, product.ID, 1); err != nil {
			r.logger.Warn("failed to add resolved product to cart", "error", err, "product_id", product.ID)
			result.Failed = append(result.Failed, product.Name)
			continue
		}
		result.Added++
	}
	return result
}

func (r *Resolver) pruneCart(ctx context.Context, keep map[string]struct{}) {
	items, err := r.cart.Items(ctx)
	if err != nil {
		r.logger.Warn("failed to list cart for replacement", "error", err)
		return
	}
	for _, item := range items {
		if _, ok := keep[item.Product.ID]; ok {
			continue
		}
		if err := r.cart.Remove(ctx, item.Product.ID); err != nil {
			r.logger.Warn("failed to remove stale cart item", "error", err, "product_id", item.Product.ID)
		}
	}
}

func (r *Resolver) observe(outcome string) {
	if r.metrics != nil {
		r.metrics.ObserveResolution(outcome)
	}
}
