// Package builder constructs a customer graph from the customer, product and
// transaction batches.
//
// A build always starts from an empty graph. The previous graph is never
// touched, so whoever owns it can keep serving reads until the new graph is
// returned and published. A failed or cancelled build returns an error and the
// partially populated graph is dropped.
package builder

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/graph"
	"github.com/orneryd/bizgraph/pkg/linkpredict"
)

// Limits are the hard caps applied to the input batches. A zero or negative
// limit disables the cap for that batch.
type Limits struct {
	MaxCustomers    int `yaml:"max_customers"`
	MaxProducts     int `yaml:"max_products"`
	MaxTransactions int `yaml:"max_transactions"`
}

// DefaultLimits returns the production caps.
func DefaultLimits() Limits {
	return Limits{
		MaxCustomers:    10000,
		MaxProducts:     5000,
		MaxTransactions: 50000,
	}
}

// Cap describes what truncation did to one batch.
type Cap struct {
	Received int  `json:"received"`
	Kept     int  `json:"kept"`
	Dropped  int  `json:"dropped"`
	Limit    int  `json:"limit"`
	Applied  bool `json:"applied"`
}

// Truncation reports the caps applied to each batch. Truncation keeps the
// first N records in input order; it is not a sample.
type Truncation struct {
	Customers    Cap `json:"customers"`
	Products     Cap `json:"products"`
	Transactions Cap `json:"transactions"`
}

// Applied reports whether any batch was truncated.
func (t Truncation) Applied() bool {
	return t.Customers.Applied || t.Products.Applied || t.Transactions.Applied
}

// Result summarises a completed build.
type Result struct {
	BuildID             string            `json:"build_id"`
	NodeCount           int               `json:"node_count"`
	EdgeCount           int               `json:"edge_count"`
	NodeTypeCounts      map[string]int    `json:"node_type_counts"`
	EdgeTypeCounts      map[string]int    `json:"edge_type_counts"`
	Truncation          Truncation        `json:"truncation"`
	StubCustomers       int               `json:"stub_customers"`
	StubProducts        int               `json:"stub_products"`
	SkippedTransactions int               `json:"skipped_transactions"`
	Similarity          linkpredict.Stats `json:"similarity"`
	StartedAt           time.Time         `json:"started_at"`
	Duration            time.Duration     `json:"duration"`
}

// Builder turns input batches into a frozen graph.
type Builder struct {
	limits     Limits
	similarity linkpredict.Config
	logger     *zap.Logger
	validate   *validator.Validate
	now        func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// New returns a Builder with the given bounds.
func New(limits Limits, similarity linkpredict.Config, opts ...Option) *Builder {
	b := &Builder{
		limits:     limits,
		similarity: similarity,
		logger:     zap.NewNop(),
		validate:   validator.New(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func truncate[T any](records []T, limit int) ([]T, Cap) {
	c := Cap{Received: len(records), Kept: len(records), Limit: limit}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
		c.Kept = limit
		c.Dropped = c.Received - limit
		c.Applied = true
	}
	return records, c
}

func validateBatch[T any](v *validator.Validate, name string, records []T) error {
	for i := range records {
		if err := v.Struct(records[i]); err != nil {
			return fmt.Errorf("%s[%d]: %v: %w", name, i, err, graph.ErrValidation)
		}
	}
	return nil
}

// Build constructs a new graph. On success the returned graph is frozen and
// ready to publish. Panics inside the build are recovered and reported as
// graph.ErrInternal.
func (b *Builder) Build(ctx context.Context, customers []graph.Customer, products []graph.Product, txns []graph.Transaction) (g *graph.Graph, res *Result, err error) {
	started := b.now()
	buildID := uuid.NewString()
	log := b.logger.With(zap.String("build_id", buildID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("graph build panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			g, res, err = nil, nil, fmt.Errorf("build %s: %v: %w", buildID, r, graph.ErrInternal)
		}
	}()

	switch {
	case len(customers) == 0:
		return nil, nil, fmt.Errorf("customers batch is empty: %w", graph.ErrValidation)
	case len(products) == 0:
		return nil, nil, fmt.Errorf("products batch is empty: %w", graph.ErrValidation)
	case len(txns) == 0:
		return nil, nil, fmt.Errorf("transactions batch is empty: %w", graph.ErrValidation)
	}

	res = &Result{BuildID: buildID, StartedAt: started}
	customers, res.Truncation.Customers = truncate(customers, b.limits.MaxCustomers)
	products, res.Truncation.Products = truncate(products, b.limits.MaxProducts)
	txns, res.Truncation.Transactions = truncate(txns, b.limits.MaxTransactions)
	if res.Truncation.Applied() {
		log.Warn("input batches truncated",
			zap.Int("customers_dropped", res.Truncation.Customers.Dropped),
			zap.Int("products_dropped", res.Truncation.Products.Dropped),
			zap.Int("transactions_dropped", res.Truncation.Transactions.Dropped))
	}

	if err := validateBatch(b.validate, "customers", customers); err != nil {
		return nil, nil, err
	}
	if err := validateBatch(b.validate, "products", products); err != nil {
		return nil, nil, err
	}
	if err := validateBatch(b.validate, "transactions", txns); err != nil {
		return nil, nil, err
	}

	g = graph.New()
	if err := b.addEntities(g, customers, products); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	included, err := b.addPurchases(g, txns, res)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	res.Similarity, err = linkpredict.ComputeSimilarities(ctx, linkpredict.GraphSink(g), included, b.similarity, log)
	if err != nil {
		return nil, nil, fmt.Errorf("similarity: %w", err)
	}

	g.Freeze(buildID, b.now())
	res.NodeCount = g.NodeCount()
	res.EdgeCount = g.EdgeCount()
	res.NodeTypeCounts = g.NodeCountsByKind()
	res.EdgeTypeCounts = g.EdgeCountsByKind()
	res.Duration = b.now().Sub(started)

	log.Info("graph built",
		zap.Int("nodes", res.NodeCount),
		zap.Int("edges", res.EdgeCount),
		zap.Int("similarities", res.Similarity.EdgesCreated),
		zap.Int("stub_customers", res.StubCustomers),
		zap.Int("stub_products", res.StubProducts),
		zap.Duration("duration", res.Duration))
	return g, res, nil
}

func (b *Builder) addEntities(g *graph.Graph, customers []graph.Customer, products []graph.Product) error {
	for _, c := range customers {
		if _, err := g.UpsertCustomer(c); err != nil {
			return fmt.Errorf("customer %s: %w", c.ID, err)
		}
	}
	for _, p := range products {
		idx, err := g.UpsertProduct(p)
		if err != nil {
			return fmt.Errorf("product %s: %w", p.ID, err)
		}
		if err := b.linkCategory(g, idx, graph.CategoryName(p.Category)); err != nil {
			return fmt.Errorf("product %s: %w", p.ID, err)
		}
	}
	return nil
}

func (b *Builder) linkCategory(g *graph.Graph, product graph.NodeIndex, name graph.CategoryName) error {
	cat, err := g.EnsureCategory(name)
	if err != nil {
		return err
	}
	_, err = g.LinkCategory(product, cat)
	return err
}

// addPurchases returns the transactions that made it into the graph.
func (b *Builder) addPurchases(g *graph.Graph, txns []graph.Transaction, res *Result) ([]graph.Transaction, error) {
	included := make([]graph.Transaction, 0, len(txns))
	for _, t := range txns {
		// skip before resolving endpoints so a duplicate leaves no stubs behind
		if g.HasPurchase(t.ID) {
			res.SkippedTransactions++
			b.logger.Debug("duplicate transaction skipped", zap.String("transaction_id", t.ID))
			continue
		}
		c, stubC, err := g.EnsureCustomer(t.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		p, stubP, err := g.EnsureProduct(t.ProductID)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		if stubC {
			res.StubCustomers++
		}
		if stubP {
			res.StubProducts++
		}
		if err := b.linkCategory(g, p, g.Node(p).Product().Category); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}

		err = g.AddPurchase(c, p, graph.PurchasedAttrs{
			TransactionID: t.ID,
			Quantity:      t.Quantity,
			Amount:        t.Amount,
			Timestamp:     t.Timestamp,
			Status:        t.Status,
		})
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		included = append(included, t)
	}
	return included, nil
}
