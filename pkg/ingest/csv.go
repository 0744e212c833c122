// Package ingest reads the customer, product and transaction batches from
// CSV files.
//
// Exports from different shops name the same column differently, so every
// field accepts a list of aliases ("customer_id", "cust_id", "user_id", ...).
// Headers are matched case-insensitively after trimming and replacing spaces
// and dashes with underscores. A missing required column or an unparseable
// cell fails the whole file with graph.ErrValidation.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/orneryd/bizgraph/pkg/convert"
	"github.com/orneryd/bizgraph/pkg/graph"
)

// column is one logical field and the header names it may appear under.
type column struct {
	name     string
	aliases  []string
	required bool
}

var customerColumns = []column{
	{name: "id", aliases: []string{"customer_id", "customerid", "cust_id", "user_id", "id"}, required: true},
	{name: "registered_at", aliases: []string{"registered_at", "registration_date", "signup_date", "created_at"}},
	{name: "last_active_at", aliases: []string{"last_active_at", "last_active", "last_login", "last_purchase_date"}},
	{name: "total_spent", aliases: []string{"total_spent", "total_spend", "lifetime_value", "ltv"}},
	{name: "total_orders", aliases: []string{"total_orders", "order_count", "orders", "num_orders"}},
	{name: "region", aliases: []string{"region", "location", "country", "state"}},
}

var productColumns = []column{
	{name: "id", aliases: []string{"product_id", "productid", "prod_id", "sku", "id"}, required: true},
	{name: "name", aliases: []string{"name", "product_name", "title"}},
	{name: "category", aliases: []string{"category", "product_category", "category_name"}},
	{name: "price", aliases: []string{"price", "unit_price", "list_price"}},
	{name: "stock", aliases: []string{"stock", "stock_quantity", "inventory", "quantity_in_stock"}},
	{name: "rating", aliases: []string{"rating", "avg_rating", "average_rating"}},
}

var transactionColumns = []column{
	{name: "id", aliases: []string{"transaction_id", "transactionid", "txn_id", "order_id", "id"}, required: true},
	{name: "customer_id", aliases: []string{"customer_id", "customerid", "cust_id", "user_id"}, required: true},
	{name: "product_id", aliases: []string{"product_id", "productid", "prod_id", "sku"}, required: true},
	{name: "quantity", aliases: []string{"quantity", "qty", "units"}},
	{name: "amount", aliases: []string{"amount", "total", "total_amount", "price_paid", "revenue"}, required: true},
	{name: "timestamp", aliases: []string{"timestamp", "date", "transaction_date", "created_at", "order_date"}, required: true},
	{name: "status", aliases: []string{"status", "order_status", "payment_status"}},
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

// resolve maps logical column names to header positions. The first alias
// present wins.
func resolve(header []string, cols []column) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		if _, seen := pos[normalizeHeader(h)]; !seen {
			pos[normalizeHeader(h)] = i
		}
	}
	out := make(map[string]int, len(cols))
	for _, c := range cols {
		for _, alias := range c.aliases {
			if i, ok := pos[alias]; ok {
				out[c.name] = i
				break
			}
		}
		if _, ok := out[c.name]; !ok && c.required {
			return nil, fmt.Errorf("missing required column %q (accepted: %s): %w",
				c.name, strings.Join(c.aliases, ", "), graph.ErrValidation)
		}
	}
	return out, nil
}

// row reads typed cells from one record. The first bad cell sticks in err.
type row struct {
	rec  []string
	cols map[string]int
	line int
	err  error
}

func (r *row) str(name string) string {
	i, ok := r.cols[name]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *row) fail(name, v string) {
	if r.err == nil {
		r.err = fmt.Errorf("line %d: column %s: cannot parse %q: %w", r.line, name, v, graph.ErrValidation)
	}
}

func (r *row) float(name string) float64 {
	v := r.str(name)
	if v == "" {
		return 0
	}
	f, ok := convert.ToFloat64(v)
	if !ok {
		r.fail(name, v)
	}
	return f
}

func (r *row) integer(name string, def int) int {
	v := r.str(name)
	if v == "" {
		return def
	}
	i, ok := convert.ToInt64(v)
	if !ok {
		r.fail(name, v)
	}
	return int(i)
}

func (r *row) timestamp(name string) time.Time {
	v := r.str(name)
	if v == "" {
		return time.Time{}
	}
	t, ok := convert.ParseTime(v)
	if !ok {
		r.fail(name, v)
	}
	return t
}

// checkEvery is how many rows are read between context checks.
const checkEvery = 1024

// readRows drives a CSV reader and hands each data row to fn.
func readRows(ctx context.Context, src io.Reader, cols []column, fn func(r *row) error) error {
	cr := csv.NewReader(src)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("empty file: %w", graph.ErrValidation)
	}
	if err != nil {
		return fmt.Errorf("read header: %v: %w", err, graph.ErrValidation)
	}
	positions, err := resolve(header, cols)
	if err != nil {
		return err
	}

	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%v: %w", err, graph.ErrValidation)
		}
		line, _ := cr.FieldPos(0)
		r := &row{rec: rec, cols: positions, line: line}
		if err := fn(r); err != nil {
			return err
		}
		if r.err != nil {
			return r.err
		}
	}
}

// ReadCustomers parses a customer CSV.
func ReadCustomers(ctx context.Context, src io.Reader) ([]graph.Customer, error) {
	var out []graph.Customer
	err := readRows(ctx, src, customerColumns, func(r *row) error {
		out = append(out, graph.Customer{
			ID:           graph.CustomerID(r.str("id")),
			RegisteredAt: r.timestamp("registered_at"),
			LastActiveAt: r.timestamp("last_active_at"),
			TotalSpent:   r.float("total_spent"),
			TotalOrders:  r.integer("total_orders", 0),
			Region:       r.str("region"),
		})
		return nil
	})
	return out, err
}

// ReadProducts parses a product CSV. A missing or empty category files the
// product under graph.UncategorizedCategory.
func ReadProducts(ctx context.Context, src io.Reader) ([]graph.Product, error) {
	var out []graph.Product
	err := readRows(ctx, src, productColumns, func(r *row) error {
		category := r.str("category")
		if category == "" {
			category = string(graph.UncategorizedCategory)
		}
		out = append(out, graph.Product{
			ID:       graph.ProductID(r.str("id")),
			Name:     r.str("name"),
			Category: category,
			Price:    r.float("price"),
			Stock:    r.integer("stock", 0),
			Rating:   r.float("rating"),
		})
		return nil
	})
	return out, err
}

// ReadTransactions parses a transaction CSV. A missing quantity means 1.
func ReadTransactions(ctx context.Context, src io.Reader) ([]graph.Transaction, error) {
	var out []graph.Transaction
	err := readRows(ctx, src, transactionColumns, func(r *row) error {
		out = append(out, graph.Transaction{
			ID:         r.str("id"),
			CustomerID: graph.CustomerID(r.str("customer_id")),
			ProductID:  graph.ProductID(r.str("product_id")),
			Quantity:   r.integer("quantity", 1),
			Amount:     r.float("amount"),
			Timestamp:  r.timestamp("timestamp"),
			Status:     r.str("status"),
		})
		return nil
	})
	return out, err
}
