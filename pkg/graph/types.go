// Package graph holds the customer-behaviour knowledge graph.
//
// The graph is a typed multi-relational graph kept as an arena: nodes live in
// a slice and are addressed by NodeIndex, edges live in a second slice and are
// referenced from per-node adjacency lists. Identity lookups go through a
// two-level index (kind → id → NodeIndex), so there are no string-prefixed
// keys and no pointer cycles.
//
// Node and edge attributes are tagged variants. A node carries exactly one of
// *CustomerAttrs, *ProductAttrs or *CategoryAttrs; an edge carries exactly one
// of *PurchasedAttrs, *BelongsToAttrs or *SimilarToAttrs. Consumers switch on
// the concrete type:
//
//	switch a := node.Attrs.(type) {
//	case *graph.CustomerAttrs:
//		fmt.Println("spent", a.TotalSpent)
//	case *graph.ProductAttrs:
//		fmt.Println("stock", a.Stock)
//	}
//
// Lifecycle: a Graph is created empty, populated by a single writer (the
// builder or the snapshot loader) and then frozen. Every mutator on a frozen
// graph returns ErrFrozen, which is what makes it safe to share a published
// graph between any number of concurrent readers without locks.
package graph

import (
	"time"
)

// CustomerID identifies a customer node.
type CustomerID string

// ProductID identifies a product node.
type ProductID string

// CategoryName identifies a category node.
type CategoryName string

// NodeIndex addresses a node inside the arena.
type NodeIndex int

// NodeKind discriminates node variants.
type NodeKind uint8

const (
	KindCustomer NodeKind = iota
	KindProduct
	KindCategory
)

// NodeKinds lists every node kind in a stable order.
var NodeKinds = []NodeKind{KindCustomer, KindProduct, KindCategory}

func (k NodeKind) String() string {
	switch k {
	case KindCustomer:
		return "customer"
	case KindProduct:
		return "product"
	case KindCategory:
		return "category"
	default:
		return "unknown"
	}
}

// ParseNodeKind is the inverse of NodeKind.String.
func ParseNodeKind(s string) (NodeKind, bool) {
	for _, k := range NodeKinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// EdgeKind discriminates edge variants.
type EdgeKind uint8

const (
	EdgePurchased EdgeKind = iota
	EdgeBelongsTo
	EdgeSimilarTo
)

// EdgeKinds lists every edge kind in a stable order.
var EdgeKinds = []EdgeKind{EdgePurchased, EdgeBelongsTo, EdgeSimilarTo}

func (k EdgeKind) String() string {
	switch k {
	case EdgePurchased:
		return "PURCHASED"
	case EdgeBelongsTo:
		return "BELONGS_TO"
	case EdgeSimilarTo:
		return "SIMILAR_TO"
	default:
		return "UNKNOWN"
	}
}

// ParseEdgeKind is the inverse of EdgeKind.String.
func ParseEdgeKind(s string) (EdgeKind, bool) {
	for _, k := range EdgeKinds {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Node statuses.
const (
	StatusActive        = "active"
	StatusUninitialized = "uninitialized"
)

// UncategorizedCategory is the category stub products are filed under.
const UncategorizedCategory CategoryName = "uncategorized"

// Node is one arena entry.
type Node struct {
	Index NodeIndex
	Kind  NodeKind
	ID    string
	Attrs NodeAttrs
}

// NodeAttrs is implemented by the three node attribute variants.
type NodeAttrs interface {
	nodeKind() NodeKind
}

// CustomerAttrs are the profile attributes of a customer.
type CustomerAttrs struct {
	RegisteredAt time.Time
	LastActiveAt time.Time
	TotalSpent   float64
	TotalOrders  int
	Region       string
	Status       string
}

// ProductAttrs are the catalogue attributes of a product.
type ProductAttrs struct {
	Name     string
	Category CategoryName
	Price    float64
	Stock    int
	Rating   float64
	Status   string
}

// CategoryAttrs are the attributes of a category.
type CategoryAttrs struct {
	Name CategoryName
}

func (*CustomerAttrs) nodeKind() NodeKind { return KindCustomer }
func (*ProductAttrs) nodeKind() NodeKind  { return KindProduct }
func (*CategoryAttrs) nodeKind() NodeKind { return KindCategory }

// Customer returns the customer attributes, or nil for other kinds.
func (n *Node) Customer() *CustomerAttrs {
	a, _ := n.Attrs.(*CustomerAttrs)
	return a
}

// Product returns the product attributes, or nil for other kinds.
func (n *Node) Product() *ProductAttrs {
	a, _ := n.Attrs.(*ProductAttrs)
	return a
}

// Category returns the category attributes, or nil for other kinds.
func (n *Node) Category() *CategoryAttrs {
	a, _ := n.Attrs.(*CategoryAttrs)
	return a
}

// Edge is one relationship. SIMILAR_TO edges are stored once and indexed at
// both endpoints.
type Edge struct {
	Kind  EdgeKind
	From  NodeIndex
	To    NodeIndex
	Key   string // transaction id for PURCHASED, empty otherwise
	Attrs EdgeAttrs
}

// EdgeAttrs is implemented by the three edge attribute variants.
type EdgeAttrs interface {
	edgeKind() EdgeKind
}

// PurchasedAttrs mirror the source transaction.
type PurchasedAttrs struct {
	TransactionID string
	Quantity      int
	Amount        float64
	Timestamp     time.Time
	Status        string
}

// BelongsToAttrs carries no data; the edge itself is the fact.
type BelongsToAttrs struct{}

// SimilarToAttrs describe a customer pair.
type SimilarToAttrs struct {
	Score          float64
	SharedProducts int
}

func (*PurchasedAttrs) edgeKind() EdgeKind { return EdgePurchased }
func (*BelongsToAttrs) edgeKind() EdgeKind { return EdgeBelongsTo }
func (*SimilarToAttrs) edgeKind() EdgeKind { return EdgeSimilarTo }

// Purchase returns the purchase attributes, or nil for other kinds.
func (e *Edge) Purchase() *PurchasedAttrs {
	a, _ := e.Attrs.(*PurchasedAttrs)
	return a
}

// Similarity returns the similarity attributes, or nil for other kinds.
func (e *Edge) Similarity() *SimilarToAttrs {
	a, _ := e.Attrs.(*SimilarToAttrs)
	return a
}

// Other returns the endpoint of e that is not n.
func (e *Edge) Other(n NodeIndex) NodeIndex {
	if e.From == n {
		return e.To
	}
	return e.From
}
