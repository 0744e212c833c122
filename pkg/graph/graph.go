package graph

import (
	"fmt"
	"sort"
	"time"
)

// Graph is the arena-backed customer graph.
//
// A Graph has exactly one writer while it is being populated and is then
// frozen with Freeze. Read methods are safe for concurrent use once the graph
// is frozen; pointers returned by Node, Edge, Outgoing, Incoming and Similar
// point into the arena and must be treated as read-only.
type Graph struct {
	nodes []Node
	edges []Edge

	index [3]map[string]NodeIndex

	outgoing [][]int
	incoming [][]int
	similar  [][]int

	purchases    map[string]int
	belongsTo    map[NodeIndex]int
	similarPairs map[[2]NodeIndex]int
	edgeCounts   [3]int

	frozen  bool
	buildID string
	builtAt time.Time
	asOf    time.Time
}

// New returns an empty, writable graph.
func New() *Graph {
	g := &Graph{
		purchases:    make(map[string]int),
		belongsTo:    make(map[NodeIndex]int),
		similarPairs: make(map[[2]NodeIndex]int),
	}
	for i := range g.index {
		g.index[i] = make(map[string]NodeIndex)
	}
	return g
}

func (g *Graph) writable() error {
	if g.frozen {
		return ErrFrozen
	}
	return nil
}

func (g *Graph) addNode(kind NodeKind, id string, attrs NodeAttrs) NodeIndex {
	idx := NodeIndex(len(g.nodes))
	g.nodes = append(g.nodes, Node{Index: idx, Kind: kind, ID: id, Attrs: attrs})
	g.outgoing = append(g.outgoing, nil)
	g.incoming = append(g.incoming, nil)
	g.similar = append(g.similar, nil)
	g.index[kind][id] = idx
	return idx
}

func (g *Graph) addEdge(e Edge) int {
	pos := len(g.edges)
	g.edges = append(g.edges, e)
	g.edgeCounts[e.Kind]++
	return pos
}

// UpsertCustomer creates the customer node or replaces the attributes of an
// existing one. A stub is promoted to active.
func (g *Graph) UpsertCustomer(c Customer) (NodeIndex, error) {
	if err := g.writable(); err != nil {
		return 0, err
	}
	if c.ID == "" {
		return 0, fmt.Errorf("customer id is empty: %w", ErrValidation)
	}
	attrs := &CustomerAttrs{
		RegisteredAt: c.RegisteredAt,
		LastActiveAt: c.LastActiveAt,
		TotalSpent:   c.TotalSpent,
		TotalOrders:  c.TotalOrders,
		Region:       c.Region,
		Status:       StatusActive,
	}
	if idx, ok := g.index[KindCustomer][string(c.ID)]; ok {
		g.nodes[idx].Attrs = attrs
		return idx, nil
	}
	return g.addNode(KindCustomer, string(c.ID), attrs), nil
}

// EnsureCustomer returns the customer node, creating an uninitialized stub if
// the id is unknown. created reports whether a stub was made.
func (g *Graph) EnsureCustomer(id CustomerID) (idx NodeIndex, created bool, err error) {
	if err := g.writable(); err != nil {
		return 0, false, err
	}
	if id == "" {
		return 0, false, fmt.Errorf("customer id is empty: %w", ErrValidation)
	}
	if idx, ok := g.index[KindCustomer][string(id)]; ok {
		return idx, false, nil
	}
	return g.addNode(KindCustomer, string(id), &CustomerAttrs{Status: StatusUninitialized}), true, nil
}

// UpsertProduct creates the product node or replaces the attributes of an
// existing one. The category node is not touched; see LinkCategory.
func (g *Graph) UpsertProduct(p Product) (NodeIndex, error) {
	if err := g.writable(); err != nil {
		return 0, err
	}
	if p.ID == "" {
		return 0, fmt.Errorf("product id is empty: %w", ErrValidation)
	}
	attrs := &ProductAttrs{
		Name:     p.Name,
		Category: CategoryName(p.Category),
		Price:    p.Price,
		Stock:    p.Stock,
		Rating:   p.Rating,
		Status:   StatusActive,
	}
	if idx, ok := g.index[KindProduct][string(p.ID)]; ok {
		g.nodes[idx].Attrs = attrs
		return idx, nil
	}
	return g.addNode(KindProduct, string(p.ID), attrs), nil
}

// EnsureProduct returns the product node, creating an uninitialized stub in
// UncategorizedCategory if the id is unknown.
func (g *Graph) EnsureProduct(id ProductID) (idx NodeIndex, created bool, err error) {
	if err := g.writable(); err != nil {
		return 0, false, err
	}
	if id == "" {
		return 0, false, fmt.Errorf("product id is empty: %w", ErrValidation)
	}
	if idx, ok := g.index[KindProduct][string(id)]; ok {
		return idx, false, nil
	}
	attrs := &ProductAttrs{Category: UncategorizedCategory, Status: StatusUninitialized}
	return g.addNode(KindProduct, string(id), attrs), true, nil
}

// EnsureCategory returns the category node, creating it when missing.
func (g *Graph) EnsureCategory(name CategoryName) (NodeIndex, error) {
	if err := g.writable(); err != nil {
		return 0, err
	}
	if name == "" {
		return 0, fmt.Errorf("category name is empty: %w", ErrValidation)
	}
	if idx, ok := g.index[KindCategory][string(name)]; ok {
		return idx, nil
	}
	return g.addNode(KindCategory, string(name), &CategoryAttrs{Name: name}), nil
}

func (g *Graph) expectKind(idx NodeIndex, kind NodeKind) error {
	if idx < 0 || int(idx) >= len(g.nodes) {
		return fmt.Errorf("node index %d out of range: %w", idx, ErrNotFound)
	}
	if got := g.nodes[idx].Kind; got != kind {
		return fmt.Errorf("node %d is a %s, want %s: %w", idx, got, kind, ErrValidation)
	}
	return nil
}

// AddPurchase adds a PURCHASED edge keyed by the transaction id. Purchases of
// the same product by the same customer coexist as separate edges; reusing a
// transaction id returns ErrDuplicate.
func (g *Graph) AddPurchase(customer, product NodeIndex, attrs PurchasedAttrs) error {
	if err := g.writable(); err != nil {
		return err
	}
	if attrs.TransactionID == "" {
		return fmt.Errorf("transaction id is empty: %w", ErrValidation)
	}
	if err := g.expectKind(customer, KindCustomer); err != nil {
		return err
	}
	if err := g.expectKind(product, KindProduct); err != nil {
		return err
	}
	if _, exists := g.purchases[attrs.TransactionID]; exists {
		return fmt.Errorf("transaction %s: %w", attrs.TransactionID, ErrDuplicate)
	}

	a := attrs
	pos := g.addEdge(Edge{Kind: EdgePurchased, From: customer, To: product, Key: a.TransactionID, Attrs: &a})
	g.outgoing[customer] = append(g.outgoing[customer], pos)
	g.incoming[product] = append(g.incoming[product], pos)
	g.purchases[a.TransactionID] = pos
	if a.Timestamp.After(g.asOf) {
		g.asOf = a.Timestamp
	}
	return nil
}

// LinkCategory adds the BELONGS_TO edge product → category unless the product
// already has one. It reports whether an edge was created.
func (g *Graph) LinkCategory(product, category NodeIndex) (bool, error) {
	if err := g.writable(); err != nil {
		return false, err
	}
	if err := g.expectKind(product, KindProduct); err != nil {
		return false, err
	}
	if err := g.expectKind(category, KindCategory); err != nil {
		return false, err
	}
	if _, exists := g.belongsTo[product]; exists {
		return false, nil
	}

	pos := g.addEdge(Edge{Kind: EdgeBelongsTo, From: product, To: category, Attrs: &BelongsToAttrs{}})
	g.outgoing[product] = append(g.outgoing[product], pos)
	g.incoming[category] = append(g.incoming[category], pos)
	g.belongsTo[product] = pos
	return true, nil
}

func pairKey(a, b NodeIndex) [2]NodeIndex {
	if a > b {
		a, b = b, a
	}
	return [2]NodeIndex{a, b}
}

// AddSimilarity adds the undirected SIMILAR_TO edge between two customers.
func (g *Graph) AddSimilarity(a, b NodeIndex, score float64, shared int) error {
	if err := g.writable(); err != nil {
		return err
	}
	if err := g.expectKind(a, KindCustomer); err != nil {
		return err
	}
	if err := g.expectKind(b, KindCustomer); err != nil {
		return err
	}
	if a == b {
		return fmt.Errorf("self similarity for node %d: %w", a, ErrValidation)
	}
	if !(score > 0 && score <= 1) {
		return fmt.Errorf("similarity score %v outside (0,1]: %w", score, ErrValidation)
	}
	key := pairKey(a, b)
	if _, exists := g.similarPairs[key]; exists {
		return fmt.Errorf("similarity %d-%d: %w", a, b, ErrDuplicate)
	}

	pos := g.addEdge(Edge{
		Kind:  EdgeSimilarTo,
		From:  key[0],
		To:    key[1],
		Attrs: &SimilarToAttrs{Score: score, SharedProducts: shared},
	})
	g.similar[a] = append(g.similar[a], pos)
	g.similar[b] = append(g.similar[b], pos)
	g.similarPairs[key] = pos
	return nil
}

// HasPurchase reports whether a PURCHASED edge with the transaction id exists.
func (g *Graph) HasPurchase(transactionID string) bool {
	_, ok := g.purchases[transactionID]
	return ok
}

// SimilarityCount returns the number of SIMILAR_TO edges.
func (g *Graph) SimilarityCount() int {
	return g.edgeCounts[EdgeSimilarTo]
}

// Freeze marks the graph built. No mutation is accepted afterwards.
func (g *Graph) Freeze(buildID string, builtAt time.Time) {
	g.frozen = true
	g.buildID = buildID
	g.builtAt = builtAt
}

// Built reports whether the graph has been frozen by a completed build or load.
func (g *Graph) Built() bool {
	return g != nil && g.frozen
}

// BuildID returns the id of the build that produced the graph.
func (g *Graph) BuildID() string { return g.buildID }

// BuiltAt returns when the graph was frozen.
func (g *Graph) BuiltAt() time.Time { return g.builtAt }

// AsOf returns the latest purchase timestamp in the graph, the reference point
// for recency rules.
func (g *Graph) AsOf() time.Time { return g.asOf }

// Lookup resolves an id within a kind's namespace.
func (g *Graph) Lookup(kind NodeKind, id string) (NodeIndex, bool) {
	idx, ok := g.index[kind][id]
	return idx, ok
}

// Node returns the node at idx, or nil.
func (g *Graph) Node(idx NodeIndex) *Node {
	if idx < 0 || int(idx) >= len(g.nodes) {
		return nil
	}
	return &g.nodes[idx]
}

// Edge returns the edge at position pos, or nil.
func (g *Graph) Edge(pos int) *Edge {
	if pos < 0 || pos >= len(g.edges) {
		return nil
	}
	return &g.edges[pos]
}

func (g *Graph) collect(positions []int, kind EdgeKind) []*Edge {
	out := make([]*Edge, 0, len(positions))
	for _, pos := range positions {
		if e := &g.edges[pos]; e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Outgoing returns the edges of the given kind that start at idx.
// SIMILAR_TO edges are undirected; use Similar for them.
func (g *Graph) Outgoing(idx NodeIndex, kind EdgeKind) []*Edge {
	if g.Node(idx) == nil {
		return nil
	}
	return g.collect(g.outgoing[idx], kind)
}

// Incoming returns the edges of the given kind that end at idx.
func (g *Graph) Incoming(idx NodeIndex, kind EdgeKind) []*Edge {
	if g.Node(idx) == nil {
		return nil
	}
	return g.collect(g.incoming[idx], kind)
}

// Similar returns the SIMILAR_TO edges touching idx, from either side.
func (g *Graph) Similar(idx NodeIndex) []*Edge {
	if g.Node(idx) == nil {
		return nil
	}
	return g.collect(g.similar[idx], EdgeSimilarTo)
}

// ForEachNode visits nodes in arena order until fn returns false.
func (g *Graph) ForEachNode(fn func(n *Node) bool) {
	for i := range g.nodes {
		if !fn(&g.nodes[i]) {
			return
		}
	}
}

// ForEachEdge visits edges in insertion order until fn returns false.
func (g *Graph) ForEachEdge(fn func(e *Edge) bool) {
	for i := range g.edges {
		if !fn(&g.edges[i]) {
			return
		}
	}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges, counting each SIMILAR_TO pair once.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// NodeCountsByKind returns node counts keyed by NodeKind.String.
func (g *Graph) NodeCountsByKind() map[string]int {
	counts := make(map[string]int, len(NodeKinds))
	for _, k := range NodeKinds {
		counts[k.String()] = len(g.index[k])
	}
	return counts
}

// EdgeCountsByKind returns edge counts keyed by EdgeKind.String.
func (g *Graph) EdgeCountsByKind() map[string]int {
	counts := make(map[string]int, len(EdgeKinds))
	for _, k := range EdgeKinds {
		counts[k.String()] = g.edgeCounts[k]
	}
	return counts
}

// Transactions rebuilds the transaction stream from the PURCHASED edges,
// ordered by timestamp and then transaction id.
func (g *Graph) Transactions() []Transaction {
	txns := make([]Transaction, 0, g.edgeCounts[EdgePurchased])
	for i := range g.edges {
		e := &g.edges[i]
		p := e.Purchase()
		if p == nil {
			continue
		}
		txns = append(txns, Transaction{
			ID:         p.TransactionID,
			CustomerID: CustomerID(g.nodes[e.From].ID),
			ProductID:  ProductID(g.nodes[e.To].ID),
			Quantity:   p.Quantity,
			Amount:     p.Amount,
			Timestamp:  p.Timestamp,
			Status:     p.Status,
		})
	}
	sort.SliceStable(txns, func(i, j int) bool {
		if !txns[i].Timestamp.Equal(txns[j].Timestamp) {
			return txns[i].Timestamp.Before(txns[j].Timestamp)
		}
		return txns[i].ID < txns[j].ID
	})
	return txns
}
