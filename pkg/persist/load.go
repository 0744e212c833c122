package persist

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/convert"
	"github.com/orneryd/bizgraph/pkg/encryption"
	"github.com/orneryd/bizgraph/pkg/graph"
)

// Load reads the snapshot at path. A missing file is not an error: it
// returns (nil, false, nil) and the caller is expected to rebuild. Any other
// failure wraps graph.ErrPersistence. The returned graph is frozen.
func Load(path string, opts Options) (*graph.Graph, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		opts.logger().Info("no graph snapshot found", zap.String("path", path))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %v: %w", path, err, graph.ErrPersistence)
	}

	encrypted := encryption.IsSealed(data)
	if encrypted {
		sealer, err := opts.sealer()
		if err != nil {
			return nil, false, fmt.Errorf("load %s: %v: %w", path, err, graph.ErrPersistence)
		}
		if sealer == nil {
			return nil, false, fmt.Errorf("load %s: snapshot is encrypted and no passphrase is configured: %w", path, graph.ErrPersistence)
		}
		if data, err = sealer.Open(data); err != nil {
			return nil, false, fmt.Errorf("load %s: %v: %w", path, err, graph.ErrPersistence)
		}
	}

	g, err := Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", path, err)
	}
	opts.logger().Info("graph snapshot loaded",
		zap.String("path", path),
		zap.String("build_id", g.BuildID()),
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
		zap.Bool("encrypted", encrypted))
	return g, true, nil
}

// fields parses string attributes by convention. The first failure sticks.
type fields struct {
	values map[string]string
	err    error
}

func (f *fields) str(name string) string { return f.values[name] }

func (f *fields) fail(name, v string) {
	if f.err == nil {
		f.err = fmt.Errorf("attribute %s: malformed value %q", name, v)
	}
}

func (f *fields) asFloat(name string) float64 {
	v, ok := f.values[name]
	if !ok {
		return 0
	}
	out, parsed := convert.ToFloat64(v)
	if !parsed {
		f.fail(name, v)
	}
	return out
}

func (f *fields) asInt(name string) int {
	v, ok := f.values[name]
	if !ok {
		return 0
	}
	out, parsed := convert.ToInt64(v)
	if !parsed {
		f.fail(name, v)
	}
	return int(out)
}

func (f *fields) asTime(name string) time.Time {
	v, ok := f.values[name]
	if !ok {
		return time.Time{}
	}
	out, parsed := convert.ParseTime(v)
	if !parsed {
		f.fail(name, v)
	}
	return out
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), graph.ErrPersistence)
}

// Unmarshal decodes a GraphML document produced by Marshal into a frozen
// graph.
func Unmarshal(data []byte) (*graph.Graph, error) {
	var doc graphML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, corrupt("decode graphml: %v", err)
	}

	names := make(map[string]string, len(doc.Keys))
	for _, k := range doc.Keys {
		names[k.ID] = k.Name
	}

	g := graph.New()
	refs := make(map[string]graph.NodeIndex, len(doc.Graph.Nodes))
	for _, n := range doc.Graph.Nodes {
		if _, dup := refs[n.ID]; dup {
			return nil, corrupt("node %s: duplicate element id", n.ID)
		}
		values, err := attrs(n.Data, names)
		if err != nil {
			return nil, corrupt("node %s: %v", n.ID, err)
		}
		idx, err := restoreNode(g, &fields{values: values})
		if err != nil {
			return nil, corrupt("node %s: %v", n.ID, err)
		}
		refs[n.ID] = idx
	}

	for _, e := range doc.Graph.Edges {
		from, ok := refs[e.Source]
		if !ok {
			return nil, corrupt("edge %s: unknown source %s", e.ID, e.Source)
		}
		to, ok := refs[e.Target]
		if !ok {
			return nil, corrupt("edge %s: unknown target %s", e.ID, e.Target)
		}
		values, err := attrs(e.Data, names)
		if err != nil {
			return nil, corrupt("edge %s: %v", e.ID, err)
		}
		if err := restoreEdge(g, from, to, &fields{values: values}); err != nil {
			return nil, corrupt("edge %s: %v", e.ID, err)
		}
	}

	values, err := attrs(doc.Graph.Data, names)
	if err != nil {
		return nil, corrupt("graph: %v", err)
	}
	meta := &fields{values: values}
	builtAt := meta.asTime(attrBuiltAt)
	if meta.err != nil {
		return nil, corrupt("graph: %v", meta.err)
	}
	g.Freeze(meta.str(attrBuildID), builtAt)
	return g, nil
}

func restoreNode(g *graph.Graph, f *fields) (graph.NodeIndex, error) {
	kind, ok := graph.ParseNodeKind(f.str(attrKind))
	if !ok {
		return 0, fmt.Errorf("unknown kind %q", f.str(attrKind))
	}
	id := f.str(attrID)
	if _, exists := g.Lookup(kind, id); exists {
		return 0, fmt.Errorf("duplicate %s %q", kind, id)
	}
	stub := f.str(attrStatus) == graph.StatusUninitialized

	var (
		idx graph.NodeIndex
		err error
	)
	switch {
	case kind == graph.KindCustomer && stub:
		idx, _, err = g.EnsureCustomer(graph.CustomerID(id))
	case kind == graph.KindCustomer:
		c := graph.Customer{
			ID:           graph.CustomerID(id),
			RegisteredAt: f.asTime(attrRegisteredAt),
			LastActiveAt: f.asTime(attrLastActiveAt),
			TotalSpent:   f.asFloat(attrTotalSpent),
			TotalOrders:  f.asInt(attrTotalOrders),
			Region:       f.str(attrRegion),
		}
		if f.err != nil {
			return 0, f.err
		}
		idx, err = g.UpsertCustomer(c)
	case kind == graph.KindProduct && stub:
		idx, _, err = g.EnsureProduct(graph.ProductID(id))
	case kind == graph.KindProduct:
		p := graph.Product{
			ID:       graph.ProductID(id),
			Name:     f.str(attrName),
			Category: f.str(attrCategory),
			Price:    f.asFloat(attrPrice),
			Stock:    f.asInt(attrStock),
			Rating:   f.asFloat(attrRating),
		}
		if f.err != nil {
			return 0, f.err
		}
		idx, err = g.UpsertProduct(p)
	default:
		idx, err = g.EnsureCategory(graph.CategoryName(id))
	}
	return idx, err
}

func restoreEdge(g *graph.Graph, from, to graph.NodeIndex, f *fields) error {
	kind, ok := graph.ParseEdgeKind(f.str(attrKind))
	if !ok {
		return fmt.Errorf("unknown kind %q", f.str(attrKind))
	}

	switch kind {
	case graph.EdgePurchased:
		a := graph.PurchasedAttrs{
			TransactionID: f.str(attrTransactionID),
			Quantity:      f.asInt(attrQuantity),
			Amount:        f.asFloat(attrAmount),
			Timestamp:     f.asTime(attrTimestamp),
			Status:        f.str(attrStatus),
		}
		if f.err != nil {
			return f.err
		}
		return g.AddPurchase(from, to, a)
	case graph.EdgeBelongsTo:
		_, err := g.LinkCategory(from, to)
		return err
	default:
		score, shared := f.asFloat(attrScore), f.asInt(attrShared)
		if f.err != nil {
			return f.err
		}
		return g.AddSimilarity(from, to, score, shared)
	}
}
