package persist

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/orneryd/bizgraph/pkg/convert"
	"github.com/orneryd/bizgraph/pkg/encryption"
	"github.com/orneryd/bizgraph/pkg/graph"
)

// Options configure Save and Load.
type Options struct {
	// Passphrase enables at-rest encryption. Empty means plain GraphML.
	Passphrase string
	// Iterations overrides the PBKDF2 iteration count.
	Iterations int
	Logger     *zap.Logger
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o Options) sealer() (*encryption.Sealer, error) {
	if o.Passphrase == "" {
		return nil, nil
	}
	return encryption.NewSealer(o.Passphrase, o.Iterations)
}

// Save writes g to path, replacing any previous snapshot.
func Save(g *graph.Graph, path string, opts Options) error {
	if !g.Built() {
		return fmt.Errorf("save %s: %w", path, graph.ErrGraphNotBuilt)
	}

	data, err := Marshal(g)
	if err != nil {
		return err
	}
	sealer, err := opts.sealer()
	if err != nil {
		return fmt.Errorf("save %s: %v: %w", path, err, graph.ErrPersistence)
	}
	if sealer != nil {
		if data, err = sealer.Seal(data); err != nil {
			return fmt.Errorf("save %s: %v: %w", path, err, graph.ErrPersistence)
		}
	}

	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("save %s: %v: %w", path, err, graph.ErrPersistence)
	}
	opts.logger().Info("graph snapshot saved",
		zap.String("path", path),
		zap.String("build_id", g.BuildID()),
		zap.Int("nodes", g.NodeCount()),
		zap.Int("edges", g.EdgeCount()),
		zap.Int("bytes", len(data)),
		zap.Bool("encrypted", sealer != nil))
	return nil
}

// writeAtomic writes data to a temp file next to path and renames it over
// path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func nodeRef(idx graph.NodeIndex) string {
	return "n" + strconv.Itoa(int(idx))
}

// Marshal renders g as a GraphML document.
func Marshal(g *graph.Graph) ([]byte, error) {
	doc := graphML{
		XMLNS: graphMLNamespace,
		Keys:  declareKeys(),
		Graph: gmlGraph{ID: "bizgraph", EdgeDefault: "directed"},
	}

	meta := attrWriter{scope: "graph"}
	meta.set(attrBuildID, g.BuildID())
	meta.set(attrBuiltAt, convert.FormatTime(g.BuiltAt()))
	doc.Graph.Data = meta.data

	doc.Graph.Nodes = make([]gmlNode, 0, g.NodeCount())
	g.ForEachNode(func(n *graph.Node) bool {
		w := attrWriter{scope: "node"}
		w.set(attrKind, n.Kind.String())
		w.set(attrID, n.ID)
		switch a := n.Attrs.(type) {
		case *graph.CustomerAttrs:
			w.set(attrRegisteredAt, convert.FormatTime(a.RegisteredAt))
			w.set(attrLastActiveAt, convert.FormatTime(a.LastActiveAt))
			w.set(attrTotalSpent, convert.FormatFloat(a.TotalSpent))
			w.set(attrTotalOrders, convert.FormatInt(a.TotalOrders))
			w.set(attrRegion, a.Region)
			w.set(attrStatus, a.Status)
		case *graph.ProductAttrs:
			w.set(attrName, a.Name)
			w.set(attrCategory, string(a.Category))
			w.set(attrPrice, convert.FormatFloat(a.Price))
			w.set(attrStock, convert.FormatInt(a.Stock))
			w.set(attrRating, convert.FormatFloat(a.Rating))
			w.set(attrStatus, a.Status)
		}
		doc.Graph.Nodes = append(doc.Graph.Nodes, gmlNode{ID: nodeRef(n.Index), Data: w.data})
		return true
	})

	doc.Graph.Edges = make([]gmlEdge, 0, g.EdgeCount())
	pos := 0
	g.ForEachEdge(func(e *graph.Edge) bool {
		w := attrWriter{scope: "edge"}
		w.set(attrKind, e.Kind.String())
		switch a := e.Attrs.(type) {
		case *graph.PurchasedAttrs:
			w.set(attrTransactionID, a.TransactionID)
			w.set(attrQuantity, convert.FormatInt(a.Quantity))
			w.set(attrAmount, convert.FormatFloat(a.Amount))
			w.set(attrTimestamp, convert.FormatTime(a.Timestamp))
			w.set(attrStatus, a.Status)
		case *graph.SimilarToAttrs:
			w.set(attrScore, convert.FormatFloat(a.Score))
			w.set(attrShared, convert.FormatInt(a.SharedProducts))
		}
		doc.Graph.Edges = append(doc.Graph.Edges, gmlEdge{
			ID:     "e" + strconv.Itoa(pos),
			Source: nodeRef(e.From),
			Target: nodeRef(e.To),
			Data:   w.data,
		})
		pos++
		return true
	})

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode graphml: %v: %w", err, graph.ErrPersistence)
	}
	return append([]byte(xml.Header), body...), nil
}
