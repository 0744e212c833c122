package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeExports(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"customers.csv":    "customer_id\nA\nB\nC\n",
		"products.csv":     "product_id,name,category,price\nX,Kettle,kitchen,30\nY,Toaster,kitchen,40\n",
		"transactions.csv": "transaction_id,customer_id,product_id,quantity,amount,timestamp\nt1,A,X,1,30,2024-01-01\nt2,A,Y,1,40,2024-01-02\nt3,B,X,1,30,2024-01-03\nt4,B,Y,1,40,2024-01-04\n",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "bizgraph v"+version)
}

func TestImportBuildAndQuery(t *testing.T) {
	exports := writeExports(t)
	work := t.TempDir()
	common := []string{
		"--data-dir", filepath.Join(work, "data"),
		"--snapshot", filepath.Join(work, "graph.graphml"),
		"--log-level", "error",
	}

	out, err := run(t, append([]string{"import", exports, "--build"}, common...)...)
	require.NoError(t, err)
	var res struct {
		BuildID   string `json:"build_id"`
		NodeCount int    `json:"node_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotEmpty(t, res.BuildID)
	assert.Equal(t, 6, res.NodeCount)

	_, err = os.Stat(filepath.Join(work, "graph.graphml"))
	require.NoError(t, err, "build auto-saves the snapshot")

	out, err = run(t, append([]string{"customer", "A"}, common...)...)
	require.NoError(t, err)
	var ci struct {
		SimilarCustomers []struct {
			CustomerID string `json:"customer_id"`
		} `json:"similar_customers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &ci))
	require.Len(t, ci.SimilarCustomers, 1)
	assert.Equal(t, "B", ci.SimilarCustomers[0].CustomerID)

	out, err = run(t, append([]string{"summary"}, common...)...)
	require.NoError(t, err)
	var sum struct {
		BuildID    string `json:"build_id"`
		TotalNodes int    `json:"total_nodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, res.BuildID, sum.BuildID, "queries read the saved snapshot")

	out, err = run(t, append([]string{"builds"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, res.BuildID)
}

func TestQueryUnknownCustomer(t *testing.T) {
	exports := writeExports(t)
	work := t.TempDir()
	common := []string{"--data-dir", filepath.Join(work, "data"), "--snapshot", filepath.Join(work, "g.graphml"), "--log-level", "error"}

	_, err := run(t, append([]string{"import", exports, "--build"}, common...)...)
	require.NoError(t, err)
	_, err = run(t, append([]string{"customer", "nobody"}, common...)...)
	assert.ErrorContains(t, err, "not found")
}

func TestBadConfigFlag(t *testing.T) {
	_, err := run(t, "summary", "--data-dir", t.TempDir(), "--log-level", "loud")
	assert.Error(t, err)
}
