package site

import (
	"fmt"
	"testing"
	"time"

	"github.com/oltp-incubator/tinyoltp/oltp/catalog"
	"github.com/oltp-incubator/tinyoltp/oltp/config"
	"github.com/oltp-incubator/tinyoltp/oltp/fault"
	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/oltp-incubator/tinyoltp/oltp/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func siteCatalog(t *testing.T) *catalog.Catalog {
	cat := catalog.New()
	cat.AddTable("kv")
	add := func(p *catalog.Procedure) {
		if err := cat.AddProcedure(p); err != nil {
			t.Fatal(err)
		}
	}
	add(&catalog.Procedure{
		ID: 1, Name: "Put",
		ReadTables:  []string{"kv"},
		WriteTables: []string{"kv"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragPutRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("kv"), params[0], params[1]},
			}})
		},
	})
	add(&catalog.Procedure{
		ID: 2, Name: "Get", ReadOnly: true,
		ReadTables: []string{"kv"},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{{
				FragmentID: storage.FragGetRow,
				Partition:  exec.BasePartition(),
				Params:     [][]byte{[]byte("kv"), params[0]},
				ReadOnly:   true,
			}})
		},
	})
	add(&catalog.Procedure{
		ID: 3, Name: "PutBoth",
		ReadTables:  []string{"kv"},
		WriteTables: []string{"kv"},
		Partition: func(params [][]byte, partitions int) []int {
			return []int{0, 1}
		},
		Run: func(exec catalog.BatchExecutor, params [][]byte) ([]*storage.ResultSet, error) {
			return exec.ExecuteBatch([]catalog.Statement{
				{
					FragmentID: storage.FragPutRow,
					Partition:  0,
					Params:     [][]byte{[]byte("kv"), params[0], params[1]},
				},
				{
					FragmentID: storage.FragPutRow,
					Partition:  1,
					Params:     [][]byte{[]byte("kv"), params[0], params[1]},
				},
			})
		},
	})
	return cat
}

func newTestSite(t *testing.T) *Site {
	cfg := config.NewTestConfig()
	s, err := New(cfg, siteCatalog(t), func(partition int) (storage.Engine, error) {
		return storage.NewMemEngine(partition), nil
	})
	require.NoError(t, err)
	s.Start()
	return s
}

func await(t *testing.T, ch <-chan *txn.Response) *txn.Response {
	select {
	case resp := <-ch:
		return resp
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func TestSiteSinglePartitionTraffic(t *testing.T) {
	s := newTestSite(t)
	defer s.Shutdown()

	var chans []<-chan *txn.Response
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%03d", i))
		chans = append(chans, s.Execute(int64(i), "Put", [][]byte{key, []byte("v")}))
	}
	for _, ch := range chans {
		resp := await(t, ch)
		assert.Equal(t, fault.StatusOK, resp.Status)
	}

	resp := await(t, s.Execute(999, "Get", [][]byte{[]byte("key-001")}))
	require.Equal(t, fault.StatusOK, resp.Status)
	require.Len(t, resp.Results, 1)
	require.Equal(t, 1, resp.Results[0].RowCount())
	assert.Equal(t, []byte("v"), resp.Results[0].Rows[0])
}

func TestSiteDistributedCommit(t *testing.T) {
	s := newTestSite(t)
	defer s.Shutdown()

	resp := await(t, s.Execute(1, "PutBoth", [][]byte{[]byte("shared"), []byte("x")}))
	require.Equal(t, fault.StatusOK, resp.Status, "error: %s", resp.Error)

	// Whichever partition the key hashes to, the row is there.
	resp = await(t, s.Execute(2, "Get", [][]byte{[]byte("shared")}))
	require.Equal(t, fault.StatusOK, resp.Status)
	require.Len(t, resp.Results, 1)
	require.Equal(t, 1, resp.Results[0].RowCount())
	assert.Equal(t, []byte("x"), resp.Results[0].Rows[0])
}

func TestSiteUnknownProcedure(t *testing.T) {
	s := newTestSite(t)
	defer s.Shutdown()

	resp := await(t, s.Execute(1, "Nope", nil))
	assert.Equal(t, fault.StatusAbortUnexpected, resp.Status)
}
