package catalog

import (
	"sync"

	"github.com/oltp-incubator/tinyoltp/oltp/storage"
	"github.com/pingcap/errors"
)

// Statement is one planned statement of a batch: a plan fragment aimed at a
// specific partition. The batch planner resolves target partitions from the
// statement parameters before the batch reaches the dispatcher.
type Statement struct {
	FragmentID int32
	Partition  int
	Params     [][]byte
	ReadOnly   bool
}

// BatchExecutor is the surface a stored procedure issues statement batches
// through. It is implemented by the partition executor's execution state.
type BatchExecutor interface {
	TxnID() int64
	BasePartition() int
	// ExecuteBatch runs the statements (possibly across partitions) and
	// returns one rowset per statement, in order.
	ExecuteBatch(stmts []Statement) ([]*storage.ResultSet, error)
	// AbortUser aborts the txn voluntarily.
	AbortUser(format string, args ...interface{}) error
}

// RunFunc is the control code of a stored procedure.
type RunFunc func(exec BatchExecutor, params [][]byte) ([]*storage.ResultSet, error)

// Procedure is a registered stored procedure. ReadTables/WriteTables give
// the table-granularity access sets the conflict checker works from.
type Procedure struct {
	ID          int
	Name        string
	SysProc     bool
	ReadOnly    bool
	ReadTables  []string
	WriteTables []string
	Run         RunFunc
	// Partition predicts the partition set one invocation touches from
	// its parameters. Nil means single-partition on a hash of the first
	// parameter.
	Partition func(params [][]byte, partitions int) []int
}

// Catalog is the boot-time schema: tables plus the procedure registry.
// It is built once during site startup and read-only afterwards.
type Catalog struct {
	mu     sync.Mutex
	sealed bool

	tables  []string
	procs   map[string]*Procedure
	procsID map[int]*Procedure
}

func New() *Catalog {
	return &Catalog{
		procs:   make(map[string]*Procedure),
		procsID: make(map[int]*Procedure),
	}
}

func (c *Catalog) AddTable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		panic("catalog is sealed")
	}
	c.tables = append(c.tables, name)
}

func (c *Catalog) AddProcedure(p *Procedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		panic("catalog is sealed")
	}
	if _, dup := c.procs[p.Name]; dup {
		return errors.Errorf("duplicate procedure %q", p.Name)
	}
	if _, dup := c.procsID[p.ID]; dup {
		return errors.Errorf("duplicate procedure id %d", p.ID)
	}
	c.procs[p.Name] = p
	c.procsID[p.ID] = p
	return nil
}

// Seal freezes the catalog. Lookups after sealing are lock-free.
func (c *Catalog) Seal() {
	c.mu.Lock()
	c.sealed = true
	c.mu.Unlock()
}

func (c *Catalog) Tables() []string {
	return c.tables
}

func (c *Catalog) Procedure(name string) (*Procedure, error) {
	if !c.sealed {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	p, ok := c.procs[name]
	if !ok {
		return nil, errors.Errorf("unknown procedure %q", name)
	}
	return p, nil
}

func (c *Catalog) ProcedureByID(id int) (*Procedure, error) {
	if !c.sealed {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	p, ok := c.procsID[id]
	if !ok {
		return nil, errors.Errorf("unknown procedure id %d", id)
	}
	return p, nil
}
