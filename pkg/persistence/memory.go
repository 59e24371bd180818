package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/zyedidia/generic"
	"github.com/zyedidia/generic/btree"

	"github.com/docbase/docbase.go/pkg/status"
)

// row is one stored cell. Deleted rows stay in the tree as tombstones; the
// btree never shrinks, reads and scans skip them.
type row struct {
	value   []byte
	deleted bool
}

// MemoryPersistence is the in-memory storage engine. Single writer,
// concurrent readers; a readwrite-primary transaction additionally requires
// the primary lease.
type MemoryPersistence struct {
	mu     sync.RWMutex
	tables map[string]*btree.Tree[string, row]

	leaseMu      sync.Mutex
	holdingLease bool

	closed bool
}

var _ Persistence = (*MemoryPersistence)(nil)

func NewMemoryPersistence() *MemoryPersistence {
	p := &MemoryPersistence{
		tables: make(map[string]*btree.Tree[string, row]),
	}
	for _, name := range allTables {
		p.tables[name] = btree.New[string, row](generic.Less[string])
	}
	return p
}

// SetPrimaryLeaseHolder flips whether this instance holds the exclusive
// writer lease. The higher sync engine owns lease acquisition.
func (p *MemoryPersistence) SetPrimaryLeaseHolder(holding bool) {
	p.leaseMu.Lock()
	defer p.leaseMu.Unlock()
	p.holdingLease = holding
}

func (p *MemoryPersistence) holdsLease() bool {
	p.leaseMu.Lock()
	defer p.leaseMu.Unlock()
	return p.holdingLease
}

func (p *MemoryPersistence) Run(ctx context.Context, label string, mode Mode, fn func(txn *Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return status.Errorf(status.FailedPrecondition, "persistence is closed")
	}
	if mode == ReadwritePrimary && !p.holdsLease() {
		return status.Errorf(status.FailedPrecondition,
			"transaction %q requires the primary lease but this instance does not hold it", label)
	}

	if mode == ReadwritePrimary {
		p.mu.Lock()
		defer p.mu.Unlock()
	} else {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}

	txn := &Transaction{
		label:  label,
		mode:   mode,
		engine: p,
		active: true,
		staged: make(map[string]map[string]row),
	}
	defer func() { txn.active = false }()

	if err := fn(txn); err != nil {
		return err
	}

	txn.commit()
	return nil
}

func (p *MemoryPersistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Transaction is one atomic unit of storage work. Writes are staged and only
// land when the transaction function returns nil.
type Transaction struct {
	label  string
	mode   Mode
	engine *MemoryPersistence
	active bool
	staged map[string]map[string]row
}

func (t *Transaction) Label() string { return t.label }
func (t *Transaction) Mode() Mode    { return t.mode }

func (t *Transaction) ensureActive() {
	if t == nil {
		status.Fatalf("storage operation outside a transaction")
	}
	if !t.active {
		status.Fatalf("storage operation on finished transaction %q", t.label)
	}
}

// Table scopes reads and writes to one named table.
func (t *Transaction) Table(name string) *Table {
	t.ensureActive()
	if _, ok := t.engine.tables[name]; !ok {
		status.Fatalf("unknown table %q", name)
	}
	return &Table{txn: t, name: name}
}

func (t *Transaction) commit() {
	for table, writes := range t.staged {
		tree := t.engine.tables[table]
		for key, r := range writes {
			tree.Put(key, r)
		}
	}
	t.staged = nil
}

// Table is a transaction-scoped view of one table.
type Table struct {
	txn  *Transaction
	name string
}

// Get returns the value for key, preferring this transaction's staged write.
func (tb *Table) Get(key string) ([]byte, bool) {
	tb.txn.ensureActive()
	if writes, ok := tb.txn.staged[tb.name]; ok {
		if r, ok := writes[key]; ok {
			if r.deleted {
				return nil, false
			}
			return r.value, true
		}
	}
	r, ok := tb.txn.engine.tables[tb.name].Get(key)
	if !ok || r.deleted {
		return nil, false
	}
	return r.value, true
}

// Put stages a write. Readonly transactions cannot write; that is a
// programming error.
func (tb *Table) Put(key string, value []byte) {
	tb.stage(key, row{value: value})
}

// Delete stages a removal.
func (tb *Table) Delete(key string) {
	tb.stage(key, row{deleted: true})
}

func (tb *Table) stage(key string, r row) {
	tb.txn.ensureActive()
	if tb.txn.mode != ReadwritePrimary {
		status.Fatalf("write to table %q in %s transaction %q", tb.name, tb.txn.mode, tb.txn.label)
	}
	writes, ok := tb.txn.staged[tb.name]
	if !ok {
		writes = make(map[string]row)
		tb.txn.staged[tb.name] = writes
	}
	writes[key] = r
}

// Ascend walks every live row in key order, staged writes overlaid, until fn
// returns false.
func (tb *Table) Ascend(fn func(key string, value []byte) bool) {
	tb.txn.ensureActive()

	staged := tb.txn.staged[tb.name]

	// Merge committed rows with this transaction's staged writes. The
	// committed side comes out of the btree already ordered; the staged side
	// is sorted here.
	type cell struct {
		key string
		row row
	}
	var merged []cell
	tb.txn.engine.tables[tb.name].Each(func(key string, r row) {
		if _, overridden := staged[key]; overridden {
			return
		}
		merged = append(merged, cell{key: key, row: r})
	})
	for key, r := range staged {
		merged = append(merged, cell{key: key, row: r})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].key < merged[j].key })

	for _, c := range merged {
		if c.row.deleted {
			continue
		}
		if !fn(c.key, c.row.value) {
			return
		}
	}
}
