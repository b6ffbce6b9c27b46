package main

import (
	"os"

	"github.com/google/uuid"

	"github.com/openzfs-go/storageengine/pkg/config"
	"github.com/openzfs-go/storageengine/pkg/pool"
	"github.com/openzfs-go/storageengine/pkg/trim"
	"github.com/openzfs-go/storageengine/pkg/zvol"
)

func demoGUID() uuid.UUID { return uuid.New() }

// demo wires a single in-process pool substrate that every subcommand
// operates against. storagectl has no real DMU/SPA binding to talk to
// (pkg/pool's Mem* types are the only substrate this module ships), so
// the CLI's job is to demonstrate the engines against that reference
// substrate rather than a live pool.
type demo struct {
	substrate *pool.MemSubstrate
	trim      *trim.Engine
	table     *zvol.Table
	minors    *zvol.MemMinors
	dispatch  *zvol.Dispatcher
}

var d *demo

func buildDemo(tunables config.Tunables) (*demo, error) {
	db, err := pool.OpenMemLevelDB()
	if err != nil {
		return nil, err
	}
	zap := pool.NewMemZAP(db, "trim")
	leaf := pool.NewMemLeaf(1, 12, zap)
	tlv := pool.NewMemTopLevelVdev(0, []*pool.MemLeaf{leaf}, nil)

	sub := pool.NewMemSubstrate()
	sub.AddLeaf(leaf)
	sub.AddTopLevelVdev(tlv)

	te := trim.New(sub, nil, log, trim.Tunables{
		ExtentBytesMax: tunables.TrimExtentBytesMax,
		ExtentBytesMin: tunables.TrimExtentBytesMin,
		MetaslabSkip:   tunables.TrimMetaslabSkip,
		TxgBatch:       tunables.TrimTxgBatch,
		QueueLimit:     tunables.TrimQueueLimit,
	})

	store := pool.NewMemObjectStore(1, 64<<20)
	sub.AddObjectStore(store)

	tbl := zvol.NewTable()
	zv := zvol.New("demo/vol0", demoGUID(), 64<<20, 512, store)
	zv.SetTrimLeaves([]pool.Leaf{leaf})
	tbl.Insert(zv)

	minors := zvol.NewMemMinors()
	dispatchDir, err := os.MkdirTemp("", "storagectl-dispatch")
	if err != nil {
		return nil, err
	}
	dispatcher, err := zvol.NewDispatcher(dispatchDir, tbl, minors)
	if err != nil {
		return nil, err
	}

	return &demo{
		substrate: sub,
		trim:      te,
		table:     tbl,
		minors:    minors,
		dispatch:  dispatcher,
	}, nil
}

func main() {
	commandInit()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
