package zvol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/beeker1121/goque"
)

// taskKind enumerates the minor-lifecycle operations the dispatcher
// serializes per pool (spec §4.2.7: "minor creation/removal/rename run
// one at a time per pool, off of the caller's thread").
type taskKind string

const (
	taskCreate taskKind = "create"
	taskRemove taskKind = "remove"
	taskRename taskKind = "rename"
)

type task struct {
	Kind    taskKind `json:"kind"`
	Pattern string   `json:"pattern"`
	OldName string   `json:"old_name"`
	NewName string   `json:"new_name"`
	Inhibit bool     `json:"inhibit"`
}

// Dispatcher runs one goroutine per pool that drains a disk-backed FIFO
// of minor-lifecycle tasks in submission order, giving callers of
// CreateMinors/RemoveMinors/RenameMinors an async, single-threaded queue
// instead of running OS device-node plumbing inline on their thread.
type Dispatcher struct {
	table  *Table
	minors MinorCreator

	mu sync.Mutex
	q  *goque.Queue

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	mErr sync.Mutex
	errs []error
}

// NewDispatcher opens (or creates) a persistent task queue rooted at
// dir and starts its single worker goroutine.
func NewDispatcher(dir string, table *Table, minors MinorCreator) (*Dispatcher, error) {
	q, err := goque.OpenQueue(dir)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		table:  table,
		minors: minors,
		q:      q,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d, nil
}

// SubmitCreateMinors enqueues a zvol_create_minors task for namePattern.
func (d *Dispatcher) SubmitCreateMinors(namePattern string, inhibit bool) error {
	return d.submit(task{Kind: taskCreate, Pattern: namePattern, Inhibit: inhibit})
}

// SubmitRemoveMinors enqueues a zvol_remove_minors task for namePattern
// ("" meaning every minor, the pool-export case).
func (d *Dispatcher) SubmitRemoveMinors(namePattern string) error {
	return d.submit(task{Kind: taskRemove, Pattern: namePattern})
}

// SubmitRenameMinors enqueues a zvol_rename_minors task.
func (d *Dispatcher) SubmitRenameMinors(oldPrefix, newPrefix string) error {
	return d.submit(task{Kind: taskRename, OldName: oldPrefix, NewName: newPrefix})
}

func (d *Dispatcher) submit(t task) error {
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	d.mu.Lock()
	_, err = d.q.Enqueue(b)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// run is the dispatcher's single worker loop: dequeue, decode, apply,
// repeat. An empty queue is not an error condition; the worker just
// waits to be poked again by Close or a fresh Submit.
func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		d.mu.Lock()
		item, err := d.q.Dequeue()
		d.mu.Unlock()
		if err != nil {
			if strings.Contains(err.Error(), "empty") {
				select {
				case <-d.stop:
					return
				case <-d.wake:
				}
				continue
			}
			d.recordErr(err)
			continue
		}

		var t task
		if err := json.Unmarshal(item.Value, &t); err != nil {
			d.recordErr(err)
			continue
		}
		d.apply(t)
	}
}

func (d *Dispatcher) apply(t task) {
	var err error
	switch t.Kind {
	case taskCreate:
		_, err = CreateMinors(d.table, d.minors, t.Pattern, t.Inhibit)
	case taskRemove:
		err = RemoveMinors(d.table, d.minors, t.Pattern)
	case taskRename:
		_, err = RenameMinors(d.table, d.minors, t.OldName, t.NewName)
	default:
		err = fmt.Errorf("zvol: unknown dispatcher task kind %q", t.Kind)
	}
	if err != nil {
		d.recordErr(err)
	}
}

func (d *Dispatcher) recordErr(err error) {
	d.mErr.Lock()
	defer d.mErr.Unlock()
	d.errs = append(d.errs, err)
}

// Errs returns every error the worker has accumulated since startup.
func (d *Dispatcher) Errs() []error {
	d.mErr.Lock()
	defer d.mErr.Unlock()
	out := make([]error, len(d.errs))
	copy(out, d.errs)
	return out
}

// Close stops the worker goroutine and closes the underlying queue.
func (d *Dispatcher) Close() error {
	close(d.stop)
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.q.Close()
}
