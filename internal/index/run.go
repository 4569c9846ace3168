package index

import (
	"github.com/flanksource/code-ledger/languages"
	"github.com/flanksource/code-ledger/models"
)

// run is one in-flight indexing pass. Callers that arrive while the lock is
// held wait on the current run's done channel instead of starting their own.
type run struct {
	done   chan struct{}
	result *models.IndexResult
	err    error
}

func newRun() *run {
	return &run{done: make(chan struct{})}
}

func (r *run) wait() (*models.IndexResult, error) {
	<-r.done
	return r.result, r.err
}

// aliasFuture carries an in-flight (or finished) path-alias load. The table
// may take time to produce; runs await it at their alias suspension point.
type aliasFuture struct {
	done  chan struct{}
	table languages.AliasTable
	err   error
}

func newAliasFuture(load func() (languages.AliasTable, error)) *aliasFuture {
	f := &aliasFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.table, f.err = load()
	}()
	return f
}

func (f *aliasFuture) wait() (languages.AliasTable, error) {
	<-f.done
	return f.table, f.err
}

// boundariesFuture carries an in-flight project-boundary rediscovery,
// scheduled when a package.json event arrives.
type boundariesFuture struct {
	done       chan struct{}
	boundaries []languages.ProjectBoundary
	err        error
}

func newBoundariesFuture(load func() ([]languages.ProjectBoundary, error)) *boundariesFuture {
	f := &boundariesFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.boundaries, f.err = load()
	}()
	return f
}

func (f *boundariesFuture) wait() ([]languages.ProjectBoundary, error) {
	<-f.done
	return f.boundaries, f.err
}
