package session

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is a peripheral accepted during the current scan window.
type Record struct {
	Address string
	Name    string
}

// registry maps addresses to records in discovery order.
type registry struct {
	records *orderedmap.OrderedMap[string, Record]
}

func newRegistry() *registry {
	return &registry{records: orderedmap.New[string, Record]()}
}

// add inserts r unless its address is already known. Records are never replaced.
func (r *registry) add(rec Record) bool {
	if _, ok := r.records.Get(rec.Address); ok {
		return false
	}
	r.records.Set(rec.Address, rec)
	return true
}

func (r *registry) get(address string) (Record, bool) {
	return r.records.Get(address)
}

func (r *registry) clear() {
	r.records = orderedmap.New[string, Record]()
}

func (r *registry) len() int {
	return r.records.Len()
}

// addresses returns every known address in discovery order.
func (r *registry) addresses() []string {
	out := make([]string, 0, r.records.Len())
	for pair := r.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}
