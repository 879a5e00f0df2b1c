package store

import "sort"

// idSet is a set of ids. Reading a nil idSet is fine.
type idSet map[string]struct{}

func (s idSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s idSet) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// index maps a key to a set of ids, dropping empty sets so removals leave no residue.
type index map[string]idSet

func (ix index) add(key, id string) {
	s, ok := ix[key]
	if !ok {
		s = make(idSet)
		ix[key] = s
	}
	s[id] = struct{}{}
}

func (ix index) remove(key, id string) {
	s, ok := ix[key]
	if !ok {
		return
	}
	delete(s, id)
	if len(s) == 0 {
		delete(ix, key)
	}
}

func (ix index) get(key string) idSet {
	return ix[key]
}

// removeFromSlice returns ids without id, preserving order.
func removeFromSlice(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
