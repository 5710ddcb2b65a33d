package store

import (
	"github.com/ezachrisen/arbiter/catalog"
	bolt "go.etcd.io/bbolt"
)

// Catalog exports the content of the store. Elements are ordered so
// that every folder comes before the elements placed under it.
func (s *Store) Catalog() (*catalog.Catalog, error) {
	return view(s, func(tx *bolt.Tx) (*catalog.Catalog, error) {
		cat := &catalog.Catalog{}
		var err error
		if cat.Elements, err = list[catalog.Element](tx, bucketElements); err != nil {
			return nil, err
		}
		cat.Elements = parentsFirst(cat.Elements)
		if cat.Contexts, err = list[catalog.Context](tx, bucketContexts); err != nil {
			return nil, err
		}
		if cat.Errors, err = list[catalog.ErrorCode](tx, bucketErrors); err != nil {
			return nil, err
		}
		if cat.Rules, err = list[catalog.Rule](tx, bucketRules); err != nil {
			return nil, err
		}
		return cat, nil
	})
}

// Import stores every definition of the catalog in one transaction,
// replacing definitions with the same keys. Nothing is stored when one
// of them fails.
func (s *Store) Import(cat *catalog.Catalog) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, e := range cat.Elements {
			if err := put(tx, bucketElements, e.Key().String(), e); err != nil {
				return err
			}
		}
		for _, c := range cat.Contexts {
			if err := put(tx, bucketContexts, c.Name, c); err != nil {
				return err
			}
		}
		for _, c := range cat.Errors {
			if err := put(tx, bucketErrors, c.Code, c); err != nil {
				return err
			}
		}
		for _, r := range cat.Rules {
			if err := put(tx, bucketRules, r.ShortName, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// parentsFirst orders elements so that a folder precedes the elements
// whose parent it is. Elements whose parent is not stored keep their
// place relative to each other.
func parentsFirst(elems []catalog.Element) []catalog.Element {
	stored := make(map[string]bool, len(elems))
	for _, e := range elems {
		stored[e.Key().String()] = true
	}
	placed := make(map[string]bool, len(elems))
	out := make([]catalog.Element, 0, len(elems))
	for len(out) < len(elems) {
		progress := false
		for _, e := range elems {
			k := e.Key().String()
			if placed[k] {
				continue
			}
			if e.Parent != "" && stored[e.Parent] && !placed[e.Parent] {
				continue
			}
			placed[k] = true
			out = append(out, e)
			progress = true
		}
		if !progress {
			// a cycle of parents; the registry reports it
			for _, e := range elems {
				if !placed[e.Key().String()] {
					placed[e.Key().String()] = true
					out = append(out, e)
				}
			}
		}
	}
	return out
}
