package store

import (
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// PutRule stores the rule, replacing the rule with the same short name.
func (s *Store) PutRule(r catalog.Rule) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketRules, r.ShortName, r)
	})
}

// Rule returns the rule with the short name.
func (s *Store) Rule(shortName string) (catalog.Rule, error) {
	return view(s, func(tx *bolt.Tx) (catalog.Rule, error) {
		var r catalog.Rule
		err := get(tx, bucketRules, shortName, &r)
		return r, err
	})
}

// DeleteRule removes the rule with the short name and its execution
// logs.
func (s *Store) DeleteRule(shortName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := del(tx, bucketRules, shortName); err != nil {
			return err
		}
		_, err := deleteLogs(tx, shortName)
		return err
	})
}

// Rules returns the rules, sorted by short name.
func (s *Store) Rules() ([]catalog.Rule, error) {
	return view(s, func(tx *bolt.Tx) ([]catalog.Rule, error) {
		return list[catalog.Rule](tx, bucketRules)
	})
}

// PutContext stores the context, replacing the context with the same
// name.
func (s *Store) PutContext(c catalog.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketContexts, c.Name, c)
	})
}

// DeleteContext removes a context no stored rule is bound to.
func (s *Store) DeleteContext(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		rules, err := list[catalog.Rule](tx, bucketRules)
		if err != nil {
			return err
		}
		for _, r := range rules {
			if r.Context == name {
				return errors.Errorf("context %s is used by rule %s", name, r.ShortName)
			}
		}
		return del(tx, bucketContexts, name)
	})
}

// Contexts returns the contexts, sorted by name.
func (s *Store) Contexts() ([]catalog.Context, error) {
	return view(s, func(tx *bolt.Tx) ([]catalog.Context, error) {
		return list[catalog.Context](tx, bucketContexts)
	})
}

// PutError stores the functional error code, replacing the one with the
// same code.
func (s *Store) PutError(c catalog.ErrorCode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketErrors, c.Code, c)
	})
}

// Errors returns the functional error codes, sorted by code.
func (s *Store) Errors() ([]catalog.ErrorCode, error) {
	return view(s, func(tx *bolt.Tx) ([]catalog.ErrorCode, error) {
		return list[catalog.ErrorCode](tx, bucketErrors)
	})
}

// PutElement stores a folder or the documentation of a function, keyed
// by namespace/name.
func (s *Store) PutElement(e catalog.Element) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketElements, e.Key().String(), e)
	})
}

// Elements returns the stored elements, sorted by key. Parents sort
// before children only when their keys do; Catalog orders them.
func (s *Store) Elements() ([]catalog.Element, error) {
	return view(s, func(tx *bolt.Tx) ([]catalog.Element, error) {
		return list[catalog.Element](tx, bucketElements)
	})
}
