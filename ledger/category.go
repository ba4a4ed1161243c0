/*
category.go - Category registry

PURPOSE:
  Keeps the list of category names offered to operators. Movements carry
  their category as a plain label, not a reference.

DELETE:
  Removes the name only. Movements keep their label.

RENAME:
  One store transaction renames the registry entry and relabels every
  movement carrying the old name, registered ones included. An existing
  target fails DuplicateError and nothing changes.

SEE ALSO:
  - store.go: RenameCategory
  - types.go: DefaultCategories
*/
package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// CATEGORY REGISTRY
// =============================================================================

// Registry manages category names. Movements hold category labels as plain
// strings, so Delete never touches them and Rename relabels them in bulk.
type Registry struct {
	ledger *Ledger
}

func NewRegistry(l *Ledger) *Registry {
	return &Registry{ledger: l}
}

// Add registers a category. Names are exact and case-sensitive.
func (r *Registry) Add(ctx context.Context, name string) (Category, error) {
	if err := validateCategoryName(name); err != nil {
		return Category{}, err
	}
	c := Category{Name: name}
	err := r.ledger.store.WithTx(ctx, func(s Store) error {
		exists, err := s.CategoryExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return &DuplicateError{Kind: "category", Name: name}
		}
		return s.InsertCategory(ctx, c)
	})
	if err != nil {
		return Category{}, err
	}

	r.ledger.log.Info("category added", zap.String("name", name))
	r.ledger.publish(ctx, Change{Kind: ChangeCategoryAdded, Category: name})
	return c, nil
}

// Rename renames a category and relabels every movement carrying the old
// name, registered or not, in one transaction. Readers see either the old
// state or the new one.
func (r *Registry) Rename(ctx context.Context, oldName, newName string) error {
	if err := validateCategoryName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}

	var relabelled int
	err := r.ledger.store.WithTx(ctx, func(s Store) error {
		exists, err := s.CategoryExists(ctx, oldName)
		if err != nil {
			return err
		}
		if !exists {
			return &NotFoundError{Kind: "category", ID: oldName}
		}
		taken, err := s.CategoryExists(ctx, newName)
		if err != nil {
			return err
		}
		if taken {
			return &DuplicateError{Kind: "category", Name: newName}
		}
		relabelled, err = s.RenameCategory(ctx, oldName, newName)
		return err
	})
	if err != nil {
		return err
	}

	r.ledger.log.Info("category renamed",
		zap.String("from", oldName), zap.String("to", newName), zap.Int("movements", relabelled))
	r.ledger.publish(ctx, Change{Kind: ChangeCategoryRenamed, Category: newName})
	return nil
}

// Delete removes the registry entry only. Existing movements keep the label.
func (r *Registry) Delete(ctx context.Context, name string) error {
	ok, err := r.ledger.store.DeleteCategory(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Kind: "category", ID: name}
	}

	r.ledger.log.Info("category deleted", zap.String("name", name))
	r.ledger.publish(ctx, Change{Kind: ChangeCategoryDeleted, Category: name})
	return nil
}

// List returns all categories sorted by name.
func (r *Registry) List(ctx context.Context) ([]Category, error) {
	return r.ledger.store.ListCategories(ctx)
}

// SeedDefaults adds any of DefaultCategories that are missing.
func (r *Registry) SeedDefaults(ctx context.Context) error {
	return r.ledger.store.WithTx(ctx, func(s Store) error {
		for _, name := range DefaultCategories {
			exists, err := s.CategoryExists(ctx, name)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := s.InsertCategory(ctx, Category{Name: name}); err != nil {
				return err
			}
		}
		return nil
	})
}

func validateCategoryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "category", Reason: "name is required"}
	}
	return nil
}
