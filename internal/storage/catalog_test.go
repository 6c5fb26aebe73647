package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestCatalog_CRUD(t *testing.T) {
	c, err := NewCatalog(filepath.Join(t.TempDir(), "db", "catalog.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Upsert(ctx, CatalogEntry{UserID: "7", Vectors: 3, Dimension: 512}); err != nil {
		t.Fatal(err)
	}
	if err := c.Upsert(ctx, CatalogEntry{UserID: "8", Vectors: 1, Dimension: 512}); err != nil {
		t.Fatal(err)
	}
	if err := c.Upsert(ctx, CatalogEntry{UserID: "7", Vectors: 4, Dimension: 512}); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if got.Vectors != 4 || got.Dimension != 512 || got.UpdatedAt.IsZero() {
		t.Errorf("Get = %+v", got)
	}

	list, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].UserID != "7" {
		t.Errorf("List = %+v", list)
	}

	users, vectors, err := c.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if users != 2 || vectors != 5 {
		t.Errorf("Totals = %d users, %d vectors", users, vectors)
	}

	if err := c.Delete(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "7"); !errors.Is(err, ErrCatalogNotFound) {
		t.Errorf("Get after delete err = %v, want ErrCatalogNotFound", err)
	}
}
