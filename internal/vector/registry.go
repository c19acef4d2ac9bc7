package vector

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Collection is the registry row for a logical vector collection. The
// embedding provider, model and dimension are fixed at creation; every
// later write is validated against them.
type Collection struct {
	Name      string
	Provider  string
	Model     string
	Dimension int
	Metric    string
	CreatedAt time.Time
}

type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) Get(ctx context.Context, name string) (*Collection, error) {
	c := &Collection{}
	query := `SELECT name, provider, model, dimension, metric, created_at FROM collections WHERE name = $1`
	err := r.db.QueryRowContext(ctx, query, name).Scan(&c.Name, &c.Provider, &c.Model, &c.Dimension, &c.Metric, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Collection: name}
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ensure registers the collection if it does not exist yet and returns
// the registered row. Registering an existing collection with a
// different dimension is a DimensionError.
func (r *Registry) Ensure(ctx context.Context, c Collection) (*Collection, error) {
	if c.Metric == "" {
		c.Metric = "cosine"
	}
	query := `INSERT INTO collections (name, provider, model, dimension, metric) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (name) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, c.Name, c.Provider, c.Model, c.Dimension, c.Metric); err != nil {
		return nil, err
	}
	existing, err := r.Get(ctx, c.Name)
	if err != nil {
		return nil, err
	}
	if existing.Dimension != c.Dimension {
		return nil, &DimensionError{Collection: c.Name, Want: existing.Dimension, Got: c.Dimension}
	}
	return existing, nil
}

func (r *Registry) List(ctx context.Context) ([]Collection, error) {
	query := `SELECT name, provider, model, dimension, metric, created_at FROM collections ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.Name, &c.Provider, &c.Model, &c.Dimension, &c.Metric, &c.CreatedAt); err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	return collections, rows.Err()
}

func (r *Registry) Delete(ctx context.Context, name string) error {
	query := `DELETE FROM collections WHERE name = $1`
	res, err := r.db.ExecContext(ctx, query, name)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &NotFoundError{Collection: name}
	}
	return nil
}
