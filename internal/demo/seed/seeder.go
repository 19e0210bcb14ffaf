package seed

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// Placeholder styles differ between the drivers: duckdb binds ?, pgx binds $n.
type placeholderFunc func(n int) string

func questionPlaceholder(int) string { return "?" }

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// Seeder writes a Dataset into a live database through database/sql. The DDL
// sticks to types both duckdb and postgres accept.
type Seeder struct {
	db          *sql.DB
	placeholder placeholderFunc
	drop        bool
	logger      *slog.Logger
}

func NewSeeder(db *sql.DB, backend string, drop bool, logger *slog.Logger) (*Seeder, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var placeholder placeholderFunc
	switch backend {
	case BackendDuckDB:
		placeholder = questionPlaceholder
	case BackendPostgres:
		placeholder = dollarPlaceholder
	default:
		return nil, fmt.Errorf("invalid seed backend: %q", backend)
	}
	return &Seeder{db: db, placeholder: placeholder, drop: drop, logger: logger}, nil
}

var tableDDL = []struct {
	name   string
	create string
}{
	{
		name: "customers",
		create: `CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			country TEXT NOT NULL,
			signed_up_at TIMESTAMP NOT NULL
		)`,
	},
	{
		name: "products",
		create: `CREATE TABLE products (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			category TEXT NOT NULL,
			price DOUBLE PRECISION NOT NULL
		)`,
	},
	{
		name: "orders",
		create: `CREATE TABLE orders (
			id BIGINT PRIMARY KEY,
			customer_id BIGINT NOT NULL REFERENCES customers (id),
			product_id BIGINT NOT NULL REFERENCES products (id),
			quantity INTEGER NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			ordered_at TIMESTAMP NOT NULL
		)`,
	},
}

func (s *Seeder) Seed(ctx context.Context, dataset Dataset) error {
	if err := s.createTables(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, customer := range dataset.Customers {
		if _, err := tx.ExecContext(ctx, s.insertSQL("customers", 5),
			customer.ID, customer.Name, customer.Email, customer.Country, customer.SignedUpAt,
		); err != nil {
			return fmt.Errorf("insert customer %d: %w", customer.ID, err)
		}
	}
	for _, product := range dataset.Products {
		if _, err := tx.ExecContext(ctx, s.insertSQL("products", 4),
			product.ID, product.Name, product.Category, product.Price,
		); err != nil {
			return fmt.Errorf("insert product %d: %w", product.ID, err)
		}
	}
	for _, order := range dataset.Orders {
		if _, err := tx.ExecContext(ctx, s.insertSQL("orders", 7),
			order.ID, order.CustomerID, order.ProductID, order.Quantity, order.Amount, order.Status, order.OrderedAt,
		); err != nil {
			return fmt.Errorf("insert order %d: %w", order.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}

	s.logger.Info("demo data seeded",
		slog.Int("customers", len(dataset.Customers)),
		slog.Int("products", len(dataset.Products)),
		slog.Int("orders", len(dataset.Orders)),
	)
	return nil
}

func (s *Seeder) createTables(ctx context.Context) error {
	if s.drop {
		// Reverse order so foreign keys do not block the drops.
		for i := len(tableDDL) - 1; i >= 0; i-- {
			if _, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableDDL[i].name); err != nil {
				return fmt.Errorf("drop table %s: %w", tableDDL[i].name, err)
			}
		}
	}
	for _, table := range tableDDL {
		if _, err := s.db.ExecContext(ctx, table.create); err != nil {
			return fmt.Errorf("create table %s: %w", table.name, err)
		}
	}
	return nil
}

func (s *Seeder) insertSQL(table string, columns int) string {
	placeholders := make([]string, columns)
	for i := range placeholders {
		placeholders[i] = s.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, strings.Join(placeholders, ", "))
}
