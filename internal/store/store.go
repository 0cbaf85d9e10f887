package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studio-commerce/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection (used by tests)
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// BeginTxx starts a transaction for multi-step service operations
func (s *Store) BeginTxx(ctx context.Context) (*sqlx.Tx, error) {
	return s.db.BeginTxx(ctx, nil)
}

// GetProductByID retrieves a product by ID with its kind resolved
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	if err := product.ResolveKind(); err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, err
	}
	for i := range products {
		if err := products[i].ResolveKind(); err != nil {
			return nil, err
		}
	}
	return products, nil
}

// GetActiveCourseIDs returns ids of courses backing active products
func (s *Store) GetActiveCourseIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT DISTINCT productable_id FROM products
		 WHERE productable_type = $1 AND active = true AND productable_id IS NOT NULL`,
		models.ProductableCourse)
	return ids, err
}

// GetCourseByID retrieves a course by ID
func (s *Store) GetCourseByID(ctx context.Context, id int64) (*models.Course, error) {
	var course models.Course
	err := s.db.GetContext(ctx, &course, "SELECT * FROM courses WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("course not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

// CourseAvailability computes remaining seats without locking. This is
// the soft pre-check used by cart mutations; order completion uses the
// locked variant instead.
func (s *Store) CourseAvailability(ctx context.Context, courseID int64) (int, error) {
	var available int
	err := s.db.GetContext(ctx, &available,
		`SELECT c.capacity - COUNT(e.id) FILTER (WHERE e.confirmed)
		 FROM courses c
		 LEFT JOIN enrollments e ON e.course_id = c.id
		 WHERE c.id = $1
		 GROUP BY c.capacity`,
		courseID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("course not found: %d", courseID)
	}
	return available, err
}

// CourseAvailabilityForUpdate locks the course row and recomputes
// remaining seats under that lock. Two orders completing against the
// same course serialize here; the loser re-reads capacity and fails if
// the winner took the last seats.
func (s *Store) CourseAvailabilityForUpdate(ctx context.Context, tx *sqlx.Tx, courseID int64) (int, error) {
	var capacity int
	err := tx.GetContext(ctx, &capacity,
		"SELECT capacity FROM courses WHERE id = $1 FOR UPDATE", courseID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("course not found: %d", courseID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock course: %w", err)
	}

	var confirmed int
	err = tx.GetContext(ctx, &confirmed,
		"SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND confirmed = true", courseID)
	if err != nil {
		return 0, err
	}

	return capacity - confirmed, nil
}

// CreateEnrollmentTx inserts an enrollment within a transaction
func (s *Store) CreateEnrollmentTx(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment) error {
	query := `
		INSERT INTO enrollments (course_id, order_item_id, purchaser_id, confirmed)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return tx.GetContext(ctx, enrollment, query,
		enrollment.CourseID, enrollment.OrderItemID, enrollment.PurchaserID, enrollment.Confirmed)
}

// CountConfirmedEnrollments returns confirmed enrollments for a course
func (s *Store) CountConfirmedEnrollments(ctx context.Context, courseID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND confirmed = true", courseID)
	return count, err
}
