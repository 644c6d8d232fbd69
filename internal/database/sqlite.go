package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attache/internal/attache"
	"attache/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements attache.RecordStore using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock attache.Clock
	ids   attache.IDGenerator
	path  string
}

// NewSQLiteStore opens the database at path, which can be a file path or
// ":memory:". A nil clock or ids falls back to the real implementations.
// The schema is not migrated; see Migrate.
func NewSQLiteStore(path string, clock attache.Clock, ids attache.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = attache.RealClock{}
	}
	if ids == nil {
		ids = attache.UUIDGenerator{}
	}
	return &SQLiteStore{db: db, clock: clock, ids: ids, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// PRAGMAs are per connection, and every connection to ":memory:" is a
	// distinct database, so the pool holds a single connection.
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Migrate applies pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrationStatus returns the schema version of the database.
func (s *SQLiteStore) MigrationStatus() (migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// Record operations

func (s *SQLiteStore) CreateRecord(model string, fields map[string]string) (*attache.Record, error) {
	if model == "" {
		return nil, fmt.Errorf("creating record: model is required")
	}

	rec := attache.NewRecord(s.ids.New(), model)
	for k, v := range fields {
		rec.Fields[k] = v
	}
	now := s.clock.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("encoding record fields: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO records (id, model, fields, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Model, string(fieldsJSON), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) FindRecord(id string) (*attache.Record, error) {
	ctx := context.Background()

	var (
		model      string
		fieldsJSON string
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT model, fields, created_at, updated_at FROM records WHERE id = ?`, id,
	).Scan(&model, &fieldsJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding record: %w", err)
	}

	rec := attache.NewRecord(id, model)
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decoding fields of record %s: %w", id, err)
	}

	// Styles no longer registered for the model are skipped.
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.property, a.style, a.result FROM attachments a
		WHERE a.record_id = ? AND EXISTS (
			SELECT 1 FROM attachment_fields f
			WHERE f.model = ? AND f.property = a.property AND f.style = a.style
		)
		ORDER BY a.property, a.style`, id, model,
	)
	if err != nil {
		return nil, fmt.Errorf("finding attachments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			property, style string
			result          sql.NullString
		)
		if err := rows.Scan(&property, &style, &result); err != nil {
			return nil, fmt.Errorf("scanning attachment: %w", err)
		}

		var res *attache.StyleResult
		if result.Valid {
			res = &attache.StyleResult{}
			if err := json.Unmarshal([]byte(result.String), res); err != nil {
				return nil, fmt.Errorf("decoding %s/%s of record %s: %w", property, style, id, err)
			}
		}
		if rec.Attachments[property] == nil {
			rec.Attachments[property] = make(map[string]*attache.StyleResult)
		}
		rec.Attachments[property][style] = res
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading attachments: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) SaveRecord(rec *attache.Record) error {
	if rec == nil {
		return fmt.Errorf("saving record: nil record")
	}
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	registered, err := registeredStyles(ctx, tx, rec.Model)
	if err != nil {
		return err
	}
	for property, styles := range rec.Attachments {
		for style := range styles {
			if !registered[property+"\x00"+style] {
				return fmt.Errorf("%w: %s/%s is not registered for model %q",
					attache.ErrUnknownProperty, property, style, rec.Model)
			}
		}
	}

	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encoding record fields: %w", err)
	}

	updatedAt := s.clock.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE records SET fields = ?, updated_at = ? WHERE id = ?`,
		string(fieldsJSON), updatedAt, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating record: record %s does not exist", rec.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE record_id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clearing attachments: %w", err)
	}
	for property, styles := range rec.Attachments {
		for style, result := range styles {
			var value sql.NullString
			if result != nil {
				data, err := json.Marshal(result)
				if err != nil {
					return fmt.Errorf("encoding %s/%s: %w", property, style, err)
				}
				value = sql.NullString{String: string(data), Valid: true}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO attachments (record_id, property, style, result) VALUES (?, ?, ?, ?)`,
				rec.ID, property, style, value,
			)
			if err != nil {
				return fmt.Errorf("inserting attachment %s/%s: %w", property, style, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	rec.UpdatedAt = updatedAt
	return nil
}

// Field registration

func (s *SQLiteStore) RegisterFields(model string, groups []attache.FieldGroup) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachment_fields WHERE model = ?`, model); err != nil {
		return fmt.Errorf("clearing fields of model %s: %w", model, err)
	}

	for _, g := range groups {
		for _, st := range g.Styles {
			for i, attr := range st.Attributes {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO attachment_fields (model, property, style, attribute, kind, position) VALUES (?, ?, ?, ?, ?, ?)`,
					model, g.Property, st.Style, attr.Name, string(attr.Kind), i,
				)
				if err != nil {
					return fmt.Errorf("registering %s.%s.%s: %w", g.Property, st.Style, attr.Name, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RegisteredFields(model string) ([]attache.FieldGroup, error) {
	rows, err := s.db.Query(
		`SELECT property, style, attribute, kind FROM attachment_fields
		 WHERE model = ? ORDER BY property, style, position`, model,
	)
	if err != nil {
		return nil, fmt.Errorf("finding fields of model %s: %w", model, err)
	}
	defer rows.Close()

	var groups []attache.FieldGroup
	for rows.Next() {
		var property, style, attribute, kind string
		if err := rows.Scan(&property, &style, &attribute, &kind); err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}

		if len(groups) == 0 || groups[len(groups)-1].Property != property {
			groups = append(groups, attache.FieldGroup{Property: property})
		}
		g := &groups[len(groups)-1]
		if len(g.Styles) == 0 || g.Styles[len(g.Styles)-1].Style != style {
			g.Styles = append(g.Styles, attache.StyleFields{Style: style})
		}
		st := &g.Styles[len(g.Styles)-1]
		st.Attributes = append(st.Attributes, attache.Attribute{Name: attribute, Kind: attache.AttributeKind(kind)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading fields: %w", err)
	}
	return groups, nil
}

// Processable formats

// LoadFormats returns the stored processable format set, sorted. An empty
// result means no set has been stored yet.
func (s *SQLiteStore) LoadFormats() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM formats ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("loading formats: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning format: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SaveFormats replaces the stored processable format set.
func (s *SQLiteStore) SaveFormats(names []string) error {
	ctx := context.Background()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM formats`); err != nil {
		return fmt.Errorf("clearing formats: %w", err)
	}
	for _, name := range names {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO formats (name) VALUES (?)`, name); err != nil {
			return fmt.Errorf("storing format %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// registeredStyles returns the property/style pairs registered for model,
// keyed as property + "\x00" + style.
func registeredStyles(ctx context.Context, tx *sql.Tx, model string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT DISTINCT property, style FROM attachment_fields WHERE model = ?`, model,
	)
	if err != nil {
		return nil, fmt.Errorf("finding fields of model %s: %w", model, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var property, style string
		if err := rows.Scan(&property, &style); err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}
		out[property+"\x00"+style] = true
	}
	return out, rows.Err()
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ attache.RecordStore = (*SQLiteStore)(nil)
