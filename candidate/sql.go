package candidate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store column names
const (
	ColIdentityKey = "hex_key"
	ColAddress     = "address"
	ColPort        = "or_port"
	ColDistributor = "distributor"
	ColFirstSeen   = "first_seen"
	ColLastSeen    = "last_seen"
)

// SQLConfig configures a SQLSource
type SQLConfig struct {
	Driver  string   // "sqlite3" or "mysql"
	DSN     string   // Driver specific data source name
	Table   string   // Table holding bridge records
	OrderBy []string // Optional ORDER BY columns, ascending
}

// SQLSource reads candidates from a SQL bridge database
type SQLSource struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	table   string
	orderBy []string
	owned   bool
}

var _ Source = (*SQLSource)(nil)

// OpenSQL opens the database described by config. The connection is
// established lazily; errors surface from ListCandidates.
func OpenSQL(config SQLConfig) (*SQLSource, error) {
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s candidate store: %w", config.Driver, err)
	}

	src := NewSQLSource(db, config)
	src.owned = true
	return src, nil
}

// NewSQLSource wraps an existing handle. The caller keeps ownership of db.
func NewSQLSource(db *sql.DB, config SQLConfig) *SQLSource {
	return &SQLSource{
		db:      db,
		dialect: goqu.Dialect(config.Driver),
		table:   config.Table,
		orderBy: config.OrderBy,
	}
}

// Query returns the SELECT statement used to enumerate candidates
func (s *SQLSource) Query() (string, []interface{}, error) {
	ds := s.dialect.
		From(s.table).
		Select(ColIdentityKey, ColAddress, ColPort, ColDistributor, ColFirstSeen, ColLastSeen)

	for _, col := range s.orderBy {
		ds = ds.OrderAppend(goqu.I(col).Asc())
	}

	return ds.ToSQL()
}

// ListCandidates returns every row of the bridge table in query order
func (s *SQLSource) ListCandidates(ctx context.Context) ([]Candidate, error) {
	query, args, err := s.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to build candidate query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var result []Candidate
	for rows.Next() {
		var (
			key, address                     string
			port                             sql.NullInt64
			distributor, firstSeen, lastSeen sql.NullString
		)
		if err := rows.Scan(&key, &address, &port, &distributor, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}

		result = append(result, Candidate{
			IdentityKey: key,
			Address:     address,
			Port:        int(port.Int64),
			Distributor: distributor.String,
			FirstSeen:   firstSeen.String,
			LastSeen:    lastSeen.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}

	log.Debug().Int("count", len(result)).Str("table", s.table).Msg("Candidates queried")
	return result, nil
}

// Close closes the database handle if this source opened it
func (s *SQLSource) Close() error {
	if !s.owned || s.db == nil {
		return nil
	}
	return s.db.Close()
}
