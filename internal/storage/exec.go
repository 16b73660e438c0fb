package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
)

// formatBufferSize bounds textual statement formatting. Statements
// that would overflow are skipped with an error rather than truncated.
const formatBufferSize = 2048

var errStatementTooLong = fmt.Errorf("storage: formatted statement exceeds %d bytes", formatBufferSize)

// execer abstracts *sql.DB and *sql.Tx so repository writes run either
// directly or inside the scheduler's commit transaction.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// EscapeString prepares untrusted text for inclusion in a textual SQL
// fragment: single quotes are doubled and control or non-character
// code points are replaced by '.'. Parameterized statements should be
// preferred wherever possible; the textual path exists for migrations
// and bulk replay.
func EscapeString(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 8)
	for _, r := range value {
		switch {
		case r == '\'':
			b.WriteString("''")
		case r < 0x20 || r == 0x7f || r == unicode.ReplacementChar || !unicode.IsGraphic(r):
			b.WriteByte('.')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// execf formats and executes one textual statement. Formatting
// overflow is a hard error and the statement is not executed. Failed
// statements emit a single structured log record carrying the full
// SQL text and the driver's message; no failure is fatal.
func (s *Store) execf(format string, args ...any) error {
	stmt := fmt.Sprintf(format, args...)
	if len(stmt) > formatBufferSize {
		s.logger.Error("statement skipped: format buffer overflow",
			slog.Int("length", len(stmt)))
		return errStatementTooLong
	}
	return s.exec(stmt)
}

func (s *Store) exec(stmt string, args ...any) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return s.execOn(db, stmt, args...)
}

// execOn runs one statement on the given executor with the standard
// error logging.
func (s *Store) execOn(ex execer, stmt string, args ...any) error {
	res, err := ex.Exec(stmt, args...)
	if err != nil {
		s.logger.Error("statement failed",
			slog.String("sql", stmt),
			slog.Any("error", err))
		return err
	}
	if s.hook != nil {
		op := opForStatement(stmt)
		var rowid int64
		// LastInsertId is only meaningful after an INSERT.
		if op == "insert" {
			if id, err := res.LastInsertId(); err == nil {
				rowid = id
			}
		}
		s.notifyHook(op, tableForStatement(stmt), rowid)
	}
	return nil
}

// queryRows runs a query and feeds every row to the scan callback. A
// non-nil callback error aborts iteration and propagates.
func (s *Store) queryRows(query string, scan func(*sql.Rows) error, args ...any) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		s.logger.Error("query failed",
			slog.String("sql", query),
			slog.Any("error", err))
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func opForStatement(stmt string) string {
	head := strings.ToUpper(stmt)
	switch {
	case strings.HasPrefix(head, "INSERT"):
		return "insert"
	case strings.HasPrefix(head, "UPDATE"):
		return "update"
	case strings.HasPrefix(head, "DELETE"):
		return "delete"
	default:
		return "exec"
	}
}

func tableForStatement(stmt string) string {
	fields := strings.Fields(stmt)
	for i, f := range fields {
		switch strings.ToUpper(f) {
		case "INTO", "FROM", "UPDATE":
			if i+1 < len(fields) {
				return strings.Trim(fields[i+1], "`\"'(")
			}
		}
	}
	return ""
}
