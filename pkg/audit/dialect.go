package audit

import (
	"fmt"
	"strings"
)

// Dialect hides the SQL differences between the supported audit drivers.
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string
	Placeholder(n int) string
	Limit(limit int) string
	// CreateTable returns DDL that creates table with the given column
	// definitions only if it does not exist yet.
	CreateTable(table string, columns []string) string
	IDColumn() string
	VarChar(n int) string
	Text() string
}

type MySQLDialect struct{}

func (d MySQLDialect) Name() string { return "mysql" }

func (d MySQLDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d MySQLDialect) Placeholder(n int) string { return "?" }

func (d MySQLDialect) Limit(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func (d MySQLDialect) CreateTable(table string, columns []string) string {
	return createIfNotExists(d, table, columns)
}

func (d MySQLDialect) IDColumn() string { return "BIGINT AUTO_INCREMENT PRIMARY KEY" }
func (d MySQLDialect) VarChar(n int) string { return fmt.Sprintf("VARCHAR(%d)", n) }
func (d MySQLDialect) Text() string { return "TEXT" }

type SQLiteDialect struct{}

func (d SQLiteDialect) Name() string { return "sqlite" }

func (d SQLiteDialect) QuoteIdentifier(name string) string {
	return "\"" + strings.ReplaceAll(name, "\"", "\"\"") + "\""
}

func (d SQLiteDialect) Placeholder(n int) string { return "?" }

func (d SQLiteDialect) Limit(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func (d SQLiteDialect) CreateTable(table string, columns []string) string {
	return createIfNotExists(d, table, columns)
}

func (d SQLiteDialect) IDColumn() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
func (d SQLiteDialect) VarChar(n int) string { return "TEXT" }
func (d SQLiteDialect) Text() string { return "TEXT" }

type PostgreSQLDialect struct{}

func (d PostgreSQLDialect) Name() string { return "postgres" }

func (d PostgreSQLDialect) QuoteIdentifier(name string) string {
	return "\"" + strings.ReplaceAll(name, "\"", "\"\"") + "\""
}

// Placeholder uses $1, $2, $3
func (d PostgreSQLDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (d PostgreSQLDialect) Limit(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func (d PostgreSQLDialect) CreateTable(table string, columns []string) string {
	return createIfNotExists(d, table, columns)
}

func (d PostgreSQLDialect) IDColumn() string { return "BIGSERIAL PRIMARY KEY" }
func (d PostgreSQLDialect) VarChar(n int) string { return fmt.Sprintf("VARCHAR(%d)", n) }
func (d PostgreSQLDialect) Text() string { return "TEXT" }

type SQLServerDialect struct{}

func (d SQLServerDialect) Name() string { return "sqlserver" }

func (d SQLServerDialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// Placeholder uses @p1, @p2, @p3
func (d SQLServerDialect) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// Limit needs an ORDER BY in the statement (SQL Server 2012+).
func (d SQLServerDialect) Limit(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", limit)
}

// CreateTable has no IF NOT EXISTS on SQL Server.
func (d SQLServerDialect) CreateTable(table string, columns []string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
		strings.ReplaceAll(table, "'", "''"), d.QuoteIdentifier(table), strings.Join(columns, ", "))
}

func (d SQLServerDialect) IDColumn() string { return "BIGINT IDENTITY(1,1) PRIMARY KEY" }
func (d SQLServerDialect) VarChar(n int) string { return fmt.Sprintf("NVARCHAR(%d)", n) }
func (d SQLServerDialect) Text() string { return "NVARCHAR(MAX)" }

func createIfNotExists(d Dialect, table string, columns []string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteIdentifier(table), strings.Join(columns, ", "))
}

// GetDialect returns the dialect for a database/sql driver name.
func GetDialect(driverName string) Dialect {
	switch strings.ToLower(driverName) {
	case "mysql":
		return MySQLDialect{}
	case "sqlite", "sqlite3":
		return SQLiteDialect{}
	case "postgres", "postgresql", "pgx":
		return PostgreSQLDialect{}
	case "sqlserver", "mssql":
		return SQLServerDialect{}
	default:
		// Unknown drivers get MySQL-like behavior
		return MySQLDialect{}
	}
}
