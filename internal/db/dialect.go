package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Dialect hides the statements that differ between backends.
type Dialect interface {
	Name() Backend
	// ResetSequence makes the next insert into table receive id n+1.
	// On MySQL the statement commits implicitly, so callers run it last.
	ResetSequence(tx *gorm.DB, table string, n uint) error
}

// DialectFor returns the Dialect of a backend.
func DialectFor(b Backend) Dialect {
	switch b {
	case Postgres:
		return postgresDialect{}
	case MySQL:
		return mysqlDialect{}
	default:
		return sqliteDialect{}
	}
}

type sqliteDialect struct{}

func (sqliteDialect) Name() Backend { return SQLite }

func (sqliteDialect) ResetSequence(tx *gorm.DB, table string, n uint) error {
	// sqlite_sequence only exists once an AUTOINCREMENT table has had a row.
	var exists int64
	if err := tx.Raw("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'sqlite_sequence'").Scan(&exists).Error; err != nil {
		return fmt.Errorf("db: reset sequence %s: %w", table, err)
	}
	if exists == 0 {
		return nil
	}
	if n == 0 {
		if err := tx.Exec("DELETE FROM sqlite_sequence WHERE name = ?", table).Error; err != nil {
			return fmt.Errorf("db: reset sequence %s: %w", table, err)
		}
		return nil
	}
	res := tx.Exec("UPDATE sqlite_sequence SET seq = ? WHERE name = ?", n, table)
	if res.Error != nil {
		return fmt.Errorf("db: reset sequence %s: %w", table, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := tx.Exec("INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)", table, n).Error; err != nil {
			return fmt.Errorf("db: reset sequence %s: %w", table, err)
		}
	}
	return nil
}

type postgresDialect struct{}

func (postgresDialect) Name() Backend { return Postgres }

func (postgresDialect) ResetSequence(tx *gorm.DB, table string, n uint) error {
	// setval(seq, 1, false) makes nextval return 1 on an empty table.
	var err error
	if n == 0 {
		err = tx.Exec("SELECT setval(pg_get_serial_sequence(?, 'id'), 1, false)", table).Error
	} else {
		err = tx.Exec("SELECT setval(pg_get_serial_sequence(?, 'id'), ?, true)", table, n).Error
	}
	if err != nil {
		return fmt.Errorf("db: reset sequence %s: %w", table, err)
	}
	return nil
}

type mysqlDialect struct{}

func (mysqlDialect) Name() Backend { return MySQL }

func (mysqlDialect) ResetSequence(tx *gorm.DB, table string, n uint) error {
	// ALTER TABLE takes no bind variables; table names come from code only.
	stmt := fmt.Sprintf("ALTER TABLE `%s` AUTO_INCREMENT = %d", table, n+1)
	if err := tx.Exec(stmt).Error; err != nil {
		return fmt.Errorf("db: reset sequence %s: %w", table, err)
	}
	return nil
}
