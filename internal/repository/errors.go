package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/boxoffice/internal/model"
)

// MySQL server error numbers the repositories react to.
const (
	erDupEntry        = 1062
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
	erCheckViolated   = 3819
)

func mysqlNumber(err error) uint16 {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

func isDuplicate(err error) bool { return mysqlNumber(err) == erDupEntry }

// mapErr wraps a driver error with the operation name. Missing rows become
// model.ErrNotFound and lock contention becomes the retryable
// model.ErrConflict.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	switch mysqlNumber(err) {
	case erLockDeadlock, erLockWaitTimeout, erCheckViolated:
		return fmt.Errorf("%s: %w: %v", op, model.ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
