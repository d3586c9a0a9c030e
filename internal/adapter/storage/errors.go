package storage

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntryErrorCode = 1062

func isErrorDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntryErrorCode
}
