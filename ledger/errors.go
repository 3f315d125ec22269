package ledger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

var (
	// ErrLedgerUnavailable matches any *UnavailableError via errors.Is.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrInvalidEvent      = errors.New("invalid inventory event")
)

// UnavailableError is an infrastructure failure. It aborts only the operation
// it happened in and carries enough scope for an external retry policy.
type UnavailableError struct {
	Op        string
	SKU       string
	Source    string
	From      time.Time
	To        time.Time
	Retryable bool
	Err       error
}

func (e *UnavailableError) Error() string {
	scope := ""
	if e.SKU != "" {
		scope += " sku=" + e.SKU
	}
	if e.Source != "" {
		scope += " source=" + e.Source
	}
	if !e.From.IsZero() || !e.To.IsZero() {
		scope += fmt.Sprintf(" range=[%s,%s)", fmtTime(e.From), fmtTime(e.To))
	}
	return fmt.Sprintf("ledger unavailable: %s%s: %v", e.Op, scope, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrLedgerUnavailable }

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// isRetryable classifies driver errors the way a retry policy cares about:
// lost connections, lock waits and deadlocks are worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqlDriver.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1205, 1213, 2006, 2013:
			return true
		}
	}
	return false
}

func unavailable(op string, err error) *UnavailableError {
	return &UnavailableError{Op: op, Retryable: isRetryable(err), Err: err}
}
