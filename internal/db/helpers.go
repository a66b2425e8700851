package db

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"thirdcoast.systems/youmood/internal/resilience"
)

// IsUndefinedColumnErr reports whether err comes from a schema that does not
// match the queries, such as an unmigrated database.
func IsUndefinedColumnErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 42703 = undefined_column
		// 42P01 = undefined_table
		return pgErr.Code == "42703" || pgErr.Code == "42P01"
	}
	return false
}

// IsTransientErr reports whether err is a connection-level or contention
// failure that is worth retrying as is.
func IsTransientErr(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code[:2] {
		case "08", // connection_exception
			"40", // transaction_rollback (serialization, deadlock)
			"53", // insufficient_resources
			"57": // operator_intervention (admin shutdown)
			return true
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classify tags recognized database failures with a resilience kind. The
// context's own cancellation is passed through untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if IsTransientErr(err) {
		return resilience.Mark(resilience.KindTransient, err)
	}
	if IsUndefinedColumnErr(err) {
		return resilience.Mark(resilience.KindData, err)
	}
	return err
}

func NilTimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}

func NilStringPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func TextOf(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}
