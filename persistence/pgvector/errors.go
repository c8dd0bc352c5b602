package pgvector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/flarexio/ragblade/rag"
)

// classify maps driver failures onto the rag error kinds. Errors that
// already carry a kind, and sql.ErrNoRows, pass through untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) || hasKind(err) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", rag.ErrTimeout, err)
	}

	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %w", kindOf(pgErr), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", rag.ErrConnection, err)
	}

	return fmt.Errorf("%w: %w", rag.ErrUnavailable, err)
}

func hasKind(err error) bool {
	for _, kind := range []error{
		rag.ErrInvalidInput,
		rag.ErrDimensionMismatch,
		rag.ErrUnknownCollection,
		rag.ErrConflict,
		rag.ErrConnection,
		rag.ErrTimeout,
		rag.ErrUnavailable,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}

	return false
}

// kindOf reads the SQLSTATE code of a server error.
func kindOf(pgErr pgdriver.Error) error {
	code := pgErr.Field('C')

	switch {
	case strings.HasPrefix(code, "08"), code == "57P01", code == "57P02", code == "57P03":
		return rag.ErrConnection

	case code == "40001", code == "40P01", code == "55P03":
		return rag.ErrConflict

	case code == "57014":
		return rag.ErrTimeout

	case strings.Contains(pgErr.Field('M'), "different vector dimensions"):
		return rag.ErrDimensionMismatch

	case strings.HasPrefix(code, "22"), strings.HasPrefix(code, "23"), strings.HasPrefix(code, "42"):
		return rag.ErrInvalidInput

	default:
		return rag.ErrUnavailable
	}
}
