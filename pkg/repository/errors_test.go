package repository_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JaimeStill/concord/pkg/repository"
)

var (
	errNotFound  = errors.New("not found")
	errDuplicate = errors.New("duplicate")
	errMissing   = errors.New("missing parent")
)

func TestMapError(t *testing.T) {
	other := errors.New("some other error")
	fk := &pgconn.PgError{Code: "23503"}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, errNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), errNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, errDuplicate},
		{"foreign key passes through", fk, fk},
		{"other passes through", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repository.MapError(tt.err, errNotFound, errDuplicate)
			if got != tt.want {
				t.Errorf("MapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMapReference(t *testing.T) {
	fk := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"})
	if got := repository.MapReference(fk, errMissing); got != errMissing {
		t.Errorf("MapReference(fk) = %v, want %v", got, errMissing)
	}

	unique := &pgconn.PgError{Code: "23505"}
	if got := repository.MapReference(unique, errMissing); got != unique {
		t.Errorf("MapReference(unique) = %v, want passthrough", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !repository.IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Error("expected unique violation")
	}
	if repository.IsUniqueViolation(errors.New("plain")) {
		t.Error("plain error is not a unique violation")
	}
}
