package attendance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"unique":         {&pgconn.PgError{Code: "23505"}, true},
		"wrapped unique": {fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		"fk violation":   {&pgconn.PgError{Code: "23503"}, false},
		"plain":          {errors.New("conn reset"), false},
	}
	for name, tc := range cases {
		if got := isUniqueViolation(tc.err); got != tc.want {
			t.Errorf("%s: got %v, want %v", name, got, tc.want)
		}
	}
}
