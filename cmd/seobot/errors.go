package main

import (
	"github.com/cockroachdb/errors"
)

func errInvalidDomain(raw string) error {
	return errors.WithHint(errors.Newf("invalid domain %q", raw), "example: example.com")
}

// withHint folds user hints into the message printed by main.
func withHint(err error) error {
	if h := errors.FlattenHints(err); h != "" {
		return errors.Newf("%v\n%s", err, h)
	}
	return err
}
