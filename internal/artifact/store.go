// Package artifact stores materialized subset documents and maps them to the
// public /filestore URLs handed out in storage descriptors.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
)

type Store interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName rejects anything that is not a plain file name.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

type ctxKey struct{}

// WithBaseURL records the externally visible base URL of the current request.
func WithBaseURL(ctx context.Context, base string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimRight(base, "/"))
}

// PublicURL is where the artifact can be downloaded. Without a base URL in
// ctx the path is returned relative to the server root.
func PublicURL(ctx context.Context, name string) string {
	base, _ := ctx.Value(ctxKey{}).(string)
	return base + "/filestore/" + name
}
