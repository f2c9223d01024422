package ports

import "context"

// NameResolver maps an address to a human readable name
type NameResolver interface {
	Reverse(ctx context.Context, address string) (string, error)
}
