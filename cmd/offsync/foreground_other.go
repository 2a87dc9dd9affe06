//go:build !unix

package main

import "context"

func notifyForeground(ctx context.Context, fn func()) (stop func()) {
	return func() {}
}
