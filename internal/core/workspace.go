package core

import (
	"context"
	"path/filepath"
	"strings"
)

// DefaultWorkspaceKey is the partition used when no workspace context exists.
const DefaultWorkspaceKey = "default"

// WorkspaceResolver maps the active editing context to the stable key that
// partitions snapshots and observers. Implementations only read context that
// is already available; they never touch the file system.
type WorkspaceResolver interface {
	CurrentWorkspaceKey(ctx context.Context) string
}

// WorkspaceKeyForPath returns the key for a workspace rooted at root: a
// file:// URI of the cleaned path, or DefaultWorkspaceKey for an empty root.
func WorkspaceKeyForPath(root string) string {
	if strings.TrimSpace(root) == "" {
		return DefaultWorkspaceKey
	}
	p := filepath.ToSlash(filepath.Clean(root))
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

type rootWorkspaceResolver struct {
	key string
}

// NewRootWorkspaceResolver returns a resolver that always yields the key of
// the given workspace root. The key is computed once, so it stays stable for
// the lifetime of the resolver.
func NewRootWorkspaceResolver(root string) WorkspaceResolver {
	return &rootWorkspaceResolver{key: WorkspaceKeyForPath(root)}
}

func (r *rootWorkspaceResolver) CurrentWorkspaceKey(context.Context) string {
	return r.key
}

type workspaceKeyCtx struct{}

// WithWorkspaceKey returns a context carrying an explicit workspace key, as
// set by transports that serve several workspaces.
func WithWorkspaceKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, workspaceKeyCtx{}, key)
}

// WorkspaceKeyFromContext returns the key stored by WithWorkspaceKey.
func WorkspaceKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(workspaceKeyCtx{}).(string)
	return key, ok && key != ""
}

type contextWorkspaceResolver struct {
	fallback WorkspaceResolver
}

// NewContextWorkspaceResolver prefers a key carried on the context and falls
// back to the given resolver (or DefaultWorkspaceKey when nil).
func NewContextWorkspaceResolver(fallback WorkspaceResolver) WorkspaceResolver {
	return &contextWorkspaceResolver{fallback: fallback}
}

func (r *contextWorkspaceResolver) CurrentWorkspaceKey(ctx context.Context) string {
	if key, ok := WorkspaceKeyFromContext(ctx); ok {
		return key
	}
	if r.fallback != nil {
		return r.fallback.CurrentWorkspaceKey(ctx)
	}
	return DefaultWorkspaceKey
}
