package workspace

// Resolver maps frontend-supplied paths onto host paths.
//
// Handlers never touch a path the frontend sent without resolving it first;
// a path outside the sandbox fails with PermissionDenied.
type Resolver interface {
	// Resolve returns the absolute host path for p.
	Resolve(p string) (string, error)

	// Root is the directory relative paths are resolved against.
	Root() string
}
