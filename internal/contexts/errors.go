package contexts

import "fmt"

// ContextNotFoundError indicates a reference to an unregistered context.
type ContextNotFoundError struct {
	Name string
}

func (e *ContextNotFoundError) Error() string {
	return fmt.Sprintf("context %q not found", e.Name)
}

// ContextAlreadyExistsError indicates a create against a taken name.
type ContextAlreadyExistsError struct {
	Name string
}

func (e *ContextAlreadyExistsError) Error() string {
	return fmt.Sprintf("context %q already exists", e.Name)
}

// ContextNotEmptyError indicates a delete without force against a
// context that still holds entities.
type ContextNotEmptyError struct {
	Name        string
	EntityCount int64
}

func (e *ContextNotEmptyError) Error() string {
	return fmt.Sprintf("context %q holds %d entities; pass force to delete anyway", e.Name, e.EntityCount)
}

// CurrentContextError indicates a delete against the active context.
// Force never overrides it: switch away first.
type CurrentContextError struct {
	Name string
}

func (e *CurrentContextError) Error() string {
	return fmt.Sprintf("context %q is the current context and cannot be deleted", e.Name)
}
