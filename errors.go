package spark8s

import (
	"errors"
	"fmt"
)

// ResourceNotFoundError reports a cluster resource that was expected to exist.
type ResourceNotFoundError struct {
	Name string
	Kind ResourceKind
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind.noun(), e.Name)
}

// AccountNotFoundError reports that no account matches the given identity key,
// or that no kubeconfig context matches the given cluster endpoint.
type AccountNotFoundError struct {
	ID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account not found for %q", e.ID)
}

// MalformedResponseError reports transport output that could not be parsed
// into the expected shape.
type MalformedResponseError struct {
	Detail string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed response: %s", e.Detail)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// UnsupportedResourceKindError reports an operation requested for a resource
// kind outside the enumerated set, or not implemented for that kind.
type UnsupportedResourceKindError struct {
	Kind ResourceKind
	Op   string
}

func (e *UnsupportedResourceKindError) Error() string {
	return fmt.Sprintf("resource kind %q not supported for %s", string(e.Kind), e.Op)
}

// IsNotFound reports whether err denotes a missing cluster resource.
func IsNotFound(err error) bool {
	var notFound *ResourceNotFoundError
	return errors.As(err, &notFound)
}

// IsAccountNotFound reports whether err denotes a missing account or context.
func IsAccountNotFound(err error) bool {
	var notFound *AccountNotFoundError
	return errors.As(err, &notFound)
}
