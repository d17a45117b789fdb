package dbio

import "fmt"

// ObjectNotFoundError reports a record, subject, or document that does not
// exist in the consulted backend.
type ObjectNotFoundError struct {
	Collection string
	ID         string
}

func (e ObjectNotFoundError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("%s: record not found", e.ID)
	}
	return fmt.Sprintf("%s/%s: record not found", e.Collection, e.ID)
}

// AlreadyExistsError reports a duplicate id or (owner, name) pair on create.
type AlreadyExistsError struct {
	Collection string
	Key        string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s/%s: record already exists", e.Collection, e.Key)
}

// NotAuthorizedError reports a failed access-control check.
type NotAuthorizedError struct {
	Principal string
	Operation string
}

func (e NotAuthorizedError) Error() string {
	op := e.Operation
	if op == "" {
		op = "access"
	}
	return fmt.Sprintf("%s: not authorized to %s", e.Principal, op)
}

// ConfigurationError reports malformed or incomplete backend configuration.
type ConfigurationError struct {
	Param   string
	Message string
}

func (e ConfigurationError) Error() string {
	if e.Param == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Param, e.Message)
}

// FilterSyntaxError reports a malformed advanced-query filter tree. It is
// raised during parsing, before any record is scanned.
type FilterSyntaxError struct {
	Key     string
	Message string
}

func (e FilterSyntaxError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid filter: %s", e.Message)
	}
	return fmt.Sprintf("invalid filter key %q: %s", e.Key, e.Message)
}

// StateError reports an illegal lifecycle state or transition argument.
type StateError struct {
	State   string
	Message string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.State, e.Message)
}

// NotSubmitableError reports a record whose required reviews have not reached
// a terminal phase, blocking submission or publication.
type NotSubmitableError struct {
	ID     string
	Reason string
}

func (e NotSubmitableError) Error() string {
	return fmt.Sprintf("%s: not submitable: %s", e.ID, e.Reason)
}

// DBIOError is the generic backend or transport failure wrapper.
type DBIOError struct {
	Op  string
	Err error
}

func (e DBIOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: backend failure", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e DBIOError) Unwrap() error { return e.Err }
