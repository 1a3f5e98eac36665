package storage

import "fmt"

// Kind discriminates the error families a StorageEngine can return. Callers
// are expected to match by family (via Error.Kind), not by string, mirroring
// the original StorageError taxonomy.
type Kind int

const (
	KindUnspecified Kind = iota
	KindPermissionDenied
	KindNotFound
	KindVersionNotFound
	KindVersionConflict
	KindQuotaExceeded
	KindTransactionError
	KindResourceLocked
	KindConflictError
	KindSerializationError
	KindSchemaVersionError
	KindConnectionError
	KindIoError
	KindTimeoutError
	KindValidationError
	KindInvalidDataFormat
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindNotFound:
		return "NotFound"
	case KindVersionNotFound:
		return "VersionNotFound"
	case KindVersionConflict:
		return "VersionConflict"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindTransactionError:
		return "TransactionError"
	case KindResourceLocked:
		return "ResourceLocked"
	case KindConflictError:
		return "ConflictError"
	case KindSerializationError:
		return "SerializationError"
	case KindSchemaVersionError:
		return "SchemaVersionError"
	case KindConnectionError:
		return "ConnectionError"
	case KindIoError:
		return "IoError"
	case KindTimeoutError:
		return "TimeoutError"
	case KindValidationError:
		return "ValidationError"
	case KindInvalidDataFormat:
		return "InvalidDataFormat"
	default:
		return "Other"
	}
}

// Error is the tagged-union error type returned by StorageEngine. Each
// Kind populates the subset of fields relevant to it (matching the named
// fields of the corresponding variant in the original taxonomy), leaving
// the rest zero.
type Error struct {
	Kind Kind

	// PermissionDenied
	UserID string
	Action string

	// NotFound / VersionNotFound / general key context
	Namespace string
	Key       string

	// VersionConflict
	CurrentVersion  uint64
	ExpectedVersion uint64

	// QuotaExceeded
	LimitType string
	Current   uint64
	Maximum   uint64

	// TransactionError / ValidationError / Other / generic detail
	Details string

	// ConflictError / ResourceLocked
	Resource string

	// SerializationError / InvalidDataFormat
	DataType string
	Expected string
	Received string

	// SchemaVersionError
	CurrentSchemaVersion  string
	RequiredSchemaVersion string

	// ConnectionError
	Backend string

	// TimeoutError
	Operation   string
	TimeoutSecs float64

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPermissionDenied:
		return fmt.Sprintf("storage: permission denied: user %q cannot %q key %q", e.UserID, e.Action, e.Key)
	case KindNotFound:
		return fmt.Sprintf("storage: not found: %s/%s", e.Namespace, e.Key)
	case KindVersionNotFound:
		return fmt.Sprintf("storage: version not found: %s/%s@%d", e.Namespace, e.Key, e.ExpectedVersion)
	case KindVersionConflict:
		return fmt.Sprintf("storage: version conflict on %q: current=%d expected=%d", e.Resource, e.CurrentVersion, e.ExpectedVersion)
	case KindQuotaExceeded:
		return fmt.Sprintf("storage: quota exceeded (%s): current=%d maximum=%d", e.LimitType, e.Current, e.Maximum)
	case KindTransactionError:
		return fmt.Sprintf("storage: transaction error: %s", e.Details)
	case KindResourceLocked:
		return fmt.Sprintf("storage: resource locked: %s: %s", e.Resource, e.Details)
	case KindConflictError:
		return fmt.Sprintf("storage: conflict: %s: %s", e.Resource, e.Details)
	case KindSerializationError:
		return fmt.Sprintf("storage: serialization error (%s): %s", e.DataType, e.Details)
	case KindSchemaVersionError:
		return fmt.Sprintf("storage: schema version error: have %s need %s: %s", e.CurrentSchemaVersion, e.RequiredSchemaVersion, e.Details)
	case KindConnectionError:
		return fmt.Sprintf("storage: connection error (%s): %s", e.Backend, e.Details)
	case KindIoError:
		return fmt.Sprintf("storage: io error during %s: %s", e.Operation, e.Details)
	case KindTimeoutError:
		return fmt.Sprintf("storage: timeout during %s after %.2fs", e.Operation, e.TimeoutSecs)
	case KindValidationError:
		return fmt.Sprintf("storage: validation error (%s): %s", e.Resource, e.Details)
	case KindInvalidDataFormat:
		return fmt.Sprintf("storage: invalid data format: expected %s got %s: %s", e.Expected, e.Received, e.Details)
	default:
		return fmt.Sprintf("storage: %s", e.Details)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsConflict reports whether err is a *Error of KindConflictError, the
// error CreateNamespace/CreateAccount return when called again with
// parameters that don't match the existing namespace/account.
func IsConflict(err error) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == KindConflictError
}

// Is supports errors.Is matching purely on Kind, so callers can write
// errors.Is(err, &storage.Error{Kind: storage.KindNotFound}) or, more simply,
// check (*storage.Error).Kind directly after errors.As.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func errPermissionDenied(userID, action, key string) *Error {
	return &Error{Kind: KindPermissionDenied, UserID: userID, Action: action, Key: key}
}

func errNotFound(namespace, key string) *Error {
	return &Error{Kind: KindNotFound, Namespace: namespace, Key: key}
}

func errVersionNotFound(namespace, key string, version uint64) *Error {
	return &Error{Kind: KindVersionNotFound, Namespace: namespace, Key: key, ExpectedVersion: version}
}

func errVersionConflict(resource string, current, expected uint64) *Error {
	return &Error{Kind: KindVersionConflict, Resource: resource, CurrentVersion: current, ExpectedVersion: expected}
}

func errQuotaExceeded(limitType string, current, maximum uint64) *Error {
	return &Error{Kind: KindQuotaExceeded, LimitType: limitType, Current: current, Maximum: maximum}
}

func errTransaction(details string) *Error {
	return &Error{Kind: KindTransactionError, Details: details}
}

func errConflict(resource, details string) *Error {
	return &Error{Kind: KindConflictError, Resource: resource, Details: details}
}

func errSerialization(dataType, details string) *Error {
	return &Error{Kind: KindSerializationError, DataType: dataType, Details: details}
}

func errValidation(resource, details string) *Error {
	return &Error{Kind: KindValidationError, Resource: resource, Details: details}
}

func errIo(operation, details string, cause error) *Error {
	return &Error{Kind: KindIoError, Operation: operation, Details: details, Err: cause}
}
