// Package storage implements the namespaced, versioned, role-checked,
// quota-accounted key-value engine the VM persists state through. It is
// grounded on the teacher's Database/MemDB/LevelDB split (here Backend,
// MemBackend, LevelDBBackend) for the byte-oriented backing store, on
// core/state/manager.go for namespaced key composition discipline, and on
// the original runtime's storage/errors.rs and storage/auth.rs for the
// error taxonomy and permission policy.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"covm/auth"
)

// VersionInfo is the metadata attached to every stored version.
type VersionInfo struct {
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	CreatedBy string    `json:"created_by"`
}

type versionRecord struct {
	info  VersionInfo
	value []byte
}

// NamespaceMetadata describes a namespace in the storage tree.
type NamespaceMetadata struct {
	Path       string
	QuotaBytes uint64
	Parent     string
	Attributes map[string]string
}

// AccountDelta is one entry in a ResourceAccount's usage history.
type AccountDelta struct {
	Timestamp time.Time
	Delta     int64
	OpLabel   string
}

// ResourceAccount tracks a caller's storage quota usage.
type ResourceAccount struct {
	ID         string
	QuotaBytes uint64
	UsedBytes  uint64
	History    []AccountDelta
}

// EventType discriminates audit log entries.
type EventType int

const (
	EventUnspecified EventType = iota
	EventSet
	EventDelete
	EventGet
	EventTransactionBegin
	EventTransactionCommit
	EventTransactionRollback
	EventMint
	EventBurn
	EventTransfer
)

func (t EventType) String() string {
	switch t {
	case EventSet:
		return "Set"
	case EventDelete:
		return "Delete"
	case EventGet:
		return "Get"
	case EventTransactionBegin:
		return "TransactionBegin"
	case EventTransactionCommit:
		return "TransactionCommit"
	case EventTransactionRollback:
		return "TransactionRollback"
	case EventMint:
		return "Mint"
	case EventBurn:
		return "Burn"
	case EventTransfer:
		return "Transfer"
	default:
		return "Unspecified"
	}
}

// AuditEvent is an append-only, never-rewritten record of a storage action.
type AuditEvent struct {
	Type      EventType
	User      string
	Timestamp time.Time
	Namespace string
	Key       string
	Details   string
}

type overlayEntry struct {
	deleted  bool
	versions []versionRecord
}

type transaction struct {
	overlay map[string]*overlayEntry // nsKey -> entry
}

func nsKey(namespace, key string) string {
	return namespace + "\x00" + key
}

// Engine is the authoritative persistent state layer: it enforces
// authorization, versioning, quotas, and transactional atomicity on top of
// a Backend.
type Engine struct {
	mu sync.RWMutex

	backend Backend

	data       map[string][]versionRecord // nsKey -> version history, ascending
	namespaces map[string]NamespaceMetadata
	accounts   map[string]*ResourceAccount

	audit []AuditEvent

	tx *transaction

	nowFn func() time.Time
}

// NewEngine constructs a StorageEngine backed by the given Backend.
func NewEngine(backend Backend) *Engine {
	if backend == nil {
		backend = NewMemBackend()
	}
	return &Engine{
		backend:    backend,
		data:       make(map[string][]versionRecord),
		namespaces: make(map[string]NamespaceMetadata),
		accounts:   make(map[string]*ResourceAccount),
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// SetNowFunc overrides the clock used for version timestamps; intended for
// tests.
func (e *Engine) SetNowFunc(fn func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nowFn = fn
}

func (e *Engine) now() time.Time {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now().UTC()
}

// --- Permission policy ---

func callerDID(ac *auth.Context) string {
	if ac == nil {
		return ""
	}
	return ac.CallerDID()
}

// CheckPermission is the pure predicate consulted internally and exposed
// externally. action is one of "read", "write", "admin". A nil AuthContext
// means "system/unauthenticated" and is denied every action.
func (e *Engine) CheckPermission(ac *auth.Context, action, namespace, key string) bool {
	if ac == nil {
		return false
	}
	did := ac.CallerDID()

	roleOK := func(roles ...string) bool {
		return ac.HasAnyRoleInNamespace(did, namespace, roles...)
	}

	var ok bool
	switch action {
	case "read":
		ok = roleOK(auth.RoleReader, auth.RoleWriter, auth.RoleAdmin)
	case "write":
		ok = roleOK(auth.RoleWriter, auth.RoleAdmin)
	case "admin":
		ok = roleOK(auth.RoleAdmin)
	default:
		ok = false
	}
	if !ok {
		return false
	}

	if strings.HasPrefix(key, "governance/") {
		switch action {
		case "read":
			return roleOK(auth.RoleMember, auth.RoleAdmin)
		case "write":
			return roleOK(auth.RoleWriter, auth.RoleAdmin)
		}
	}
	return true
}

func (e *Engine) requirePermission(ac *auth.Context, action, namespace, key string) error {
	if !e.CheckPermission(ac, action, namespace, key) {
		return errPermissionDenied(callerDID(ac), action, namespace+"/"+key)
	}
	return nil
}

// --- Core read/write ---

func (e *Engine) historyLocked(namespace, key string) []versionRecord {
	k := nsKey(namespace, key)
	if e.tx != nil {
		if ov, ok := e.tx.overlay[k]; ok {
			if ov.deleted {
				return nil
			}
			return ov.versions
		}
	}
	return e.data[k]
}

// Get returns the latest version's bytes.
func (e *Engine) Get(ac *auth.Context, namespace, key string) ([]byte, error) {
	value, _, err := e.GetVersioned(ac, namespace, key)
	return value, err
}

// GetVersioned returns the latest version's bytes plus its metadata.
func (e *Engine) GetVersioned(ac *auth.Context, namespace, key string) ([]byte, VersionInfo, error) {
	if err := e.requirePermission(ac, "read", namespace, key); err != nil {
		return nil, VersionInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	history := e.historyLocked(namespace, key)
	if len(history) == 0 {
		return nil, VersionInfo{}, errNotFound(namespace, key)
	}
	e.appendAuditLocked(AuditEvent{Type: EventGet, User: callerDID(ac), Timestamp: e.now(), Namespace: namespace, Key: key})
	latest := history[len(history)-1]
	return append([]byte(nil), latest.value...), latest.info, nil
}

// GetVersion returns the bytes and metadata for a specific version.
func (e *Engine) GetVersion(ac *auth.Context, namespace, key string, version uint64) ([]byte, VersionInfo, error) {
	if err := e.requirePermission(ac, "read", namespace, key); err != nil {
		return nil, VersionInfo{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	history := e.historyLocked(namespace, key)
	for _, rec := range history {
		if rec.info.Version == version {
			return append([]byte(nil), rec.value...), rec.info, nil
		}
	}
	return nil, VersionInfo{}, errVersionNotFound(namespace, key, version)
}

// ListVersions returns version metadata ordered ascending.
func (e *Engine) ListVersions(ac *auth.Context, namespace, key string) ([]VersionInfo, error) {
	if err := e.requirePermission(ac, "read", namespace, key); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	history := e.historyLocked(namespace, key)
	out := make([]VersionInfo, 0, len(history))
	for _, rec := range history {
		out = append(out, rec.info)
	}
	return out, nil
}

// VersionDiff is the abstract diff artifact between two versions.
type VersionDiff struct {
	Equal    bool
	SizeFrom int
	SizeTo   int
	DeltaLen int
}

// DiffVersions compares two versions of a key.
func (e *Engine) DiffVersions(ac *auth.Context, namespace, key string, v1, v2 uint64) (VersionDiff, error) {
	a, _, err := e.GetVersion(ac, namespace, key, v1)
	if err != nil {
		return VersionDiff{}, err
	}
	b, _, err := e.GetVersion(ac, namespace, key, v2)
	if err != nil {
		return VersionDiff{}, err
	}
	return VersionDiff{
		Equal:    string(a) == string(b),
		SizeFrom: len(a),
		SizeTo:   len(b),
		DeltaLen: len(b) - len(a),
	}, nil
}

// Set writes a new version of (namespace, key).
func (e *Engine) Set(ac *auth.Context, namespace, key string, value []byte) (VersionInfo, error) {
	if err := e.requirePermission(ac, "write", namespace, key); err != nil {
		return VersionInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkQuotaLocked(ac, len(value)); err != nil {
		return VersionInfo{}, err
	}

	history := e.historyLocked(namespace, key)
	var nextVersion uint64 = 1
	if len(history) > 0 {
		nextVersion = history[len(history)-1].info.Version + 1
	}
	info := VersionInfo{Version: nextVersion, Timestamp: e.now(), CreatedBy: callerDID(ac)}
	rec := versionRecord{info: info, value: append([]byte(nil), value...)}

	e.writeVersionLocked(namespace, key, append(append([]versionRecord(nil), history...), rec))
	e.chargeQuotaLocked(ac, len(value), "set")
	e.appendAuditLocked(AuditEvent{Type: EventSet, User: callerDID(ac), Timestamp: info.Timestamp, Namespace: namespace, Key: key, Details: fmt.Sprintf("version=%d bytes=%d", info.Version, len(value))})

	if e.tx == nil {
		e.persistVersionToBackend(namespace, key, rec)
	}
	return info, nil
}

// SetJSONVersioned writes a JSON payload, optionally enforcing optimistic
// concurrency against expectedVersion.
func (e *Engine) SetJSONVersioned(ac *auth.Context, namespace, key string, in interface{}, expectedVersion *uint64) (VersionInfo, error) {
	encoded, err := json.Marshal(in)
	if err != nil {
		return VersionInfo{}, errSerialization(fmt.Sprintf("%T", in), err.Error())
	}

	if expectedVersion != nil {
		e.mu.RLock()
		history := e.historyLocked(namespace, key)
		var current uint64
		if len(history) > 0 {
			current = history[len(history)-1].info.Version
		}
		e.mu.RUnlock()
		if current != *expectedVersion {
			return VersionInfo{}, errVersionConflict(namespace+"/"+key, current, *expectedVersion)
		}
	}
	return e.Set(ac, namespace, key, encoded)
}

// SetJSON writes a JSON payload without optimistic concurrency.
func (e *Engine) SetJSON(ac *auth.Context, namespace, key string, in interface{}) (VersionInfo, error) {
	return e.SetJSONVersioned(ac, namespace, key, in, nil)
}

// GetJSON reads the latest version and decodes it as JSON into out.
func (e *Engine) GetJSON(ac *auth.Context, namespace, key string, out interface{}) (VersionInfo, error) {
	raw, info, err := e.GetVersioned(ac, namespace, key)
	if err != nil {
		return VersionInfo{}, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return VersionInfo{}, errSerialization(fmt.Sprintf("%T", out), err.Error())
	}
	return info, nil
}

// Delete removes the current value and the entire version history for a
// key, per the Open Question resolution: delete purges, the audit log
// retains the Delete event.
func (e *Engine) Delete(ac *auth.Context, namespace, key string) error {
	if err := e.requirePermission(ac, "write", namespace, key); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	history := e.historyLocked(namespace, key)
	if len(history) == 0 {
		return errNotFound(namespace, key)
	}

	if e.tx != nil {
		e.tx.overlay[nsKey(namespace, key)] = &overlayEntry{deleted: true}
	} else {
		delete(e.data, nsKey(namespace, key))
		e.deleteFromBackend(namespace, key, history)
	}
	e.appendAuditLocked(AuditEvent{Type: EventDelete, User: callerDID(ac), Timestamp: e.now(), Namespace: namespace, Key: key})
	return nil
}

// Contains reports whether a key currently has a value.
func (e *Engine) Contains(ac *auth.Context, namespace, key string) (bool, error) {
	if err := e.requirePermission(ac, "read", namespace, key); err != nil {
		return false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.historyLocked(namespace, key)) > 0, nil
}

// ListKeys returns keys under namespace matching the optional prefix, in
// lexicographic order.
func (e *Engine) ListKeys(ac *auth.Context, namespace, prefix string) ([]string, error) {
	if err := e.requirePermission(ac, "read", namespace, prefix); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]bool)
	var keys []string
	collect := func(k string) {
		if !strings.HasPrefix(k, namespace+"\x00") {
			return
		}
		key := strings.TrimPrefix(k, namespace+"\x00")
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return
		}
		if seen[key] {
			return
		}
		seen[key] = true
		keys = append(keys, key)
	}
	for k, history := range e.data {
		if len(history) == 0 {
			continue
		}
		collect(k)
	}
	if e.tx != nil {
		for k, ov := range e.tx.overlay {
			if ov.deleted {
				continue
			}
			collect(k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ListNamespaces returns namespace metadata whose Parent equals parent.
func (e *Engine) ListNamespaces(ac *auth.Context, parent string) ([]NamespaceMetadata, error) {
	if !e.CheckPermission(ac, "admin", parent, "") {
		return nil, errPermissionDenied(callerDID(ac), "list_namespaces", parent)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []NamespaceMetadata
	for _, meta := range e.namespaces {
		if meta.Parent == parent {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// CreateNamespace registers a namespace. Admin-only; idempotent if the
// namespace already exists with identical parameters, else ConflictError.
func (e *Engine) CreateNamespace(ac *auth.Context, path string, quotaBytes uint64, parent string, attributes map[string]string) error {
	if !e.CheckPermission(ac, "admin", path, "") {
		return errPermissionDenied(callerDID(ac), "create_namespace", path)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.namespaces[path]; ok {
		if existing.QuotaBytes == quotaBytes && existing.Parent == parent {
			return nil
		}
		return errConflict(path, "namespace already exists with different parameters")
	}
	e.namespaces[path] = NamespaceMetadata{Path: path, QuotaBytes: quotaBytes, Parent: parent, Attributes: attributes}
	return nil
}

// CreateAccount registers a quota-tracked account for user. Admin-only;
// idempotent if the account already exists with an identical quota.
func (e *Engine) CreateAccount(ac *auth.Context, user string, quotaBytes uint64) error {
	if !e.CheckPermission(ac, "admin", auth.GlobalNamespace, "") {
		return errPermissionDenied(callerDID(ac), "create_account", user)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.accounts[user]; ok {
		if existing.QuotaBytes == quotaBytes {
			return nil
		}
		return errConflict(user, "account already exists with a different quota")
	}
	e.accounts[user] = &ResourceAccount{ID: user, QuotaBytes: quotaBytes}
	return nil
}

// Account returns a copy of a user's resource account, if any.
func (e *Engine) Account(user string) (ResourceAccount, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	acc, ok := e.accounts[user]
	if !ok {
		return ResourceAccount{}, false
	}
	clone := *acc
	clone.History = append([]AccountDelta(nil), acc.History...)
	return clone, true
}

func (e *Engine) checkQuotaLocked(ac *auth.Context, size int) error {
	did := callerDID(ac)
	acc, ok := e.accounts[did]
	if !ok {
		return nil
	}
	projected := acc.UsedBytes + uint64(size)
	if projected > acc.QuotaBytes {
		return errQuotaExceeded("storage_bytes", projected, acc.QuotaBytes)
	}
	return nil
}

func (e *Engine) chargeQuotaLocked(ac *auth.Context, size int, label string) {
	did := callerDID(ac)
	acc, ok := e.accounts[did]
	if !ok {
		return
	}
	acc.UsedBytes += uint64(size)
	acc.History = append(acc.History, AccountDelta{Timestamp: e.now(), Delta: int64(size), OpLabel: label})
}

func (e *Engine) writeVersionLocked(namespace, key string, history []versionRecord) {
	k := nsKey(namespace, key)
	if e.tx != nil {
		e.tx.overlay[k] = &overlayEntry{versions: history}
		return
	}
	e.data[k] = history
}

// --- Transactions ---

// BeginTransaction starts a single-level transaction overlay. A second
// Begin while one is already open fails with TransactionError.
func (e *Engine) BeginTransaction(ac *auth.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx != nil {
		return errTransaction("a transaction is already open")
	}
	e.tx = &transaction{overlay: make(map[string]*overlayEntry)}
	e.appendAuditLocked(AuditEvent{Type: EventTransactionBegin, User: callerDID(ac), Timestamp: e.now()})
	return nil
}

// CommitTransaction applies the overlay atomically to committed state.
func (e *Engine) CommitTransaction(ac *auth.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil {
		return errTransaction("no transaction is open")
	}
	for k, ov := range e.tx.overlay {
		ns, key := splitNsKey(k)
		if ov.deleted {
			history := e.data[k]
			delete(e.data, k)
			e.deleteFromBackend(ns, key, history)
			continue
		}
		e.data[k] = ov.versions
		for _, rec := range ov.versions {
			e.persistVersionToBackend(ns, key, rec)
		}
	}
	e.tx = nil
	e.appendAuditLocked(AuditEvent{Type: EventTransactionCommit, User: callerDID(ac), Timestamp: e.now()})
	return nil
}

// RollbackTransaction discards the overlay without touching committed
// state.
func (e *Engine) RollbackTransaction(ac *auth.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil {
		return errTransaction("no transaction is open")
	}
	e.tx = nil
	e.appendAuditLocked(AuditEvent{Type: EventTransactionRollback, User: callerDID(ac), Timestamp: e.now()})
	return nil
}

// InTransaction reports whether a transaction is currently open.
func (e *Engine) InTransaction() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tx != nil
}

func splitNsKey(k string) (string, string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) != 2 {
		return k, ""
	}
	return parts[0], parts[1]
}

// --- Audit log ---

func (e *Engine) appendAuditLocked(ev AuditEvent) {
	e.audit = append(e.audit, ev)
}

// GetAuditLog returns the most recent events first, optionally filtered by
// namespace and/or event type, up to limit entries. Requires admin in the
// namespace (or global).
func (e *Engine) GetAuditLog(ac *auth.Context, namespace string, eventType *EventType, limit int) ([]AuditEvent, error) {
	ns := namespace
	if ns == "" {
		ns = auth.GlobalNamespace
	}
	if !e.CheckPermission(ac, "admin", ns, "") {
		return nil, errPermissionDenied(callerDID(ac), "get_audit_log", ns)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []AuditEvent
	for i := len(e.audit) - 1; i >= 0; i-- {
		ev := e.audit[i]
		if namespace != "" && ev.Namespace != namespace {
			continue
		}
		if eventType != nil && ev.Type != *eventType {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- Backend persistence ---

func versionBackendKey(namespace, key string, version uint64) []byte {
	return []byte(fmt.Sprintf("d/%s/%s/%020d", namespace, key, version))
}

func (e *Engine) persistVersionToBackend(namespace, key string, rec versionRecord) {
	encoded, err := json.Marshal(struct {
		Info  VersionInfo `json:"info"`
		Value []byte      `json:"value"`
	}{Info: rec.info, Value: rec.value})
	if err != nil {
		return
	}
	_ = e.backend.Put(versionBackendKey(namespace, key, rec.info.Version), encoded)
}

func (e *Engine) deleteFromBackend(namespace, key string, history []versionRecord) {
	for _, rec := range history {
		_ = e.backend.Delete(versionBackendKey(namespace, key, rec.info.Version))
	}
}

// Close releases the underlying Backend.
func (e *Engine) Close() {
	e.backend.Close()
}
