package vm

import (
	"fmt"
	"math"
	"strconv"

	"covm/auth"
	"covm/ledger"
	"covm/storage"
)

const epsilon = 1e-9

type loopSignal int

const (
	signalNone loopSignal = iota
	signalBreak
	signalContinue
	signalReturn
)

// EventRecord is one entry in the VM's in-memory event stream, produced by
// Emit/EmitEvent.
type EventRecord struct {
	Category string
	Message  string
}

type functionDef struct {
	params []string
	body   []Op
}

// VM is the stack-based governance DSL interpreter: a value stack of
// float64 (the canonical numeric type), a stack of memory frames, global
// function definitions, a handle to a StorageEngine under an AuthContext
// and namespace, an optional DAG ledger, and a step/recursion bound.
type VM struct {
	stack     []float64
	frames    []map[string]float64
	functions map[string]functionDef

	storageEngine *storage.Engine
	authCtx       *auth.Context
	namespace     string
	dagLedger     *ledger.Ledger

	stepLimit         int
	steps             int
	maxRecursionDepth int

	events []EventRecord

	activeFork *VM
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithStepLimit bounds the number of ops a single Execute call may run
// before failing with StepLimitExceeded. Zero means unbounded.
func WithStepLimit(limit int) Option {
	return func(v *VM) { v.stepLimit = limit }
}

// WithMaxRecursionDepth bounds Call nesting before StackOverflow. Defaults
// to 1000 if unset.
func WithMaxRecursionDepth(depth int) Option {
	return func(v *VM) { v.maxRecursionDepth = depth }
}

// WithLedger attaches an optional DAG ledger for governance event
// recording. The core works with or without one attached.
func WithLedger(l *ledger.Ledger) Option {
	return func(v *VM) { v.dagLedger = l }
}

// New constructs a VM bound to a StorageEngine, AuthContext, and namespace.
func New(engine *storage.Engine, authCtx *auth.Context, namespace string, opts ...Option) *VM {
	v := &VM{
		storageEngine:     engine,
		authCtx:           authCtx,
		namespace:         namespace,
		functions:         make(map[string]functionDef),
		frames:            []map[string]float64{make(map[string]float64)},
		maxRecursionDepth: 1000,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Stack returns a copy of the current value stack (bottom to top).
func (v *VM) Stack() []float64 {
	return append([]float64(nil), v.stack...)
}

// Events returns the accumulated event stream.
func (v *VM) Events() []EventRecord {
	return append([]EventRecord(nil), v.events...)
}

// Namespace returns the VM's current storage namespace.
func (v *VM) Namespace() string {
	return v.namespace
}

// Auth returns the VM's AuthContext.
func (v *VM) Auth() *auth.Context {
	return v.authCtx
}

// Storage returns the VM's underlying StorageEngine handle.
func (v *VM) Storage() *storage.Engine {
	return v.storageEngine
}

// Execute runs ops to completion in the current (global) frame. Any op
// error aborts the run immediately.
func (v *VM) Execute(ops []Op) error {
	_, err := v.exec(ops)
	return err
}

func (v *VM) frame() map[string]float64 {
	return v.frames[len(v.frames)-1]
}

func (v *VM) push(x float64) {
	v.stack = append(v.stack, x)
}

func (v *VM) pop(op string) (float64, error) {
	if len(v.stack) == 0 {
		return 0, errStackUnderflow(op)
	}
	last := len(v.stack) - 1
	x := v.stack[last]
	v.stack = v.stack[:last]
	return x, nil
}

func (v *VM) peek(op string) (float64, error) {
	if len(v.stack) == 0 {
		return 0, errStackUnderflow(op)
	}
	return v.stack[len(v.stack)-1], nil
}

// pushBool applies the VM's load-bearing truthiness convention: 0.0 means
// true, non-zero means false. Implementers must not "fix" this.
func (v *VM) pushBool(truth bool) {
	if truth {
		v.push(0.0)
	} else {
		v.push(1.0)
	}
}

func isTruthy(x float64) bool {
	return math.Abs(x) < epsilon
}

func (v *VM) exec(ops []Op) (loopSignal, error) {
	for _, op := range ops {
		v.steps++
		if v.stepLimit > 0 && v.steps > v.stepLimit {
			return signalNone, errStepLimit(op.Kind.String())
		}
		sig, err := v.execOne(op)
		if err != nil {
			return signalNone, err
		}
		if sig != signalNone {
			return sig, nil
		}
	}
	return signalNone, nil
}

func (v *VM) execOne(op Op) (loopSignal, error) {
	switch op.Kind {
	case OpPush:
		v.push(op.Number)
		return signalNone, nil
	case OpPop:
		_, err := v.pop("Pop")
		return signalNone, err
	case OpDup:
		top, err := v.peek("Dup")
		if err != nil {
			return signalNone, err
		}
		v.push(top)
		return signalNone, nil
	case OpSwap:
		b, err := v.pop("Swap")
		if err != nil {
			return signalNone, err
		}
		a, err := v.pop("Swap")
		if err != nil {
			return signalNone, err
		}
		v.push(b)
		v.push(a)
		return signalNone, nil
	case OpOver:
		if len(v.stack) < 2 {
			return signalNone, errStackUnderflow("Over")
		}
		v.push(v.stack[len(v.stack)-2])
		return signalNone, nil
	case OpNegate:
		a, err := v.pop("Negate")
		if err != nil {
			return signalNone, err
		}
		v.push(-a)
		return signalNone, nil
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return signalNone, v.arith(op.Kind)
	case OpEq, OpGt, OpLt:
		return signalNone, v.compare(op.Kind)
	case OpNot:
		a, err := v.pop("Not")
		if err != nil {
			return signalNone, err
		}
		v.pushBool(!isTruthy(a))
		return signalNone, nil
	case OpAnd, OpOr:
		return signalNone, v.logical(op.Kind)

	case OpStore:
		val, err := v.pop("Store")
		if err != nil {
			return signalNone, err
		}
		v.frame()[op.Name] = val
		return signalNone, nil
	case OpLoad:
		val, ok := v.frame()[op.Name]
		if !ok {
			return signalNone, errUndefinedVariable(op.Name)
		}
		v.push(val)
		return signalNone, nil

	case OpIf:
		return v.execIf(op)
	case OpWhile:
		return v.execWhile(op)
	case OpLoop:
		return v.execLoop(op)
	case OpMatch:
		return v.execMatch(op)
	case OpBreak:
		return signalBreak, nil
	case OpContinue:
		return signalContinue, nil
	case OpReturn:
		return signalReturn, nil

	case OpDef:
		v.functions[op.Name] = functionDef{params: append([]string(nil), op.Params...), body: op.Body}
		return signalNone, nil
	case OpCall:
		return signalNone, v.execCall(op)

	case OpEmit:
		v.events = append(v.events, EventRecord{Category: op.Category, Message: op.Message})
		return signalNone, nil
	case OpEmitEvent:
		v.events = append(v.events, EventRecord{Category: op.Category, Message: op.Message})
		return signalNone, nil

	case OpDumpStack:
		v.events = append(v.events, EventRecord{Category: "debug", Message: fmt.Sprintf("stack=%v", v.stack)})
		return signalNone, nil
	case OpDumpMemory:
		v.events = append(v.events, EventRecord{Category: "debug", Message: fmt.Sprintf("memory=%v", v.frame())})
		return signalNone, nil
	case OpDumpState:
		v.events = append(v.events, EventRecord{Category: "debug", Message: fmt.Sprintf("stack=%v memory=%v frames=%d", v.stack, v.frame(), len(v.frames))})
		return signalNone, nil
	case OpAssertTop:
		top, err := v.peek("AssertTop")
		if err != nil {
			return signalNone, err
		}
		if math.Abs(top-op.Value) > epsilon {
			return signalNone, errAssertionFailed("AssertTop", fmt.Sprintf("expected %v got %v", op.Value, top))
		}
		return signalNone, nil
	case OpAssertMemory:
		got, ok := v.frame()[op.Name]
		if !ok {
			return signalNone, errAssertionFailed("AssertMemory", fmt.Sprintf("%q is undefined", op.Name))
		}
		if math.Abs(got-op.Value) > epsilon {
			return signalNone, errAssertionFailed("AssertMemory", fmt.Sprintf("%q: expected %v got %v", op.Name, op.Value, got))
		}
		return signalNone, nil
	case OpAssertEqualStack:
		if len(v.stack) != op.Depth {
			return signalNone, errAssertionFailed("AssertEqualStack", fmt.Sprintf("expected depth %d got %d", op.Depth, len(v.stack)))
		}
		return signalNone, nil

	case OpStoreP:
		return signalNone, v.execStoreP(op)
	case OpLoadP:
		return signalNone, v.execLoadP(op)
	case OpLoadVersionP:
		return signalNone, v.execLoadVersionP(op)
	case OpListVersionsP:
		return signalNone, v.execListVersionsP(op)
	case OpDiffVersionsP:
		return signalNone, v.execDiffVersionsP(op)

	case OpVerifyIdentity:
		return signalNone, v.execVerifyIdentity(op)
	case OpCheckMembership:
		return signalNone, v.execCheckMembership(op)
	case OpCheckDelegation:
		return signalNone, v.execCheckDelegation(op)
	case OpVerifySignature:
		return signalNone, v.execVerifySignature(op)
	case OpRequireIdentity:
		return signalNone, v.execRequireIdentity(op)
	case OpRequireRole:
		return signalNone, v.execRequireRole(op)
	case OpRequireValidSignature:
		return signalNone, v.execRequireValidSignature(op)

	case OpRankedVote:
		return signalNone, v.execRankedVote(op)
	case OpLiquidDelegate:
		return signalNone, v.execLiquidDelegate(op)
	case OpQuorumThreshold:
		return signalNone, v.execQuorumThreshold(op)
	case OpVoteThreshold:
		return signalNone, v.execVoteThreshold(op)
	case OpMinDeliberation, OpExpiresIn:
		// Declarative annotations: captured by the parser into a
		// LifecycleConfig, inert at VM runtime.
		return signalNone, nil
	case OpCreateResource:
		return signalNone, v.execCreateResource(op)
	case OpMint:
		return signalNone, v.execMint(op)
	case OpTransfer:
		return signalNone, v.execTransfer(op)
	case OpBurn:
		return signalNone, v.execBurn(op)
	case OpBalance:
		return signalNone, v.execBalance(op)
	case OpIncrementReputation:
		return signalNone, v.execIncrementReputation(op)

	case OpIfPassed:
		// Consumed by the proposal-execution driver in spirit: by the time
		// this op runs, the proposal has already passed, so its body always
		// runs. A standalone Else is not reachable through this path.
		return v.exec(op.Then)
	case OpElse:
		return signalNone, nil

	default:
		return signalNone, &Error{Kind: KindInvalidOperation, Op: op.Kind.String()}
	}
}

func (v *VM) arith(kind OpKind) error {
	b, err := v.pop(kind.String())
	if err != nil {
		return err
	}
	a, err := v.pop(kind.String())
	if err != nil {
		return err
	}
	switch kind {
	case OpAdd:
		v.push(a + b)
	case OpSub:
		v.push(a - b)
	case OpMul:
		v.push(a * b)
	case OpDiv:
		if b == 0 {
			return errDivByZero("Div")
		}
		v.push(a / b)
	case OpMod:
		if b == 0 {
			return errDivByZero("Mod")
		}
		v.push(math.Mod(a, b))
	}
	return nil
}

func (v *VM) compare(kind OpKind) error {
	b, err := v.pop(kind.String())
	if err != nil {
		return err
	}
	a, err := v.pop(kind.String())
	if err != nil {
		return err
	}
	switch kind {
	case OpEq:
		v.pushBool(math.Abs(a-b) < epsilon)
	case OpGt:
		v.pushBool(a > b)
	case OpLt:
		v.pushBool(a < b)
	}
	return nil
}

func (v *VM) logical(kind OpKind) error {
	b, err := v.pop(kind.String())
	if err != nil {
		return err
	}
	a, err := v.pop(kind.String())
	if err != nil {
		return err
	}
	switch kind {
	case OpAnd:
		v.pushBool(isTruthy(a) && isTruthy(b))
	case OpOr:
		v.pushBool(isTruthy(a) || isTruthy(b))
	}
	return nil
}

func (v *VM) execIf(op Op) (loopSignal, error) {
	if _, err := v.exec(op.Condition); err != nil {
		return signalNone, err
	}
	cond, err := v.pop("If")
	if err != nil {
		return signalNone, err
	}
	if isTruthy(cond) {
		return v.exec(op.Then)
	}
	if op.ElseOps != nil {
		return v.exec(op.ElseOps)
	}
	return signalNone, nil
}

func (v *VM) execWhile(op Op) (loopSignal, error) {
	for {
		if _, err := v.exec(op.Condition); err != nil {
			return signalNone, err
		}
		cond, err := v.pop("While")
		if err != nil {
			return signalNone, err
		}
		if !isTruthy(cond) {
			return signalNone, nil
		}
		sig, err := v.exec(op.Body)
		if err != nil {
			return signalNone, err
		}
		switch sig {
		case signalBreak:
			return signalNone, nil
		case signalReturn:
			return signalReturn, nil
		}
	}
}

func (v *VM) execLoop(op Op) (loopSignal, error) {
	for i := 0; i < op.Count; i++ {
		sig, err := v.exec(op.Body)
		if err != nil {
			return signalNone, err
		}
		switch sig {
		case signalBreak:
			return signalNone, nil
		case signalReturn:
			return signalReturn, nil
		}
	}
	return signalNone, nil
}

func (v *VM) execMatch(op Op) (loopSignal, error) {
	if _, err := v.exec(op.ValueOps); err != nil {
		return signalNone, err
	}
	value, err := v.pop("Match")
	if err != nil {
		return signalNone, err
	}
	for _, c := range op.Cases {
		if math.Abs(c.Literal-value) < epsilon {
			return v.exec(c.Ops)
		}
	}
	if op.Default != nil {
		return v.exec(op.Default)
	}
	return signalNone, nil
}

func (v *VM) execCall(op Op) error {
	fn, ok := v.functions[op.Name]
	if !ok {
		return errUndefinedFunction(op.Name)
	}
	if len(v.frames) > v.maxRecursionDepth {
		return errStackOverflow("Call")
	}
	args := make([]float64, len(fn.params))
	for i := len(fn.params) - 1; i >= 0; i-- {
		val, err := v.pop("Call")
		if err != nil {
			return err
		}
		args[i] = val
	}
	frame := make(map[string]float64, len(fn.params))
	for i, p := range fn.params {
		frame[p] = args[i]
	}
	v.frames = append(v.frames, frame)
	_, err := v.exec(fn.body)
	v.frames = v.frames[:len(v.frames)-1]
	return err
}

// --- Persistent storage ops ---

func formatValue(x float64) []byte {
	return []byte(strconv.FormatFloat(x, 'g', -1, 64))
}

func parseValue(b []byte) (float64, error) {
	return strconv.ParseFloat(string(b), 64)
}

func (v *VM) execStoreP(op Op) error {
	val, err := v.pop("StoreP")
	if err != nil {
		return err
	}
	if _, err := v.storageEngine.Set(v.authCtx, v.namespace, op.Key, formatValue(val)); err != nil {
		return errStorage("StoreP", err)
	}
	return nil
}

func (v *VM) execLoadP(op Op) error {
	raw, err := v.storageEngine.Get(v.authCtx, v.namespace, op.Key)
	if err != nil {
		return errStorage("LoadP", err)
	}
	val, err := parseValue(raw)
	if err != nil {
		return errStorage("LoadP", err)
	}
	v.push(val)
	return nil
}

func (v *VM) execLoadVersionP(op Op) error {
	raw, _, err := v.storageEngine.GetVersion(v.authCtx, v.namespace, op.Key, op.Version)
	if err != nil {
		return errStorage("LoadVersionP", err)
	}
	val, err := parseValue(raw)
	if err != nil {
		return errStorage("LoadVersionP", err)
	}
	v.push(val)
	return nil
}

func (v *VM) execListVersionsP(op Op) error {
	versions, err := v.storageEngine.ListVersions(v.authCtx, v.namespace, op.Key)
	if err != nil {
		return errStorage("ListVersionsP", err)
	}
	v.push(float64(len(versions)))
	return nil
}

func (v *VM) execDiffVersionsP(op Op) error {
	diff, err := v.storageEngine.DiffVersions(v.authCtx, v.namespace, op.Key, op.VersionA, op.VersionB)
	if err != nil {
		return errStorage("DiffVersionsP", err)
	}
	v.push(float64(diff.DeltaLen))
	return nil
}

// --- Identity ops ---

func (v *VM) execVerifyIdentity(op Op) error {
	id, ok := v.authCtx.Identity(op.Name)
	if !ok {
		return &Error{Kind: KindIdentityNotFound, Op: "VerifyIdentity", Name: op.Name}
	}
	valid := id.Verify([]byte(op.MessageText), []byte(op.Signature))
	v.push(boolToFloat(valid))
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

func (v *VM) execCheckMembership(op Op) error {
	if v.authCtx == nil {
		return &Error{Kind: KindIdentityContextUnavailable, Op: "CheckMembership"}
	}
	v.push(boolToFloat(v.authCtx.IsMember(op.Name, op.Namespace)))
	return nil
}

func (v *VM) execCheckDelegation(op Op) error {
	if v.authCtx == nil {
		return &Error{Kind: KindIdentityContextUnavailable, Op: "CheckDelegation"}
	}
	v.push(boolToFloat(v.authCtx.IsDelegate(op.From, op.To)))
	return nil
}

func (v *VM) execVerifySignature(op Op) error {
	id, ok := v.authCtx.Identity(op.Name)
	if !ok {
		return &Error{Kind: KindIdentityNotFound, Op: "VerifySignature", Name: op.Name}
	}
	_ = op.Scheme // only the Ed25519 scheme is supported (non-goal: cryptographic novelty)
	v.push(boolToFloat(id.Verify([]byte(op.MessageText), []byte(op.Signature))))
	return nil
}

func (v *VM) execRequireIdentity(op Op) error {
	if v.authCtx == nil || v.authCtx.CallerDID() != op.Name {
		return errPermissionDenied("RequireIdentity", fmt.Sprintf("caller is not %q", op.Name))
	}
	return nil
}

func (v *VM) execRequireRole(op Op) error {
	if v.authCtx == nil || !v.authCtx.HasRole(v.authCtx.CallerDID(), v.namespace, op.Role) {
		return errPermissionDenied("RequireRole", fmt.Sprintf("caller lacks role %q in %q", op.Role, v.namespace))
	}
	return nil
}

func (v *VM) execRequireValidSignature(op Op) error {
	id, ok := v.authCtx.Identity(op.Name)
	if !ok {
		return &Error{Kind: KindIdentityNotFound, Op: "RequireValidSignature", Name: op.Name}
	}
	if !id.Verify([]byte(op.MessageText), []byte(op.Signature)) {
		return &Error{Kind: KindInvalidSignature, Op: "RequireValidSignature", Name: op.Name}
	}
	return nil
}

// --- Forking ---

// Fork produces a child VM sharing this VM's StorageEngine handle but
// beginning a fresh transaction on it. The child inherits AuthContext,
// namespace, and function definitions, with an isolated stack and memory.
// Nested forks are not permitted.
func (v *VM) Fork() (*VM, error) {
	if v.activeFork != nil {
		return nil, errValidation("Fork", "a fork is already active")
	}
	if err := v.storageEngine.BeginTransaction(v.authCtx); err != nil {
		return nil, errStorage("Fork", err)
	}
	child := &VM{
		storageEngine:     v.storageEngine,
		authCtx:           v.authCtx,
		namespace:         v.namespace,
		dagLedger:         v.dagLedger,
		functions:         cloneFunctions(v.functions),
		frames:            []map[string]float64{make(map[string]float64)},
		stepLimit:         v.stepLimit,
		maxRecursionDepth: v.maxRecursionDepth,
	}
	v.activeFork = child
	return child, nil
}

func cloneFunctions(in map[string]functionDef) map[string]functionDef {
	out := make(map[string]functionDef, len(in))
	for k, f := range in {
		out[k] = f
	}
	return out
}

// CommitForkTransaction commits the transaction opened by the most recent
// Fork call on this VM.
func (v *VM) CommitForkTransaction() error {
	if v.activeFork == nil {
		return errValidation("CommitForkTransaction", "no active fork")
	}
	defer func() { v.activeFork = nil }()
	if err := v.storageEngine.CommitTransaction(v.authCtx); err != nil {
		return errStorage("CommitForkTransaction", err)
	}
	return nil
}

// RollbackForkTransaction discards the transaction opened by the most
// recent Fork call on this VM.
func (v *VM) RollbackForkTransaction() error {
	if v.activeFork == nil {
		return errValidation("RollbackForkTransaction", "no active fork")
	}
	defer func() { v.activeFork = nil }()
	if err := v.storageEngine.RollbackTransaction(v.authCtx); err != nil {
		return errStorage("RollbackForkTransaction", err)
	}
	return nil
}
