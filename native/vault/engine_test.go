package vault

import (
	"bytes"
	"errors"
	"math"
	"math/big"
	"testing"

	"shieldlend/core/types"
	"shieldlend/crypto"
	nativecommon "shieldlend/native/common"
)

func makeAddress(fill byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.ShieldPrefix, raw)
}

type mockEngineState struct {
	deposits   map[uint64]*types.Deposit
	count      uint64
	nullifiers map[string]bool
	balances   map[string]*big.Int
	roles      map[string]bool
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		deposits:   make(map[uint64]*types.Deposit),
		nullifiers: make(map[string]bool),
		balances:   make(map[string]*big.Int),
		roles:      make(map[string]bool),
	}
}

func (m *mockEngineState) balanceKey(addr crypto.Address, asset string) string {
	return asset + "|" + string(addr.Bytes())
}

func (m *mockEngineState) setBalance(addr crypto.Address, asset string, amount int64) {
	m.balances[m.balanceKey(addr, asset)] = big.NewInt(amount)
}

func (m *mockEngineState) balance(addr crypto.Address, asset string) *big.Int {
	if b, ok := m.balances[m.balanceKey(addr, asset)]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *mockEngineState) DepositGet(id uint64) (*types.Deposit, bool, error) {
	deposit, ok := m.deposits[id]
	if !ok {
		return nil, false, nil
	}
	return deposit.Clone(), true, nil
}

func (m *mockEngineState) DepositPut(deposit *types.Deposit) error {
	m.deposits[deposit.ID] = deposit.Clone()
	return nil
}

func (m *mockEngineState) DepositCount() (uint64, error)         { return m.count, nil }
func (m *mockEngineState) SetDepositCount(count uint64) error    { m.count = count; return nil }
func (m *mockEngineState) NullifierSpent(n []byte) (bool, error) { return m.nullifiers[string(n)], nil }
func (m *mockEngineState) SpendNullifier(n []byte) error         { m.nullifiers[string(n)] = true; return nil }

func (m *mockEngineState) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	fromBal := m.balance(from, asset)
	if fromBal.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	m.balances[m.balanceKey(from, asset)] = new(big.Int).Sub(fromBal, amount)
	m.balances[m.balanceKey(to, asset)] = new(big.Int).Add(m.balance(to, asset), amount)
	return nil
}

func (m *mockEngineState) HasRole(role string, addr crypto.Address) (bool, error) {
	return m.roles[role+"|"+string(addr.Bytes())], nil
}

func (m *mockEngineState) grantRole(role string, addr crypto.Address) {
	m.roles[role+"|"+string(addr.Bytes())] = true
}

type stubVerifier struct {
	ok    bool
	err   error
	calls int
}

func (s *stubVerifier) Verify(proof []byte, publicInputs [][]byte) (bool, error) {
	s.calls++
	return s.ok, s.err
}

func validProof() []byte {
	proof := make([]byte, 256)
	for i := range proof {
		proof[i] = byte(i + 1)
	}
	return proof
}

func depositInputs(commitment []byte) [][]byte {
	return [][]byte{commitment, {0xFE, 0xED}}
}

func TestDepositSequenceIDs(t *testing.T) {
	user := makeAddress(0x01)
	engine := NewEngine(makeAddress(0xAA))
	state := newMockEngineState()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_000 })

	for want := uint64(1); want <= 3; want++ {
		commitment := []byte{byte(want), 0x10}
		id, err := engine.DepositCollateral(user, "XLM", validProof(), depositInputs(commitment))
		if err != nil {
			t.Fatalf("deposit %d: %v", want, err)
		}
		if id != want {
			t.Fatalf("expected deposit id %d, got %d", want, id)
		}
	}

	count, err := engine.DepositCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}

	stored, ok, err := engine.Commitment(2)
	if err != nil || !ok {
		t.Fatalf("commitment lookup: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(stored, []byte{2, 0x10}) {
		t.Fatalf("unexpected commitment %x", stored)
	}
}

func TestDepositMovesNoTokens(t *testing.T) {
	user := makeAddress(0x01)
	vaultAddr := makeAddress(0xAA)
	engine := NewEngine(vaultAddr)
	state := newMockEngineState()
	engine.SetState(state)
	state.setBalance(user, "XLM", 700)

	if _, err := engine.DepositCollateral(user, "XLM", validProof(), depositInputs([]byte{0xC1})); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// The amount stays hidden inside the commitment, so the deposit cannot
	// move tokens; the treasury is provisioned separately.
	if got := state.balance(user, "XLM"); got.Cmp(big.NewInt(700)) != 0 {
		t.Fatalf("user balance moved to %s on deposit", got)
	}
	if got := state.balance(vaultAddr, "XLM"); got.Sign() != 0 {
		t.Fatalf("vault treasury credited %s on deposit", got)
	}
}

func TestDepositUnknownIDAbsent(t *testing.T) {
	engine := NewEngine(makeAddress(0xAA))
	engine.SetState(newMockEngineState())

	_, ok, err := engine.Deposit(99)
	if err != nil {
		t.Fatalf("deposit read: %v", err)
	}
	if ok {
		t.Fatal("expected absent deposit")
	}
}

func TestDepositRejectsMissingProof(t *testing.T) {
	engine := NewEngine(makeAddress(0xAA))
	state := newMockEngineState()
	engine.SetState(state)

	if _, err := engine.DepositCollateral(makeAddress(0x01), "XLM", nil, depositInputs([]byte{1})); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
	if _, err := engine.DepositCollateral(makeAddress(0x01), "XLM", make([]byte, 256), depositInputs([]byte{1})); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof for zero sentinel, got %v", err)
	}
	if state.count != 0 {
		t.Fatalf("counter moved on failure: %d", state.count)
	}
}

func TestDepositRejectsShortInputs(t *testing.T) {
	engine := NewEngine(makeAddress(0xAA))
	engine.SetState(newMockEngineState())

	_, err := engine.DepositCollateral(makeAddress(0x01), "XLM", validProof(), [][]byte{{0x01}})
	if !errors.Is(err, ErrInvalidInputs) {
		t.Fatalf("expected ErrInvalidInputs, got %v", err)
	}
}

func TestDepositCounterOverflow(t *testing.T) {
	engine := NewEngine(makeAddress(0xAA))
	state := newMockEngineState()
	state.count = math.MaxUint64
	engine.SetState(state)

	_, err := engine.DepositCollateral(makeAddress(0x01), "XLM", validProof(), depositInputs([]byte{1}))
	if !errors.Is(err, ErrCounterOverflow) {
		t.Fatalf("expected ErrCounterOverflow, got %v", err)
	}
	if len(state.deposits) != 0 {
		t.Fatal("deposit stored despite overflow")
	}
	if state.count != math.MaxUint64 {
		t.Fatal("counter mutated despite overflow")
	}
}

func TestDepositVerifierRejection(t *testing.T) {
	engine := NewEngine(makeAddress(0xAA))
	state := newMockEngineState()
	engine.SetState(state)
	verifier := &stubVerifier{ok: false}
	engine.SetVerifier(verifier)

	_, err := engine.DepositCollateral(makeAddress(0x01), "XLM", validProof(), depositInputs([]byte{1}))
	if !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
	if verifier.calls != 1 {
		t.Fatalf("expected verifier consulted once, got %d", verifier.calls)
	}
	if len(state.deposits) != 0 {
		t.Fatal("deposit stored despite rejected proof")
	}
}

func TestDepositPauseGuard(t *testing.T) {
	engine := NewEngine(makeAddress(0xAA))
	engine.SetState(newMockEngineState())
	engine.SetPauses(stubPauseView{modules: map[string]bool{"vault": true}})

	_, err := engine.DepositCollateral(makeAddress(0x01), "XLM", validProof(), depositInputs([]byte{1}))
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func withdrawInputsFor(commitment []byte, nullifier []byte, amount int64) [][]byte {
	return [][]byte{nullifier, commitment, big.NewInt(amount).Bytes()}
}

func seedDeposit(t *testing.T, engine *Engine, state *mockEngineState, owner crypto.Address, commitment []byte) uint64 {
	t.Helper()
	id, err := engine.DepositCollateral(owner, "XLM", validProof(), depositInputs(commitment))
	if err != nil {
		t.Fatalf("seed deposit: %v", err)
	}
	return id
}

func TestWithdrawOwnerFlow(t *testing.T) {
	owner := makeAddress(0x01)
	vaultAddr := makeAddress(0xAA)
	engine := NewEngine(vaultAddr)
	state := newMockEngineState()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return 1_000 })

	commitment := []byte{0xC0, 0xFF}
	id := seedDeposit(t, engine, state, owner, commitment)

	engine.SetVerifier(&stubVerifier{ok: true})
	state.setBalance(vaultAddr, "XLM", 500)

	amount, asset, err := engine.WithdrawWithProof(owner, id, validProof(), withdrawInputsFor(commitment, []byte{0x11}, 120))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("unexpected amount %s", amount)
	}
	if asset != "XLM" {
		t.Fatalf("unexpected asset %q", asset)
	}
	if got := state.balance(owner, "XLM"); got.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("owner balance %s", got)
	}
	if got := state.balance(vaultAddr, "XLM"); got.Cmp(big.NewInt(380)) != 0 {
		t.Fatalf("vault balance %s", got)
	}
	if state.deposits[id].Status != types.DepositReleased {
		t.Fatalf("expected released status, got %s", state.deposits[id].Status)
	}

	spent, err := engine.CheckNullifier([]byte{0x11})
	if err != nil || !spent {
		t.Fatalf("expected spent nullifier, spent=%v err=%v", spent, err)
	}

	// Reusing the nullifier on the released deposit must fail.
	_, _, err = engine.WithdrawWithProof(owner, id, validProof(), withdrawInputsFor(commitment, []byte{0x11}, 120))
	if !errors.Is(err, ErrNullifierSpent) {
		t.Fatalf("expected ErrNullifierSpent, got %v", err)
	}
}

func TestWithdrawCommitmentMismatch(t *testing.T) {
	owner := makeAddress(0x01)
	engine := NewEngine(makeAddress(0xAA))
	state := newMockEngineState()
	engine.SetState(state)
	engine.SetVerifier(&stubVerifier{ok: true})

	id := seedDeposit(t, engine, state, owner, []byte{0xC0})

	_, _, err := engine.WithdrawWithProof(owner, id, validProof(), withdrawInputsFor([]byte{0xDD}, []byte{0x11}, 50))
	if !errors.Is(err, ErrCommitmentMismatch) {
		t.Fatalf("expected ErrCommitmentMismatch, got %v", err)
	}
	if spent, _ := engine.CheckNullifier([]byte{0x11}); spent {
		t.Fatal("nullifier spent despite failed withdraw")
	}
}

func TestWithdrawLockedRequiresLiquidator(t *testing.T) {
	owner := makeAddress(0x01)
	liquidator := makeAddress(0x02)
	vaultAddr := makeAddress(0xAA)
	engine := NewEngine(vaultAddr)
	state := newMockEngineState()
	engine.SetState(state)
	engine.SetVerifier(&stubVerifier{ok: true})

	commitment := []byte{0xC0}
	id := seedDeposit(t, engine, state, owner, commitment)
	if err := engine.LockDeposit(id); err != nil {
		t.Fatalf("lock: %v", err)
	}
	state.setBalance(vaultAddr, "XLM", 500)

	_, _, err := engine.WithdrawWithProof(owner, id, validProof(), withdrawInputsFor(commitment, []byte{0x11}, 100))
	if !errors.Is(err, ErrDepositLocked) {
		t.Fatalf("expected ErrDepositLocked for owner, got %v", err)
	}

	state.grantRole(nativecommon.RoleLiquidator, liquidator)
	amount, _, err := engine.WithdrawWithProof(liquidator, id, validProof(), withdrawInputsFor(commitment, []byte{0x11}, 100))
	if err != nil {
		t.Fatalf("liquidator withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("unexpected amount %s", amount)
	}
	if state.deposits[id].Status != types.DepositSeized {
		t.Fatalf("expected seized status, got %s", state.deposits[id].Status)
	}
}

func TestWithdrawUnknownDeposit(t *testing.T) {
	engine := NewEngine(makeAddress(0xAA))
	engine.SetState(newMockEngineState())
	engine.SetVerifier(&stubVerifier{ok: true})

	_, _, err := engine.WithdrawWithProof(makeAddress(0x01), 42, validProof(), withdrawInputsFor([]byte{1}, []byte{2}, 10))
	if !errors.Is(err, ErrDepositNotFound) {
		t.Fatalf("expected ErrDepositNotFound, got %v", err)
	}
}

func TestLockTransitions(t *testing.T) {
	owner := makeAddress(0x01)
	engine := NewEngine(makeAddress(0xAA))
	state := newMockEngineState()
	engine.SetState(state)

	id := seedDeposit(t, engine, state, owner, []byte{0xC0})

	if err := engine.LockDeposit(id); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := engine.LockDeposit(id); !errors.Is(err, ErrDepositLocked) {
		t.Fatalf("expected ErrDepositLocked on double lock, got %v", err)
	}
	if err := engine.ReleaseDeposit(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := engine.LockDeposit(id); !errors.Is(err, ErrDepositConsumed) {
		t.Fatalf("expected ErrDepositConsumed after release, got %v", err)
	}
	if err := engine.SeizeDeposit(id); !errors.Is(err, ErrDepositConsumed) {
		t.Fatalf("expected ErrDepositConsumed seizing released deposit, got %v", err)
	}
}
