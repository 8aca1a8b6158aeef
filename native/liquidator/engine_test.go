package liquidator

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"shieldlend/core/types"
	"shieldlend/crypto"
	"shieldlend/native/oracle"
)

func makeAddress(fill byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(crypto.ShieldPrefix, raw)
}

type mockEngineState struct {
	cfg *Config
}

func (m *mockEngineState) ConfigGet() (*Config, bool, error) {
	if m.cfg == nil {
		return nil, false, nil
	}
	cfg := *m.cfg
	return &cfg, true, nil
}

func (m *mockEngineState) ConfigPut(cfg *Config) error {
	copied := *cfg
	m.cfg = &copied
	return nil
}

type fakeLoans struct {
	loans  map[uint64]*types.Loan
	closed map[uint64]*big.Int
}

func newFakeLoans() *fakeLoans {
	return &fakeLoans{loans: make(map[uint64]*types.Loan), closed: make(map[uint64]*big.Int)}
}

func (f *fakeLoans) Loan(loanID uint64) (*types.Loan, bool, error) {
	loan, ok := f.loans[loanID]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (f *fakeLoans) CloseAsLiquidated(liquidator crypto.Address, loanID uint64, proceeds *big.Int) error {
	loan, ok := f.loans[loanID]
	if !ok {
		return errors.New("unknown loan")
	}
	loan.Status = types.LoanLiquidated
	f.closed[loanID] = new(big.Int).Set(proceeds)
	return nil
}

type fakeVault struct {
	deposits  map[uint64]*types.Deposit
	withdrawn map[uint64]*big.Int
	failSeize error
}

func newFakeVault() *fakeVault {
	return &fakeVault{deposits: make(map[uint64]*types.Deposit), withdrawn: make(map[uint64]*big.Int)}
}

func (f *fakeVault) Deposit(depositID uint64) (*types.Deposit, bool, error) {
	d, ok := f.deposits[depositID]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (f *fakeVault) WithdrawWithProof(caller crypto.Address, depositID uint64, proof []byte, publicInputs [][]byte) (*big.Int, string, error) {
	if f.failSeize != nil {
		return nil, "", f.failSeize
	}
	d, ok := f.deposits[depositID]
	if !ok {
		return nil, "", errors.New("unknown deposit")
	}
	amount := new(big.Int).SetBytes(publicInputs[2])
	f.withdrawn[depositID] = amount
	d.Status = types.DepositSeized
	return amount, d.Asset, nil
}

type fakeSwapper struct {
	out     *big.Int
	gotMin  *big.Int
	failErr error
}

func (f *fakeSwapper) Swap(caller crypto.Address, assetIn string, amountIn *big.Int, assetOut string, minOut *big.Int) (*big.Int, error) {
	f.gotMin = new(big.Int).Set(minOut)
	if f.failErr != nil {
		return nil, f.failErr
	}
	if f.out != nil {
		return new(big.Int).Set(f.out), nil
	}
	return new(big.Int).Set(minOut), nil
}

func validProof() []byte {
	proof := make([]byte, 256)
	for i := range proof {
		proof[i] = byte(i + 1)
	}
	return proof
}

func withdrawInputs(commitment []byte, amount int64) [][]byte {
	return [][]byte{{0x11}, commitment, big.NewInt(amount).Bytes()}
}

type testEnv struct {
	engine  *Engine
	state   *mockEngineState
	loans   *fakeLoans
	vault   *fakeVault
	swapper *fakeSwapper
	feed    *oracle.ManualOracle
}

// newTestEnv wires a loan of 100 USDC against deposit 7 holding XLM priced at
// 0.5 USDC. The default 150% threshold needs collateral worth 150 USDC, so a
// disclosed amount of 300 XLM sits exactly at the boundary.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	engine := NewEngine("USDC")
	state := &mockEngineState{}
	loans := newFakeLoans()
	vault := newFakeVault()
	swapper := &fakeSwapper{}
	feed := oracle.NewManualOracle()
	feed.Set("XLM", "USDC", big.NewRat(1, 2), time.Now())
	feed.Set("USDC", "USDC", big.NewRat(1, 1), time.Now())

	engine.SetState(state)
	engine.SetLoanSource(loans)
	engine.SetVault(vault)
	engine.SetOracle(feed)
	engine.SetSwapper(swapper)
	engine.SetValuation(ProofAttestedValuation{Oracle: feed, Quote: "USDC"})
	if err := engine.Initialize(makeAddress(0x0A), makeAddress(0xBB), makeAddress(0xAA)); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	loans.loans[1] = &types.Loan{
		ID:        1,
		Borrower:  makeAddress(0x01).Bytes(),
		Amount:    big.NewInt(100),
		Asset:     "USDC",
		DepositID: 7,
		Status:    types.LoanActive,
	}
	vault.deposits[7] = &types.Deposit{
		ID:         7,
		Commitment: []byte{0xC0},
		Owner:      makeAddress(0x01).Bytes(),
		Asset:      "XLM",
		Status:     types.DepositLocked,
	}
	return &testEnv{engine: engine, state: state, loans: loans, vault: vault, swapper: swapper, feed: feed}
}

func TestInitializeFirstWriteWins(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.Initialize(makeAddress(0xDD), makeAddress(0xBB), makeAddress(0xAA)); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if env.state.cfg.Admin.Equal(makeAddress(0xDD)) {
		t.Fatal("stored admin overwritten by second initialize")
	}
}

func TestCheckLiquidatableThreshold(t *testing.T) {
	env := newTestEnv(t)

	// 300 XLM at 0.5 covers exactly 150% of a 100 USDC debt.
	liq, err := env.engine.CheckLiquidatable(1, big.NewInt(300))
	if err != nil {
		t.Fatalf("check at boundary: %v", err)
	}
	if liq {
		t.Fatal("boundary position reported liquidatable")
	}

	liq, err = env.engine.CheckLiquidatable(1, big.NewInt(299))
	if err != nil {
		t.Fatalf("check below boundary: %v", err)
	}
	if !liq {
		t.Fatal("undercollateralized position reported healthy")
	}
}

func TestCheckLiquidatableClosedLoan(t *testing.T) {
	env := newTestEnv(t)
	env.loans.loans[1].Status = types.LoanRepaid

	liq, err := env.engine.CheckLiquidatable(1, big.NewInt(1))
	if err != nil {
		t.Fatalf("check closed: %v", err)
	}
	if liq {
		t.Fatal("closed loan reported liquidatable")
	}

	if _, err := env.engine.CheckLiquidatable(42, big.NewInt(1)); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound, got %v", err)
	}
}

func TestLiquidateHealthyLoanUntouched(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.LiquidateLoan(makeAddress(0x02), 1, validProof(), withdrawInputs([]byte{0xC0}, 300))
	if !errors.Is(err, ErrLoanHealthy) {
		t.Fatalf("expected ErrLoanHealthy, got %v", err)
	}
	if len(env.vault.withdrawn) != 0 {
		t.Fatal("collateral withdrawn from healthy loan")
	}
	if env.loans.loans[1].Status != types.LoanActive {
		t.Fatal("healthy loan closed")
	}
}

func TestLiquidateUnhealthyLoan(t *testing.T) {
	env := newTestEnv(t)
	liquidator := makeAddress(0x02)

	proceeds, err := env.engine.LiquidateLoan(liquidator, 1, validProof(), withdrawInputs([]byte{0xC0}, 180))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	// 180 XLM at 0.5 is 90 USDC; the 1% slippage bound floors minOut at 89.
	if env.swapper.gotMin.Cmp(big.NewInt(89)) != 0 {
		t.Fatalf("unexpected minOut %s", env.swapper.gotMin)
	}
	if proceeds.Cmp(big.NewInt(89)) != 0 {
		t.Fatalf("unexpected proceeds %s", proceeds)
	}
	if env.loans.loans[1].Status != types.LoanLiquidated {
		t.Fatal("loan not closed")
	}
	if env.loans.closed[1].Cmp(proceeds) != 0 {
		t.Fatalf("close recorded %s", env.loans.closed[1])
	}
	if env.vault.withdrawn[7].Cmp(big.NewInt(180)) != 0 {
		t.Fatalf("withdrawn %s", env.vault.withdrawn[7])
	}
}

func TestLiquidateSameAssetSkipsSwap(t *testing.T) {
	env := newTestEnv(t)
	env.vault.deposits[7].Asset = "USDC"

	proceeds, err := env.engine.LiquidateLoan(makeAddress(0x02), 1, validProof(), withdrawInputs([]byte{0xC0}, 90))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if proceeds.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("unexpected proceeds %s", proceeds)
	}
	if env.swapper.gotMin != nil {
		t.Fatal("swap invoked for same-asset collateral")
	}
}

func TestLiquidateSwapFailureWrapped(t *testing.T) {
	env := newTestEnv(t)
	env.swapper.failErr = errors.New("pool dry")

	_, err := env.engine.LiquidateLoan(makeAddress(0x02), 1, validProof(), withdrawInputs([]byte{0xC0}, 180))
	if !errors.Is(err, ErrLiquidateFailed) {
		t.Fatalf("expected ErrLiquidateFailed, got %v", err)
	}
}

func TestLiquidateSeizeFailureWrapped(t *testing.T) {
	env := newTestEnv(t)
	env.vault.failSeize = errors.New("nullifier already spent")

	_, err := env.engine.LiquidateLoan(makeAddress(0x02), 1, validProof(), withdrawInputs([]byte{0xC0}, 180))
	if !errors.Is(err, ErrLiquidateFailed) {
		t.Fatalf("expected ErrLiquidateFailed, got %v", err)
	}
	if env.loans.loans[1].Status != types.LoanActive {
		t.Fatal("loan closed despite failed seize")
	}
}

func TestLiquidateClosedLoan(t *testing.T) {
	env := newTestEnv(t)
	env.loans.loans[1].Status = types.LoanLiquidated

	_, err := env.engine.LiquidateLoan(makeAddress(0x02), 1, validProof(), withdrawInputs([]byte{0xC0}, 180))
	if !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("expected ErrLoanNotActive, got %v", err)
	}
}

func TestOracleFloorValuationHaircut(t *testing.T) {
	feed := oracle.NewManualOracle()
	feed.Set("XLM", "USDC", big.NewRat(1, 2), time.Now())

	floor := OracleFloorValuation{Oracle: feed, Quote: "USDC", HaircutBps: 1_000}
	value, err := floor.Value("XLM", big.NewInt(200))
	if err != nil {
		t.Fatalf("floor value: %v", err)
	}
	// 200 XLM at 0.5 is 100 USDC; a 10% haircut leaves 90.
	if value.Cmp(big.NewRat(90, 1)) != 0 {
		t.Fatalf("unexpected floor value %s", value)
	}

	if _, err := (OracleFloorValuation{Oracle: feed, Quote: "USDC", HaircutBps: 10_000}).Value("XLM", big.NewInt(1)); !errors.Is(err, ErrNoValuation) {
		t.Fatalf("expected ErrNoValuation for full haircut, got %v", err)
	}
}
