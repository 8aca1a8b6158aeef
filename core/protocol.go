package core

import (
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"shieldlend/core/events"
	"shieldlend/core/state"
	"shieldlend/core/types"
	"shieldlend/crypto"
	nativecommon "shieldlend/native/common"
	"shieldlend/native/lendingpool"
	"shieldlend/native/liquidator"
	"shieldlend/native/oracle"
	"shieldlend/native/swap"
	"shieldlend/native/vault"
)

// Module treasury identifiers. Their addresses are derived deterministically
// so every node computes the same treasuries without coordination.
const (
	ModuleVault   = "vault"
	ModuleLending = "lending"
	ModuleSwap    = "swap"
	ModuleReserve = "reserve"
)

// ModuleAddress derives the treasury address for a native module.
func ModuleAddress(name string) crypto.Address {
	hash := ethcrypto.Keccak256([]byte("shieldlend/module/" + name))
	return crypto.NewAddress(crypto.ShieldPrefix, hash[12:])
}

func toAddress(raw []byte) crypto.Address {
	return crypto.NewAddress(crypto.ShieldPrefix, raw)
}

// bufferedEmitter collects events raised inside a transaction and releases
// them only after the state commit succeeds. Events from rolled-back
// transactions are dropped.
type bufferedEmitter struct {
	sink    events.Emitter
	pending []events.Event
}

func (b *bufferedEmitter) Emit(evt events.Event) {
	b.pending = append(b.pending, evt)
}

func (b *bufferedEmitter) flush() {
	for _, evt := range b.pending {
		b.sink.Emit(evt)
	}
	b.pending = nil
}

func (b *bufferedEmitter) discard() { b.pending = nil }

// vaultState adapts the state manager to the vault engine's persistence
// interface.
type vaultState struct{ m *state.Manager }

func (s vaultState) DepositGet(id uint64) (*types.Deposit, bool, error) {
	return s.m.VaultGetDeposit(id)
}
func (s vaultState) DepositPut(d *types.Deposit) error  { return s.m.VaultPutDeposit(d) }
func (s vaultState) DepositCount() (uint64, error)      { return s.m.VaultDepositCount() }
func (s vaultState) SetDepositCount(count uint64) error { return s.m.VaultSetDepositCount(count) }
func (s vaultState) NullifierSpent(n []byte) (bool, error) {
	return s.m.VaultNullifierSpent(n)
}
func (s vaultState) SpendNullifier(n []byte) error { return s.m.VaultSpendNullifier(n) }
func (s vaultState) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	return s.m.Transfer(from, to, asset, amount)
}
func (s vaultState) HasRole(role string, addr crypto.Address) (bool, error) {
	return s.m.HasRole(role, addr)
}

// lendingState adapts the state manager to the lending engine's persistence
// interface, converting between the stored and engine config shapes.
type lendingState struct{ m *state.Manager }

func (s lendingState) ConfigGet() (*lendingpool.Config, bool, error) {
	stored, ok, err := s.m.LendingGetConfig()
	if err != nil || !ok {
		return nil, false, err
	}
	return &lendingpool.Config{
		Admin:  toAddress(stored.Admin),
		Vault:  toAddress(stored.Vault),
		Oracle: toAddress(stored.Oracle),
	}, true, nil
}

func (s lendingState) ConfigPut(cfg *lendingpool.Config) error {
	return s.m.LendingPutConfig(&state.PoolConfig{
		Admin:  cfg.Admin.Bytes(),
		Vault:  cfg.Vault.Bytes(),
		Oracle: cfg.Oracle.Bytes(),
	})
}

func (s lendingState) LoanGet(id uint64) (*types.Loan, bool, error) { return s.m.LendingGetLoan(id) }
func (s lendingState) LoanPut(loan *types.Loan) error               { return s.m.LendingPutLoan(loan) }
func (s lendingState) NextLoanID() (uint64, error)                  { return s.m.LendingNextLoanID() }
func (s lendingState) SetNextLoanID(id uint64) error                { return s.m.LendingSetNextLoanID(id) }
func (s lendingState) ActiveLoanForDeposit(depositID uint64) (uint64, bool, error) {
	return s.m.LendingActiveLoanForDeposit(depositID)
}
func (s lendingState) SetActiveLoanForDeposit(depositID, loanID uint64) error {
	return s.m.LendingSetActiveLoanForDeposit(depositID, loanID)
}
func (s lendingState) ClearActiveLoanForDeposit(depositID uint64) error {
	return s.m.LendingClearActiveLoanForDeposit(depositID)
}
func (s lendingState) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	return s.m.Balance(addr, asset)
}
func (s lendingState) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	return s.m.Transfer(from, to, asset, amount)
}
func (s lendingState) HasRole(role string, addr crypto.Address) (bool, error) {
	return s.m.HasRole(role, addr)
}

// liquidatorState adapts the state manager to the liquidation engine's
// persistence interface.
type liquidatorState struct{ m *state.Manager }

func (s liquidatorState) ConfigGet() (*liquidator.Config, bool, error) {
	stored, ok, err := s.m.LiquidatorGetConfig()
	if err != nil || !ok {
		return nil, false, err
	}
	return &liquidator.Config{
		Admin: toAddress(stored.Admin),
		Pool:  toAddress(stored.Pool),
		Vault: toAddress(stored.Vault),
	}, true, nil
}

func (s liquidatorState) ConfigPut(cfg *liquidator.Config) error {
	return s.m.LiquidatorPutConfig(&state.LiquidatorConfig{
		Admin: cfg.Admin.Bytes(),
		Pool:  cfg.Pool.Bytes(),
		Vault: cfg.Vault.Bytes(),
	})
}

// swapState adapts the state manager to the swap engine's persistence
// interface.
type swapState struct{ m *state.Manager }

func (s swapState) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	return s.m.Balance(addr, asset)
}
func (s swapState) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	return s.m.Transfer(from, to, asset, amount)
}

// Options tune protocol-wide behavior at construction time.
type Options struct {
	// DepositTTL overrides the collateral record lifetime in seconds.
	DepositTTL uint64
	// MinRatioBps is the liquidation threshold in basis points.
	MinRatioBps uint64
	// MaxSlippageBps bounds the collateral swap during liquidation.
	MaxSlippageBps uint64
	// SwapFeeBps is the treasury conversion fee.
	SwapFeeBps uint64
	// QuoteAsset is the denomination used for all valuation math.
	QuoteAsset string
	// Pauses gates module entrypoints; nil leaves everything enabled.
	Pauses nativecommon.PauseView
}

// Protocol owns the state manager and the native engines and exposes every
// protocol entrypoint. All mutating entrypoints run inside a state
// transaction: on error the overlay is rolled back and buffered events are
// dropped, so no partial effects ever reach the database or subscribers.
type Protocol struct {
	mu         sync.Mutex
	manager    *state.Manager
	emitter    *bufferedEmitter
	quoteAsset string

	Vault      *vault.Engine
	Lending    *lendingpool.Engine
	Liquidator *liquidator.Engine
	Swap       *swap.Engine
}

// NewProtocol wires the native engines against the state manager. Proof
// verifiers and the oracle are attached by the caller before serving traffic.
func NewProtocol(manager *state.Manager, sink events.Emitter, opts Options) *Protocol {
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	emitter := &bufferedEmitter{sink: sink}

	quote := opts.QuoteAsset
	if quote == "" {
		quote = "USDC"
	}

	vaultEngine := vault.NewEngine(ModuleAddress(ModuleVault))
	vaultEngine.SetState(vaultState{m: manager})
	vaultEngine.SetEmitter(emitter)
	vaultEngine.SetPauses(opts.Pauses)
	if opts.DepositTTL > 0 {
		vaultEngine.SetDepositTTL(opts.DepositTTL)
	}

	lendingEngine := lendingpool.NewEngine(ModuleAddress(ModuleLending))
	lendingEngine.SetState(lendingState{m: manager})
	lendingEngine.SetVault(vaultEngine)
	lendingEngine.SetEmitter(emitter)
	lendingEngine.SetPauses(opts.Pauses)
	lendingEngine.SetReserveAddress(ModuleAddress(ModuleReserve))
	if opts.MinRatioBps > 0 {
		lendingEngine.SetMinRatioBps(opts.MinRatioBps)
	}

	swapEngine := swap.NewEngine(ModuleAddress(ModuleSwap))
	swapEngine.SetState(swapState{m: manager})
	swapEngine.SetEmitter(emitter)
	swapEngine.SetPauses(opts.Pauses)
	if opts.SwapFeeBps > 0 {
		swapEngine.SetFeeBps(opts.SwapFeeBps)
	}

	liquidatorEngine := liquidator.NewEngine(quote)
	liquidatorEngine.SetState(liquidatorState{m: manager})
	liquidatorEngine.SetLoanSource(lendingEngine)
	liquidatorEngine.SetVault(vaultEngine)
	liquidatorEngine.SetSwapper(swapEngine)
	liquidatorEngine.SetEmitter(emitter)
	liquidatorEngine.SetPauses(opts.Pauses)
	if opts.MinRatioBps > 0 {
		liquidatorEngine.SetMinRatioBps(opts.MinRatioBps)
	}
	if opts.MaxSlippageBps > 0 {
		liquidatorEngine.SetMaxSlippageBps(opts.MaxSlippageBps)
	}

	return &Protocol{
		manager:    manager,
		emitter:    emitter,
		quoteAsset: quote,
		Vault:      vaultEngine,
		Lending:    lendingEngine,
		Liquidator: liquidatorEngine,
		Swap:       swapEngine,
	}
}

// Manager exposes the underlying state manager for reads outside the
// transactional entrypoints.
func (p *Protocol) Manager() *state.Manager { return p.manager }

// AttachOracle wires the price source into the swap and liquidation engines.
// The proof-attested valuation strategy is selected unless haircutBps is
// positive, in which case valuations take the oracle floor haircut.
func (p *Protocol) AttachOracle(feed oracle.PriceOracle, haircutBps uint64) {
	p.Swap.SetOracle(feed)
	p.Liquidator.SetOracle(feed)
	if haircutBps > 0 {
		p.Liquidator.SetValuation(liquidator.OracleFloorValuation{
			Oracle:     feed,
			Quote:      p.quoteAsset,
			HaircutBps: haircutBps,
		})
		return
	}
	p.Liquidator.SetValuation(liquidator.ProofAttestedValuation{Oracle: feed, Quote: p.quoteAsset})
}

// ProofVerifier checks a serialized proof against its public inputs.
type ProofVerifier interface {
	Verify(proof []byte, publicInputs [][]byte) (bool, error)
}

// AttachVerifiers wires the per-circuit proof verifiers. The vault verifier
// covers deposit and withdrawal proofs; the loan verifier covers loan
// eligibility proofs.
func (p *Protocol) AttachVerifiers(vaultVerifier, loanVerifier ProofVerifier) {
	if vaultVerifier != nil {
		p.Vault.SetVerifier(vaultVerifier)
	}
	if loanVerifier != nil {
		p.Lending.SetVerifier(loanVerifier)
	}
}

// CheckLiquidatable reports loan health given the disclosed collateral
// amount. Read-only, no transaction needed.
func (p *Protocol) CheckLiquidatable(loanID uint64, collateralAmount *big.Int) (bool, error) {
	return p.Liquidator.CheckLiquidatable(loanID, collateralAmount)
}

// withTransaction runs fn inside a buffering state transaction. Transactions
// are serialized; buffered events are flushed only after a successful commit.
func (p *Protocol) withTransaction(fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manager.Begin()
	if err := fn(); err != nil {
		p.emitter.discard()
		_ = p.manager.Rollback()
		return err
	}
	if err := p.manager.Commit(); err != nil {
		p.emitter.discard()
		return err
	}
	p.emitter.flush()
	return nil
}

// DepositCollateral runs the vault deposit entrypoint transactionally.
func (p *Protocol) DepositCollateral(user crypto.Address, asset string, proof []byte, publicInputs [][]byte) (uint64, error) {
	var depositID uint64
	err := p.withTransaction(func() error {
		var err error
		depositID, err = p.Vault.DepositCollateral(user, asset, proof, publicInputs)
		return err
	})
	return depositID, err
}

// WithdrawWithProof runs the vault withdrawal entrypoint transactionally.
func (p *Protocol) WithdrawWithProof(caller crypto.Address, depositID uint64, proof []byte, publicInputs [][]byte) (*big.Int, string, error) {
	var (
		amount *big.Int
		asset  string
	)
	err := p.withTransaction(func() error {
		var err error
		amount, asset, err = p.Vault.WithdrawWithProof(caller, depositID, proof, publicInputs)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return amount, asset, nil
}

// RequestLoan runs the loan issuance entrypoint transactionally.
func (p *Protocol) RequestLoan(borrower crypto.Address, depositID uint64, amount *big.Int, asset string, proof []byte, publicInputs [][]byte) (uint64, error) {
	var loanID uint64
	err := p.withTransaction(func() error {
		var err error
		loanID, err = p.Lending.RequestLoan(borrower, depositID, amount, asset, proof, publicInputs)
		return err
	})
	return loanID, err
}

// RepayLoan runs the repayment entrypoint transactionally.
func (p *Protocol) RepayLoan(caller crypto.Address, loanID uint64) error {
	return p.withTransaction(func() error {
		return p.Lending.RepayLoan(caller, loanID)
	})
}

// SetOracle rotates the lending pool's oracle address transactionally.
func (p *Protocol) SetOracle(caller, oracle crypto.Address) error {
	return p.withTransaction(func() error {
		return p.Lending.SetOracle(caller, oracle)
	})
}

// LiquidateLoan runs the liquidation entrypoint transactionally: seize, swap
// and close either all land or none do.
func (p *Protocol) LiquidateLoan(liquidator crypto.Address, loanID uint64, proof []byte, publicInputs [][]byte) (*big.Int, error) {
	var proceeds *big.Int
	err := p.withTransaction(func() error {
		var err error
		proceeds, err = p.Liquidator.LiquidateLoan(liquidator, loanID, proof, publicInputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return proceeds, nil
}

// InitializeLending writes the pool configuration transactionally.
func (p *Protocol) InitializeLending(admin, vaultAddr, oracleAddr crypto.Address) error {
	return p.withTransaction(func() error {
		return p.Lending.Initialize(admin, vaultAddr, oracleAddr)
	})
}

// InitializeLiquidator writes the liquidation engine configuration
// transactionally.
func (p *Protocol) InitializeLiquidator(admin, pool, vaultAddr crypto.Address) error {
	return p.withTransaction(func() error {
		return p.Liquidator.Initialize(admin, pool, vaultAddr)
	})
}

// GrantLiquidatorRole authorizes an address to act as a liquidator.
func (p *Protocol) GrantLiquidatorRole(addr crypto.Address) error {
	return p.withTransaction(func() error {
		return p.manager.GrantRole(state.RoleLiquidator, addr)
	})
}

// RevokeLiquidatorRole removes the liquidator authorization.
func (p *Protocol) RevokeLiquidatorRole(addr crypto.Address) error {
	return p.withTransaction(func() error {
		return p.manager.RevokeRole(state.RoleLiquidator, addr)
	})
}

// Fund credits an account balance. Used by operators to seed pool liquidity,
// the protocol reserve and test accounts.
func (p *Protocol) Fund(addr crypto.Address, asset string, amount *big.Int) error {
	return p.withTransaction(func() error {
		return p.manager.Credit(addr, asset, amount)
	})
}
