package swap

import (
	"errors"
	"math/big"
	"testing"
	"time"

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
	balances map[string]*big.Int
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{balances: make(map[string]*big.Int)}
}

func (m *mockEngineState) key(addr crypto.Address, asset string) string {
	return asset + "|" + string(addr.Bytes())
}

func (m *mockEngineState) setBalance(addr crypto.Address, asset string, amount int64) {
	m.balances[m.key(addr, asset)] = big.NewInt(amount)
}

func (m *mockEngineState) Balance(addr crypto.Address, asset string) (*big.Int, error) {
	if b, ok := m.balances[m.key(addr, asset)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (m *mockEngineState) Transfer(from, to crypto.Address, asset string, amount *big.Int) error {
	fromBal, _ := m.Balance(from, asset)
	if fromBal.Cmp(amount) < 0 {
		return errors.New("insufficient balance")
	}
	toBal, _ := m.Balance(to, asset)
	m.balances[m.key(from, asset)] = fromBal.Sub(fromBal, amount)
	m.balances[m.key(to, asset)] = toBal.Add(toBal, amount)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *mockEngineState) {
	t.Helper()
	engine := NewEngine(makeAddress(0xCC))
	state := newMockEngineState()
	engine.SetState(state)

	feed := oracle.NewManualOracle()
	feed.Set("XLM", "USDC", big.NewRat(1, 2), time.Now())
	engine.SetOracle(feed)
	engine.SetFeeBps(100)
	return engine, state
}

func TestQuoteAppliesFee(t *testing.T) {
	engine, _ := newTestEngine(t)

	// 200 XLM at 0.5 is 100 USDC; the 1% fee leaves 99.
	out, err := engine.Quote("XLM", big.NewInt(200), "USDC")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if out.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("unexpected quote %s", out)
	}
}

func TestSwapMovesBothLegs(t *testing.T) {
	engine, state := newTestEngine(t)
	caller := makeAddress(0x01)
	treasury := makeAddress(0xCC)
	state.setBalance(caller, "XLM", 200)
	state.setBalance(treasury, "USDC", 1_000)

	out, err := engine.Swap(caller, "XLM", big.NewInt(200), "USDC", big.NewInt(95))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if out.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("unexpected output %s", out)
	}
	if got, _ := state.Balance(caller, "USDC"); got.Cmp(big.NewInt(99)) != 0 {
		t.Fatalf("caller USDC %s", got)
	}
	if got, _ := state.Balance(caller, "XLM"); got.Sign() != 0 {
		t.Fatalf("caller XLM %s", got)
	}
	if got, _ := state.Balance(treasury, "XLM"); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("treasury XLM %s", got)
	}
}

func TestSwapSlippageBound(t *testing.T) {
	engine, state := newTestEngine(t)
	caller := makeAddress(0x01)
	state.setBalance(caller, "XLM", 200)
	state.setBalance(makeAddress(0xCC), "USDC", 1_000)

	_, err := engine.Swap(caller, "XLM", big.NewInt(200), "USDC", big.NewInt(100))
	if !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected ErrSlippage, got %v", err)
	}
	if got, _ := state.Balance(caller, "XLM"); got.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("caller XLM moved on failed swap: %s", got)
	}
}

func TestSwapInventoryBound(t *testing.T) {
	engine, state := newTestEngine(t)
	caller := makeAddress(0x01)
	state.setBalance(caller, "XLM", 200)
	state.setBalance(makeAddress(0xCC), "USDC", 50)

	_, err := engine.Swap(caller, "XLM", big.NewInt(200), "USDC", nil)
	if !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
}

func TestSwapRejectsBadAmounts(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.Swap(makeAddress(0x01), "XLM", big.NewInt(0), "USDC", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.Swap(makeAddress(0x01), "XLM", nil, "USDC", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
}
