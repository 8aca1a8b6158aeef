package state

// LiquidatorConfig is the liquidation engine's instance configuration, written
// once at initialization.
type LiquidatorConfig struct {
	Admin []byte
	Pool  []byte
	Vault []byte
}

// LiquidatorGetConfig loads the liquidation engine configuration if set.
func (m *Manager) LiquidatorGetConfig() (*LiquidatorConfig, bool, error) {
	cfg := new(LiquidatorConfig)
	ok, err := m.getRecord(liquidatorConfigKey, cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

// LiquidatorPutConfig persists the liquidation engine configuration.
func (m *Manager) LiquidatorPutConfig(cfg *LiquidatorConfig) error {
	return m.putRecord(liquidatorConfigKey, cfg)
}
