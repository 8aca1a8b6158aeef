package common

// RoleLiquidator authorizes an address to repay loans on a borrower's behalf
// and to seize locked collateral during liquidation.
const RoleLiquidator = "ROLE_LIQUIDATOR"
