package types

// Account is one named balance holder on the token ledger. Balances are held
// per supported token in base units.
type Account struct {
	Nonce      uint64 `json:"nonce"`
	BalanceGIG uint64 `json:"balanceGIG"`
	BalanceUSD uint64 `json:"balanceUSD"`
}
