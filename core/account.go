package core

// Account holds a participant's replay-protection nonce. Address is the
// 40-char hex encoding of the 20-byte account address; token balances live in
// the per-token balance table, not here.
type Account struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}
