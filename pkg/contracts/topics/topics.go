package topics

const (
	// Odds
	OddsUpdates = "odds_updates"

	// Carteira (depósitos/saques gravados no ledger)
	WalletTransactions = "wallet_transactions"

	// Alertas de segurança
	SecurityAlerts = "security_alerts"

	// DLQs
	WalletTransactionsDLQ = "wallet_transactions_dlq"
)
