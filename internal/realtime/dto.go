package realtime

import "github.com/shopspring/decimal"

// Tipos de mensagem aceitos do cliente
const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
	MsgPong        = "pong"
	MsgError       = "error"
)

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping | cashout.request | cashout.accept
// BetSlipID: obrigatório exceto em ping
type ClientMsg struct {
	Type         string           `json:"type"`
	BetSlipID    string           `json:"betSlipId"`
	CashoutOffer *decimal.Decimal `json:"cashoutOffer,omitempty"` // só em cashout.accept
}

// ErrorMsg é a resposta direta a um comando inválido do próprio cliente
type ErrorMsg struct {
	Type      string `json:"type"`
	BetSlipID string `json:"betSlipId,omitempty"`
	Error     string `json:"error"`
}
