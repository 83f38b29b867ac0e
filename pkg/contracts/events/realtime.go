package events

import "github.com/shopspring/decimal"

// Tipos de mensagem do canal realtime
const (
	TypeBetSettled       = "bet.settled"
	TypeBetStatus        = "bet.status"
	TypeCashoutOffered   = "cashout.offered"
	TypeCashoutSuccess   = "cashout.success"
	TypeCashoutError     = "cashout.error"
	TypeSelectionUpdated = "selection.updated"

	// enviados pelo cliente
	TypeCashoutRequest = "cashout.request"
	TypeCashoutAccept  = "cashout.accept"
)

// RealtimeMessage é o payload enviado aos clientes WebSocket.
// A entrega é at-least-once: clientes deduplicam por BetSlipID + Type.
type RealtimeMessage struct {
	Type         string           `json:"type"`
	BetSlipID    string           `json:"betSlipId"`
	Status       string           `json:"status,omitempty"`
	CashoutOffer *decimal.Decimal `json:"cashoutOffer,omitempty"`
	ExpiresIn    *int             `json:"expiresIn,omitempty"` // segundos
	Error        string           `json:"error,omitempty"`
	EventID      string           `json:"eventId,omitempty"`
}
