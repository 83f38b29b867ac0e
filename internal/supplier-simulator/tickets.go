package simulator

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/reconciliation"
)

type storedTicket struct {
	ID string `json:"id"`
	reconciliation.Ticket
}

// Tickets é o sistema de suporte de mentira usado pela conciliação
type Tickets struct {
	log *zap.Logger

	mu   sync.Mutex
	seq  int
	list []storedTicket
}

func NewTickets(log *zap.Logger) *Tickets {
	return &Tickets{log: log, seq: 1000}
}

func (t *Tickets) All() []storedTicket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]storedTicket, len(t.list))
	copy(out, t.list)
	return out
}

func (t *Tickets) handleOpen(w http.ResponseWriter, r *http.Request) {
	var in reconciliation.Ticket
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || strings.TrimSpace(in.Subject) == "" {
		http.Error(w, "subject required", http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	t.seq++
	st := storedTicket{ID: fmt.Sprintf("SUP-%d", t.seq), Ticket: in}
	t.list = append(t.list, st)
	t.mu.Unlock()

	ticketsOpened.Inc()
	t.log.Info("support ticket opened", zap.String("ticket_id", st.ID), zap.String("priority", in.Priority))
	writeJSON(w, http.StatusCreated, map[string]string{"id": st.ID})
}

func (t *Tickets) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.All())
}
