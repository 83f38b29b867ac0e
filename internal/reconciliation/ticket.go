package reconciliation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// TicketOpener abre um chamado no sistema de suporte e devolve o id
type TicketOpener interface {
	OpenTicket(ctx context.Context, t Ticket) (string, error)
}

type Ticket struct {
	Subject     string            `json:"subject"`
	Description string            `json:"description"`
	Priority    string            `json:"priority"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// HTTPTicketOpener faz POST do ticket em JSON; a resposta traz {"id": "..."}
type HTTPTicketOpener struct {
	url    string
	client *http.Client
}

func NewHTTPTicketOpener(url string, client *http.Client) *HTTPTicketOpener {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTicketOpener{url: url, client: client}
}

func (h *HTTPTicketOpener) OpenTicket(ctx context.Context, t Ticket) (string, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("open ticket: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("open ticket: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("open ticket: decode: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("open ticket: empty ticket id")
	}
	return out.ID, nil
}
