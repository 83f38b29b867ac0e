package events

import "time"

// Odds do mercado 1x2
type Odds struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw"`
	Away float64 `json:"away"`
}

// OddsUpdate é publicado no tópico "odds_updates" pelo ingest de cada provedor
type OddsUpdate struct {
	EventID   string    `json:"event_id"`
	HomeTeam  string    `json:"home_team"`
	AwayTeam  string    `json:"away_team"`
	Market    string    `json:"market"` // "1x2"
	Odds      Odds      `json:"odds"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`  // provedor de origem, ex: "primary"
	Version   int       `json:"version"` // incrementado a cada atualização
}

// Selections devolve as odds por seleção ("home" | "draw" | "away")
func (u OddsUpdate) Selections() map[string]float64 {
	return map[string]float64{
		"home": u.Odds.Home,
		"draw": u.Odds.Draw,
		"away": u.Odds.Away,
	}
}
