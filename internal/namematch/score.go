// Package namematch compara o nome do titular da conta de destino de um saque
// com o nome legal do KYC. É usado apenas como gate de saque.
package namematch

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

type Decision string

const (
	Approved     Decision = "approved"
	ManualReview Decision = "manual_review"
	Rejected     Decision = "rejected"
)

const (
	ApproveAt = 85
	ReviewAt  = 60
)

// Normalize: minúsculas, só letras/dígitos, espaços colapsados
func Normalize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// Score devolve a similaridade [0,100] por distância de edição normalizada
func Score(a, b string) int {
	return scoreNormalized(Normalize(a), Normalize(b))
}

func scoreNormalized(na, nb string) int {
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	maxLen := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	d := levenshtein.ComputeDistance(na, nb)
	return int(math.Round((1 - float64(d)/float64(maxLen)) * 100))
}

func Decide(score int) Decision {
	switch {
	case score >= ApproveAt:
		return Approved
	case score >= ReviewAt:
		return ManualReview
	default:
		return Rejected
	}
}
