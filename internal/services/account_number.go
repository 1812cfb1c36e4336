package services

import "math/rand"

const AccountNumberLength = 15

// IntSource is the randomness behind account numbers. *rand.Rand satisfies it.
type IntSource interface {
	Intn(n int) int
}

type globalSource struct{}

func (globalSource) Intn(n int) int { return rand.Intn(n) }

// AccountNumberGenerator produces 15-digit account numbers with a non-zero
// leading digit. It does not check uniqueness.
type AccountNumberGenerator struct {
	src IntSource
}

func NewAccountNumberGenerator(src IntSource) *AccountNumberGenerator {
	if src == nil {
		src = globalSource{}
	}
	return &AccountNumberGenerator{src: src}
}

func (g *AccountNumberGenerator) Generate() string {
	digits := make([]byte, AccountNumberLength)
	digits[0] = byte('1' + g.src.Intn(9))
	for i := 1; i < AccountNumberLength; i++ {
		digits[i] = byte('0' + g.src.Intn(10))
	}
	return string(digits)
}
