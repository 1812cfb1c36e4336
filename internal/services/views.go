package services

import "bankledger/internal/models"

// MapAccountView projects an account and its history for its owner. The
// owner reference is never exposed.
func MapAccountView(account models.Account, history []models.TransactionView) models.AccountView {
	if history == nil {
		history = []models.TransactionView{}
	}
	return models.AccountView{
		ID:                 account.ID,
		AccountNumber:      account.AccountNumber,
		AvailableBalance:   account.Balance,
		TransactionHistory: history,
	}
}

func MapRedactedAccountView(account models.Account, history []models.TransactionView) models.RedactedAccountView {
	view := MapAccountView(account, history)
	return models.RedactedAccountView{
		ID:                 view.ID,
		AccountNumber:      RedactAccountNumber(account.AccountNumber),
		AvailableBalance:   view.AvailableBalance,
		TransactionHistory: view.TransactionHistory,
	}
}

// RedactAccountNumber masks every digit except the last four, keeping the
// original length. Values shorter than four characters are returned as is.
func RedactAccountNumber(number string) string {
	runes := []rune(number)
	if len(runes) < 4 {
		return number
	}
	for i := 0; i < len(runes)-4; i++ {
		if runes[i] >= '0' && runes[i] <= '9' {
			runes[i] = '*'
		}
	}
	return string(runes)
}
