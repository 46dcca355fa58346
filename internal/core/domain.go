package core

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionExpense TransactionType = "expense"
	TransactionIncome  TransactionType = "income"
	TransactionDebit   TransactionType = "debit"
	TransactionCredit  TransactionType = "credit"
)

const (
	CategoryExpense  CategoryType = "expense"
	CategoryIncome   CategoryType = "income"
	CategoryTransfer CategoryType = "transfer"
)

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPaused    SubscriptionStatus = "paused"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type (
	TransactionType    string
	CategoryType       string
	SubscriptionStatus string

	User struct {
		ID          string    `validate:"required"`
		UserID      string    `validate:"required"`
		FirstName   string
		LastName    string
		PhoneNumber string
		Avatar      *string
		DateOfBirth *string
		Occupation  *string
		CreatedAt   time.Time
		UpdatedAt   time.Time
		Synced      bool
	}

	UserInterest struct {
		ID       string `validate:"required"`
		UserID   string `validate:"required"`
		Interest string `validate:"required"`
		Synced   bool
	}

	// UserProfile is a user joined with its interest tags.
	UserProfile struct {
		User      User
		Interests []UserInterest
	}

	Account struct {
		ID        string          `validate:"required"`
		UserID    string          `validate:"required"`
		Name      string          `validate:"required"`
		Balance   decimal.Decimal // running total, adjusted by transaction posting
		Icon      string
		CreatedAt time.Time
		UpdatedAt time.Time
		Synced    bool
	}

	Category struct {
		ID        string       `validate:"required"`
		UserID    string       `validate:"required"`
		Name      string       `validate:"required"`
		Type      CategoryType `validate:"oneof=expense income transfer"`
		Icon      string
		Color     string
		CreatedAt time.Time
		Synced    bool
	}

	Subcategory struct {
		ID               string       `validate:"required"`
		UserID           string       `validate:"required"`
		Name             string       `validate:"required"`
		Type             CategoryType `validate:"omitempty,oneof=expense income transfer"`
		Color            string
		ParentCategoryID string `validate:"required"`
		CreatedAt        time.Time
		Synced           bool
	}

	CategoryWithSubcategories struct {
		Category
		Subcategories []Subcategory
	}

	// Transaction is one ledger row. Optional references use the empty string
	// for NULL.
	Transaction struct {
		ID                  string          `validate:"required"`
		UserID              string          `validate:"required"`
		Type                TransactionType `validate:"oneof=expense income debit credit"`
		CategoryID          string
		SubCategoryID       string
		Amount              decimal.Decimal `validate:"gte=0"`
		AccountID           string          `validate:"required"`
		Date                time.Time       `validate:"required"`
		Notes               string
		LinkedTransactionID string
		Synced              bool
	}

	Budget struct {
		ID          string          `validate:"required"`
		UserID      string          `validate:"required"`
		CategoryID  string          `validate:"required"`
		BudgetLimit decimal.Decimal `validate:"gte=0"`
		Month       int             `validate:"min=0,max=11"` // 0-11
		Year        int             `validate:"min=1"`
		CreatedAt   time.Time
		Synced      bool
	}

	Subscription struct {
		ID          string `validate:"required"`
		UserID      string `validate:"required"`
		Name        string `validate:"required"`
		Amount      decimal.Decimal
		CategoryID  string
		Status      SubscriptionStatus `validate:"omitempty,oneof=active paused cancelled"`
		RenewalDate time.Time
		CreatedAt   time.Time
		Synced      bool
	}

	Goal struct {
		ID                  string `validate:"required"`
		UserID              string `validate:"required"`
		Title               string `validate:"required"`
		Emoji               string
		TargetAmount        decimal.Decimal `validate:"gte=0"`
		TargetDate          time.Time       `validate:"required"`
		AccountID           string          `validate:"required"`
		IncludeBalance      bool
		MonthlyContribution decimal.Decimal
		CreatedAt           time.Time
		Synced              bool
	}
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNotTransferLeg      = errors.New("transaction is not a transfer leg")
	ErrTransferSameAccount = errors.New("transfer source and destination must differ")
	ErrUnknownTable        = errors.New("unknown table")
)

func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionExpense, TransactionIncome, TransactionDebit, TransactionCredit:
		return true
	}
	return false
}

// IsTransferLeg reports whether t is one side of a transfer pair.
func (t TransactionType) IsTransferLeg() bool {
	return t == TransactionDebit || t == TransactionCredit
}

// Counterpart returns the leg type on the other side of a transfer.
func (t TransactionType) Counterpart() TransactionType {
	switch t {
	case TransactionDebit:
		return TransactionCredit
	case TransactionCredit:
		return TransactionDebit
	}
	return t
}

// BalanceEffect returns the signed change a transaction of this type applies
// to its account balance.
func (t TransactionType) BalanceEffect(amount decimal.Decimal) decimal.Decimal {
	switch t {
	case TransactionExpense, TransactionDebit:
		return amount.Neg()
	case TransactionIncome, TransactionCredit:
		return amount
	}
	return decimal.Zero
}

func (c CategoryType) IsValid() bool {
	switch c {
	case CategoryExpense, CategoryIncome, CategoryTransfer:
		return true
	}
	return false
}

// IsTransferLeg reports whether the transaction is half of a transfer pair.
func (t Transaction) IsTransferLeg() bool {
	return t.Type.IsTransferLeg()
}

func (t Transaction) Validate() error {
	if err := ValidateStruct(t); err != nil {
		return err
	}
	if t.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func (a Account) Validate() error      { return ValidateStruct(a) }
func (c Category) Validate() error     { return ValidateStruct(c) }
func (s Subcategory) Validate() error  { return ValidateStruct(s) }
func (b Budget) Validate() error       { return ValidateStruct(b) }
func (s Subscription) Validate() error { return ValidateStruct(s) }
func (g Goal) Validate() error         { return ValidateStruct(g) }
func (u User) Validate() error         { return ValidateStruct(u) }
func (i UserInterest) Validate() error { return ValidateStruct(i) }
