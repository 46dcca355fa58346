package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"moneta/internal/core"
	applog "moneta/internal/log"
	"moneta/internal/storage"
)

// ChangeNotifier is told about committed ledger changes. Delivery is best
// effort: the rows are already dirty, so a lost notice only delays sync.
type ChangeNotifier interface {
	NotifyChange(ctx context.Context, table, id, op string) error
}

// TransferInput describes money moved between two accounts of one user.
type TransferInput struct {
	UserID        string          `validate:"required"`
	FromAccountID string          `validate:"required"`
	ToAccountID   string          `validate:"required"`
	Amount        decimal.Decimal `validate:"gt=0"`
	Date          time.Time       `validate:"required"`
	CategoryID    string
	Notes         string
}

type change struct {
	table storage.Table
	id    string
	op    string
}

// LedgerService posts, edits and deletes transactions together with the
// account balance changes they imply, so balances never drift from the
// ledger. Transfers are always written as a linked debit/credit pair.
type LedgerService struct {
	store        *storage.Store
	accounts     *storage.AccountRepository
	transactions *storage.TransactionRepository
	notifier     ChangeNotifier
	log          *applog.Logger
}

func NewLedgerService(store *storage.Store, notifier ChangeNotifier, logger *applog.Logger) *LedgerService {
	return &LedgerService{
		store:        store,
		accounts:     storage.NewAccountRepository(store),
		transactions: storage.NewTransactionRepository(store),
		notifier:     notifier,
		log:          applog.OrDefault(logger, applog.ComponentLedger).WithComponent(applog.ComponentLedger),
	}
}

// PostTransaction records an expense or income and applies it to the
// account balance.
func (s *LedgerService) PostTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if t.IsTransferLeg() {
		return t, fmt.Errorf("post transaction: %w: use PostTransfer for %s", core.ErrInvalidInput, t.Type)
	}
	if !t.Amount.IsPositive() {
		return t, fmt.Errorf("post transaction: %w", core.ErrInvalidAmount)
	}
	if t.ID == "" {
		t.ID = core.NewID()
	}
	t.LinkedTransactionID = ""
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("post transaction: %w", err)
	}

	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		if err := s.transactions.WithTx(tx).Add(ctx, t); err != nil {
			return err
		}
		_, err := s.accounts.WithTx(tx).AdjustBalance(ctx, t.AccountID, t.UserID, t.Type.BalanceEffect(t.Amount))
		return err
	})
	if err != nil {
		return t, fmt.Errorf("post transaction: %w", err)
	}

	s.log.InfoContext(ctx, "Transaction posted",
		applog.FieldOperation, applog.OpCreate,
		applog.FieldID, t.ID,
		applog.FieldAccountID, t.AccountID,
		applog.FieldAmount, t.Amount.String())
	s.notify(ctx,
		change{storage.TableTransactions, t.ID, applog.OpCreate},
		change{storage.TableAccounts, t.AccountID, applog.OpUpdate})
	return t, nil
}

// PostTransfer writes the debit leg on the source account and the credit leg
// on the destination, mutually linked, and moves the balance in one
// transaction.
func (s *LedgerService) PostTransfer(ctx context.Context, in TransferInput) (debit, credit core.Transaction, err error) {
	if in.FromAccountID != "" && in.FromAccountID == in.ToAccountID {
		return debit, credit, fmt.Errorf("post transfer: %w", core.ErrTransferSameAccount)
	}
	if !in.Amount.IsPositive() {
		return debit, credit, fmt.Errorf("post transfer: %w", core.ErrInvalidAmount)
	}
	if err := core.ValidateStruct(in); err != nil {
		return debit, credit, fmt.Errorf("post transfer: %w", err)
	}

	debit = core.Transaction{
		ID: core.NewID(), UserID: in.UserID, Type: core.TransactionDebit, CategoryID: in.CategoryID,
		Amount: in.Amount, AccountID: in.FromAccountID, Date: in.Date, Notes: in.Notes,
	}
	credit = core.Transaction{
		ID: core.NewID(), UserID: in.UserID, Type: core.TransactionCredit, CategoryID: in.CategoryID,
		Amount: in.Amount, AccountID: in.ToAccountID, Date: in.Date, Notes: in.Notes,
		LinkedTransactionID: debit.ID,
	}

	err = s.store.InTx(ctx, func(tx *sql.Tx) error {
		txs := s.transactions.WithTx(tx)
		accounts := s.accounts.WithTx(tx)

		// The debit row must exist before the credit can reference it.
		if err := txs.Add(ctx, debit); err != nil {
			return err
		}
		if err := txs.Add(ctx, credit); err != nil {
			return err
		}
		if err := txs.SetLink(ctx, debit.ID, credit.ID); err != nil {
			return err
		}
		if _, err := accounts.AdjustBalance(ctx, debit.AccountID, in.UserID, debit.Type.BalanceEffect(in.Amount)); err != nil {
			return err
		}
		_, err := accounts.AdjustBalance(ctx, credit.AccountID, in.UserID, credit.Type.BalanceEffect(in.Amount))
		return err
	})
	if err != nil {
		return core.Transaction{}, core.Transaction{}, fmt.Errorf("post transfer: %w", err)
	}
	debit.LinkedTransactionID = credit.ID

	s.log.InfoContext(ctx, "Transfer posted",
		applog.FieldOperation, applog.OpCreate,
		"debit_id", debit.ID,
		"credit_id", credit.ID,
		applog.FieldAmount, in.Amount.String())
	s.notify(ctx,
		change{storage.TableTransactions, debit.ID, applog.OpCreate},
		change{storage.TableTransactions, credit.ID, applog.OpCreate},
		change{storage.TableAccounts, debit.AccountID, applog.OpUpdate},
		change{storage.TableAccounts, credit.AccountID, applog.OpUpdate})
	return debit, credit, nil
}

// UpdateTransaction replaces a stored transaction, moving its balance effect
// from the old values to the new ones. Editing a transfer leg mirrors amount,
// date and notes onto the other leg and re-applies its balance as well.
func (s *LedgerService) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	if !t.Amount.IsPositive() {
		return t, fmt.Errorf("update transaction: %w", core.ErrInvalidAmount)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("update transaction: %w", err)
	}

	var changes []change
	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		txs := s.transactions.WithTx(tx)
		accounts := s.accounts.WithTx(tx)

		stored, err := txs.GetByID(ctx, t.ID)
		if err != nil {
			return err
		}
		if stored == nil || stored.UserID != t.UserID {
			return fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
		}
		if stored.IsTransferLeg() != t.IsTransferLeg() {
			return fmt.Errorf("%w: cannot change %s into %s", core.ErrNotTransferLeg, stored.Type, t.Type)
		}
		if stored.Type != t.Type {
			return fmt.Errorf("%w: cannot change %s into %s", core.ErrInvalidInput, stored.Type, t.Type)
		}
		t.LinkedTransactionID = stored.LinkedTransactionID

		var partner *core.Transaction
		if t.IsTransferLeg() && t.LinkedTransactionID != "" {
			if partner, err = txs.GetByID(ctx, t.LinkedTransactionID); err != nil {
				return err
			}
			if partner != nil && partner.Type != t.Type.Counterpart() {
				return fmt.Errorf("linked %s: %w", partner.ID, core.ErrNotTransferLeg)
			}
			if partner != nil && partner.AccountID == t.AccountID {
				return core.ErrTransferSameAccount
			}
		}

		if err := s.moveBalance(ctx, accounts, *stored, t); err != nil {
			return err
		}
		if err := txs.Update(ctx, t); err != nil {
			return err
		}
		changes = append(changes,
			change{storage.TableTransactions, t.ID, applog.OpUpdate},
			change{storage.TableAccounts, t.AccountID, applog.OpUpdate})
		if stored.AccountID != t.AccountID {
			changes = append(changes, change{storage.TableAccounts, stored.AccountID, applog.OpUpdate})
		}

		if partner == nil {
			return nil
		}
		mirrored := *partner
		mirrored.Amount = t.Amount
		mirrored.Date = t.Date
		mirrored.Notes = t.Notes
		if err := s.moveBalance(ctx, accounts, *partner, mirrored); err != nil {
			return err
		}
		if err := txs.Update(ctx, mirrored); err != nil {
			return err
		}
		changes = append(changes,
			change{storage.TableTransactions, mirrored.ID, applog.OpUpdate},
			change{storage.TableAccounts, mirrored.AccountID, applog.OpUpdate})
		return nil
	})
	if err != nil {
		return t, fmt.Errorf("update transaction: %w", err)
	}

	s.log.InfoContext(ctx, "Transaction updated",
		applog.FieldOperation, applog.OpUpdate,
		applog.FieldID, t.ID,
		applog.FieldAmount, t.Amount.String())
	s.notify(ctx, changes...)
	return t, nil
}

// DeleteTransaction removes a transaction, and for a transfer leg its
// partner too, reversing every affected account balance.
func (s *LedgerService) DeleteTransaction(ctx context.Context, id, userID string) error {
	var changes []change
	err := s.store.InTx(ctx, func(tx *sql.Tx) error {
		txs := s.transactions.WithTx(tx)
		accounts := s.accounts.WithTx(tx)

		stored, err := txs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if stored == nil || stored.UserID != userID {
			return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
		}

		doomed := []core.Transaction{*stored}
		if stored.IsTransferLeg() {
			linked, err := txs.GetLinked(ctx, id)
			if err != nil {
				return err
			}
			seen := map[string]bool{id: true}
			for _, l := range linked {
				if !seen[l.ID] && l.IsTransferLeg() {
					seen[l.ID] = true
					doomed = append(doomed, l)
				}
			}
			if stored.LinkedTransactionID != "" && !seen[stored.LinkedTransactionID] {
				partner, err := txs.GetByID(ctx, stored.LinkedTransactionID)
				if err != nil {
					return err
				}
				if partner != nil {
					doomed = append(doomed, *partner)
				}
			}
		}

		for _, d := range doomed {
			if _, err := accounts.AdjustBalance(ctx, d.AccountID, d.UserID, d.Type.BalanceEffect(d.Amount).Neg()); err != nil {
				return err
			}
			if err := txs.Delete(ctx, d.ID, d.UserID); err != nil {
				return err
			}
			changes = append(changes,
				change{storage.TableTransactions, d.ID, applog.OpDelete},
				change{storage.TableAccounts, d.AccountID, applog.OpUpdate})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.log.InfoContext(ctx, "Transaction deleted",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldID, id,
		applog.FieldCount, len(changes)/2)
	s.notify(ctx, changes...)
	return nil
}

// moveBalance reverses from's effect on its account and applies to's.
func (s *LedgerService) moveBalance(ctx context.Context, accounts *storage.AccountRepository, from, to core.Transaction) error {
	if _, err := accounts.AdjustBalance(ctx, from.AccountID, from.UserID, from.Type.BalanceEffect(from.Amount).Neg()); err != nil {
		return err
	}
	_, err := accounts.AdjustBalance(ctx, to.AccountID, to.UserID, to.Type.BalanceEffect(to.Amount))
	return err
}

func (s *LedgerService) notify(ctx context.Context, changes ...change) {
	if s.notifier == nil {
		return
	}
	for _, c := range changes {
		if err := s.notifier.NotifyChange(ctx, c.table.String(), c.id, c.op); err != nil {
			// Don't fail the request - the row is saved and already dirty.
			s.log.WarnContext(ctx, "Failed to publish change notice",
				applog.NewFields().WithOperation(c.op).WithRecord(c.table.String(), c.id).WithError(err).ToSlice()...)
		}
	}
}
