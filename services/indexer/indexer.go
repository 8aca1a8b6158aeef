package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"shieldlend/core/events"
	"shieldlend/core/types"
	"shieldlend/services/indexer/models"
)

// Indexer consumes the node's event stream and materializes query-friendly
// rows for explorers and dashboards.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New migrates the schema and returns an indexer writing to db.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: logger}, nil
}

func attrUint(attrs map[string]string, key string) uint64 {
	value, err := strconv.ParseUint(attrs[key], 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// Apply journals the event and updates the derived deposit and loan rows.
func (ix *Indexer) Apply(evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}
	now := time.Now().UTC()

	return ix.db.Transaction(func(tx *gorm.DB) error {
		record := models.EventRecord{
			ID:         uuid.New(),
			Type:       evt.Type,
			Attributes: string(attrs),
			ObservedAt: now,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		switch evt.Type {
		case events.TypeVaultDeposited:
			row := models.Deposit{
				DepositID: attrUint(evt.Attributes, "depositId"),
				Owner:     evt.Attributes["user"],
				Asset:     evt.Attributes["asset"],
				Status:    "unlocked",
				UpdatedAt: now,
			}
			return tx.Save(&row).Error
		case events.TypeVaultWithdrawn:
			status := "released"
			if evt.Attributes["seized"] == "true" {
				status = "seized"
			}
			return tx.Model(&models.Deposit{}).
				Where("deposit_id = ?", attrUint(evt.Attributes, "depositId")).
				Updates(map[string]interface{}{"status": status, "updated_at": now}).Error
		case events.TypeLoanOpened:
			row := models.Loan{
				LoanID:    attrUint(evt.Attributes, "loanId"),
				Borrower:  evt.Attributes["borrower"],
				Amount:    evt.Attributes["amount"],
				Asset:     evt.Attributes["asset"],
				DepositID: attrUint(evt.Attributes, "depositId"),
				Status:    "active",
				UpdatedAt: now,
			}
			if err := tx.Save(&row).Error; err != nil {
				return err
			}
			return tx.Model(&models.Deposit{}).
				Where("deposit_id = ?", row.DepositID).
				Updates(map[string]interface{}{"status": "locked", "updated_at": now}).Error
		case events.TypeLoanRepaid:
			return tx.Model(&models.Loan{}).
				Where("loan_id = ?", attrUint(evt.Attributes, "loanId")).
				Updates(map[string]interface{}{"status": "repaid", "updated_at": now}).Error
		case events.TypeLoanLiquidated:
			return tx.Model(&models.Loan{}).
				Where("loan_id = ?", attrUint(evt.Attributes, "loanId")).
				Updates(map[string]interface{}{"status": "liquidated", "updated_at": now}).Error
		}
		return nil
	})
}

// Run dials the node's websocket event stream and applies every event until
// the context is canceled. Connection failures retry with a fixed backoff.
func (ix *Indexer) Run(ctx context.Context, streamURL string) error {
	const backoff = 5 * time.Second
	for {
		if err := ix.consume(ctx, streamURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Warn("event stream interrupted", "error", err, "retryIn", backoff.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (ix *Indexer) consume(ctx context.Context, streamURL string) error {
	conn, _, err := websocket.Dial(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("indexer: dial %s: %w", streamURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "consumer stopped")

	ix.logger.Info("event stream connected", "url", streamURL)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt types.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			ix.logger.Warn("skipping malformed event", "error", err)
			continue
		}
		if err := ix.Apply(&evt); err != nil {
			ix.logger.Error("apply event", "type", evt.Type, "error", err)
		}
	}
}
