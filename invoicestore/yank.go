package invoicestore

import (
	"context"

	"github.com/nitishm/bindle/errs"
	"github.com/nitishm/bindle/internal/logger"
	"github.com/nitishm/bindle/invoice"
)

// RetentionPolicy is told about every invoice the yank controller hides. The
// core never deletes parcels; a policy may decide to reclaim content that no
// visible invoice references. It may be called more than once for the same
// invoice when yanks race.
type RetentionPolicy interface {
	InvoiceYanked(ctx context.Context, inv *invoice.Invoice) error
}

// YankController performs the Active to Yanked transition. Once Yank
// returns, every Get and every missing-parcel resolution for the id reports
// InvoiceNotFound.
type YankController struct {
	store *Store
	log   *logger.Logger

	// Retention, when set, runs after a visible invoice is yanked. Its
	// failures are logged; the yank itself has already taken effect.
	Retention RetentionPolicy
}

func NewYankController(store *Store, log *logger.Logger) *YankController {
	if log == nil {
		log = logger.Nop()
	}
	return &YankController{store: store, log: log.With("component", "yank")}
}

func (y *YankController) Yank(ctx context.Context, id invoice.BundleID) error {
	var visible *invoice.Invoice
	if y.Retention != nil {
		inv, err := y.store.Get(ctx, id)
		if err != nil && !errs.IsKind(err, errs.KindInvoiceNotFound) {
			return err
		}
		visible = inv
	}

	if err := y.store.SetYanked(ctx, id); err != nil {
		return err
	}
	y.log.Info("invoice yanked", "id", id.String())

	if visible != nil {
		if err := y.Retention.InvoiceYanked(ctx, visible); err != nil {
			y.log.Warn("retention policy failed", "id", id.String(), "error", err)
		}
	}
	return nil
}
