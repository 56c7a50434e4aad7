package ledger

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/gateway"
	"main/internal/model"
	"main/internal/model/enum"
	"main/pkg/conn"
)

// Store is the system's single source of truth: an instance-scoped,
// connection-pooled record of order state, live quotes and symbol
// subscriptions. Every mutation is a single-row upsert keyed by order
// id or a (symbol, instance) composite, so replaying the same event is
// always safe and no cross-table transaction is needed.
type Store struct {
	db       *gorm.DB
	client   *conn.Client
	instance string
	now      func() time.Time
}

// NewStore migrates the ledger tables and binds the store to one
// running instance.
func NewStore(client *conn.Client, instance string) (*Store, error) {
	if instance == "" {
		return nil, errors.New("ledger: instance id is empty")
	}
	db := client.DB()
	if db == nil {
		return nil, errors.New("ledger: nil database handle")
	}
	if err := db.AutoMigrate(&model.Order{}, &model.Quote{}, &model.Subscription{}, &model.OrderPrice{}); err != nil {
		return nil, errors.Wrap(err, "migrate ledger tables")
	}
	return &Store{db: db, client: client, instance: instance, now: time.Now}, nil
}

// Instance returns the bound instance id.
func (s *Store) Instance() string {
	return s.instance
}

// Owns reports whether a workflow tag belongs to this instance.
func (s *Store) Owns(tag string) bool {
	return strings.HasPrefix(tag, s.instance+"|")
}

// PoolStats reports connections in use and idle.
func (s *Store) PoolStats() (inUse, idle int) {
	return s.client.Stats()
}

// RecordOrderUpdate upserts the order row and its last submitted
// price. Updates tagged for other instances are dropped.
func (s *Store) RecordOrderUpdate(u gateway.OrderUpdate) error {
	if !s.Owns(u.Tag) {
		logs.Debugf("ledger: ignoring order update for other instance, tag=%s", u.Tag)
		return nil
	}

	avgPrice := float64(model.UnfilledSentinel)
	if u.FillPrice != model.UnfilledSentinel && u.FilledQty != model.UnfilledSentinel {
		avgPrice = u.FillPrice
	}
	row := model.Order{
		OrderID:   u.OrderID,
		Timestamp: s.now().UTC(),
		Tag:       u.Tag,
		AvgPrice:  avgPrice,
		Qty:       u.Qty,
		Side:      u.Side,
		Symbol:    u.Symbol,
		Status:    u.Status,
		Instance:  s.instance,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "upsert order row").With("order_id", u.OrderID)
	}

	price := model.OrderPrice{
		Symbol:   u.Symbol,
		Price:    u.SubmittedPrice,
		Qty:      u.Qty,
		Tag:      u.Tag,
		Instance: s.instance,
	}
	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "instance"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "qty", "tag"}),
	}).Create(&price).Error
	if err != nil {
		return errors.Wrap(err, "upsert order price").With("symbol", u.Symbol)
	}
	return nil
}

// RecordQuote upserts the global last traded price for a symbol code.
func (s *Store) RecordQuote(symbol string, price float64) error {
	row := model.Quote{Symbol: symbol, Price: price}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{"price"}),
	}).Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "upsert quote").With("symbol", symbol)
	}
	return nil
}

// RecordSubscription upserts a subscription row for this instance.
// Rows are never deleted; unsubscription only affects the live feed.
func (s *Store) RecordSubscription(sub model.Subscription) error {
	sub.Instance = s.instance
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "instance"}},
		DoUpdates: clause.AssignmentColumns([]string{"exchange", "display_symbol"}),
	}).Create(&sub).Error
	if err != nil {
		return errors.Wrap(err, "upsert subscription").With("symbol", sub.Symbol)
	}
	return nil
}

// GetForTag returns the order for a workflow tag, the fundamental
// idempotency check. When expected statuses are given, ok is true only
// if the stored status is one of them.
func (s *Store) GetForTag(tag string, expected ...enum.OrderStatus) (string, enum.OrderStatus, bool, error) {
	var row model.Order
	err := s.db.
		Where("tag = ? AND instance = ?", tag, s.instance).
		Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, errors.Wrap(err, "query order by tag").With("tag", tag)
	}
	if len(expected) > 0 {
		for _, want := range expected {
			if row.Status == want {
				return row.OrderID, row.Status, true, nil
			}
		}
		return row.OrderID, row.Status, false, nil
	}
	return row.OrderID, row.Status, true, nil
}

// Orders returns every order row for this instance.
func (s *Store) Orders() ([]model.Order, error) {
	var rows []model.Order
	err := s.db.
		Where("instance = ?", s.instance).
		Order("ts").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	return rows, nil
}

// LastPrice returns the live quote for a display symbol through the
// subscription mapping.
func (s *Store) LastPrice(displaySymbol string) (float64, bool, error) {
	var out struct{ Price float64 }
	err := s.db.
		Table("quotes").
		Select("quotes.price AS price").
		Joins("JOIN subscriptions ON quotes.symbol = subscriptions.symbol").
		Where("subscriptions.display_symbol = ? AND subscriptions.instance = ?", displaySymbol, s.instance).
		Take(&out).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(err, "query last price").With("symbol", displaySymbol)
	}
	return out.Price, true, nil
}

// OrderPriceFor returns the last submitted price/qty for a symbol
// under a tag, used to decide whether a dependent order needs
// re-pricing.
func (s *Store) OrderPriceFor(displaySymbol, tag string) (float64, int, bool, error) {
	var row model.OrderPrice
	err := s.db.
		Where("symbol = ? AND instance = ? AND tag = ?", displaySymbol, s.instance, tag).
		Take(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, errors.Wrap(err, "query order price").With("symbol", displaySymbol)
	}
	return row.Price, row.Qty, true, nil
}

// PnL joins order rows to live quotes, scoped to this instance, and
// returns the aggregate with a per-symbol breakdown. Rows still
// carrying the unfilled sentinel are skipped.
func (s *Store) PnL() (Summary, error) {
	var rows []Position
	err := s.db.
		Table("orders").
		Select("orders.avg_price AS avg_price, orders.qty AS qty, orders.side AS side, orders.symbol AS symbol, quotes.price AS last_price").
		Joins("JOIN subscriptions ON orders.instance = subscriptions.instance AND orders.symbol = subscriptions.display_symbol").
		Joins("JOIN quotes ON subscriptions.symbol = quotes.symbol").
		Where("orders.instance = ?", s.instance).
		Scan(&rows).Error
	if err != nil {
		return Summary{}, errors.Wrap(err, "query pnl join")
	}
	return Summarize(rows), nil
}
