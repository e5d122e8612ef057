package catalog

import (
	"errors"
	"fmt"

	"taoo-rewards/internal/ledger"
	"taoo-rewards/internal/models"
)

var (
	ErrLocked   = errors.New("deal requires a higher tier")
	ErrNotFound = errors.New("deal not found")
)

type DealView struct {
	models.Deal
	Locked bool `json:"locked"`
}

type Catalog struct {
	deals  []models.Deal
	stores []models.Store
	dealBy map[string]int
	shopBy map[string]int
}

func New(deals []models.Deal, stores []models.Store) *Catalog {
	c := &Catalog{
		deals:  deals,
		stores: stores,
		dealBy: make(map[string]int, len(deals)),
		shopBy: make(map[string]int, len(stores)),
	}
	for i, d := range deals {
		c.dealBy[d.ID] = i
	}
	for i, s := range stores {
		c.shopBy[s.ID] = i
	}
	return c
}

func (c *Catalog) view(d models.Deal, tier models.Tier) DealView {
	return DealView{Deal: d, Locked: ledger.IsLocked(tier, d.Premium, d.VIP)}
}

// Deals lists every deal with its lock state for tier.
func (c *Catalog) Deals(tier models.Tier) []DealView {
	out := make([]DealView, 0, len(c.deals))
	for _, d := range c.deals {
		out = append(out, c.view(d, tier))
	}
	return out
}

func (c *Catalog) Deal(id string) (models.Deal, bool) {
	i, ok := c.dealBy[id]
	if !ok {
		return models.Deal{}, false
	}
	return c.deals[i], true
}

func (c *Catalog) Store(id string) (models.Store, bool) {
	i, ok := c.shopBy[id]
	if !ok {
		return models.Store{}, false
	}
	return c.stores[i], true
}

func (c *Catalog) Stores() []models.Store {
	return append([]models.Store(nil), c.stores...)
}

// Redeem spends the deal's point cost when the tier allows it.
func Redeem(u models.User, d models.Deal) (models.User, error) {
	if ledger.IsLocked(u.Level, d.Premium, d.VIP) {
		return u, fmt.Errorf("%w: %s", ErrLocked, d.ID)
	}
	return ledger.DebitPoints(u, d.PointsCost)
}
