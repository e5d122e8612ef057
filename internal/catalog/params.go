package catalog

import "taoo-rewards/internal/models"

// Params identifies a detail destination. The set of destinations is
// closed: only types in this package implement it.
type Params interface {
	destination() string
}

type DealDetail struct {
	DealID string
}

type StoreDetail struct {
	StoreID string
}

func (DealDetail) destination() string  { return "deal" }
func (StoreDetail) destination() string { return "store" }

// View is what a detail screen renders. Unavailable is set when the
// referenced item does not exist; it is never an error.
type View struct {
	Kind        string        `json:"kind"`
	Deal        *DealView     `json:"deal,omitempty"`
	Store       *models.Store `json:"store,omitempty"`
	StoreDeals  []DealView    `json:"storeDeals,omitempty"`
	Unavailable bool          `json:"unavailable"`
}

func (c *Catalog) Resolve(p Params, tier models.Tier) View {
	if p == nil {
		return View{Unavailable: true}
	}
	v := View{Kind: p.destination()}
	switch p := p.(type) {
	case DealDetail:
		d, ok := c.Deal(p.DealID)
		if !ok {
			v.Unavailable = true
			return v
		}
		dv := c.view(d, tier)
		v.Deal = &dv
	case StoreDetail:
		s, ok := c.Store(p.StoreID)
		if !ok {
			v.Unavailable = true
			return v
		}
		v.Store = &s
		for _, d := range c.deals {
			if d.StoreID == s.ID {
				v.StoreDeals = append(v.StoreDeals, c.view(d, tier))
			}
		}
	}
	return v
}
