package catalog

import "taoo-rewards/internal/models"

var defaultStores = []models.Store{
	{ID: "st-carrefour", Name: "Carrefour La Marsa", Category: "Supermarché", Address: "Zone Touristique, La Marsa"},
	{ID: "st-zara", Name: "Zara Tunis City", Category: "Mode", Address: "Tunis City, Cebalat Ben Ammar"},
	{ID: "st-mytek", Name: "Mytek Lac 2", Category: "Électronique", Address: "Rue du Lac Huron, Les Berges du Lac"},
	{ID: "st-bestaurant", Name: "Le Bestaurant", Category: "Restaurants", Address: "Avenue Habib Bourguiba, Tunis"},
}

var defaultDeals = []models.Deal{
	{ID: "deal-groceries-10", Title: "10% sur vos courses", StoreID: "st-carrefour", PointsCost: 500, Discount: 10},
	{ID: "deal-fashion-20", Title: "20% sur la nouvelle collection", StoreID: "st-zara", PointsCost: 1200, Discount: 20, Premium: true},
	{ID: "deal-phone-15", Title: "15% sur les smartphones", StoreID: "st-mytek", PointsCost: 2500, Discount: 15, Premium: true},
	{ID: "deal-dinner-vip", Title: "Dîner pour deux offert", StoreID: "st-bestaurant", PointsCost: 4000, Discount: 100, VIP: true},
	{ID: "deal-coffee-5", Title: "Café offert", StoreID: "st-bestaurant", PointsCost: 150, Discount: 100},
}

// Default returns the program's built-in catalog.
func Default() *Catalog {
	return New(
		append([]models.Deal(nil), defaultDeals...),
		append([]models.Store(nil), defaultStores...),
	)
}
