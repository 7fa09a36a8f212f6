package memstore

import "furbox-service/internal/models"

// DemoUserID owns the address created by SeedDemo.
const DemoUserID int64 = 1

type demoVariant struct {
	name  string
	sku   string
	price int64
	stock int
}

var demoCatalog = []struct {
	name     string
	variants []demoVariant
}{
	{"Grain-Free Kibble", []demoVariant{{"2kg", "KIB-2", 18000, 40}, {"5kg", "KIB-5", 39000, 25}}},
	{"Orthopedic Bed", []demoVariant{{"Medium", "BED-M", 45000, 10}, {"Large", "BED-L", 60000, 8}}},
	{"Rope Tug Toy", []demoVariant{{"Regular", "TUG-R", 4900, 100}}},
	{"Oatmeal Shampoo", []demoVariant{{"250ml", "SHA-250", 6500, 60}}},
	{"Reflective Harness", []demoVariant{{"S", "HAR-S", 12000, 20}, {"M", "HAR-M", 12500, 20}}},
}

// SeedDemo loads a small catalog and a default address for DemoUserID so a
// memory-backed server can take drafts and orders without a database.
func (s *Store) SeedDemo() {
	for _, p := range demoCatalog {
		productID := s.AddProduct(p.name, true)
		for _, v := range p.variants {
			s.AddVariant(productID, v.name, v.sku, v.price, v.stock)
		}
	}
	s.AddAddress(models.Address{
		UserID:     DemoUserID,
		Name:       "Demo User",
		Phone:      "9800000000",
		Line1:      "1 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
		IsDefault:  true,
	})
}
