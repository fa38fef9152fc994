package catalog

import "venuetour/internal/model"

// Default is the built-in Yogyakarta culinary catalog on a local grid.
// Prices are in rupiah.
func Default() []model.Venue {
	return []model.Venue{
		{Name: "AGP Ayam Goreng", Location: model.Point{X: 0, Y: 0}, Rating: 4.2, Price: 100000},
		{Name: "Solaria", Location: model.Point{X: 1, Y: 3}, Rating: 3.3, Price: 80000},
		{Name: "Astoria", Location: model.Point{X: 2, Y: -4}, Rating: 4.6, Price: 150000},
		{Name: "The Pantry", Location: model.Point{X: -1, Y: 0}, Rating: 4.4, Price: 200000},
		{Name: "Jogja Steak", Location: model.Point{X: -1, Y: 4}, Rating: 4.2, Price: 70000},
		{Name: "Pondok Garuda", Location: model.Point{X: -3, Y: 1}, Rating: 4.5, Price: 120000},
		{Name: "Angkringan", Location: model.Point{X: -6, Y: 1}, Rating: 4.2, Price: 90000},
		{Name: "Luweh", Location: model.Point{X: -6, Y: -2}, Rating: 4.3, Price: 50000},
		{Name: "Nyamsir ", Location: model.Point{X: -8, Y: 0}, Rating: 4.5, Price: 130000},
		{Name: "Sari Alam", Location: model.Point{X: -7, Y: 6}, Rating: 4.3, Price: 180000},
		{Name: "Warung Podjok", Location: model.Point{X: -8, Y: 3}, Rating: 4.6, Price: 180000},
		{Name: "Warung Jogja", Location: model.Point{X: -9, Y: 5}, Rating: 4.4, Price: 180000},
	}
}
