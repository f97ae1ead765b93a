package dialogue

import "strings"

// InventoryItem is a line of the move inventory.
type InventoryItem struct {
	Category string `json:"category"`
	ItemType string `json:"itemType"`
	Quantity int    `json:"quantity"`
}

// itemSizes is the footprint, in square metres, of one unit of each item type.
var itemSizes = map[string]float64{
	"workstation":    2.0,
	"desk":           1.5,
	"chair":          0.5,
	"filing_cabinet": 0.8,
	"bookshelf":      1.0,
	"meeting_table":  2.5,
	"server_rack":    2.0,
	"comms_cabinet":  1.2,
	"pallet":         1.2,
	"pallet_rack":    3.0,
	"shelving_unit":  1.5,
	"display_case":   1.8,
	"computer":       0.3,
	"monitor":        0.2,
	"printer":        0.6,
	"safe":           1.0,
	"box":            0.1,
}

const defaultItemSize = 1.0

// ItemSize returns the per-unit footprint of an item type.
func ItemSize(itemType string) float64 {
	if s, ok := itemSizes[strings.ToLower(itemType)]; ok {
		return s
	}
	return defaultItemSize
}

func estimateSize(items []InventoryItem) float64 {
	var total float64
	for _, it := range items {
		total += float64(it.Quantity) * ItemSize(it.ItemType)
	}
	return total
}
