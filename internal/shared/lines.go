package shared

// LineType classifies estimate and work order lines.
type LineType string

const (
	LineInventoryPart    LineType = "inventory_part"
	LineZeroStockPart    LineType = "zero_stock_part"
	LineNonInventoryItem LineType = "non_inventory_item"
	LineLabor            LineType = "labor"
)

// Valid reports whether t is a known line type.
func (t LineType) Valid() bool {
	switch t {
	case LineInventoryPart, LineZeroStockPart, LineNonInventoryItem, LineLabor:
		return true
	}
	return false
}

// NeedsOrdering derives the ordering flag from the line type and stock on hand.
// Zero-stock parts always need ordering; inventory parts only when the requested
// quantity exceeds what is on hand.
func NeedsOrdering(lineType LineType, quantity, onHand float64) bool {
	switch lineType {
	case LineZeroStockPart:
		return true
	case LineInventoryPart:
		return quantity > onHand
	default:
		return false
	}
}
