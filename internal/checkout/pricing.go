package checkout

// Flat shipping fee and GST rate applied to every cart checkout.
const (
	ShippingFlat = 99
	TaxRatePct   = 18
)

// Totals computes the charge breakdown for a subtotal. Amounts are in
// whole rupees; tax is rounded down.
func Totals(subtotal int) (shipping, tax, grand int) {
	shipping = ShippingFlat
	tax = subtotal * TaxRatePct / 100
	grand = subtotal + shipping + tax
	return shipping, tax, grand
}
