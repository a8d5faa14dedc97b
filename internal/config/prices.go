package config

// PriceTable is the static symbol->USD table used for portfolio
// valuation. Prices are part of configuration and change only on
// restart; there is no runtime price discovery.
var PriceTable = map[string]float64{
	"NATIVE": 3.10,
	"USDC":   1.00,
	"USDT":   1.00,
	"WETH":   3400.00,
	"WBTC":   68000.00,
	"DAI":    1.00,
}

// PriceFor returns the static USD price for a symbol, or 0 if unknown.
func PriceFor(symbol string) float64 {
	return PriceTable[symbol]
}
