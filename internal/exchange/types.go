package exchange

const (
	// ExchangeBinanceUSDM 为 Binance USDⓈ-M 永续。
	ExchangeBinanceUSDM = "binanceusdm"
	// ExchangeHyperliquid 为 Hyperliquid 永续。
	ExchangeHyperliquid = "hyperliquid"
)

// OrderRequest 为提交到 ccxt 的下单参数。
type OrderRequest struct {
	Symbol string
	Side   string
	Type   string
	Amount float64
	Price  float64
	Params map[string]interface{}
}
