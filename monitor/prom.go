package monitor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var promEthBalance = promauto.NewGaugeVec(
	prometheus.GaugeOpts{Name: "eth_balance", Help: "Ethereum account balances"},
	[]string{"account", "chainID", "chainSet", "denomination"},
)

func (b *balanceMonitor) updateProm(acc common.Address, wei *big.Int) {
	v := weiToEth(wei)
	promEthBalance.WithLabelValues(acc.Hex(), b.chainID, "ethereum", "ETH").Set(v)
}

// weiToEth converts wei to ETH
func weiToEth(wei *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}
