package monitor

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/ethereum/go-ethereum/common"
)

func TestBalanceMonitorUpdateProm(t *testing.T) {
	b := &balanceMonitor{
		chainID: "testChainID",
	}

	testAddr := common.HexToAddress("0x9965507d1a55bcc2695c58ba16fb37d819b0a4dc")

	eth := big.NewInt(1_000_000_000_000_000_000)
	testCases := []struct {
		name     string
		wei      *big.Int
		expected float64
	}{
		{"Zero balance", big.NewInt(0), 0},
		{"1 ETH", eth, 1},
		{"1.5 ETH", new(big.Int).Add(eth, big.NewInt(500_000_000_000_000_000)), 1.5},
		{"Large balance", new(big.Int).Mul(eth, big.NewInt(1_000_000)), 1_000_000},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			promEthBalance.Reset()
			b.updateProm(testAddr, tc.wei)

			actual := testutil.ToFloat64(promEthBalance.WithLabelValues(testAddr.Hex(), b.chainID, "ethereum", "ETH"))
			assert.Equal(t, tc.expected, actual, "Unexpected metric value")
		})
	}
}
