package monitor

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/utils/tests"

	"github.com/impactledger/ethworker/testutils"
)

type config struct {
	balancePollPeriod time.Duration
}

func (c *config) BalancePollPeriod() time.Duration {
	return c.balancePollPeriod
}

type keystore []common.Address

func (k keystore) Accounts(ctx context.Context) ([]common.Address, error) {
	return k, nil
}

type mockBalanceClient struct {
	BalanceAtFunc func(account common.Address) (*big.Int, error)
}

func (m *mockBalanceClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	if m.BalanceAtFunc != nil {
		return m.BalanceAtFunc(account)
	}
	return nil, fmt.Errorf("BalanceAt not implemented")
}

type update struct{ acc, bal string }

func TestBalanceMonitor(t *testing.T) {
	const chainID = "ethworker-test-42"
	ks := keystore{}
	for i := 0; i < 3; i++ {
		ks = append(ks, testutils.CreateKey(rand.Reader).Address)
	}

	bals := []*big.Int{
		big.NewInt(0),
		big.NewInt(1_000_000_000_000), // 1e12 wei
		new(big.Int).Mul(big.NewInt(1_500_000), big.NewInt(1_000_000_000_000)), // 1.5 ETH
	}
	expBals := []string{
		"0.000000",
		"0.000001",
		"1.500000",
	}

	mockClient := &mockBalanceClient{}
	var exp []update
	for i := range bals {
		exp = append(exp, update{ks[i].Hex(), expBals[i]})
	}
	mockClient.BalanceAtFunc = func(account common.Address) (*big.Int, error) {
		for i, addr := range ks {
			if addr == account {
				return bals[i], nil
			}
		}
		return nil, fmt.Errorf("account not found")
	}
	cfg := &config{balancePollPeriod: time.Second}

	b := newBalanceMonitor(chainID, cfg, logger.Test(t), ks, func() (BalanceClient, error) {
		return mockClient, nil
	})

	var mu sync.Mutex
	var got []update
	done := make(chan struct{})
	b.updateFn = func(acc common.Address, wei *big.Int) {
		select {
		case <-done:
			return
		default:
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, update{acc.Hex(), fmt.Sprintf("%.6f", weiToEth(wei))})
		if len(got) == len(exp) {
			close(done)
		}
	}

	require.NoError(t, b.Start(tests.Context(t)))
	t.Cleanup(func() {
		assert.NoError(t, b.Close())
	})

	select {
	case <-time.After(tests.WaitTimeout(t)):
		t.Fatal("timed out waiting for balance monitor")
	case <-done:
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, exp, got)
}
