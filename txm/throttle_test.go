package txm_test

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/impactledger/ethworker/testutils"
	"github.com/impactledger/ethworker/txm"
)

func TestAccountThrottle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("headroom arithmetic", func(t *testing.T) {
		account := testutils.CreateKey(rand.Reader).Address
		node := testutils.NewFakeNodeClient(1337)
		throttle := txm.NewAccountThrottle(node, txm.NewAccountStore(), 4)

		cases := []struct {
			name      string
			confirmed uint64
			pending   uint64
			expected  int
		}{
			{"idle account", 10, 10, 4},
			{"partially loaded", 10, 12, 2},
			{"at ceiling", 10, 14, 0},
			{"over ceiling", 10, 16, -2},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				node.SetNonces(account, tc.confirmed, tc.pending)
				allowed, err := throttle.AllowedCount(ctx, account)
				require.NoError(t, err)
				require.Equal(t, tc.expected, allowed)
			})
		}
	})

	t.Run("local reservations reduce headroom", func(t *testing.T) {
		account := testutils.CreateKey(rand.Reader).Address
		node := testutils.NewFakeNodeClient(1337)
		node.SetNonces(account, 5, 6)

		accounts := txm.NewAccountStore()
		throttle := txm.NewAccountThrottle(node, accounts, 4)

		allowed, err := throttle.AllowedCount(ctx, account)
		require.NoError(t, err)
		require.Equal(t, 3, allowed)

		store := accounts.GetTxStore(account)
		store.Reserve()
		store.Reserve()

		allowed, err = throttle.AllowedCount(ctx, account)
		require.NoError(t, err)
		require.Equal(t, 1, allowed)

		store.Release()
		allowed, err = throttle.AllowedCount(ctx, account)
		require.NoError(t, err)
		require.Equal(t, 2, allowed)
	})

	t.Run("try reserve claims atomically up to the headroom", func(t *testing.T) {
		account := testutils.CreateKey(rand.Reader).Address
		node := testutils.NewFakeNodeClient(1337)
		node.SetNonces(account, 5, 6)

		accounts := txm.NewAccountStore()
		throttle := txm.NewAccountThrottle(node, accounts, 4)

		n, err := throttle.TryReserve(ctx, account, 5)
		require.NoError(t, err)
		require.Equal(t, 3, n)
		require.Equal(t, 3, accounts.GetTxStore(account).Reserved())

		n, err = throttle.TryReserve(ctx, account, 1)
		require.NoError(t, err)
		require.Equal(t, 0, n)

		accounts.GetTxStore(account).Release()
		n, err = throttle.TryReserve(ctx, account, 2)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("node errors propagate", func(t *testing.T) {
		account := testutils.CreateKey(rand.Reader).Address
		node := testutils.NewFakeNodeClient(1337)
		node.NonceErr = errors.New("connection refused")

		throttle := txm.NewAccountThrottle(node, txm.NewAccountStore(), 4)
		_, err := throttle.AllowedCount(ctx, account)
		require.ErrorContains(t, err, "connection refused")
	})
}
