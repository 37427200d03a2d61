package txm_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/impactledger/ethworker/txm"
)

func TestTxStatusTransitions(t *testing.T) {
	t.Parallel()

	require.True(t, txm.StatusPending.CanTransitionTo(txm.StatusSent))
	require.True(t, txm.StatusSent.CanTransitionTo(txm.StatusConfirmed))
	require.True(t, txm.StatusSent.CanTransitionTo(txm.StatusFailed))

	require.False(t, txm.StatusConfirmed.CanTransitionTo(txm.StatusPending))
	require.False(t, txm.StatusConfirmed.CanTransitionTo(txm.StatusSent))
	require.False(t, txm.StatusFailed.CanTransitionTo(txm.StatusConfirmed))
	require.False(t, txm.StatusSent.CanTransitionTo(txm.StatusPending))
}

func TestTransitionSources(t *testing.T) {
	t.Parallel()

	require.ElementsMatch(t, []txm.TxStatus{txm.StatusUnknown, txm.StatusPending}, txm.TransitionSources(txm.StatusSent))
	require.ElementsMatch(t, []txm.TxStatus{txm.StatusSent}, txm.TransitionSources(txm.StatusConfirmed))
	require.ElementsMatch(t, []txm.TxStatus{txm.StatusPending, txm.StatusSent}, txm.TransitionSources(txm.StatusFailed))
	require.ElementsMatch(t, []txm.TxStatus{txm.StatusUnknown}, txm.TransitionSources(txm.StatusPending))
}

func TestTxStatusRoundTrip(t *testing.T) {
	t.Parallel()

	for _, status := range []txm.TxStatus{txm.StatusPending, txm.StatusSent, txm.StatusConfirmed, txm.StatusFailed} {
		parsed, err := txm.ParseTxStatus(status.String())
		require.NoError(t, err)
		require.Equal(t, status, parsed)
	}

	_, err := txm.ParseTxStatus("MINED")
	require.Error(t, err)
}

func TestRecordAsRequest(t *testing.T) {
	t.Parallel()

	rec := txm.Record{
		Hash:     common.HexToHash("0x01"),
		Status:   txm.StatusSent,
		To:       common.HexToAddress("0x02"),
		Data:     []byte{0xde, 0xad},
		Value:    big.NewInt(42),
		GasLimit: 100_000,
		Tags:     txm.DomainTags{ProjectID: 7, MilestoneID: 8, ActivityID: 9},
	}

	req := rec.AsRequest()
	require.Equal(t, rec.To, req.To)
	require.Equal(t, rec.Data, req.Data)
	require.Equal(t, rec.Value, req.Value)
	require.Equal(t, rec.GasLimit, req.GasLimit)
	require.Equal(t, rec.Tags, req.Tags)
	require.Empty(t, req.ID, "resubmission gets a fresh id")
}
