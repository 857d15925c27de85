package msgexchange_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeandnode/gateway-channels/msgexchange"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi/fakewallet"
)

func TestRunDrainsHandshake(t *testing.T) {
	a := fakewallet.New("addr-a")
	b := fakewallet.New("addr-b")
	fakewallet.Connect(a, b)

	start := paych.StartState{
		Participants:      []string{"addr-a", "addr-b"},
		AssetHolderAddress: "asset-holder",
		AppAddress:         "attestation-app",
		ChainID:            1,
		Amount:             big.NewInt(100),
		ChallengeDuration:  600,
	}
	channels, outbox, objectives, err := a.CreateChannels(context.Background(), start, 2)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	require.Len(t, objectives, 2)
	require.Len(t, outbox, 1)

	results, err := msgexchange.Run(context.Background(), &fakewallet.DirectSender{Peer: b}, a, outbox[0])
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.EqualValues(t, 3, r.TurnNum)
	}
}

func TestRunEndsOnTransportFailure(t *testing.T) {
	a := fakewallet.New("addr-a")
	start := paych.StartState{Amount: big.NewInt(50)}
	_, outbox, _, err := a.CreateChannels(context.Background(), start, 1)
	require.NoError(t, err)

	results, err := msgexchange.Run(context.Background(), failingSender{}, a, outbox[0])
	require.NoError(t, err)
	assert.Empty(t, results)
}

type failingSender struct{}

func (failingSender) Send(ctx context.Context, recipient string, payload []byte) ([]byte, error) {
	return nil, assertErr{}
}

type assertErr struct{}

func (assertErr) Error() string { return "simulated transport failure" }
