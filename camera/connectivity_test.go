package camera

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectivity(t *testing.T) {
	tests := []struct {
		payload string
		want    Connectivity
		ok      bool
	}{
		{"ready", ConnReady, true},
		{" READY\n", ConnReady, true},
		{"connecting", ConnConnecting, true},
		{"init", ConnConnecting, true},
		{"disconnected", ConnDisconnected, true},
		{"lost", ConnDisconnected, true},
		{"sleeping", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, ok := ParseConnectivity(tt.payload)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConnectivityMachine_Transitions(t *testing.T) {
	type change struct{ from, to Connectivity }
	var changes []change
	m := newConnectivityMachine(func(from, to Connectivity) {
		changes = append(changes, change{from, to})
	})
	ctx := context.Background()
	assert.Equal(t, ConnDisconnected, m.State())

	require.NoError(t, m.Transition(ctx, ConnConnecting))
	require.NoError(t, m.Transition(ctx, ConnReady))
	require.NoError(t, m.Transition(ctx, ConnReady), "repeating a state is not an error")
	require.NoError(t, m.Transition(ctx, ConnDisconnected))
	require.NoError(t, m.Transition(ctx, ConnReady))

	assert.Equal(t, ConnReady, m.State())
	assert.Equal(t, []change{
		{ConnDisconnected, ConnConnecting},
		{ConnConnecting, ConnReady},
		{ConnReady, ConnDisconnected},
		{ConnDisconnected, ConnReady},
	}, changes)

	assert.Error(t, m.Transition(ctx, Connectivity("asleep")))
}
