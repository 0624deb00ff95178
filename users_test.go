package lnduma

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReceiver(t *testing.T) {
	r, err := ParseReceiver("$Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", r.Handle)
	assert.NotEmpty(t, r.ID)
	assert.EqualValues(t, defaultMinSendableMsat, r.MinSendableMsat)
	assert.EqualValues(t, defaultMaxSendableMsat, r.MaxSendableMsat)

	r, err = ParseReceiver("bob:bob-id:2000:5000:02abcd")
	require.NoError(t, err)
	assert.Equal(t, &Receiver{
		ID:              "bob-id",
		Handle:          "bob",
		NodePubKey:      "02abcd",
		MinSendableMsat: 2000,
		MaxSendableMsat: 5000,
	}, r)

	invalid := []string{
		"",
		":id",
		"bob:id:2000",
		"bob:id:x:5000",
		"bob:id:2000:y",
		"bob:id:1:2:key:extra",
	}
	for _, raw := range invalid {
		_, err := ParseReceiver(raw)
		assert.Error(t, err, raw)
	}
}

func TestStaticUserDirectory(t *testing.T) {
	alice := &Receiver{
		ID: "a", Handle: "$Alice", MinSendableMsat: 1,
		MaxSendableMsat: 2,
	}
	bob := &Receiver{
		ID: "b", Handle: "bob", MinSendableMsat: 1, MaxSendableMsat: 1,
	}

	dir, err := NewStaticUserDirectory(alice, bob)
	require.NoError(t, err)

	ctx := context.Background()

	r, err := dir.ReceiverByHandle(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "a", r.ID)
	assert.Equal(t, "alice", r.Handle)

	r, err = dir.ReceiverByID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "bob", r.Handle)

	_, err = dir.ReceiverByHandle(ctx, "carol")
	assert.ErrorIs(t, err, ErrReceiverNotFound)
	_, err = dir.ReceiverByID(ctx, "c")
	assert.ErrorIs(t, err, ErrReceiverNotFound)

	assert.Equal(t, []*Receiver{alice, bob}, dir.Receivers())
}

func TestStaticUserDirectoryInvalid(t *testing.T) {
	tests := []struct {
		name      string
		receivers []*Receiver
	}{
		{
			name: "missing id",
			receivers: []*Receiver{
				{Handle: "a", MinSendableMsat: 1, MaxSendableMsat: 1},
			},
		},
		{
			name: "inverted bounds",
			receivers: []*Receiver{{
				ID: "a", Handle: "a", MinSendableMsat: 2,
				MaxSendableMsat: 1,
			}},
		},
		{
			name: "zero minimum",
			receivers: []*Receiver{{
				ID: "a", Handle: "a", MaxSendableMsat: 1,
			}},
		},
		{
			name: "duplicate handle",
			receivers: []*Receiver{
				{ID: "a", Handle: "a", MinSendableMsat: 1, MaxSendableMsat: 1},
				{ID: "b", Handle: "$A", MinSendableMsat: 1, MaxSendableMsat: 1},
			},
		},
		{
			name: "duplicate id",
			receivers: []*Receiver{
				{ID: "a", Handle: "a", MinSendableMsat: 1, MaxSendableMsat: 1},
				{ID: "a", Handle: "b", MinSendableMsat: 1, MaxSendableMsat: 1},
			},
		},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			_, err := NewStaticUserDirectory(test.receivers...)
			require.Error(t, err)
		})
	}
}
