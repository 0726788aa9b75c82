package notice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/addonlib/internal/locale"
	"github.com/dshills/addonlib/internal/transport"
)

func setup(t *testing.T) (*Sender, *transport.Endpoint, *[]Payload) {
	t.Helper()
	ctx := context.Background()
	n := transport.NewNetwork(nil)
	s := NewSender(n.Server(), locale.MustLoadEmbedded(), "en-US", nil)

	client, err := n.Connect(ctx, "alice")
	require.NoError(t, err)
	var got []Payload
	client.Receive(MessageNotify, func(_ context.Context, msg transport.Message) {
		var p Payload
		require.NoError(t, msg.Decode(&p))
		got = append(got, p)
	})
	return s, client, &got
}

func TestSender_DefaultLocale(t *testing.T) {
	s, _, got := setup(t)

	require.NoError(t, s.Error(context.Background(), "alice", "chat.denied", "addonmenu"))
	require.Len(t, *got, 1)
	assert.Equal(t, Payload{
		Key:   "chat.denied",
		Text:  "You are not allowed to use !addonmenu.",
		Level: LevelError,
	}, (*got)[0])
}

func TestSender_ClientReportedLocale(t *testing.T) {
	s, client, got := setup(t)
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, MessageLocale, LocalePayload{Locale: "de"}, transport.Server()))
	assert.Equal(t, "de-DE", s.LocaleOf("alice"))

	require.NoError(t, s.Info(ctx, "alice", "chat.reloaded", 2))
	require.Len(t, *got, 1)
	assert.Equal(t, "2 Module neu geladen.", (*got)[0].Text)
	assert.Equal(t, LevelInfo, (*got)[0].Level)

	s.Forget("alice")
	assert.Equal(t, "en-US", s.LocaleOf("alice"))
}

func TestSender_SetDefaultLocale(t *testing.T) {
	s, _, _ := setup(t)
	s.SetDefaultLocale("de-DE")
	assert.Equal(t, "Basis", s.Text("anyone", "base.label"))
	s.SetDefaultLocale("xx")
	assert.Equal(t, "Base", s.Text("anyone", "base.label"))
}

func TestSender_UnknownPeer(t *testing.T) {
	s, _, _ := setup(t)
	err := s.Info(context.Background(), "ghost", "chat.unknown", "x")
	assert.ErrorIs(t, err, transport.ErrUnknownPeer)
}
