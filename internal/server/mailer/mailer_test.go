package mailer

import (
	"bytes"
	"context"
	"testing"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSender_HidesBodyAtInfo(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(logging.NewLogger("info", "json", &buf))
	require.NoError(t, s.Send(context.Background(), Message{To: "a@example.com", Subject: "Reset password", HTML: "secret-link"}))

	out := buf.String()
	assert.Contains(t, out, "a@example.com")
	assert.Contains(t, out, "Reset password")
	assert.NotContains(t, out, "secret-link")
}

func TestOutbox(t *testing.T) {
	var o Outbox
	ctx := context.Background()
	require.NoError(t, o.Send(ctx, Message{To: "a", Subject: "1"}))
	require.NoError(t, o.Send(ctx, Message{To: "b", Subject: "2"}))
	require.NoError(t, o.Send(ctx, Message{To: "a", Subject: "3"}))

	assert.Len(t, o.Messages(), 3)
	m, ok := o.Last("a")
	require.True(t, ok)
	assert.Equal(t, "3", m.Subject)
	_, ok = o.Last("c")
	assert.False(t, ok)
}
