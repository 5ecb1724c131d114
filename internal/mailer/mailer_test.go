package mailer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/dmitrijs2005/formbot/internal/logging"
)

type fakeDialer struct {
	got []*mail.Msg
	err error
}

func (f *fakeDialer) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	f.got = append(f.got, msgs...)
	return f.err
}

func TestBody(t *testing.T) {
	assert.Equal(t, "Your code is: 123456. It is valid for 2 minutes.", Body("123456", 2*time.Minute))
	assert.Equal(t, "Your code is: 000001. It is valid for 1 minute.", Body("000001", 45*time.Second))
}

func TestNewSMTPMailer(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "bot@example.com", Password: "pw"}, 2*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", m.from)

	m, err = NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 465, From: "noreply@example.com"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", m.from)

	_, err = NewSMTPMailer(SMTPConfig{Port: 587}, time.Minute)
	require.Error(t, err)
}

func TestCompose(t *testing.T) {
	m := &SMTPMailer{from: "bot@example.com", ttl: 2 * time.Minute}

	msg, err := m.Compose("alice@x.com", "424242")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, raw, "To: <alice@x.com>")
	assert.Contains(t, raw, "From: <bot@example.com>")
	assert.Contains(t, raw, "Subject: "+Subject)
	assert.Contains(t, raw, "Your code is: 424242. It is valid for 2 minutes.")

	_, err = m.Compose("not an address", "1")
	require.Error(t, err)
}

func TestSendCode(t *testing.T) {
	ctx := context.Background()
	d := &fakeDialer{}
	m := &SMTPMailer{from: "bot@example.com", ttl: time.Minute, client: d}

	require.NoError(t, m.SendCode(ctx, "bob@x.com", "111111"))
	require.Len(t, d.got, 1)

	d.err = errors.New("535 auth failed")
	err := m.SendCode(ctx, "bob@x.com", "111111")
	require.ErrorContains(t, err, "535 auth failed")

	err = m.SendCode(ctx, "@@", "111111")
	require.ErrorContains(t, err, "to address")
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(logging.New(&buf, "debug"), 2*time.Minute)

	require.NoError(t, m.SendCode(context.Background(), "carol@x.com", "765432"))
	assert.Contains(t, buf.String(), "765432")
	assert.Contains(t, buf.String(), "carol@x.com")
}
