package mailer

import (
	"bytes"
	"context"
	"errors"
	"net/textproto"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/outreach-cli/internal/resilience"
)

func TestMessageID_StablePerKey(t *testing.T) {
	a := MessageID("p1:0", "outreach@studio.test")
	assert.Equal(t, a, MessageID("p1:0", "outreach@studio.test"))
	assert.NotEqual(t, a, MessageID("p1:1", "outreach@studio.test"))
	assert.Regexp(t, `^<[0-9a-f]{24}@studio\.test>$`, a)
	assert.Contains(t, MessageID("k", "bad-address"), "@localhost>")
}

func newCapturingSMTP(err error) (*SMTP, *bytes.Buffer) {
	var buf bytes.Buffer
	s := NewSMTP(SMTPConfig{Host: "smtp.test", Port: 587, From: "outreach@studio.test", FromName: "Studio"})
	s.send = func(msgs ...*gomail.Message) error {
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if _, werr := m.WriteTo(&buf); werr != nil {
				return werr
			}
		}
		return nil
	}
	return s, &buf
}

func TestNewSMTP_DialsConfiguredServer(t *testing.T) {
	// Nothing listens on port 1.
	s := NewSMTP(SMTPConfig{Host: "127.0.0.1", Port: 1, From: "outreach@studio.test"})
	require.NotNil(t, s.send)
	_, err := s.Send(context.Background(), Message{To: "contact@a.test", Subject: "s", Body: "b", IdempotencyKey: "p1:0"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err), "refused connection is retryable")
}

func TestSMTP_Send(t *testing.T) {
	s, buf := newCapturingSMTP(nil)
	id, err := s.Send(context.Background(), Message{
		To:             "contact@a.test",
		Subject:        "Collaboration",
		Body:           "Hi...",
		IdempotencyKey: "p1:1",
		InReplyTo:      "<prev@studio.test>",
	})
	require.NoError(t, err)
	assert.Equal(t, MessageID("p1:1", "outreach@studio.test"), id)

	raw := buf.String()
	assert.Contains(t, raw, "To: contact@a.test")
	assert.Contains(t, raw, "Subject: Collaboration")
	assert.Contains(t, raw, "Message-ID: "+id)
	assert.Contains(t, raw, "X-Idempotency-Key: p1:1")
	assert.Contains(t, raw, "In-Reply-To: <prev@studio.test>")
	assert.Contains(t, raw, "Hi...")
	assert.Equal(t, SMTPProvider, s.Provider())
}

func TestSMTP_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"mailbox busy", &textproto.Error{Code: 421, Msg: "try later"}, true},
		{"no such user", &textproto.Error{Code: 550, Msg: "no such user"}, false},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"auth", errors.New("535 authentication failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newCapturingSMTP(tt.err)
			_, err := s.Send(context.Background(), Message{To: "x@a.test", IdempotencyKey: "k"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			var pe *resilience.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, SMTPProvider, pe.Provider)
		})
	}
}

func TestSMTP_CancelledContextSkipsSend(t *testing.T) {
	s, buf := newCapturingSMTP(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Send(ctx, Message{To: "x@a.test"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

type fakeSES struct {
	in  *sesv2.SendEmailInput
	out *sesv2.SendEmailOutput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	return f.out, f.err
}

func TestSES_Send(t *testing.T) {
	api := &fakeSES{out: &sesv2.SendEmailOutput{MessageId: aws.String("m1")}}
	s := NewSESWithClient(SESConfig{From: "outreach@studio.test", FromName: "Studio", ConfigSet: "outreach"}, api)

	id, err := s.Send(context.Background(), Message{To: "contact@a.test", Subject: "Collaboration", Body: "Hi...", IdempotencyKey: "p1:0"})
	require.NoError(t, err)
	assert.Equal(t, "m1", id)

	require.NotNil(t, api.in)
	assert.Equal(t, "Studio <outreach@studio.test>", aws.ToString(api.in.FromEmailAddress))
	assert.Equal(t, []string{"contact@a.test"}, api.in.Destination.ToAddresses)
	assert.Equal(t, "Collaboration", aws.ToString(api.in.Content.Simple.Subject.Data))
	assert.Equal(t, "Hi...", aws.ToString(api.in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "outreach", aws.ToString(api.in.ConfigurationSetName))
	require.Len(t, api.in.EmailTags, 1)
	assert.Equal(t, "p1-0", aws.ToString(api.in.EmailTags[0].Value))
}

func TestSES_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"throttled", &smithy.GenericAPIError{Code: "TooManyRequestsException", Fault: smithy.FaultClient}, true},
		{"server fault", &smithy.GenericAPIError{Code: "InternalFailure", Fault: smithy.FaultServer}, true},
		{"rejected", &smithy.GenericAPIError{Code: "MessageRejected", Fault: smithy.FaultClient}, false},
		{"unverified sender", &smithy.GenericAPIError{Code: "MailFromDomainNotVerifiedException", Fault: smithy.FaultClient}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSESWithClient(SESConfig{From: "o@studio.test"}, &fakeSES{err: tt.err})
			_, err := s.Send(context.Background(), Message{To: "x@a.test", IdempotencyKey: "k"})
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestSES_MissingMessageID(t *testing.T) {
	s := NewSESWithClient(SESConfig{From: "o@studio.test"}, &fakeSES{out: &sesv2.SendEmailOutput{}})
	_, err := s.Send(context.Background(), Message{To: "x@a.test"})
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	assert.Equal(t, SESProvider, s.Provider())
}
