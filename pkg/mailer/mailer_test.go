package mailer

import (
	"context"
	"net"
	"testing"

	"github.com/donorflow/donorflow/internal/domain"
	"github.com/donorflow/donorflow/pkg/logger"
	"github.com/donorflow/donorflow/pkg/steperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() domain.OutboundMessage {
	return domain.OutboundMessage{
		To:      "donor@example.com",
		Subject: "Thank you",
		Body:    "<p>We received your gift.</p>",
	}
}

func TestSMTPSender_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed recipient is permanent", func(t *testing.T) {
		sender := NewSMTPSender(&Config{
			SMTPHost:  "smtp.example.com",
			SMTPPort:  587,
			FromEmail: "gifts@donorflow.org",
			FromName:  "Donorflow",
		})

		message := testMessage()
		message.To = "not an address"

		err := sender.Send(ctx, message)
		require.Error(t, err)
		assert.True(t, steperr.IsPermanent(err))
	})

	t.Run("unreachable relay classifies as transient", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		sender := NewSMTPSender(&Config{
			SMTPHost:  "127.0.0.1",
			SMTPPort:  port,
			FromEmail: "gifts@donorflow.org",
			FromName:  "Donorflow",
		})

		err = sender.Send(ctx, testMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to send email")
		assert.False(t, steperr.IsPermanent(err))
	})
}

func TestConsoleSender_Send(t *testing.T) {
	sender := NewConsoleSender(logger.NewNoopLogger())
	require.NoError(t, sender.Send(context.Background(), testMessage()))
}
