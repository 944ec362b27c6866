package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMTPEmailMessageHeaders(t *testing.T) {
	sender := SMTPEmail{Addr: "relay.example.cl:587", From: "casino@sabormirandiano.cl"}

	msg := string(sender.message("ana@example.cl", "Top-up confirmed", "<p>5000 CLP</p>"))

	assert.Contains(t, msg, "From: casino@sabormirandiano.cl\r\n")
	assert.Contains(t, msg, "To: ana@example.cl\r\n")
	assert.Contains(t, msg, "Subject: Top-up confirmed\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.Contains(t, msg, "\r\n\r\n<p>5000 CLP</p>")
}

func TestSMTPEmailRejectsBadAddress(t *testing.T) {
	sender := SMTPEmail{Addr: "no-port-here", From: "casino@sabormirandiano.cl"}
	err := sender.Send("ana@example.cl", "s", "b")
	assert.Error(t, err)
}
