package email

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
)

// Message is a multipart/alternative email with a plain and an HTML body.
type Message struct {
	From      string
	FromName  string
	To        []string
	Subject   string
	MessageID string
	Text      string
	HTML      string
}

// Bytes renders the message in RFC 5322 form with CRLF line endings.
func (m Message) Bytes() ([]byte, error) {
	if m.From == "" {
		return nil, errors.New("email sender is required")
	}
	if len(m.To) == 0 {
		return nil, errors.New("email recipient is required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := writePart(mw, "text/plain; charset=UTF-8", m.Text); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html; charset=UTF-8", m.HTML); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	from := (&mail.Address{Name: m.FromName, Address: m.From}).String()

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(m.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", m.Subject))
	if m.MessageID != "" {
		fmt.Fprintf(&msg, "Message-ID: %s\r\n", m.MessageID)
	}
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	fmt.Fprintf(&msg, "\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, content string) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", contentType)
	header.Set("Content-Transfer-Encoding", "quoted-printable")
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(content)); err != nil {
		return err
	}
	return qp.Close()
}
