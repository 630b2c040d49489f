package notify

import (
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"strings"
	"time"
)

// Message is a plain-text mail.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
	Date    time.Time
}

// Write renders the message with RFC 5322 headers and a quoted-printable
// body.
func (m *Message) Write(w io.Writer) error {
	date := m.Date
	if date.IsZero() {
		date = time.Now()
	}

	_, err := fmt.Fprintf(w,
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nDate: %s\r\nMIME-Version: 1.0\r\n"+
			"Content-Type: text/plain; charset=utf-8\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\n",
		m.From, strings.Join(m.To, ", "),
		mime.QEncoding.Encode("utf-8", m.Subject),
		date.Format(time.RFC1123Z),
	)
	if err != nil {
		return err
	}

	qp := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qp, strings.ReplaceAll(m.Body, "\n", "\r\n")); err != nil {
		return err
	}
	return qp.Close()
}
