// Package message holds the in-memory form of a message being filed and
// the read-only header view that rule conditions match against.
package message

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/infodancer/mailfiler/errors"
)

// Message is a parsed message: an ordered, case-insensitive header multimap,
// the raw body bytes and the mutable flag set.
type Message struct {
	Header textproto.Header
	Body   []byte
	Flags  Flags
}

// Parse reads a complete RFC 5322 message.
func Parse(r io.Reader) (*Message, error) {
	br := bufio.NewReader(r)
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Message{Header: h, Body: body}, nil
}

// ParseBytes is Parse over an in-memory message.
func ParseBytes(data []byte) (*Message, error) {
	return Parse(bytes.NewReader(data))
}

// Bytes renders the header and body back into wire form.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	_ = m.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the header, the separating blank line and the body.
func (m *Message) WriteTo(w io.Writer) error {
	if err := textproto.WriteHeader(w, m.Header); err != nil {
		return err
	}
	_, err := w.Write(m.Body)
	return err
}

// Clone returns a deep copy; the body bytes are shared since nothing mutates them.
func (m *Message) Clone() *Message {
	return &Message{
		Header: m.Header.Copy(),
		Body:   m.Body,
		Flags:  m.Flags,
	}
}

// MessageID returns the Message-Id header, or "-" when there is none.
func (m *Message) MessageID() string {
	if id := strings.TrimSpace(m.Header.Get("Message-Id")); id != "" {
		return id
	}
	return "-"
}

// SetHeaderValues replaces every occurrence of name with values.
// textproto.Header.Add prepends, so values are added last to first to keep
// their order.
func (m *Message) SetHeaderValues(name string, values []string) {
	m.Header.Del(name)
	for i := len(values) - 1; i >= 0; i-- {
		m.Header.Add(name, values[i])
	}
}
