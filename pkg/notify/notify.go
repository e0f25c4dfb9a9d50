// Package notify defines how crash reports leave the process.
//
// A Sender delivers one templated Message. The capture pipeline and the
// report assembler only see this interface; the smtpmail and spool
// sub-packages provide the transports.
package notify

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/armorclaw/crashreport/pkg/errors"
)

// Template identifiers
const (
	TemplateException    = "exception.txt.tmpl"
	TemplateUploadFailed = "upload-failed.txt.tmpl"
)

// Address is a mailbox with an optional display name
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// String formats the address for a mail header
func (a Address) String() string {
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

// ParseAddress parses "Name <user@host>" or "user@host"
func ParseAddress(s string) (Address, error) {
	a, err := mail.ParseAddress(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return Address{Name: a.Name, Email: a.Address}, nil
}

// ParseAddressList parses every entry of list
func ParseAddressList(list []string) ([]Address, error) {
	out := make([]Address, 0, len(list))
	for _, s := range list {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Attachment is a named file sent with a message
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// TextAttachment creates a text/plain attachment
func TextAttachment(filename, content string) Attachment {
	return Attachment{Filename: filename, ContentType: "text/plain", Content: []byte(content)}
}

// Message is one notification before rendering
type Message struct {
	From        Address
	To          []Address
	Subject     string
	TemplateID  string
	Context     map[string]any
	Attachments []Attachment
}

// Sender delivers a message. Failures wrap errors.ErrTransport.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// TransportError wraps err as a transport failure
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrTransport) {
		return err
	}
	return errors.Wrap(errors.CodeNotifyTransport, err)
}
