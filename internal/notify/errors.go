package notify

import "errors"

var (
	// ErrDisabled is returned by NewSMTPMailer when mail is switched off.
	ErrDisabled = errors.New("notify: smtp disabled")

	ErrSend = errors.New("notify: sending mail failed")
)
