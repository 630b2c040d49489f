// Package notify mails device owners the broker credentials of their
// devices, with OwnTracks setup instructions.
package notify
