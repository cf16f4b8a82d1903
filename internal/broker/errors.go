package broker

import "github.com/dlanglois/ironclad-trader/internal/apperr"

// ErrUnavailableQuote is returned by GetLatestPrice when a crypto
// symbol's bid and ask are both non-positive.
var ErrUnavailableQuote = apperr.New(apperr.Invalid, "unavailable quote: neither bid nor ask is positive")

// newTransient, newInvalid, and newAuth are small constructors kept
// local to this package so adapter code reads as "what went wrong",
// not "which constructor did I call".
func newTransient(msg string, cause error) error { return apperr.Wrap(apperr.Transient, msg, cause) }
func newInvalid(msg string, cause error) error   { return apperr.Wrap(apperr.Invalid, msg, cause) }
func newAuth(msg string, cause error) error      { return apperr.Wrap(apperr.Auth, msg, cause) }
func newNotFound(msg string, cause error) error  { return apperr.Wrap(apperr.NotFound, msg, cause) }
