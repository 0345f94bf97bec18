// Package email sends transactional email.
//
// EmailSender has two implementations: the Postmark client used in
// production and DevSender, which writes messages to a local directory.
// NewSender picks one from Config.
package email
