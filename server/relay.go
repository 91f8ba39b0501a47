package server

import (
	"errors"

	"github.com/sirupsen/logrus"

	"whisper/store"
)

// relay runs the full pipeline for one inbound private message: validate,
// load both users, append the mutual contacts, persist, then forward if
// the recipient is online. The returned ack goes back to the sending
// connection; a negative ack never closes it.
//
// Contact appends happen before message persistence and are idempotent, so
// replaying the whole operation after a partial failure converges instead
// of duplicating entries. The two writes are deliberately not one
// transaction; see DESIGN.md.
func (s *Server) relay(senderID string, pm *PrivateMessage) Ack {
	if pm.RecipientUserID == "" || pm.Message == "" {
		return nack(ErrCodeInvalidPayload)
	}

	sender, err := s.store.FindUserByID(senderID)
	if err != nil {
		return lookupNack(senderID, err)
	}
	recipient, err := s.store.FindUserByID(pm.RecipientUserID)
	if err != nil {
		return lookupNack(pm.RecipientUserID, err)
	}

	if !sender.HasContact(recipient.ID) {
		if err := s.store.AddContact(sender.ID, recipient.ID); err != nil {
			logrus.WithField("user", sender.ID).WithError(err).Error("Contact append failed")
			return nack(ErrCodeStoreError)
		}
	}
	if !recipient.HasContact(sender.ID) {
		if err := s.store.AddContact(recipient.ID, sender.ID); err != nil {
			logrus.WithField("user", recipient.ID).WithError(err).Error("Contact append failed")
			return nack(ErrCodeStoreError)
		}
	}

	msg, err := s.store.CreateMessage(sender.ID, recipient.ID, pm.Message)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"sender":    sender.ID,
			"recipient": recipient.ID,
		}).WithError(err).Error("Message persist failed")
		return nack(ErrCodeStoreError)
	}

	if connID, ok := s.presence.Lookup(recipient.ID); ok {
		s.deliver(connID, msg)
	} else {
		logrus.WithFields(logrus.Fields{
			"recipient": recipient.ID,
			"message":   msg.ID,
		}).Debug("Recipient offline, stored only")
	}

	created := msg.CreatedAt
	return Ack{Success: true, MessageID: msg.ID, CreatedAt: &created}
}

func lookupNack(userID string, err error) Ack {
	if errors.Is(err, store.ErrNotFound) {
		return nack(ErrCodeUnknownUser)
	}
	logrus.WithField("user", userID).WithError(err).Error("User lookup failed")
	return nack(ErrCodeStoreError)
}
