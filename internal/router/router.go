// Package router holds the conversation state machine. Route is a pure
// function of (session, message): it never touches the store or the queue, so
// every transition is testable without a transport.
package router

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
)

const exitCommand = "0"

// supportedImageTypes mirrors what the vision extractor accepts.
var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
}

// Decision is the router's verdict for one inbound message.
type Decision struct {
	// Next is the session to persist (ignored when End is set).
	Next domain.Session
	// Reply is the immediate answer sent back on the webhook response.
	Reply string
	// Task is non-nil when the message completed an intent and a task must
	// be enqueued. Its ID is the taskID passed to Route.
	Task *domain.Task
	// End means the user asked to terminate; the caller deletes the session.
	End bool
}

// Route maps the current session and a new inbound message to the next
// session state, an immediate reply, and optionally a task to enqueue.
//
// taskID is the identifier to stamp on an emitted task; passing it in keeps
// Route deterministic for a given (session, message, taskID, now) tuple.
func Route(sess domain.Session, msg domain.InboundMessage, taskID string, now time.Time) Decision {
	body := strings.TrimSpace(msg.Body)

	// Exit wins over everything, including the pending gate.
	if body == exitCommand {
		return Decision{Reply: replyGoodbye, End: true}
	}

	// One task in flight per user. New input is answered, never routed.
	if sess.Pending() {
		return Decision{Next: touched(sess, now), Reply: replyStillProcessing}
	}

	switch sess.State {
	case domain.StateIdle:
		return transition(sess, domain.StateAwaitingMenuChoice, replyWelcome, now)

	case domain.StateAwaitingMenuChoice:
		switch body {
		case "1":
			return transition(sess, domain.StateAwaitingImage, replySendImage, now)
		case "2":
			return transition(sess, domain.StateAwaitingQueryText, replySendQuery, now)
		default:
			return Decision{Next: touched(sess, now), Reply: replyInvalidChoice}
		}

	case domain.StateAwaitingImage:
		if reply, ok := validateImage(msg); !ok {
			return Decision{Next: touched(sess, now), Reply: reply}
		}
		return enqueue(sess, msg, domain.KindImageInvoice, taskID, replyProcessingImage, now)

	case domain.StateAwaitingQueryText:
		if body == "" {
			return Decision{Next: touched(sess, now), Reply: replyEmptyQuery}
		}
		return enqueue(sess, msg, domain.KindNLQuery, taskID, replyProcessingQuery, now)

	default:
		// Unrecognized stored state: recover to the menu.
		return transition(sess, domain.StateAwaitingMenuChoice, replyRecovered, now)
	}
}

// validateImage checks the attachment rules for the invoice flow and returns
// the re-prompt to use when they are not met.
func validateImage(msg domain.InboundMessage) (reply string, ok bool) {
	switch {
	case msg.NumMedia == 0:
		return replyNoMedia, false
	case msg.NumMedia > 1:
		return replyTooMuchMedia, false
	case !supportedImageTypes[msg.ContentType]:
		return replyUnsupportedMedia(msg.ContentType), false
	}
	return "", true
}

func transition(sess domain.Session, next domain.SessionState, reply string, now time.Time) Decision {
	sess.State = next
	sess.UpdatedAt = now
	return Decision{Next: sess, Reply: reply}
}

func touched(sess domain.Session, now time.Time) domain.Session {
	sess.UpdatedAt = now
	return sess
}

func enqueue(sess domain.Session, msg domain.InboundMessage, kind domain.TaskKind, taskID, reply string, now time.Time) Decision {
	var payload any
	switch kind {
	case domain.KindImageInvoice:
		payload = domain.ImagePayload{MediaURL: msg.MediaURL, ContentType: msg.ContentType}
	case domain.KindNLQuery:
		payload = domain.QueryPayload{Text: strings.TrimSpace(msg.Body)}
	}
	raw, _ := json.Marshal(payload)

	task := &domain.Task{
		ID:         taskID,
		Kind:       kind,
		UserKey:    sess.UserKey,
		Payload:    raw,
		EnqueuedAt: now,
	}

	// State is kept (the user is still "in" the flow) but the pending id
	// gates any further routing until the result clears it.
	sess.PendingTaskID = taskID
	sess.UpdatedAt = now
	return Decision{Next: sess, Reply: reply, Task: task}
}
