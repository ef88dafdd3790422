package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DM-Dev-Codes/whatsapp-invoice-processor/internal/domain"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func inbound(body string) domain.InboundMessage {
	return domain.InboundMessage{UserKey: "whatsapp:+123", Body: body, ReceivedAt: now}
}

func imageMsg(numMedia int, contentType string) domain.InboundMessage {
	return domain.InboundMessage{
		UserKey:     "whatsapp:+123",
		NumMedia:    numMedia,
		MediaURL:    "https://api.twilio.com/media/abc",
		ContentType: contentType,
		ReceivedAt:  now,
	}
}

func session(state domain.SessionState) domain.Session {
	s := domain.NewSession("whatsapp:+123")
	s.State = state
	return s
}

func TestRoute_IdleShowsMenu(t *testing.T) {
	d := Route(session(domain.StateIdle), inbound("hello"), "t1", now)

	assert.Equal(t, domain.StateAwaitingMenuChoice, d.Next.State)
	assert.Contains(t, d.Reply, "Welcome to the Invoice Assistant")
	assert.Contains(t, d.Reply, "*1.*")
	assert.Nil(t, d.Task)
	assert.False(t, d.End)
}

func TestRoute_MenuChoiceOne_AwaitsImage(t *testing.T) {
	d := Route(session(domain.StateAwaitingMenuChoice), inbound("1"), "t1", now)

	assert.Equal(t, domain.StateAwaitingImage, d.Next.State)
	assert.Contains(t, d.Reply, "single image")
	assert.Nil(t, d.Task)
}

func TestRoute_MenuChoiceTwo_AwaitsQueryText(t *testing.T) {
	d := Route(session(domain.StateAwaitingMenuChoice), inbound("2"), "t1", now)

	assert.Equal(t, domain.StateAwaitingQueryText, d.Next.State)
	assert.Contains(t, d.Reply, "describing what information")
}

func TestRoute_MenuChoiceInvalid_ReprintsMenu(t *testing.T) {
	for _, body := range []string{"3", "yes", "", "  "} {
		d := Route(session(domain.StateAwaitingMenuChoice), inbound(body), "t1", now)
		assert.Equal(t, domain.StateAwaitingMenuChoice, d.Next.State, "body=%q", body)
		assert.Contains(t, d.Reply, "Invalid choice")
		assert.Nil(t, d.Task)
	}
}

func TestRoute_AwaitingImage_WithImage_EnqueuesInvoiceTask(t *testing.T) {
	d := Route(session(domain.StateAwaitingImage), imageMsg(1, "image/jpeg"), "task-42", now)

	require.NotNil(t, d.Task)
	assert.Equal(t, "task-42", d.Task.ID)
	assert.Equal(t, domain.KindImageInvoice, d.Task.Kind)
	assert.Equal(t, "whatsapp:+123", d.Task.UserKey)
	assert.JSONEq(t,
		`{"media_url":"https://api.twilio.com/media/abc","content_type":"image/jpeg"}`,
		string(d.Task.Payload))

	// State stays AWAITING_IMAGE; the pending id is the gate.
	assert.Equal(t, domain.StateAwaitingImage, d.Next.State)
	assert.Equal(t, "task-42", d.Next.PendingTaskID)
	assert.Contains(t, d.Reply, "Processing your image")
}

func TestRoute_AwaitingImage_BadAttachments(t *testing.T) {
	tests := []struct {
		name string
		msg  domain.InboundMessage
		want string
	}{
		{"no media", inbound("here you go"), "No media file was found"},
		{"too many", imageMsg(3, "image/png"), "more than one image"},
		{"unsupported type", imageMsg(1, "application/pdf"), "'application/pdf' is not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Route(session(domain.StateAwaitingImage), tt.msg, "t1", now)
			assert.Nil(t, d.Task)
			assert.Equal(t, domain.StateAwaitingImage, d.Next.State)
			assert.Empty(t, d.Next.PendingTaskID)
			assert.Contains(t, d.Reply, tt.want)
		})
	}
}

func TestRoute_AwaitingQueryText_EnqueuesQueryTask(t *testing.T) {
	d := Route(session(domain.StateAwaitingQueryText),
		inbound("  show me all invoices from March  "), "task-7", now)

	require.NotNil(t, d.Task)
	assert.Equal(t, domain.KindNLQuery, d.Task.Kind)
	assert.JSONEq(t, `{"text":"show me all invoices from March"}`, string(d.Task.Payload))
	assert.Equal(t, "task-7", d.Next.PendingTaskID)
}

func TestRoute_AwaitingQueryText_Empty_Reprompts(t *testing.T) {
	d := Route(session(domain.StateAwaitingQueryText), inbound("   "), "t1", now)

	assert.Nil(t, d.Task)
	assert.Equal(t, domain.StateAwaitingQueryText, d.Next.State)
	assert.Contains(t, d.Reply, "empty")
}

func TestRoute_PendingGate_BlocksNewTasks(t *testing.T) {
	for _, state := range []domain.SessionState{
		domain.StateAwaitingImage,
		domain.StateAwaitingQueryText,
		domain.StateAwaitingMenuChoice,
	} {
		sess := session(state)
		sess.PendingTaskID = "in-flight"

		d := Route(sess, imageMsg(1, "image/jpeg"), "t-new", now)
		assert.Nil(t, d.Task, "state=%s", state)
		assert.Equal(t, "in-flight", d.Next.PendingTaskID)
		assert.Contains(t, d.Reply, "previous request")
	}
}

func TestRoute_ExitCommand_EndsSessionEvenWhilePending(t *testing.T) {
	sess := session(domain.StateAwaitingImage)
	sess.PendingTaskID = "in-flight"

	d := Route(sess, inbound("0"), "t1", now)
	assert.True(t, d.End)
	assert.Nil(t, d.Task)
	assert.Contains(t, d.Reply, "session has ended")
}

func TestRoute_UnknownState_RecoversToMenu(t *testing.T) {
	sess := session(domain.SessionState("processing"))

	d := Route(sess, inbound("hi"), "t1", now)
	assert.Equal(t, domain.StateAwaitingMenuChoice, d.Next.State)
	assert.Contains(t, d.Reply, "start over")
}

func TestRoute_Deterministic(t *testing.T) {
	sess := session(domain.StateAwaitingImage)
	msg := imageMsg(1, "image/png")

	first := Route(sess, msg, "fixed-id", now)
	second := Route(sess, msg, "fixed-id", now)

	assert.Equal(t, first.Next, second.Next)
	assert.Equal(t, first.Reply, second.Reply)
	require.NotNil(t, second.Task)
	assert.Equal(t, *first.Task, *second.Task)
}

func TestRoute_AlwaysTouchesUpdatedAt(t *testing.T) {
	stale := session(domain.StateAwaitingMenuChoice)
	stale.UpdatedAt = now.Add(-10 * time.Minute)

	d := Route(stale, inbound("garbage"), "t1", now)
	assert.Equal(t, now, d.Next.UpdatedAt)
}
