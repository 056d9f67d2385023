package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fitpro/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	fail     bool
	closed   bool
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type fakeSender struct {
	texts []string
	err   error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.texts = append(f.texts, msg.Text)
	}
	return tgbotapi.Message{}, f.err
}

type fakeMailer struct {
	to, subject []string
}

func (f *fakeMailer) Send(_ context.Context, to, subject, _ string) error {
	f.to = append(f.to, to)
	f.subject = append(f.subject, subject)
	return nil
}

func TestHubBroadcastIsPerUser(t *testing.T) {
	hub := NewHub()
	alice, bob := uuid.New(), uuid.New()
	a1, a2, b := &fakeConn{}, &fakeConn{}, &fakeConn{}
	hub.Register(&Client{UserID: alice, Conn: a1})
	hub.Register(&Client{UserID: alice, Conn: a2})
	hub.Register(&Client{UserID: bob, Conn: b})

	if err := hub.Broadcast(alice, map[string]string{"hello": "alice"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	if len(a1.messages) != 1 || len(a2.messages) != 1 || len(b.messages) != 0 {
		t.Fatalf("delivery = %d/%d/%d", len(a1.messages), len(a2.messages), len(b.messages))
	}
}

func TestHubDropsBrokenClients(t *testing.T) {
	hub := NewHub()
	user := uuid.New()
	broken := &fakeConn{fail: true}
	hub.Register(&Client{UserID: user, Conn: broken})

	_ = hub.Broadcast(user, "x")
	if hub.Connections(user) != 0 || !broken.closed {
		t.Fatalf("broken client not dropped")
	}
}

func TestNotifierFanOut(t *testing.T) {
	sender := &fakeSender{}
	mailer := &fakeMailer{}
	hub := NewHub()
	conn := &fakeConn{}
	user := &models.User{ID: uuid.New(), Email: "a@b.co", FirstName: "Ann", DisplayName: "Ann B"}
	hub.Register(&Client{UserID: user.ID, Conn: conn})

	n := New(NewTelegramAlerterWithSender(sender, 42, nil), mailer, hub, nil)
	p := &models.PaymentRequest{ID: uuid.New(), UserID: user.ID, TxID: "0xabcdef12", Amount: "1 USDT", Provider: models.ProviderManual}

	n.PaymentSubmitted(context.Background(), p, user)
	if len(sender.texts) != 1 || !strings.Contains(sender.texts[0], "0xabcdef12") || !strings.Contains(sender.texts[0], "Ann B") {
		t.Fatalf("admin alert = %v", sender.texts)
	}

	n.PaymentApproved(context.Background(), p, user)
	if len(mailer.to) != 1 || mailer.to[0] != "a@b.co" {
		t.Fatalf("mail = %v", mailer.to)
	}
	if len(conn.messages) != 2 {
		t.Fatalf("pushes = %d", len(conn.messages))
	}
	var last Realtime
	if err := json.Unmarshal(conn.messages[1], &last); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if last.Type != models.EventSubscriptionActivated {
		t.Fatalf("type = %s", last.Type)
	}
}

func TestNotifierSwallowsFailures(t *testing.T) {
	n := New(NewTelegramAlerterWithSender(&fakeSender{err: errors.New("429")}, 1, nil), nil, nil, nil)
	n.AdminAlert(context.Background(), "boom")
	n.PaymentRejected(context.Background(), &models.PaymentRequest{}, nil)
	New(nil, nil, nil, nil).AdminAlert(context.Background(), "no telegram")
}
