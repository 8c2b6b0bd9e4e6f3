// Package whatsapp implements the messaging transport on top of whatsmeow.
package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/paths"
	"github.com/roelfdiedericks/autoreply/internal/transport"
)

const maxWhatsAppMessage = 65536

// Config configures the client.
type Config struct {
	SessionPath string    // sqlite file holding the device store
	QROutput    io.Writer // when set, pairing codes are also drawn here
}

// Client is a whatsmeow-backed transport.Transport.
type Client struct {
	cfg       Config
	db        *sql.DB
	container *sqlstore.Container
	client    *whatsmeow.Client

	mu          sync.RWMutex
	onMessage   func(transport.Inbound)
	onLifecycle func(transport.Lifecycle)
	handlerID   uint32
	running     bool

	handlers sync.WaitGroup // inbound handler goroutines
	draining bool
}

var _ transport.Transport = (*Client)(nil)

// openContainer opens (and migrates) the whatsmeow device store.
func openContainer(ctx context.Context, sessionPath string) (*sql.DB, *sqlstore.Container, error) {
	if err := paths.EnsureParentDir(sessionPath); err != nil {
		return nil, nil, err
	}
	db, err := sql.Open("sqlite3", sessionPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open whatsapp db: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", newLogger("store"))
	if err := container.Upgrade(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to upgrade whatsapp store: %w", err)
	}
	return db, container, nil
}

// New opens the device store. An unpaired store is fine: Start then runs
// the QR flow and reports codes as qr-ready lifecycle events.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.SessionPath == "" {
		return nil, fmt.Errorf("whatsapp: session path is required")
	}
	db, container, err := openContainer(ctx, cfg.SessionPath)
	if err != nil {
		return nil, err
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to get whatsapp device: %w", err)
	}

	return &Client{
		cfg:       cfg,
		db:        db,
		container: container,
		client:    whatsmeow.NewClient(device, newLogger("client")),
	}, nil
}

// OnMessage registers the inbound text handler.
func (c *Client) OnMessage(fn func(transport.Inbound)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnLifecycle registers the connection event handler.
func (c *Client) OnLifecycle(fn func(transport.Lifecycle)) {
	c.mu.Lock()
	c.onLifecycle = fn
	c.mu.Unlock()
}

// Start connects. Without a stored session it first requests a QR channel.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.handlerID = c.client.AddEventHandler(c.handleEvent)
	c.running = true
	c.mu.Unlock()

	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp: failed to get QR channel: %w", err)
		}
		go c.consumeQR(qrChan)
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: failed to connect: %w", err)
	}

	if c.client.Store.ID != nil {
		L_info("whatsapp: connecting", "jid", c.client.Store.ID)
	} else {
		L_info("whatsapp: waiting for QR pairing")
	}
	return nil
}

func (c *Client) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			L_info("whatsapp: new pairing QR code")
			if c.cfg.QROutput != nil {
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, c.cfg.QROutput)
			}
			c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleQR, QR: item.Code})
		case "success":
			L_info("whatsapp: QR scan accepted, completing initial sync")
		case "timeout":
			c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleAuthFailed, Reason: "QR code expired"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleAuthFailed, Reason: "pairing failed: " + reason})
		}
	}
}

// Stop disconnects and closes the device store.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return c.db.Close()
	}

	L_info("whatsapp: disconnecting")
	c.client.RemoveEventHandler(c.handlerID)
	c.client.Disconnect()
	c.running = false
	return c.db.Close()
}

// deliver runs the message handler on its own goroutine; whatsmeow delivers
// events serially and a slow reply must not stall the socket. Messages
// arriving after Drain are dropped.
func (c *Client) deliver(in transport.Inbound) {
	c.mu.Lock()
	fn, draining := c.onMessage, c.draining
	if fn == nil || draining {
		c.mu.Unlock()
		if draining {
			L_debug("whatsapp: draining, dropping message", "from", in.From)
		}
		return
	}
	c.handlers.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.handlers.Done()
		fn(in)
	}()
}

// Drain stops handing out new messages and waits up to limit for running
// handlers. It reports whether they all finished.
func (c *Client) Drain(limit time.Duration) bool {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(limit):
		return false
	}
}

// Logout unlinks this device from the phone and clears the session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("whatsapp: logout: %w", err)
	}
	c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleLoggedOut, Reason: "logged out by operator"})
	return nil
}

// Send delivers text verbatim to a chat id (JID) or a bare phone number,
// split into chunks WhatsApp accepts. Session failures wrap
// transport.ErrSessionClosed.
func (c *Client) Send(ctx context.Context, target, text string) error {
	jid, err := parseTarget(target)
	if err != nil {
		return err
	}
	if !c.client.IsConnected() {
		return fmt.Errorf("whatsapp: %w", transport.ErrNotConnected)
	}

	for _, chunk := range splitMessage(text, maxWhatsAppMessage) {
		_, err := c.client.SendMessage(ctx, jid, &waE2E.Message{
			Conversation: proto.String(chunk),
		})
		if err != nil {
			return classifySendError(err)
		}
	}
	return nil
}

func classifySendError(err error) error {
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("whatsapp: %w: %v", transport.ErrSessionClosed, err)
	}
	return fmt.Errorf("whatsapp: send failed: %w", err)
}

// parseTarget accepts a full JID or a phone number.
func parseTarget(target string) (types.JID, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return types.JID{}, fmt.Errorf("whatsapp: empty target")
	}
	if !strings.Contains(target, "@") {
		phone := strings.TrimPrefix(target, "+")
		return types.NewJID(phone, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(target)
	if err != nil {
		return types.JID{}, fmt.Errorf("whatsapp: invalid target %q: %w", target, err)
	}
	return jid, nil
}

// handleEvent is the whatsmeow event handler
func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		in, ok := inboundFromEvent(v, c.client.Store.ID)
		if !ok {
			return
		}
		c.deliver(in)
	case *events.Connected:
		L_info("whatsapp: connected to server", "jid", c.client.Store.ID)
		c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleConnected})
	case *events.PairSuccess:
		L_info("whatsapp: paired", "jid", v.ID)
	case *events.Disconnected:
		L_warn("whatsapp: disconnected from server")
		c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleDisconnected, Reason: "disconnected"})
	case *events.StreamReplaced:
		L_warn("whatsapp: session opened elsewhere")
		c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleDisconnected, Reason: "stream replaced"})
	case *events.LoggedOut:
		L_error("whatsapp: logged out, re-pair with 'autoreply whatsapp link'", "reason", v.Reason)
		c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleLoggedOut, Reason: fmt.Sprintf("logged out: %v", v.Reason)})
	case *events.ConnectFailure:
		L_error("whatsapp: connect failure", "reason", v.Reason, "message", v.Message)
		c.emitLifecycle(transport.Lifecycle{Kind: transport.LifecycleAuthFailed, Reason: fmt.Sprintf("connect failure: %v", v.Reason)})
	}
}

func (c *Client) emitLifecycle(ev transport.Lifecycle) {
	c.mu.RLock()
	fn := c.onLifecycle
	c.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// inboundFromEvent converts a whatsmeow message into a transport message.
// Own messages, status broadcasts and non-text payloads are skipped.
func inboundFromEvent(evt *events.Message, self *types.JID) (transport.Inbound, bool) {
	info := evt.Info
	if info.IsFromMe {
		return transport.Inbound{}, false
	}
	if info.Chat.Server == types.BroadcastServer {
		L_debug("whatsapp: ignoring broadcast", "chat", info.Chat)
		return transport.Inbound{}, false
	}

	text, ok := extractText(evt.Message)
	if !ok {
		L_debug("whatsapp: unsupported message type, ignoring", "chat", info.Chat)
		return transport.Inbound{}, false
	}

	to := ""
	if self != nil {
		to = self.ToNonAD().String()
	}
	return transport.Inbound{
		ID:        string(info.ID),
		From:      info.Chat.ToNonAD().String(),
		Sender:    info.Sender.ToNonAD().String(),
		To:        to,
		Body:      text,
		IsGroup:   info.Chat.Server == types.GroupServer,
		Timestamp: info.Timestamp,
	}, true
}

// extractText returns the text of a conversation, extended text or
// captioned image message.
func extractText(msg *waE2E.Message) (string, bool) {
	if msg == nil {
		return "", false
	}
	if t := msg.GetConversation(); t != "" {
		return t, true
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil && ext.GetText() != "" {
		return ext.GetText(), true
	}
	if img := msg.GetImageMessage(); img != nil && img.GetCaption() != "" {
		return img.GetCaption(), true
	}
	return "", false
}
