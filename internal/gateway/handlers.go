package gateway

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/neon/messenger/internal/composer"
	"github.com/neon/messenger/internal/conversation"
	"github.com/neon/messenger/internal/feed"
	"github.com/neon/messenger/internal/group"
	"github.com/neon/messenger/internal/identity"
	"github.com/neon/messenger/internal/mirror"
	"github.com/neon/messenger/internal/moderation"
	"github.com/neon/messenger/internal/presence"
	"github.com/neon/messenger/internal/principal"
	"github.com/neon/messenger/internal/protocol"
	"github.com/neon/messenger/internal/ratelimit"
	"github.com/neon/messenger/internal/store"
	"github.com/neon/messenger/internal/support"
)

// opTimeout bounds store operations triggered by a single client message.
const opTimeout = 10 * time.Second

// App bundles the application services the gateway exposes over
// WebSocket. One App serves every connection; per-connection state lives
// in the client struct.
type App struct {
	Store    store.Store
	Dir      *principal.Directory
	Groups   *group.Registry
	Desk     *support.Desk
	Panel    *moderation.Panel
	Tracker  *presence.Tracker
	Mirror   *mirror.Mirror
	Provider identity.Provider
	Verifier identity.TokenVerifier
	Limiter  *ratelimit.Limiter

	AdminUser string
	AdminPass string
}

// client is the per-connection application state: the auth session, the
// message composer, the open feed and the contact/group watches.
type client struct {
	conn     *Connection
	session  *identity.Session
	composer *composer.Composer
	feed     *feed.Feed

	mu        sync.Mutex
	ref       conversation.Ref
	hasRef    bool
	unsubAuth func()
	rosterSub store.Subscription
	groupsSub store.Subscription
}

// Handlers routes parsed protocol messages into the application.
type Handlers struct {
	app    *App
	server *Server

	mu      sync.Mutex
	clients map[string]*client
}

// NewHandlers creates the handler set and registers every message type
// on the dispatcher.
func NewHandlers(app *App, d *MessageDispatcher) *Handlers {
	h := &Handlers{app: app, clients: make(map[string]*client)}

	d.Register(protocol.TypeSignIn, h.handleSignIn)
	d.Register(protocol.TypeSignUp, h.handleSignUp)
	d.Register(protocol.TypeGoogleSignIn, h.handleGoogleSignIn)
	d.Register(protocol.TypeAdminSignIn, h.handleAdminSignIn)
	d.Register(protocol.TypeSignOut, h.handleSignOut)
	d.Register(protocol.TypeVerifyPhone, h.handleVerifyPhone)
	d.Register(protocol.TypeConfirmPhone, h.handleConfirmPhone)
	d.Register(protocol.TypeSkipPhone, h.handleSkipPhone)
	d.Register(protocol.TypeSelectChat, h.handleSelectChat)
	d.Register(protocol.TypeMessage, h.handleMessage)
	d.Register(protocol.TypeTyping, h.handleTyping)
	d.Register(protocol.TypeCreateGroup, h.handleCreateGroup)
	d.Register(protocol.TypeJoinGroup, h.handleJoinGroup)
	d.Register(protocol.TypeBlockUser, h.handleBlockUser)
	d.Register(protocol.TypeDeleteUser, h.handleDeleteUser)
	d.Register(protocol.TypeDeleteGroup, h.handleDeleteGroup)
	d.Register(protocol.TypeReplyTicket, h.handleReplyTicket)
	d.Register(protocol.TypeToggleTicket, h.handleToggleTicket)
	return h
}

// SetServer wires the server so handlers can evict connections.
func (h *Handlers) SetServer(s *Server) { h.server = s }

// OnDisconnect tears down the per-connection state. Registered as the
// server's disconnect callback.
func (h *Handlers) OnDisconnect(connID string) {
	h.mu.Lock()
	c, ok := h.clients[connID]
	if ok {
		delete(h.clients, connID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	c.feed.Close()
	c.detachWatches()
	if c.unsubAuth != nil {
		c.unsubAuth()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.session.SignOut(ctx); err != nil {
		log.Printf("gateway: sign-out on disconnect %s: %v", connID, err)
	}
}

// clientFor returns the per-connection state, creating it on first use.
func (h *Handlers) clientFor(conn *Connection) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[conn.ID]; ok {
		return c
	}

	c := &client{conn: conn}
	c.session = identity.NewSession(identity.Config{
		Provider:  h.app.Provider,
		Verifier:  h.app.Verifier,
		Directory: h.app.Dir,
		Tracker:   h.app.Tracker,
		Mirror:    h.app.Mirror,
		AdminUser: h.app.AdminUser,
		AdminPass: h.app.AdminPass,
	})
	c.composer = composer.New(h.app.Store, h.app.Desk)
	c.feed = feed.New(h.app.Store, func(msgs []feed.Message) {
		h.pushHistory(conn, msgs)
	})
	c.unsubAuth = c.session.OnAuthChange(func(p *principal.Principal) {
		h.onAuthChange(c, p)
	})
	h.clients[conn.ID] = c
	return c
}

// onAuthChange pushes the new auth state and swaps the roster and group
// watches to follow the signed-in principal.
func (h *Handlers) onAuthChange(c *client, p *principal.Principal) {
	state := protocol.AuthStateMsg{Admin: c.session.IsAdmin()}
	if p != nil {
		state.UID = p.UID
		state.Name = p.DisplayName()
		state.Email = p.Email
	}
	h.send(c.conn, protocol.TypeAuthState, state)

	c.detachWatches()
	if p == nil {
		c.feed.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rosterSub, err := h.app.Dir.Watch(ctx, func(all []*principal.Principal) {
		roster := principal.Roster(all, p.UID)
		entries := make([]protocol.RosterEntry, 0, len(roster))
		for _, u := range roster {
			entries = append(entries, protocol.RosterEntry{UID: u.UID, Name: u.DisplayName(), Online: u.Online})
		}
		h.send(c.conn, protocol.TypeRoster, protocol.RosterMsg{Users: entries})
	})
	if err != nil {
		log.Printf("gateway: roster watch for %s: %v", p.UID, err)
	}

	groupsSub, err := h.app.Groups.Watch(ctx, p.UID, func(gs []*group.Group) {
		entries := make([]protocol.GroupEntry, 0, len(gs))
		for _, g := range gs {
			entries = append(entries, protocol.GroupEntry{Code: g.Code, Members: len(g.Members)})
		}
		h.send(c.conn, protocol.TypeGroups, protocol.GroupsMsg{Groups: entries})
	})
	if err != nil {
		log.Printf("gateway: groups watch for %s: %v", p.UID, err)
	}

	c.mu.Lock()
	c.rosterSub = rosterSub
	c.groupsSub = groupsSub
	c.mu.Unlock()
}

func (c *client) detachWatches() {
	c.mu.Lock()
	rosterSub, groupsSub := c.rosterSub, c.groupsSub
	c.rosterSub, c.groupsSub = nil, nil
	c.mu.Unlock()
	if rosterSub != nil {
		rosterSub.Close()
	}
	if groupsSub != nil {
		groupsSub.Close()
	}
}

// pushHistory sends the feed's current window to the client.
func (h *Handlers) pushHistory(conn *Connection, msgs []feed.Message) {
	wire := make([]protocol.WireMessage, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, protocol.WireMessage{
			ID:         m.ID,
			Text:       m.Text,
			SenderID:   m.SenderID,
			SenderName: m.SenderName,
			Timestamp:  m.Timestamp,
		})
	}
	h.send(conn, protocol.TypeHistory, protocol.HistoryMsg{Messages: wire})
}

// ---------------------------------------------------------------------------
// Authentication handlers
// ---------------------------------------------------------------------------

func (h *Handlers) handleSignIn(conn *Connection, msg interface{}) {
	m := msg.(protocol.SignInMsg)
	c := h.clientFor(conn)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if h.maintenanceOn(ctx) {
		h.sendAuthError(conn, "maintenance", "The service is under maintenance, please try again later")
		return
	}
	if !h.allow(ctx, conn.ID, ratelimit.RuleAuth) {
		h.sendAuthError(conn, "too_many_attempts", "Too many attempts, please try again later")
		return
	}
	if _, err := c.session.SignIn(ctx, m.Email, m.Password); err != nil {
		if errors.Is(err, identity.ErrBlocked) {
			h.send(conn, protocol.TypeBlocked, protocol.BlockedMsg{})
		}
		h.sendAuthError(conn, authCode(err), identity.Message(err))
		return
	}
	// Auth listener already pushed the new state.
}

func (h *Handlers) handleSignUp(conn *Connection, msg interface{}) {
	m := msg.(protocol.SignUpMsg)
	c := h.clientFor(conn)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if h.maintenanceOn(ctx) {
		h.sendAuthError(conn, "maintenance", "The service is under maintenance, please try again later")
		return
	}
	settings, err := h.app.Panel.LoadSettings(ctx)
	if err != nil {
		log.Printf("gateway: load settings: %v", err)
	} else if !settings.AllowRegistrations {
		h.sendAuthError(conn, "registrations_disabled", "New registrations are currently disabled")
		return
	}
	if !h.allow(ctx, conn.ID, ratelimit.RuleAuth) {
		h.sendAuthError(conn, "too_many_attempts", "Too many attempts, please try again later")
		return
	}

	if _, err := c.session.SignUp(ctx, m.Name, m.Email, m.Password); err != nil {
		h.sendAuthError(conn, authCode(err), identity.Message(err))
	}
}

func (h *Handlers) handleGoogleSignIn(conn *Connection, msg interface{}) {
	m := msg.(protocol.GoogleSignInMsg)
	c := h.clientFor(conn)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if h.maintenanceOn(ctx) {
		h.sendAuthError(conn, "maintenance", "The service is under maintenance, please try again later")
		return
	}
	if _, err := c.session.SignInWithGoogle(ctx, m.IDToken); err != nil {
		if errors.Is(err, identity.ErrBlocked) {
			h.send(conn, protocol.TypeBlocked, protocol.BlockedMsg{})
		}
		h.sendAuthError(conn, authCode(err), identity.Message(err))
	}
}

func (h *Handlers) handleAdminSignIn(conn *Connection, msg interface{}) {
	m := msg.(protocol.AdminSignInMsg)
	c := h.clientFor(conn)

	if err := c.session.AdminSignIn(m.Username, m.Password); err != nil {
		h.sendAuthError(conn, "admin_denied", "Invalid administrator credentials")
	}
}

func (h *Handlers) handleSignOut(conn *Connection, msg interface{}) {
	c := h.clientFor(conn)
	c.feed.Close()
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.session.SignOut(ctx); err != nil {
		log.Printf("gateway: sign-out %s: %v", conn.ID, err)
	}
}

func (h *Handlers) handleVerifyPhone(conn *Connection, msg interface{}) {
	m := msg.(protocol.VerifyPhoneMsg)
	c := h.clientFor(conn)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	id, err := c.session.BeginPhoneVerification(ctx, m.Phone)
	if err != nil {
		h.sendAuthError(conn, authCode(err), identity.Message(err))
		return
	}
	h.send(conn, protocol.TypeCodeSent, protocol.CodeSentMsg{ChallengeID: id})
}

func (h *Handlers) handleConfirmPhone(conn *Connection, msg interface{}) {
	m := msg.(protocol.ConfirmPhoneMsg)
	c := h.clientFor(conn)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := c.session.ConfirmPhone(ctx, m.ChallengeID, m.Code); err != nil {
		h.sendAuthError(conn, authCode(err), identity.Message(err))
		return
	}
	h.send(conn, protocol.TypePhoneVerified, protocol.PhoneVerifiedMsg{})
}

func (h *Handlers) handleSkipPhone(conn *Connection, msg interface{}) {
	h.clientFor(conn).session.SkipPhoneVerification()
}

// ---------------------------------------------------------------------------
// Conversation handlers
// ---------------------------------------------------------------------------

// kindFromWire maps the wire kind discriminator to a conversation kind.
func kindFromWire(kind string) (conversation.Kind, bool) {
	switch kind {
	case "direct":
		return conversation.Direct, true
	case "group":
		return conversation.Group, true
	case "support":
		return conversation.Support, true
	}
	return 0, false
}

func (h *Handlers) handleSelectChat(conn *Connection, msg interface{}) {
	m := msg.(protocol.SelectChatMsg)
	c := h.clientFor(conn)

	p := c.session.Current()
	if p == nil {
		h.sendError(conn, "unauthenticated", "sign in first")
		return
	}
	kind, ok := kindFromWire(m.Kind)
	if !ok {
		h.sendError(conn, "bad_kind", "unknown conversation kind")
		return
	}
	ref := conversation.Ref{Kind: kind, Target: m.Target}
	path, err := conversation.MessagesPath(p.UID, ref)
	if err != nil {
		h.sendError(conn, "bad_target", "cannot resolve conversation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := c.feed.Open(ctx, path); err != nil {
		log.Printf("gateway: open feed %s: %v", path, err)
		h.sendError(conn, "feed_failed", "could not open conversation")
		return
	}

	c.mu.Lock()
	c.ref = ref
	c.hasRef = true
	c.mu.Unlock()

	h.send(conn, protocol.TypeChatSelected, protocol.ChatSelectedMsg{Kind: m.Kind, Target: m.Target})
}

func (h *Handlers) handleMessage(conn *Connection, msg interface{}) {
	m := msg.(protocol.ChatMsg)
	c := h.clientFor(conn)

	p := c.session.Current()
	if p == nil {
		h.sendError(conn, "unauthenticated", "sign in first")
		return
	}
	c.mu.Lock()
	ref, ok := c.ref, c.hasRef
	c.mu.Unlock()
	if !ok {
		h.sendError(conn, "no_chat", "select a conversation first")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if !h.allow(ctx, p.UID, ratelimit.RuleMessage) {
		h.sendError(conn, "rate_limited", "you are sending messages too quickly")
		return
	}
	sender := composer.Sender{ID: p.UID, Name: p.DisplayName(), Email: p.Email}
	if err := c.composer.Send(ctx, ref, sender, m.Text); err != nil {
		switch {
		case errors.Is(err, composer.ErrEmptyText):
			h.sendError(conn, "empty_message", "message is empty")
		case errors.Is(err, conversation.ErrUnauthenticated):
			h.sendError(conn, "unauthenticated", "sign in first")
		default:
			log.Printf("gateway: send from %s: %v", p.UID, err)
			h.sendError(conn, "send_failed", "message could not be sent")
		}
	}
}

func (h *Handlers) handleTyping(conn *Connection, msg interface{}) {
	m := msg.(protocol.TypingMsg)
	h.clientFor(conn).composer.SetDraft(m.Draft)
}

func (h *Handlers) handleCreateGroup(conn *Connection, msg interface{}) {
	c := h.clientFor(conn)
	p := c.session.Current()
	if p == nil {
		h.sendError(conn, "unauthenticated", "sign in first")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	code, err := h.app.Groups.Create(ctx, p.UID, p.DisplayName())
	if err != nil {
		log.Printf("gateway: create group for %s: %v", p.UID, err)
		h.sendError(conn, "create_failed", "could not create group")
		return
	}
	h.send(conn, protocol.TypeGroupCreated, protocol.GroupCreatedMsg{Code: code})
}

func (h *Handlers) handleJoinGroup(conn *Connection, msg interface{}) {
	m := msg.(protocol.JoinGroupMsg)
	c := h.clientFor(conn)
	p := c.session.Current()
	if p == nil {
		h.sendError(conn, "unauthenticated", "sign in first")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if !h.allow(ctx, p.UID, ratelimit.RuleJoin) {
		h.sendError(conn, "rate_limited", "too many join attempts, slow down")
		return
	}

	err := h.app.Groups.Join(ctx, m.Code, p.UID, p.DisplayName())
	switch {
	case err == nil, errors.Is(err, group.ErrAlreadyMember):
		// Membership watch pushes the updated list; a duplicate join is
		// treated as success.
	case errors.Is(err, group.ErrNotFound):
		h.sendError(conn, "unknown_code", "no group with this code")
	case errors.Is(err, group.ErrFull):
		h.sendError(conn, "group_full", "this group is full")
	default:
		log.Printf("gateway: join %s for %s: %v", m.Code, p.UID, err)
		h.sendError(conn, "join_failed", "could not join group")
	}
}

// ---------------------------------------------------------------------------
// Moderation handlers
// ---------------------------------------------------------------------------

// requireAdmin returns false and reports to the client when the session
// lacks admin rights.
func (h *Handlers) requireAdmin(conn *Connection, c *client) bool {
	if !c.session.IsAdmin() {
		h.sendError(conn, "forbidden", "administrator rights required")
		return false
	}
	return true
}

func (h *Handlers) handleBlockUser(conn *Connection, msg interface{}) {
	m := msg.(protocol.BlockUserMsg)
	c := h.clientFor(conn)
	if !h.requireAdmin(conn, c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if err := h.app.Panel.SetBlocked(ctx, m.UID, m.Blocked); err != nil {
		log.Printf("gateway: block %s: %v", m.UID, err)
		h.sendError(conn, "block_failed", "could not update block state")
		return
	}
	if m.Blocked {
		h.evictPrincipal(m.UID)
	}
}

func (h *Handlers) handleDeleteUser(conn *Connection, msg interface{}) {
	m := msg.(protocol.DeleteUserMsg)
	c := h.clientFor(conn)
	if !h.requireAdmin(conn, c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := h.app.Panel.DeleteUser(ctx, m.UID, m.Confirmed)
	switch {
	case err == nil:
		h.evictPrincipal(m.UID)
	case errors.Is(err, moderation.ErrConfirmationRequired):
		h.sendError(conn, "confirmation_required", "confirm the deletion first")
	default:
		log.Printf("gateway: delete user %s: %v", m.UID, err)
		h.sendError(conn, "delete_failed", "could not delete user")
	}
}

func (h *Handlers) handleDeleteGroup(conn *Connection, msg interface{}) {
	m := msg.(protocol.DeleteGroupMsg)
	c := h.clientFor(conn)
	if !h.requireAdmin(conn, c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := h.app.Panel.DeleteGroup(ctx, m.Code, m.Confirmed)
	switch {
	case err == nil:
	case errors.Is(err, moderation.ErrConfirmationRequired):
		h.sendError(conn, "confirmation_required", "confirm the deletion first")
	default:
		log.Printf("gateway: delete group %s: %v", m.Code, err)
		h.sendError(conn, "delete_failed", "could not delete group")
	}
}

func (h *Handlers) handleReplyTicket(conn *Connection, msg interface{}) {
	m := msg.(protocol.ReplyTicketMsg)
	c := h.clientFor(conn)
	if !h.requireAdmin(conn, c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	err := h.app.Panel.ReplyTicket(ctx, m.UID, m.Text)
	switch {
	case err == nil:
	case errors.Is(err, support.ErrNotFound):
		h.sendError(conn, "unknown_ticket", "no ticket for this user")
	default:
		log.Printf("gateway: reply ticket %s: %v", m.UID, err)
		h.sendError(conn, "reply_failed", "could not send reply")
	}
}

func (h *Handlers) handleToggleTicket(conn *Connection, msg interface{}) {
	m := msg.(protocol.ToggleTicketMsg)
	c := h.clientFor(conn)
	if !h.requireAdmin(conn, c) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	status, err := h.app.Panel.ToggleTicket(ctx, m.UID)
	switch {
	case err == nil:
		h.send(conn, protocol.TypeTicketStatus, protocol.TicketStatusMsg{UID: m.UID, Status: status})
	case errors.Is(err, support.ErrNotFound):
		h.sendError(conn, "unknown_ticket", "no ticket for this user")
	default:
		log.Printf("gateway: toggle ticket %s: %v", m.UID, err)
		h.sendError(conn, "toggle_failed", "could not update ticket")
	}
}

// evictPrincipal terminates every live connection signed in as uid. The
// client receives a blocked notice before the socket closes.
func (h *Handlers) evictPrincipal(uid string) {
	h.mu.Lock()
	var victims []*client
	for _, c := range h.clients {
		if p := c.session.Current(); p != nil && p.UID == uid {
			victims = append(victims, c)
		}
	}
	h.mu.Unlock()

	for _, c := range victims {
		h.send(c.conn, protocol.TypeBlocked, protocol.BlockedMsg{})
		if h.server != nil {
			h.server.RemoveConnection(c.conn)
		}
	}
}

// ---------------------------------------------------------------------------
// Plumbing
// ---------------------------------------------------------------------------

// allow consults the rate limiter; a nil limiter allows everything.
func (h *Handlers) allow(ctx context.Context, id string, rule ratelimit.Rule) bool {
	ok, _ := h.app.Limiter.Allow(ctx, id, rule)
	return ok
}

func (h *Handlers) maintenanceOn(ctx context.Context) bool {
	settings, err := h.app.Panel.LoadSettings(ctx)
	if err != nil {
		log.Printf("gateway: load settings: %v", err)
		return false
	}
	return settings.Maintenance
}

// authCode extracts the stable provider code from an auth failure, or a
// generic code for plumbing errors.
func authCode(err error) string {
	var ae *identity.AuthError
	if errors.As(err, &ae) {
		return ae.Code
	}
	if errors.Is(err, identity.ErrBlocked) {
		return "blocked"
	}
	return "auth_failed"
}

func (h *Handlers) send(conn *Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("gateway: build %s: %v", msgType, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("gateway: send %s to %s: %v", msgType, conn.ID, err)
	}
}

func (h *Handlers) sendError(conn *Connection, code, message string) {
	h.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

func (h *Handlers) sendAuthError(conn *Connection, code, message string) {
	h.send(conn, protocol.TypeAuthError, protocol.AuthErrorMsg{Code: code, Message: message})
}
