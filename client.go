package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	username   string // resolved identity, "" = unauthenticated
	msgCount   int
	msgResetAt time.Time
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
	}
}

// ReadPump reads messages from the WebSocket connection. Events from
// one connection are handled sequentially, so a single player's moves
// apply in receipt order.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		// Rate limiting
		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			log.Printf("rate limit exceeded for %s, disconnecting", c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("marshal error: %v", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message.
// Prefixes with 0xFF marker byte so WritePump can distinguish from text.
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("unmarshal error: %v", err)
		return
	}

	switch env.T {
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgCreateRoom:
		c.handleCreateRoom(env.D)
	case MsgGetRooms:
		c.handleGetRooms()
	case MsgJoinRoom:
		c.handleJoinRoom(env.D)
	case MsgPageReady:
		c.handlePageReady(env.D)
	case MsgJoinTeam:
		c.handleJoinTeam(env.D)
	case MsgStartGame:
		c.handleStartGame(env.D)
	case MsgMove:
		c.handleMove(env.D)
	case MsgLeave:
		c.handleLeave()
	}
}

// authed gates lobby and battlefield handlers on a resolved identity
func (c *Client) authed() bool {
	if c.username == "" {
		log.Printf("[WS] unauthenticated event from %s ignored", c.remoteAddr)
		return false
	}
	return true
}

func (c *Client) handleRegister(data json.RawMessage) {
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	token, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.username = msg.Username
	c.hub.BindIdentity(c.username, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{Token: token, Username: msg.Username}})
}

func (c *Client) handleLogin(data json.RawMessage) {
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	token, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: err.Error()}})
		return
	}
	c.username = msg.Username
	c.hub.BindIdentity(c.username, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{Token: token, Username: msg.Username}})
}

func (c *Client) handleAuth(data json.RawMessage) {
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Validate() != nil {
		return
	}
	username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: "invalid token"}})
		return
	}
	c.username = username
	c.hub.BindIdentity(c.username, c)
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{Token: msg.Token, Username: username}})
}

func (c *Client) handleCreateRoom(data json.RawMessage) {
	if !c.authed() {
		return
	}
	var msg CreateRoomMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := msg.Validate(); err != nil {
		log.Printf("[CREATE_ROOM] rejected: %v", err)
		return
	}
	c.hub.rooms.CreateRoom(c.username, msg.Name, msg.Attacking)
}

func (c *Client) handleGetRooms() {
	c.SendJSON(Envelope{T: MsgRoomList, Data: c.hub.rooms.ListRooms()})
}

func (c *Client) handleJoinRoom(data json.RawMessage) {
	var msg JoinRoomMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Validate() != nil {
		return
	}
	c.hub.JoinGroup(msg.RoomID, c)
}

func (c *Client) handlePageReady(data json.RawMessage) {
	if !c.authed() {
		return
	}
	var msg PageReadyMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := msg.Validate(); err != nil {
		log.Printf("[PAGE_READY] rejected: %v", err)
		return
	}
	switch msg.Page {
	case "create_lobby":
		c.handleGetRooms()
	case "team_select":
		c.hub.BindIdentity(c.username, c)
		c.hub.JoinGroup(msg.RoomID, c)
		c.hub.rooms.PageReady(msg.RoomID, c.username)
	}
}

func (c *Client) handleJoinTeam(data json.RawMessage) {
	if !c.authed() {
		return
	}
	var msg JoinTeamMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := msg.Validate(); err != nil {
		log.Printf("[JOIN_TEAM] rejected: %v", err)
		return
	}
	c.hub.JoinGroup(msg.RoomID, c)
	if err := c.hub.rooms.JoinTeam(msg.RoomID, c.username, msg.Team); err != nil {
		return
	}
	c.SendJSON(Envelope{T: MsgJoinedTeam, Data: JoinedTeamMsg{RoomID: msg.RoomID, Team: msg.Team}})
}

func (c *Client) handleStartGame(data json.RawMessage) {
	if !c.authed() {
		return
	}
	var msg StartGameMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Validate() != nil {
		return
	}
	c.hub.rooms.StartGame(msg.RoomID, c.username)
}

func (c *Client) handleMove(data json.RawMessage) {
	if !c.authed() {
		return
	}
	var msg MoveMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := msg.Validate(); err != nil {
		log.Printf("[MOVE] rejected: %v", err)
		return
	}
	c.hub.rooms.Move(msg.RoomID, c.username, msg)
}

func (c *Client) handleLeave() {
	c.hub.LeaveAllGroups(c)
}
