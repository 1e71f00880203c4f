package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

func startTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	store := openTestStore(t)
	hub := NewHub(store)
	go hub.Run()
	srv := httptest.NewServer(SetupRoutes(hub))
	t.Cleanup(func() {
		srv.Close()
		hub.rooms.Stop()
		hub.analytics.Stop()
	})
	return srv, hub
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := InEnvelope{T: msgType, D: raw}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// waitForEnvelope reads text messages until one of the wanted type
// arrives, skipping everything else including binary frames.
func waitForEnvelope(t *testing.T, conn *websocket.Conn, msgType string) InEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		var env InEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("bad envelope %q: %v", raw, err)
		}
		if env.T == msgType {
			return env
		}
	}
}

// waitForFrame reads until a binary message arrives and decodes it
func waitForFrame(t *testing.T, conn *websocket.Conn) PositionsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		kind, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for positions frame: %v", err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		var frame PositionsFrame
		if err := msgpack.Unmarshal(raw, &frame); err != nil {
			t.Fatalf("frame decode: %v", err)
		}
		return frame
	}
}

func register(t *testing.T, conn *websocket.Conn, username string) string {
	t.Helper()
	sendMsg(t, conn, MsgRegister, RegisterMsg{Username: username, Password: "Secret123!"})
	env := waitForEnvelope(t, conn, MsgAuthOK)
	var ok AuthOKMsg
	if err := json.Unmarshal(env.D, &ok); err != nil {
		t.Fatalf("auth_ok decode: %v", err)
	}
	if ok.Username != username || ok.Token == "" {
		t.Fatalf("auth_ok = %+v", ok)
	}
	return ok.Token
}

func roomList(t *testing.T, env InEnvelope) []RoomInfo {
	t.Helper()
	var list []RoomInfo
	if err := json.Unmarshal(env.D, &list); err != nil {
		t.Fatalf("room_list decode: %v", err)
	}
	return list
}

func TestRegisterCreateRoomAndList(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialWS(t, srv)

	register(t, conn, "alice")
	sendMsg(t, conn, MsgCreateRoom, CreateRoomMsg{Name: "Arena"})

	list := roomList(t, waitForEnvelope(t, conn, MsgRoomList))
	if len(list) != 1 || list[0].Name != "Arena" || list[0].ID == "" {
		t.Fatalf("room_list = %+v", list)
	}
}

func TestUnauthenticatedCreateRoomIsDropped(t *testing.T) {
	srv, _ := startTestServer(t)
	conn := dialWS(t, srv)

	sendMsg(t, conn, MsgCreateRoom, CreateRoomMsg{Name: "Arena"})
	sendMsg(t, conn, MsgGetRooms, nil)

	list := roomList(t, waitForEnvelope(t, conn, MsgRoomList))
	if len(list) != 0 {
		t.Fatalf("unauthenticated create_room produced rooms: %+v", list)
	}
}

func TestTokenResumeOnNewConnection(t *testing.T) {
	srv, _ := startTestServer(t)

	first := dialWS(t, srv)
	token := register(t, first, "alice")
	first.Close()

	second := dialWS(t, srv)
	sendMsg(t, second, MsgAuth, AuthMsg{Token: token})
	env := waitForEnvelope(t, second, MsgAuthOK)
	var ok AuthOKMsg
	if err := json.Unmarshal(env.D, &ok); err != nil {
		t.Fatalf("auth_ok decode: %v", err)
	}
	if ok.Username != "alice" {
		t.Fatalf("resumed as %q, want alice", ok.Username)
	}
}

func TestFullGameFlow(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := dialWS(t, srv)
	bob := dialWS(t, srv)
	register(t, alice, "alice")
	register(t, bob, "bob")

	sendMsg(t, alice, MsgCreateRoom, CreateRoomMsg{Name: "Arena"})
	list := roomList(t, waitForEnvelope(t, alice, MsgRoomList))
	if len(list) != 1 {
		t.Fatalf("room_list = %+v", list)
	}
	roomID := list[0].ID

	// Both players land on the team-select page
	sendMsg(t, alice, MsgPageReady, PageReadyMsg{RoomID: roomID, Page: "team_select"})
	waitForEnvelope(t, alice, MsgNoTeamList)
	sendMsg(t, bob, MsgPageReady, PageReadyMsg{RoomID: roomID, Page: "team_select"})
	waitForEnvelope(t, bob, MsgNoTeamList)

	sendMsg(t, alice, MsgJoinTeam, JoinTeamMsg{RoomID: roomID, Team: TeamRed})
	env := waitForEnvelope(t, alice, MsgJoinedTeam)
	var joined JoinedTeamMsg
	if err := json.Unmarshal(env.D, &joined); err != nil {
		t.Fatalf("joined_team decode: %v", err)
	}
	if joined.Team != TeamRed {
		t.Fatalf("joined_team = %+v", joined)
	}
	sendMsg(t, bob, MsgJoinTeam, JoinTeamMsg{RoomID: roomID, Team: TeamBlue})
	waitForEnvelope(t, bob, MsgJoinedTeam)

	sendMsg(t, alice, MsgStartGame, StartGameMsg{RoomID: roomID})
	waitForEnvelope(t, alice, MsgGameStarted)
	waitForEnvelope(t, bob, MsgGameStarted)

	// The first accepted move broadcasts a positions frame to the room
	sendMsg(t, alice, MsgMove, MoveMsg{RoomID: roomID, Dir: "left"})
	frame := waitForFrame(t, bob)
	if frame.T != MsgPlayerPositions {
		t.Fatalf("frame type %q", frame.T)
	}
	if len(frame.Players) != 2 {
		t.Fatalf("frame has %d players, want 2", len(frame.Players))
	}
	for _, p := range frame.Players {
		switch p.ID {
		case "alice":
			if p.Team != TeamRed || p.X < 96 || p.X > 99 || p.Y < 0 || p.Y > 2 {
				t.Errorf("alice state %+v, want red spawn corner", p)
			}
			if !p.Alive {
				t.Errorf("alice should be alive")
			}
		case "bob":
			if p.Team != TeamBlue || p.X < 0 || p.X > 2 || p.Y < 97 || p.Y > 99 {
				t.Errorf("bob state %+v, want blue spawn corner", p)
			}
		default:
			t.Errorf("unexpected player %q in frame", p.ID)
		}
	}
}

func TestUnassignedPlayerKickedOnStart(t *testing.T) {
	srv, _ := startTestServer(t)

	alice := dialWS(t, srv)
	carol := dialWS(t, srv)
	register(t, alice, "alice")
	register(t, carol, "carol")

	sendMsg(t, alice, MsgCreateRoom, CreateRoomMsg{Name: "Arena"})
	roomID := roomList(t, waitForEnvelope(t, alice, MsgRoomList))[0].ID

	sendMsg(t, alice, MsgPageReady, PageReadyMsg{RoomID: roomID, Page: "team_select"})
	sendMsg(t, alice, MsgJoinTeam, JoinTeamMsg{RoomID: roomID, Team: TeamRed})
	waitForEnvelope(t, alice, MsgJoinedTeam)

	sendMsg(t, carol, MsgPageReady, PageReadyMsg{RoomID: roomID, Page: "team_select"})
	waitForEnvelope(t, carol, MsgNoTeamList)

	sendMsg(t, alice, MsgStartGame, StartGameMsg{RoomID: roomID})
	env := waitForEnvelope(t, carol, MsgKicked)
	var kicked KickedMsg
	if err := json.Unmarshal(env.D, &kicked); err != nil {
		t.Fatalf("kicked decode: %v", err)
	}
	if kicked.RoomID != roomID {
		t.Fatalf("kicked = %+v", kicked)
	}
}

func TestInviteQREndpoint(t *testing.T) {
	srv, hub := startTestServer(t)

	doc := NewRoomDoc("r1", "Arena", "alice", "")
	if err := hub.store.InsertRoom(doc); err != nil {
		t.Fatalf("insert room: %v", err)
	}

	resp, err := http.Get(srv.URL + "/invite?room=r1")
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	pngMagic := []byte{0x89, 'P', 'N', 'G'}
	if !bytes.HasPrefix(body, pngMagic) {
		t.Fatal("response is not a PNG")
	}

	resp, err = http.Get(srv.URL + "/invite?room=unknown")
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown room status %d, want 404", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/invite")
	if err != nil {
		t.Fatalf("get invite: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing room status %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := startTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
}
