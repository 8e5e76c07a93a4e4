/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Cadavre Exquis
//
// Players sit in a virtual circle, each starting a sheet of paper. On every
// turn a player writes two clauses on the sheet in front of them — a hidden
// one, folded over, and a visible one — then passes the sheet to the next
// player, who sees only the visible clause. After a configurable number of
// full circuits a sheet returns to its owner, who writes the closing step
// and unfolds the whole thing.
//
// Implementation details:
// - Rooms keyed by URL: /path/:roomid, websocket at /path/:roomid/ws/:playerid
// - Player ids are caller-supplied opaque strings; reconnecting with the
//   same id resumes the same seat, queued sheets included
// - First player to connect is the only one allowed to start the game
// - Disconnects never delete a player; a player is only dropped when a
//   roster broadcast finds their connection dead
// - Finished transcripts are handed to the transcript store, best-effort
// - In-browser QR button to share the current room, backed by go-qrcode
// - Rooms auto-reaped after configurable idle timeout

package main

import (
	"crypto/rand"
	_ "embed"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients. A message with no action is a submission.
type clientMessage struct {
	Action  string `json:"action,omitempty"`  // "start" or "introduce"
	Name    string `json:"name,omitempty"`    // introduce
	Rounds  int    `json:"rounds,omitempty"`  // start; circuits per sheet, default 1
	Hidden  string `json:"hidden"`            // submission
	Visible string `json:"visible"`           // submission
}

// rosterMessage is broadcast after any roster change. The first entry of
// Plids is the only player allowed to start the game.
type rosterMessage struct {
	Players  []string `json:"players"`
	Plids    []string `json:"plids"`
	Started  bool     `json:"started"`
	Finished bool     `json:"finished"` // the recipient's own flag
}

// waitMessage tells a player they hold no sheet right now.
type waitMessage struct {
	Wait bool `json:"wait"`
}

// promptMessage carries the most recent visible line of the sheet a player
// should act on. From is null when the sheet has no steps yet.
type promptMessage struct {
	Visible string  `json:"visible"`
	From    *string `json:"from"`
}

// resultMessage delivers the full transcript of a sealed sheet.
type resultMessage struct {
	Finished bool     `json:"finished"`
	Sheets   []string `json:"sheets"`
}

// transport is the narrow capability a Room holds per player. Send reports
// failure so call sites can decide whether a dead connection matters.
type transport interface {
	Send(v any) error
	Close() error
}

type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) Send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_ = t.conn.SetWriteDeadline(time.Now().Add(timeout))

	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// connect registers a new player or revives an existing one, replacing
// only its connection, then catches them up: the roster always, the final
// transcript if they already finished, their pending turn otherwise.
func (r *Room) connect(cfg *Config, playerID string, conn transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	p := r.playerByIDLocked(playerID)
	if p != nil {
		p.conn = conn
		logf(cfg, "GAMES: Player %q reconnected to %s", playerID, r.id)
	} else {
		p = &Player{
			ID:        playerID,
			Name:      playerID,
			conn:      conn,
			homeSheet: -1,
		}
		r.players = append(r.players, p)
		logf(cfg, "GAMES: Player %q joined %s", playerID, r.id)
	}

	r.broadcastPlayersLocked(cfg)

	if p.finished {
		r.sendResultLocked(cfg, p)

		return
	}

	if r.started {
		r.deliverStateLocked(cfg, p)
	}
}

// disconnect only logs. The player record and its queued sheets stay put
// so the same id can pick the game back up.
func (r *Room) disconnect(cfg *Config, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	logf(cfg, "GAMES: Player %q disconnected from %s", playerID, r.id)
}

func (r *Room) handleMessage(cfg *Config, playerID string, msg clientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastActive = time.Now()

	switch msg.Action {
	case "start":
		r.startLocked(cfg, playerID, msg.Rounds)
	case "introduce":
		r.introduceLocked(cfg, playerID, msg.Name)
	case "":
		r.submitLocked(cfg, playerID, msg.Hidden, msg.Visible)
	default:
		// ignore unknown actions
	}
}

// introduceLocked updates a player's display name, truncated to the
// configured rune limit, and announces the new roster.
func (r *Room) introduceLocked(cfg *Config, playerID, name string) {
	p := r.playerByIDLocked(playerID)
	if p == nil {
		return
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	if runes := []rune(name); len(runes) > cfg.nameLength {
		name = string(runes[:cfg.nameLength])
	}

	p.Name = name

	r.broadcastPlayersLocked(cfg)
}

// sendLocked delivers a message to a single player. Failures here are
// logged and dropped; only roster broadcasts remove dead players.
func (r *Room) sendLocked(cfg *Config, p *Player, v any) {
	if p.conn == nil {
		return
	}

	if err := p.conn.Send(v); err != nil {
		logf(cfg, "GAMES: Send to %q in %s failed: %v", p.ID, r.id, err)
	}
}

// deliverStateLocked sends a player whatever they should be looking at:
// nothing once finished, a wait signal with an empty inbox, and otherwise
// the last visible line of the sheet at the front of their inbox. A sheet
// index past the allocated sheets can occur transiently while a started
// room finishes initializing, and is treated like an empty sheet.
func (r *Room) deliverStateLocked(cfg *Config, p *Player) {
	if p.finished {
		return
	}

	if len(p.inbox) == 0 {
		r.sendLocked(cfg, p, waitMessage{Wait: true})

		return
	}

	idx := p.inbox[0]
	if idx >= len(r.sheets) || len(r.sheets[idx]) == 0 {
		r.sendLocked(cfg, p, promptMessage{})

		return
	}

	last := r.sheets[idx][len(r.sheets[idx])-1]
	from := last.Author

	r.sendLocked(cfg, p, promptMessage{
		Visible: last.Visible,
		From:    &from,
	})
}

func (r *Room) sendResultLocked(cfg *Config, p *Player) {
	r.sendLocked(cfg, p, resultMessage{
		Finished: true,
		Sheets:   []string{r.sheetTextLocked(p.homeSheet)},
	})
}

// broadcastPlayersLocked sends every player the current roster. A send
// hitting a dead connection drops that player from the room entirely;
// this is the only path by which a player record is ever deleted.
func (r *Room) broadcastPlayersLocked(cfg *Config) {
	names := make([]string, 0, len(r.players))
	ids := make([]string, 0, len(r.players))

	for _, p := range r.players {
		names = append(names, p.Name)
		ids = append(ids, p.ID)
	}

	dst := r.players[:0]
	removed := false

	for _, p := range r.players {
		if p.conn != nil {
			err := p.conn.Send(rosterMessage{
				Players:  names,
				Plids:    ids,
				Started:  r.started,
				Finished: p.finished,
			})
			if err != nil {
				logf(cfg, "GAMES: Dropping player %q from %s: %v", p.ID, r.id, err)
				_ = p.conn.Close()
				removed = true

				continue
			}
		}

		dst = append(dst, p)
	}

	r.players = dst

	if removed {
		r.broadcastPlayersLocked(cfg)
	}
}

// closeAll disconnects every player in this room (used by the reaper).
func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.players {
		if p.conn != nil {
			_ = p.conn.Close()
			p.conn = nil
		}
	}
}

// RoomRegistry holds rooms keyed by room id, so each $path/$roomid is its
// own isolated game. Rooms are created lazily on first connection.
type RoomRegistry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	store *transcriptStore
}

func newRoomRegistry(cfg *Config, store *transcriptStore) *RoomRegistry {
	rr := &RoomRegistry{
		rooms: make(map[string]*Room),
		store: store,
	}

	if cfg.sessionTimeout > 0 {
		go rr.reaperLoop(cfg)
	}

	return rr
}

func (rr *RoomRegistry) getOrCreate(roomID string) *Room {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if room, ok := rr.rooms[roomID]; ok {
		return room
	}

	room := newRoom(roomID, rr.store)
	rr.rooms[roomID] = room

	return room
}

// newRoomID generates a crypto-random room id and ensures it doesn't
// collide with existing rooms.
func (rr *RoomRegistry) newRoomID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		rr.mu.Lock()
		_, exists := rr.rooms[id]
		rr.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than
// the configured session timeout.
func (rr *RoomRegistry) reaperLoop(cfg *Config) {
	ticker := time.NewTicker(cfg.sessionTimeout / 2)

	for range ticker.C {
		cutoff := time.Now().Add(-cfg.sessionTimeout)

		rr.mu.Lock()
		for id, room := range rr.rooms {
			room.mu.Lock()
			last := room.lastActive
			room.mu.Unlock()

			if last.Before(cutoff) {
				delete(rr.rooms, id)
				logf(cfg, "GAMES: Reaped idle room %s", id)
				go room.closeAll()
			}
		}
		rr.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket handler that picks the room based on :roomid. The player id
// is taken from the path as-is; whoever presents an id owns that seat.
func serveWSForRegistry(cfg *Config, rr *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		playerID := ps.ByName("playerid")

		if roomID == "" || playerID == "" {
			http.Error(w, "missing room or player id", http.StatusBadRequest)

			return
		}

		room := rr.getOrCreate(roomID)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)

			return
		}

		room.connect(cfg, playerID, &wsTransport{conn: conn})

		readLoop(cfg, room, playerID, conn)
	}
}

// readLoop pumps client messages into the room until the connection dies
// for any reason. The deferred cleanup guarantees disconnect fires exactly
// once per connection, on every exit path.
func readLoop(cfg *Config, room *Room, playerID string, conn *websocket.Conn) {
	defer func() {
		room.disconnect(cfg, playerID)
		_ = conn.Close()
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		room.handleMessage(cfg, playerID, msg)
	}
}

// QR handler: generates a PNG QR code for the current room URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)

		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed corpse/index.html
var indexHTML []byte

//go:embed corpse/app.css
var corpseCSS []byte

//go:embed corpse/app.js
var corpseJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(corpseCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(corpseJS)
	}
}

// redirectNewRoom handles GET /path by generating a new random room id
// (with server-side collision detection) and redirecting to /path/:roomid.
func redirectNewRoom(cfg *Config, path string, rr *RoomRegistry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		roomID := rr.newRoomID()
		logf(cfg, "GAMES: Created room %s/%s", path, roomID)
		http.Redirect(w, r, path+"/"+roomID, http.StatusTemporaryRedirect)
	}
}

// registerCorpseGame sets up routes so that:
//   - $path                        → redirects to new random room (8-char id)
//   - $path/:roomid                → HTML client
//   - $path/:roomid/qr             → PNG QR code for that room URL
//   - $path/:roomid/ws/:playerid   → WebSocket for that room and player
func registerCorpseGame(cfg *Config, path string, mux *httprouter.Router, store *transcriptStore) {
	rr := newRoomRegistry(cfg, store)

	// Root path → redirect to new random room
	mux.GET(cfg.prefix+path, redirectNewRoom(cfg, cfg.prefix+path, rr))

	// Per-room client view (HTML)
	mux.GET(cfg.prefix+path+"/:roomid", getIndexHandler(cfg))

	// Shared assets (no roomid in route)
	mux.GET(cfg.prefix+"/assets/corpse/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/corpse/app.js", getJsHandler(cfg))

	// Per-room QR code
	mux.GET(cfg.prefix+path+"/:roomid/qr", qrHandler)

	// Per-room, per-player websocket
	mux.GET(cfg.prefix+path+"/:roomid/ws/:playerid", serveWSForRegistry(cfg, rr))
}
