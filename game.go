/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"strings"
	"sync"
	"time"
)

// Step is one turn's contribution to a sheet. The hidden part is folded
// over before the sheet is passed on; only the visible part is shown to
// the next player.
type Step struct {
	Hidden  string
	Visible string
	Author  string
}

func (s Step) text() string {
	return s.Hidden + "\n" + s.Visible
}

// Player is one participant in a room. The record outlives its
// connection: a disconnect leaves inbox, homeSheet and finished intact,
// so the same id can reconnect and resume where it left off.
type Player struct {
	ID   string
	Name string

	conn transport

	inbox        []int
	homeSheet    int
	currentRound int
	finished     bool
}

// Room is a single game instance. The player slice doubles as the turn
// order, frozen at start to the order players first connected in.
// Sheets are indexed by the originating player's position in that order.
type Room struct {
	id          string
	players     []*Player
	sheets      [][]Step
	roundsTotal int
	started     bool
	finished    bool

	// persistence key, set at start
	session string

	createdAt  time.Time
	lastActive time.Time

	store *transcriptStore

	mu sync.Mutex
}

func newRoom(roomID string, store *transcriptStore) *Room {
	now := time.Now()

	return &Room{
		id:         roomID,
		createdAt:  now,
		lastActive: now,
		store:      store,
	}
}

func (r *Room) playerByIDLocked(id string) *Player {
	for _, p := range r.players {
		if p.ID == id {
			return p
		}
	}

	return nil
}

func (r *Room) playerIndexLocked(player *Player) int {
	for i, p := range r.players {
		if p == player {
			return i
		}
	}

	return -1
}

func (r *Room) sheetTextLocked(idx int) string {
	lines := make([]string, 0, len(r.sheets[idx]))
	for _, step := range r.sheets[idx] {
		lines = append(lines, step.text())
	}

	return strings.Join(lines, "\n")
}

// startLocked begins the game. Only the first-connected player may start,
// and only while the room holds at least two players and has not already
// started. Anything else is silently ignored.
func (r *Room) startLocked(cfg *Config, requesterID string, rounds int) {
	if r.started || len(r.players) < 2 || r.players[0].ID != requesterID {
		return
	}

	if rounds < 1 {
		rounds = 1
	}

	r.roundsTotal = rounds
	r.sheets = make([][]Step, len(r.players))
	r.session = time.Now().Format("2006-01-02T15-04-05")
	r.started = true
	r.finished = false

	for idx, p := range r.players {
		p.inbox = []int{idx}
		p.homeSheet = idx
		p.currentRound = 0
		p.finished = false
	}

	logf(cfg, "GAMES: Started %s with %d players, %d round(s)", r.id, len(r.players), r.roundsTotal)

	r.broadcastPlayersLocked(cfg)

	for _, p := range r.players {
		r.deliverStateLocked(cfg, p)
	}
}

// submitLocked appends one step to the sheet at the front of the
// submitter's inbox, then either seals the sheet or forwards it to the
// next player in turn order.
//
// A sheet returns to its owner exactly once per full circuit, so the
// sheet is complete exactly when it is the submitter's home sheet and
// its length before this append equals roundsTotal × player count: every
// player, owner included, has then contributed roundsTotal times, and
// the owner's closing step seals it. Testing the length after the append
// instead would close the sheet one lap early.
func (r *Room) submitLocked(cfg *Config, playerID, hidden, visible string) {
	if !r.started {
		return
	}

	p := r.playerByIDLocked(playerID)
	if p == nil || len(p.inbox) == 0 {
		return
	}

	idx := p.inbox[0]
	p.inbox = p.inbox[1:]

	before := len(r.sheets[idx])
	r.sheets[idx] = append(r.sheets[idx], Step{
		Hidden:  hidden,
		Visible: visible,
		Author:  p.Name,
	})

	if idx == p.homeSheet && before == r.roundsTotal*len(r.players) {
		p.finished = true
		p.inbox = nil

		logf(cfg, "GAMES: Sheet %d sealed for %q in %s", idx, p.ID, r.id)

		r.sendResultLocked(cfg, p)

		if r.store != nil {
			go r.store.save(cfg, r.id, r.session, p.Name, r.sheetTextLocked(idx))
		}

		r.finished = true
		for _, other := range r.players {
			if !other.finished {
				r.finished = false
				break
			}
		}

		return
	}

	p.currentRound++

	next := r.players[(r.playerIndexLocked(p)+1)%len(r.players)]
	next.inbox = append(next.inbox, idx)

	r.deliverStateLocked(cfg, next)
	r.deliverStateLocked(cfg, p)
}
