/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{nameLength: 32}
}

// newTestRoom connects n players named p0..pN-1 over fake transports.
func newTestRoom(n int) (*Room, []*fakeTransport) {
	cfg := testConfig()
	room := newRoom("test", nil)

	conns := make([]*fakeTransport, n)
	for i := range conns {
		conns[i] = &fakeTransport{}
		room.connect(cfg, fmt.Sprintf("p%d", i), conns[i])
	}

	return room, conns
}

func start(room *Room, requesterID string, rounds int) {
	room.handleMessage(testConfig(), requesterID, clientMessage{Action: "start", Rounds: rounds})
}

func submit(room *Room, playerID, hidden, visible string) {
	room.handleMessage(testConfig(), playerID, clientMessage{Hidden: hidden, Visible: visible})
}

func TestStartRequiresTwoPlayers(t *testing.T) {
	room, _ := newTestRoom(1)

	start(room, "p0", 1)

	assert.False(t, room.started)
	assert.Empty(t, room.sheets)
}

func TestStartRequiresFirstConnectedPlayer(t *testing.T) {
	room, _ := newTestRoom(3)

	start(room, "p1", 1)
	assert.False(t, room.started)

	start(room, "nobody", 1)
	assert.False(t, room.started)

	start(room, "p0", 1)
	assert.True(t, room.started)
}

func TestStartAllocatesOneSheetPerPlayer(t *testing.T) {
	room, _ := newTestRoom(3)

	start(room, "p0", 2)

	require.True(t, room.started)
	require.Len(t, room.sheets, 3)
	assert.Equal(t, 2, room.roundsTotal)
	assert.NotEmpty(t, room.session)

	for i, p := range room.players {
		assert.Equal(t, []int{i}, p.inbox)
		assert.Equal(t, i, p.homeSheet)
		assert.Zero(t, p.currentRound)
		assert.False(t, p.finished)
		assert.Empty(t, room.sheets[i])
	}
}

func TestStartRoundsDefaultToOne(t *testing.T) {
	room, _ := newTestRoom(2)

	start(room, "p0", 0)

	assert.Equal(t, 1, room.roundsTotal)
}

func TestStartIgnoredOnceStarted(t *testing.T) {
	room, _ := newTestRoom(2)

	start(room, "p0", 1)
	require.True(t, room.started)

	submit(room, "p0", "h", "v")
	start(room, "p0", 5)

	assert.Equal(t, 1, room.roundsTotal)
	assert.Len(t, room.sheets[0], 1, "restart must not clear sheets")
}

func TestSubmitBeforeStartIgnored(t *testing.T) {
	room, _ := newTestRoom(2)

	submit(room, "p0", "h", "v")

	assert.Empty(t, room.sheets)
	assert.Empty(t, room.players[0].inbox)
}

func TestSubmitWithEmptyInboxIgnored(t *testing.T) {
	room, _ := newTestRoom(3)

	start(room, "p0", 1)
	submit(room, "p0", "h1", "v1")
	require.Empty(t, room.players[0].inbox)

	submit(room, "p0", "h2", "v2")

	total := 0
	for _, sheet := range room.sheets {
		total += len(sheet)
	}
	assert.Equal(t, 1, total)
}

func TestSubmitConsumesInboxInArrivalOrder(t *testing.T) {
	room, _ := newTestRoom(3)

	start(room, "p0", 1)

	// p1 now holds its own sheet plus sheet 0, in that order.
	submit(room, "p0", "h", "v")
	require.Equal(t, []int{1, 0}, room.players[1].inbox)

	submit(room, "p1", "h", "v")

	assert.Len(t, room.sheets[1], 1, "front of inbox acts first")
	assert.Len(t, room.sheets[0], 1)
	assert.Equal(t, []int{0}, room.players[1].inbox)
}

func TestSubmitForwardsToNextInTurnOrder(t *testing.T) {
	room, _ := newTestRoom(3)

	start(room, "p0", 1)

	submit(room, "p2", "h", "v")

	// sheet 2 wraps around to the first player
	assert.Equal(t, []int{0, 2}, room.players[0].inbox)
	assert.Equal(t, "p2", room.sheets[2][0].Author)
}

func TestTwoPlayerSingleRoundGame(t *testing.T) {
	room, conns := newTestRoom(2)
	a, b := room.players[0], room.players[1]

	start(room, "p0", 1)
	require.Equal(t, []int{0}, a.inbox)
	require.Equal(t, []int{1}, b.inbox)

	submit(room, "p0", "h1", "v1")
	require.Equal(t, []int{1, 0}, b.inbox)

	submit(room, "p1", "h2", "v2")
	require.Equal(t, []int{1}, a.inbox)

	submit(room, "p0", "h3", "v3")
	require.Equal(t, []int{0, 1}, b.inbox)
	require.False(t, a.finished, "sheet 1 is not a's home sheet")

	submit(room, "p1", "h4", "v4")
	require.Equal(t, []int{0}, a.inbox)
	require.False(t, b.finished, "sheet 0 is not b's home sheet")

	submit(room, "p0", "h5", "v5")

	assert.True(t, a.finished)
	assert.Empty(t, a.inbox)
	assert.Len(t, room.sheets[0], 3)

	last := conns[0].last()
	require.IsType(t, resultMessage{}, last)
	assert.Equal(t, resultMessage{
		Finished: true,
		Sheets:   []string{"h1\nv1\nh4\nv4\nh5\nv5"},
	}, last)
}

// playOut drives a started room to completion, always acting as the
// first player in turn order with a non-empty inbox, and checks after
// every move that no player finishes at the wrong sheet length.
func playOut(t *testing.T, room *Room, rounds, players int) int {
	t.Helper()

	sealLen := rounds*players + 1
	moves := 0
	limit := players * sealLen

	for moves < limit+1 {
		acted := false

		for _, p := range room.players {
			if p.finished || len(p.inbox) == 0 {
				continue
			}

			submit(room, p.ID, fmt.Sprintf("h%d", moves), fmt.Sprintf("v%d", moves))
			moves++
			acted = true

			for _, q := range room.players {
				if q.finished {
					require.Len(t, room.sheets[q.homeSheet], sealLen,
						"player %s finished at the wrong sheet length", q.ID)
				}
			}
			for _, sheet := range room.sheets {
				require.LessOrEqual(t, len(sheet), sealLen)
			}

			break
		}

		if !acted {
			break
		}
	}

	return moves
}

func TestSheetsSealAfterExactlyRoundsTotalLaps(t *testing.T) {
	for rounds := 1; rounds <= 3; rounds++ {
		for players := 2; players <= 4; players++ {
			t.Run(fmt.Sprintf("%dx%d", rounds, players), func(t *testing.T) {
				room, _ := newTestRoom(players)

				start(room, "p0", rounds)
				require.Len(t, room.sheets, players)

				moves := playOut(t, room, rounds, players)

				assert.Equal(t, players*(rounds*players+1), moves)
				assert.True(t, room.finished)
				assert.Len(t, room.sheets, players, "sheet count never changes after start")

				for _, p := range room.players {
					assert.True(t, p.finished)
					assert.Empty(t, p.inbox)
				}
				for _, sheet := range room.sheets {
					assert.Len(t, sheet, rounds*players+1)
				}
			})
		}
	}
}
