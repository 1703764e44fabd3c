package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"musicduel.ai/internal/sim/model"
)

const (
	alice = "0x00000000000000000000000000000000000000AA"
	bob   = "0x00000000000000000000000000000000000000bb"
)

func newState() *model.LobbyState {
	st := &model.LobbyState{Version: model.StateVersion, LobbyID: "main", MatchID: "m1"}
	st.EnsureMaps()
	st.Epochs[10] = &model.EpochAggregate{EpochID: 10}
	return st
}

func playing(idx int64) CurrentTurn {
	return CurrentTurn{ID: "m1:" + string(rune('0'+idx)), Index: idx, Playing: true}
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("  " + alice + " ")
	require.NoError(t, err)
	require.Equal(t, "0x00000000000000000000000000000000000000aa", got)

	for _, bad := range []string{"", "0x12", "hello", "0xZZ000000000000000000000000000000000000AA"} {
		_, err := NormalizeAddress(bad)
		require.ErrorIs(t, err, ErrInvalidAddress, bad)
	}
}

func TestWinner(t *testing.T) {
	require.Equal(t, model.SideA, Winner(2, 1))
	require.Equal(t, model.SideB, Winner(0, 1))
	require.Equal(t, model.SideTie, Winner(3, 3))
}

func TestCastVote(t *testing.T) {
	st := newState()
	cur := playing(2)

	tally, err := CastVote(st, cur, 10, "m1:2", "A", alice)
	require.NoError(t, err)
	require.Equal(t, Tally{TurnID: "m1:2", A: 1, Winner: model.SideA}, tally)

	// same address in a different case is the same voter
	_, err = CastVote(st, cur, 10, "m1:2", "B", "0x00000000000000000000000000000000000000aa")
	require.ErrorIs(t, err, ErrAlreadyVoted)

	tally, err = CastVote(st, cur, 10, "m1:2", "B", bob)
	require.NoError(t, err)
	require.Equal(t, model.SideTie, tally.Winner)

	agg := st.Epochs[10]
	require.EqualValues(t, 1, agg.VotesA)
	require.EqualValues(t, 1, agg.VotesB)
	require.EqualValues(t, 2, st.Votes["m1:2"].TurnIndex)
}

func TestCastVote_Rejections(t *testing.T) {
	st := newState()

	_, err := CastVote(st, CurrentTurn{}, 10, "m1:0", "A", alice)
	require.ErrorIs(t, err, ErrLobbyIdle)

	_, err = CastVote(st, playing(3), 10, "m1:2", "A", alice)
	require.ErrorIs(t, err, ErrTurnMismatch)

	_, err = CastVote(st, playing(3), 10, "m1:3", "TIE", alice)
	require.ErrorIs(t, err, ErrInvalidSide)

	_, err = CastVote(st, playing(3), 10, "m1:3", "A", "nope")
	require.ErrorIs(t, err, ErrInvalidAddress)

	require.Empty(t, st.Votes)
	require.Zero(t, st.Epochs[10].VotesA)
}

func TestCastVote_FinalizedEpochUntouched(t *testing.T) {
	st := newState()
	st.Epochs[10].FinalizedAtMs = 1
	_, err := CastVote(st, playing(1), 10, "m1:1", "B", bob)
	require.NoError(t, err)
	require.Zero(t, st.Epochs[10].VotesB)
}

func TestPruneVotes(t *testing.T) {
	st := newState()
	for i := int64(0); i < 5; i++ {
		_, err := CastVote(st, playing(i), 10, playing(i).ID, "A", alice)
		require.NoError(t, err)
	}
	require.Equal(t, 3, PruneVotes(st, 3))
	require.Len(t, st.Votes, 2)
	require.Contains(t, st.Votes, "m1:4")
}

var window = BetWindow{EpochID: 10, MinBet: 1, MaxBet: 1000}

func TestPlaceBet(t *testing.T) {
	st := newState()

	s, err := PlaceBet(st, window, 10, "A", 100, alice)
	require.NoError(t, err)
	require.Equal(t, Stake{EpochID: 10, StakeA: 100}, s)

	s, err = PlaceBet(st, window, 10, "B", 40, alice)
	require.NoError(t, err)
	require.Equal(t, Stake{EpochID: 10, StakeA: 100, StakeB: 40}, s)

	require.EqualValues(t, 100, st.Epochs[10].StakeA)
	require.EqualValues(t, 40, st.Epochs[10].StakeB)

	got, ok := StakeOf(st, 10, "0x00000000000000000000000000000000000000aa")
	require.True(t, ok)
	require.Equal(t, s, got)
}

func TestPlaceBet_Rejections(t *testing.T) {
	st := newState()

	_, err := PlaceBet(st, window, 9, "A", 10, alice)
	require.ErrorIs(t, err, ErrEpochMismatch)

	_, err = PlaceBet(st, window, 10, "A", 0, alice)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = PlaceBet(st, window, 10, "A", 1001, alice)
	require.ErrorIs(t, err, ErrInvalidAmount)

	locked := window
	locked.Locked = true
	_, err = PlaceBet(st, locked, 10, "A", 10, alice)
	require.ErrorIs(t, err, ErrBettingClosed)

	st.Epochs[10].FinalizedAtMs = 5
	_, err = PlaceBet(st, window, 10, "A", 10, alice)
	require.ErrorIs(t, err, ErrEpochMismatch)

	require.Empty(t, st.Bets)
}

func TestClaims(t *testing.T) {
	st := newState()
	st.Epochs[11] = &model.EpochAggregate{EpochID: 11}
	st.Epochs[12] = &model.EpochAggregate{EpochID: 12}

	w := window
	for _, id := range []int64{10, 11, 12} {
		w.EpochID = id
		_, err := PlaceBet(st, w, id, "A", 50, alice)
		require.NoError(t, err)
	}
	_, err := PlaceBet(st, w, 12, "B", 20, bob)
	require.NoError(t, err)

	// nothing is claimable before finalization
	got, err := ClaimableEpochs(st, alice)
	require.NoError(t, err)
	require.Empty(t, got)
	_, err = MarkClaimed(st, 10, alice)
	require.ErrorIs(t, err, ErrNotClaimable)

	st.Epochs[10].Winner, st.Epochs[10].FinalizedAtMs = model.SideA, 1
	st.Epochs[11].Winner, st.Epochs[11].FinalizedAtMs = model.SideTie, 1
	st.Epochs[12].Winner, st.Epochs[12].FinalizedAtMs = model.SideA, 1

	got, err = ClaimableEpochs(st, alice)
	require.NoError(t, err)
	require.Equal(t, []Claimable{
		{EpochID: 12, Winner: model.SideA, Stake: 50},
		{EpochID: 10, Winner: model.SideA, Stake: 50},
	}, got)

	got, err = ClaimableEpochs(st, bob)
	require.NoError(t, err)
	require.Empty(t, got)

	c, err := MarkClaimed(st, 12, alice)
	require.NoError(t, err)
	require.EqualValues(t, 12, c.EpochID)
	_, err = MarkClaimed(st, 12, alice)
	require.ErrorIs(t, err, ErrNotClaimable)
	_, err = MarkClaimed(st, 11, alice)
	require.ErrorIs(t, err, ErrNotClaimable)

	got, err = ClaimableEpochs(st, alice)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.EqualValues(t, 10, got[0].EpochID)
}

func TestPruneEpochs(t *testing.T) {
	st := newState()
	st.Epochs[11] = &model.EpochAggregate{EpochID: 11}
	_, err := PlaceBet(st, window, 10, "A", 5, alice)
	require.NoError(t, err)

	require.Equal(t, 1, PruneEpochs(st, 11))
	require.NotContains(t, st.Epochs, int64(10))
	require.NotContains(t, st.Bets, int64(10))
	require.Contains(t, st.Epochs, int64(11))
}
