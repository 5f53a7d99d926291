package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/yourname/beamnet/internal/config"
	"github.com/yourname/beamnet/internal/mapdraw"
	"github.com/yourname/beamnet/internal/rating"
	"github.com/yourname/beamnet/internal/store"
	"github.com/yourname/beamnet/pkg/types"
)

type fakeNotifier struct {
	mu     sync.Mutex
	events []types.Event
}

func (f *fakeNotifier) record(ev types.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) SendToPlayer(_ string, ev types.Event)       { f.record(ev) }
func (f *fakeNotifier) SendToMatchChannel(_ string, ev types.Event) { f.record(ev) }
func (f *fakeNotifier) SendToAdminChannel(ev types.Event)           { f.record(ev) }

func (f *fakeNotifier) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fakeChannels struct {
	mu          sync.Mutex
	provisioned map[string][]string
	released    map[string]bool
	granted     map[string][]string
	failNext    error
}

func newFakeChannels() *fakeChannels {
	return &fakeChannels{
		provisioned: map[string][]string{},
		released:    map[string]bool{},
		granted:     map[string][]string{},
	}
}

func (f *fakeChannels) Provision(_ context.Context, matchID string, playerIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.provisioned[matchID] = playerIDs
	return nil
}

func (f *fakeChannels) Release(_ context.Context, matchID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[matchID] = true
	return nil
}

func (f *fakeChannels) GrantAccess(_ context.Context, matchID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granted[matchID] = append(f.granted[matchID], userID)
	return nil
}

func (f *fakeChannels) RevokeAccess(_ context.Context, matchID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rest := f.granted[matchID][:0]
	for _, id := range f.granted[matchID] {
		if id != userID {
			rest = append(rest, id)
		}
	}
	f.granted[matchID] = rest
	return nil
}

type fixture struct {
	lc       *Lifecycle
	repo     *store.Memory
	notifier *fakeNotifier
	channels *fakeChannels
	now      time.Time
}

func testPool() config.MapPools {
	return config.MapPools{"standard": mapdraw.Pool{
		"quarry":   {"tdm": 1},
		"mill":     {"tdm": 1},
		"harbor":   {"tdm": 1},
		"outpost":  {"tdm": 1},
		"crossing": {"tdm": 2},
	}}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     store.NewMemory(),
		notifier: &fakeNotifier{},
		channels: newFakeChannels(),
		now:      time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC),
	}
	engine := rating.NewEngine(f.repo, zerolog.Nop())
	f.lc = NewLifecycle(f.repo, engine, f.notifier, f.channels, testPool(),
		LifecycleOptions{Seed: 7}, zerolog.Nop())
	f.lc.now = func() time.Time { return f.now }

	require.NoError(t, f.repo.UpsertMode(context.Background(), &types.Mode{
		InternalName: "tdm", Name: "Team Deathmatch", Status: types.ModeOpen,
		GameCount: 5, MapPool: "standard",
	}))
	return f
}

var eight = []string{"a1", "a2", "a3", "a4", "b1", "b2", "b3", "b4"}

func (f *fixture) create(t *testing.T, players []string, host string) *types.Match {
	t.Helper()
	m, err := f.lc.Create(context.Background(), players, "tdm", host)
	require.NoError(t, err)
	return m
}

// started creates a match and draws its maps, ready for score reporting.
func (f *fixture) started(t *testing.T) *types.Match {
	t.Helper()
	m := f.create(t, eight, "a1")
	m, err := f.lc.GenerateMaps(context.Background(), m.ID, types.Actor{ID: "a1"})
	require.NoError(t, err)
	return m
}

func host() types.Actor  { return types.Actor{ID: "a1"} }
func admin() types.Actor { return types.Actor{ID: "staff", Admin: true} }

func TestCreateSplitsTeamsAndPlacesHost(t *testing.T) {
	f := newFixture(t)

	// Host drawn from the second half must head Bravo.
	m := f.create(t, eight, "b3")
	require.Equal(t, []string{"a1", "a2", "a3", "a4"}, m.Alpha)
	require.Equal(t, "b3", m.Bravo[0])
	require.ElementsMatch(t, []string{"b1", "b2", "b3", "b4"}, m.Bravo)
	require.Equal(t, "b3", m.HostID)

	require.Len(t, m.Snapshots, 8)
	require.Equal(t, types.DefaultRating, m.Snapshots["a1"].Rating)
	require.Equal(t, eight, f.channels.provisioned[m.ID])

	// Everyone gets a post-match queue cooldown.
	p, err := f.repo.GetPlayer(context.Background(), "a2")
	require.NoError(t, err)
	require.NotNil(t, p.QueueCooldownUntil)
	require.True(t, p.QueueCooldownUntil.After(f.now))

	require.Equal(t, 8, f.notifier.count(types.EventMatchCreated))
	require.Equal(t, types.StateDrawingMap, State(m, mustMode(t, f)))
}

func TestCreateRejectsBadRosters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lc.Create(ctx, []string{"a1", "a2", "a3"}, "tdm", "a1")
	require.Equal(t, types.KindInvalidState, types.KindOf(err))

	_, err = f.lc.Create(ctx, []string{"a1", "a1"}, "tdm", "a1")
	require.Equal(t, types.KindInvalidState, types.KindOf(err))

	_, err = f.lc.Create(ctx, []string{"a1", "a2"}, "tdm", "outsider")
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestCreateFailsWhenProvisioningFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.channels.failNext = types.NewError(types.KindConfigurationError, "no capacity")
	_, err := f.lc.Create(ctx, eight, "tdm", "a1")
	require.Error(t, err)
	require.Empty(t, f.channels.provisioned)
}

func TestGenerateMaps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.create(t, eight, "a1")

	_, err := f.lc.GenerateMaps(ctx, m.ID, types.Actor{ID: "b1"})
	require.Equal(t, types.KindForbidden, types.KindOf(err))

	m, err = f.lc.GenerateMaps(ctx, m.ID, host())
	require.NoError(t, err)
	require.Len(t, m.Maps, 5)
	require.Len(t, m.GameModes, 5)

	seen := map[string]bool{}
	for _, name := range m.Maps {
		require.False(t, seen[name], "map %s drawn twice", name)
		seen[name] = true
	}

	// Re-generation re-displays the same draw.
	again, err := f.lc.GenerateMaps(ctx, m.ID, host())
	require.NoError(t, err)
	require.Equal(t, m.Maps, again.Maps)
	require.Equal(t, 2, f.notifier.count(types.EventMapsGenerated))
}

func TestReportWinFillsContiguously(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	m, err := f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
	require.NoError(t, err)
	m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamBravo)
	require.NoError(t, err)

	require.Equal(t, []types.Team{types.TeamAlpha, types.TeamBravo,
		types.TeamNone, types.TeamNone, types.TeamNone}, m.Scores)
	require.Equal(t, types.StateAwaitingResult, State(m, mustMode(t, f)))
}

func TestReportWinRequiresMaps(t *testing.T) {
	f := newFixture(t)
	m := f.create(t, eight, "a1")

	_, err := f.lc.ReportWin(context.Background(), m.ID, host(), types.TeamAlpha)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestBestOfFiveCompletesAtThreeWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	for i := 0; i < 3; i++ {
		var err error
		m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
		require.NoError(t, err)
	}
	require.Equal(t, types.StateScoreComplete, State(m, mustMode(t, f)))
	require.Equal(t, 1, f.notifier.count(types.EventScoreComplete))

	_, err := f.lc.ReportWin(ctx, m.ID, host(), types.TeamBravo)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestUndoReopensCompleteScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	for i := 0; i < 3; i++ {
		var err error
		m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
		require.NoError(t, err)
	}

	m, err := f.lc.UndoLast(ctx, m.ID, host())
	require.NoError(t, err)
	require.Equal(t, 2, m.GamesPlayed())
	require.Equal(t, types.StateAwaitingResult, State(m, mustMode(t, f)))

	// The reopened slot accepts a different winner.
	m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamBravo)
	require.NoError(t, err)
	require.Equal(t, 2, m.Wins(types.TeamAlpha))
	require.Equal(t, 1, m.Wins(types.TeamBravo))
}

func TestUndoRedoRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	sequence := []types.Team{types.TeamAlpha, types.TeamBravo, types.TeamAlpha}
	var err error
	for _, w := range sequence {
		m, err = f.lc.ReportWin(ctx, m.ID, host(), w)
		require.NoError(t, err)
	}
	before := append([]types.Team(nil), m.Scores...)

	m, err = f.lc.UndoLast(ctx, m.ID, host())
	require.NoError(t, err)
	m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
	require.NoError(t, err)
	require.Equal(t, before, m.Scores)
}

func TestPlayAllCompletesOnlyWhenFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repo.UpsertMode(ctx, &types.Mode{
		InternalName: "objective", Name: "Objective", Status: types.ModeOpen,
		GameCount: 4, PlayAll: true, MapPool: "standard", GameModes: []string{"tdm"},
	}))

	m, err := f.lc.Create(ctx, eight, "objective", "a1")
	require.NoError(t, err)
	m, err = f.lc.GenerateMaps(ctx, m.ID, host())
	require.NoError(t, err)

	mode, err := f.repo.GetMode(ctx, "objective")
	require.NoError(t, err)

	// 3-0 would end a best-of-4, but play-all keeps going.
	for i := 0; i < 3; i++ {
		m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
		require.NoError(t, err)
	}
	require.Equal(t, types.StateAwaitingResult, State(m, mode))

	m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamBravo)
	require.NoError(t, err)
	require.Equal(t, types.StateScoreComplete, State(m, mode))
}

func TestUndoWithNoScores(t *testing.T) {
	f := newFixture(t)
	m := f.started(t)

	_, err := f.lc.UndoLast(context.Background(), m.ID, host())
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestSubmitFreezesScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	var err error
	for i := 0; i < 3; i++ {
		m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
		require.NoError(t, err)
	}
	m, err = f.lc.SubmitScore(ctx, m.ID, host())
	require.NoError(t, err)
	require.NotNil(t, m.SubmitTime)
	require.True(t, m.SubmitTime.Equal(f.now.Add(30*time.Second)))
	require.Equal(t, types.StateSubmitted, State(m, mustMode(t, f)))

	_, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
	require.Equal(t, types.KindAlreadySubmitted, types.KindOf(err))
	_, err = f.lc.UndoLast(ctx, m.ID, host())
	require.Equal(t, types.KindAlreadySubmitted, types.KindOf(err))
	_, err = f.lc.SubmitScore(ctx, m.ID, host())
	require.Equal(t, types.KindAlreadySubmitted, types.KindOf(err))
}

func TestReportIssueLocksAndClearsSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	m, err := f.lc.SubmitScore(ctx, m.ID, host())
	require.NoError(t, err)

	// Any participant can dispute inside the grace window.
	m, err = f.lc.ReportIssue(ctx, m.ID, "b2")
	require.NoError(t, err)
	require.True(t, m.AdminLocked)
	require.Nil(t, m.SubmitTime)
	require.Equal(t, types.StateDisputeLocked, State(m, mustMode(t, f)))

	// Locked blocks the host but lets an admin adjust the score.
	_, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
	require.Equal(t, types.KindForbidden, types.KindOf(err))
	_, err = f.lc.ReportWin(ctx, m.ID, admin(), types.TeamAlpha)
	require.NoError(t, err)
}

func TestReportIssueAfterGraceWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	_, err := f.lc.SubmitScore(ctx, m.ID, host())
	require.NoError(t, err)

	f.now = f.now.Add(31 * time.Second)
	_, err = f.lc.ReportIssue(ctx, m.ID, "b2")
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestAssignAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	_, err := f.lc.ReportIssue(ctx, m.ID, "b2")
	require.NoError(t, err)

	require.Equal(t, types.KindForbidden, types.KindOf(f.lc.AssignAdmin(ctx, m.ID, host())))
	require.NoError(t, f.lc.AssignAdmin(ctx, m.ID, admin()))
	require.Equal(t, []string{"staff"}, f.channels.granted[m.ID])

	_, err = f.lc.ResolveIssue(ctx, m.ID, host())
	require.Equal(t, types.KindForbidden, types.KindOf(err))

	m, err = f.lc.ResolveIssue(ctx, m.ID, admin())
	require.NoError(t, err)
	require.False(t, m.AdminLocked)
	require.Empty(t, m.AdminID)
	require.Empty(t, f.channels.granted[m.ID])

	_, err = f.lc.ResolveIssue(ctx, m.ID, admin())
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestCancelSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	_, err := f.lc.CancelSubmission(ctx, m.ID, admin())
	require.Equal(t, types.KindInvalidState, types.KindOf(err))

	_, err = f.lc.SubmitScore(ctx, m.ID, host())
	require.NoError(t, err)

	_, err = f.lc.CancelSubmission(ctx, m.ID, host())
	require.Equal(t, types.KindForbidden, types.KindOf(err))

	m, err = f.lc.CancelSubmission(ctx, m.ID, admin())
	require.NoError(t, err)
	require.Nil(t, m.SubmitTime)

	// Past the deadline only the sweeper may act.
	_, err = f.lc.SubmitScore(ctx, m.ID, host())
	require.NoError(t, err)
	f.now = f.now.Add(time.Minute)
	_, err = f.lc.CancelSubmission(ctx, m.ID, admin())
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
}

func TestCloseAppliesRatingsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	var err error
	for i := 0; i < 3; i++ {
		m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
		require.NoError(t, err)
	}
	require.NoError(t, f.lc.Close(ctx, m.ID))
	require.NoError(t, f.lc.Close(ctx, m.ID))

	got, err := f.repo.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.False(t, got.Active)
	require.True(t, f.channels.released[m.ID])

	r, err := f.repo.GetRating(ctx, "a1", "tdm")
	require.NoError(t, err)
	require.Greater(t, r.Rating, types.DefaultRating)
	require.Len(t, r.Pending, 3)

	loser, err := f.repo.GetRating(ctx, "b1", "tdm")
	require.NoError(t, err)
	require.Less(t, loser.Rating, types.DefaultRating)
}

func TestCloseDrawLeavesRatingsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	var err error
	m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
	require.NoError(t, err)
	m, err = f.lc.ReportWin(ctx, m.ID, host(), types.TeamBravo)
	require.NoError(t, err)

	require.NoError(t, f.lc.Close(ctx, m.ID))

	r, err := f.repo.GetRating(ctx, "a1", "tdm")
	require.NoError(t, err)
	require.Equal(t, types.DefaultRating, r.Rating)
	require.Empty(t, r.Pending)
}

func TestOperationsOnClosedMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.started(t)

	require.NoError(t, f.lc.Close(ctx, m.ID))

	_, err := f.lc.ReportWin(ctx, m.ID, host(), types.TeamAlpha)
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
	_, err = f.lc.ReportIssue(ctx, m.ID, "b2")
	require.Equal(t, types.KindInvalidState, types.KindOf(err))
	require.Equal(t, types.KindInvalidState, types.KindOf(f.lc.AssignAdmin(ctx, m.ID, admin())))

	got, err := f.repo.GetMatch(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, types.StateClosed, State(got, mustMode(t, f)))
}

func mustMode(t *testing.T, f *fixture) *types.Mode {
	t.Helper()
	mode, err := f.repo.GetMode(context.Background(), "tdm")
	require.NoError(t, err)
	return mode
}
