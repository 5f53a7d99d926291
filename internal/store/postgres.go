package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/yourname/beamnet/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS players (
	id                   text PRIMARY KEY,
	host_pref            int NOT NULL DEFAULT 1,
	registered_at        timestamptz NOT NULL,
	queue_cooldown_until timestamptz
);

CREATE TABLE IF NOT EXISTS ratings (
	player_id           text NOT NULL,
	mode                text NOT NULL,
	rating              float8 NOT NULL DEFAULT 1500,
	deviation           float8 NOT NULL DEFAULT 350,
	volatility          float8 NOT NULL DEFAULT 0.06,
	rating_list         float8[] NOT NULL DEFAULT '{}',
	deviation_list      float8[] NOT NULL DEFAULT '{}',
	outcome_list        float8[] NOT NULL DEFAULT '{}',
	rating_initial      float8,
	deviation_initial   float8,
	volatility_initial  float8,
	PRIMARY KEY (player_id, mode)
);

CREATE TABLE IF NOT EXISTS queue_entries (
	player_id text PRIMARY KEY,
	modes     text[] NOT NULL,
	ratings   jsonb NOT NULL,
	joined_at timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS matches (
	id           text PRIMARY KEY,
	mode         text NOT NULL,
	alpha        text[] NOT NULL,
	bravo        text[] NOT NULL,
	host_id      text NOT NULL,
	active       boolean NOT NULL,
	scores       int2[] NOT NULL,
	maps         text[],
	game_modes   text[],
	submit_time  timestamptz,
	admin_locked boolean NOT NULL DEFAULT false,
	admin_id     text NOT NULL DEFAULT '',
	snapshots    jsonb NOT NULL,
	started_at   timestamptz NOT NULL,
	ended_at     timestamptz
);

CREATE INDEX IF NOT EXISTS matches_active_submit ON matches (submit_time) WHERE active;

CREATE TABLE IF NOT EXISTS modes (
	internal_name       text PRIMARY KEY,
	name                text NOT NULL,
	description         text NOT NULL DEFAULT '',
	status              int NOT NULL DEFAULT 0,
	game_count          int NOT NULL,
	play_all            boolean NOT NULL DEFAULT false,
	game_mode_slots     text[] NOT NULL DEFAULT '{}',
	map_pool            text NOT NULL,
	rating_period_hours int NOT NULL,
	last_rating_period  timestamptz,
	sort_order          int NOT NULL DEFAULT 0
);
`

// Postgres is the production Repository.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Postgres)(nil)

// NewPostgres connects with a bounded retry (the database container often
// comes up after the service) and applies the schema.
func NewPostgres(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, eris.Wrap(err, "parse database url")
	}
	cfg.MaxConns = 10

	var pool *pgxpool.Pool
	deadline := time.Now().Add(30 * time.Second)
	for {
		connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		pool, err = pgxpool.NewWithConfig(connCtx, cfg)
		if err == nil {
			if pingErr := pool.Ping(connCtx); pingErr == nil {
				cancel()
				break
			}
			pool.Close()
			err = eris.New("ping failed")
		}
		cancel()
		if time.Now().After(deadline) {
			return nil, eris.Wrap(err, "connect database")
		}
		time.Sleep(time.Second)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "apply schema")
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() { s.pool.Close() }

func (s *Postgres) GetPlayer(ctx context.Context, id string) (*types.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx,
		`SELECT id, host_pref, registered_at, queue_cooldown_until FROM players WHERE id=$1`, id), id)
}

func (s *Postgres) EnsurePlayer(ctx context.Context, id string) (*types.Player, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO players (id, registered_at) VALUES ($1, now()) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "ensure player %s", id)
	}
	return s.GetPlayer(ctx, id)
}

func (s *Postgres) SetQueueCooldown(ctx context.Context, playerID string, until time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET queue_cooldown_until=$2 WHERE id=$1`, playerID, until)
	if err != nil {
		return eris.Wrapf(err, "set cooldown %s", playerID)
	}
	if tag.RowsAffected() == 0 {
		return types.NewError(types.KindNotFound, "player %s", playerID)
	}
	return nil
}

func (s *Postgres) SetHostPref(ctx context.Context, playerID string, pref int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE players SET host_pref=$2 WHERE id=$1`, playerID, pref)
	if err != nil {
		return eris.Wrapf(err, "set host pref %s", playerID)
	}
	if tag.RowsAffected() == 0 {
		return types.NewError(types.KindNotFound, "player %s", playerID)
	}
	return nil
}

func (s *Postgres) EnsureRating(ctx context.Context, playerID, mode string) (*types.Rating, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ratings (player_id, mode) VALUES ($1, $2) ON CONFLICT DO NOTHING`, playerID, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "ensure rating %s/%s", playerID, mode)
	}
	return s.GetRating(ctx, playerID, mode)
}

const ratingColumns = `player_id, mode, rating, deviation, volatility,
	rating_list, deviation_list, outcome_list,
	rating_initial, deviation_initial, volatility_initial`

func (s *Postgres) GetRating(ctx context.Context, playerID, mode string) (*types.Rating, error) {
	return scanRating(s.pool.QueryRow(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE player_id=$1 AND mode=$2`, playerID, mode))
}

func (s *Postgres) MutateRating(ctx context.Context, playerID, mode string, fn func(*types.Rating) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	r, err := scanRating(tx.QueryRow(ctx,
		`SELECT `+ratingColumns+` FROM ratings WHERE player_id=$1 AND mode=$2 FOR UPDATE`, playerID, mode))
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}

	var ri, di, vi *float64
	if r.Initial != nil {
		ri, di, vi = &r.Initial.Rating, &r.Initial.Deviation, &r.Initial.Volatility
	}
	ratings, deviations, outcomes := splitPending(r.Pending)
	_, err = tx.Exec(ctx,
		`UPDATE ratings SET rating=$3, deviation=$4, volatility=$5,
			rating_list=$6, deviation_list=$7, outcome_list=$8,
			rating_initial=$9, deviation_initial=$10, volatility_initial=$11
		 WHERE player_id=$1 AND mode=$2`,
		playerID, mode, r.Rating, r.Deviation, r.Volatility,
		ratings, deviations, outcomes, ri, di, vi)
	if err != nil {
		return eris.Wrapf(err, "update rating %s/%s", playerID, mode)
	}
	return eris.Wrap(tx.Commit(ctx), "commit")
}

func (s *Postgres) ListIdleRatings(ctx context.Context, mode string) ([]*types.Rating, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ratingColumns+` FROM ratings
		 WHERE mode=$1 AND cardinality(rating_list)=0 ORDER BY player_id`, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "list idle ratings %s", mode)
	}
	defer rows.Close()

	var out []*types.Rating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) ResetRatingPeriod(ctx context.Context, mode string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ratings SET rating_list='{}', deviation_list='{}', outcome_list='{}',
			rating_initial=rating, deviation_initial=deviation, volatility_initial=volatility
		 WHERE mode=$1`, mode)
	return eris.Wrapf(err, "reset rating period %s", mode)
}

func (s *Postgres) InsertQueueEntry(ctx context.Context, e *types.QueueEntry) error {
	snaps, err := json.Marshal(e.Ratings)
	if err != nil {
		return eris.Wrap(err, "marshal queue snapshots")
	}
	// Single-member entries: the primary key is the uniqueness constraint.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO queue_entries (player_id, modes, ratings, joined_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (player_id) DO NOTHING`,
		e.PlayerIDs[0], e.Modes, snaps, e.JoinedAt)
	if err != nil {
		return eris.Wrap(err, "insert queue entry")
	}
	if tag.RowsAffected() == 0 {
		return types.NewError(types.KindAlreadyQueued, "player %s already queued", e.PlayerIDs[0])
	}
	return nil
}

func (s *Postgres) GetQueueEntry(ctx context.Context, playerID string) (*types.QueueEntry, error) {
	return scanEntry(s.pool.QueryRow(ctx,
		`SELECT player_id, modes, ratings, joined_at FROM queue_entries WHERE player_id=$1`, playerID), playerID)
}

func (s *Postgres) DeleteQueueEntry(ctx context.Context, playerID string) (*types.QueueEntry, error) {
	return scanEntry(s.pool.QueryRow(ctx,
		`DELETE FROM queue_entries WHERE player_id=$1 RETURNING player_id, modes, ratings, joined_at`,
		playerID), playerID)
}

func (s *Postgres) ListQueueEntries(ctx context.Context, mode string) ([]*types.QueueEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, modes, ratings, joined_at FROM queue_entries
		 WHERE $1 = ANY (modes) ORDER BY joined_at`, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "list queue entries %s", mode)
	}
	defer rows.Close()

	var out []*types.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const matchColumns = `id, mode, alpha, bravo, host_id, active, scores, maps, game_modes,
	submit_time, admin_locked, admin_id, snapshots, started_at, ended_at`

func (s *Postgres) InsertMatch(ctx context.Context, m *types.Match) error {
	snaps, err := json.Marshal(m.Snapshots)
	if err != nil {
		return eris.Wrap(err, "marshal match snapshots")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO matches (`+matchColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		m.ID, m.Mode, m.Alpha, m.Bravo, m.HostID, m.Active, scoresToInts(m.Scores),
		m.Maps, m.GameModes, m.SubmitTime, m.AdminLocked, m.AdminID, snaps, m.StartedAt, m.EndedAt)
	return eris.Wrapf(err, "insert match %s", m.ID)
}

func (s *Postgres) GetMatch(ctx context.Context, id string) (*types.Match, error) {
	return scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id=$1`, id), id)
}

func (s *Postgres) UpdateMatch(ctx context.Context, m *types.Match) error {
	snaps, err := json.Marshal(m.Snapshots)
	if err != nil {
		return eris.Wrap(err, "marshal match snapshots")
	}
	_ = snaps
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET scores=$2, maps=$3, game_modes=$4, submit_time=$5,
			admin_locked=$6, admin_id=$7 WHERE id=$1`,
		m.ID, scoresToInts(m.Scores), m.Maps, m.GameModes, m.SubmitTime, m.AdminLocked, m.AdminID)
	if err != nil {
		return eris.Wrapf(err, "update match %s", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return types.NewError(types.KindNotFound, "match %s", m.ID)
	}
	return nil
}

func (s *Postgres) CloseMatch(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET active=false, ended_at=$2 WHERE id=$1 AND active`, id, endedAt)
	if err != nil {
		return false, eris.Wrapf(err, "close match %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) PlayerInActiveMatch(ctx context.Context, playerID string) (bool, error) {
	var in bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM matches
		 WHERE active AND ($1 = ANY (alpha) OR $1 = ANY (bravo)))`, playerID).Scan(&in)
	return in, eris.Wrapf(err, "player in active match %s", playerID)
}

func (s *Postgres) CountActiveMatches(ctx context.Context, mode string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM matches WHERE active AND mode=$1`, mode).Scan(&n)
	return n, eris.Wrapf(err, "count active matches %s", mode)
}

func (s *Postgres) ListDueMatches(ctx context.Context, now time.Time) ([]*types.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE active AND submit_time IS NOT NULL AND submit_time <= $1 ORDER BY id`, now)
	if err != nil {
		return nil, eris.Wrap(err, "list due matches")
	}
	defer rows.Close()

	var out []*types.Match
	for rows.Next() {
		m, err := scanMatch(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const modeColumns = `internal_name, name, description, status, game_count, play_all,
	game_mode_slots, map_pool, rating_period_hours, last_rating_period, sort_order`

func (s *Postgres) GetMode(ctx context.Context, internalName string) (*types.Mode, error) {
	return scanMode(s.pool.QueryRow(ctx,
		`SELECT `+modeColumns+` FROM modes WHERE internal_name=$1`, internalName), internalName)
}

func (s *Postgres) ListModes(ctx context.Context) ([]*types.Mode, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+modeColumns+` FROM modes ORDER BY sort_order`)
	if err != nil {
		return nil, eris.Wrap(err, "list modes")
	}
	defer rows.Close()

	var out []*types.Mode
	for rows.Next() {
		m, err := scanMode(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) UpsertMode(ctx context.Context, m *types.Mode) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO modes (`+modeColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (internal_name) DO UPDATE SET
			name=EXCLUDED.name, description=EXCLUDED.description, status=EXCLUDED.status,
			game_count=EXCLUDED.game_count, play_all=EXCLUDED.play_all,
			game_mode_slots=EXCLUDED.game_mode_slots, map_pool=EXCLUDED.map_pool,
			rating_period_hours=EXCLUDED.rating_period_hours, sort_order=EXCLUDED.sort_order`,
		m.InternalName, m.Name, m.Description, m.Status, m.GameCount, m.PlayAll,
		m.GameModes, m.MapPool, m.RatingPeriodHours, m.LastRatingPeriod, m.SortOrder)
	return eris.Wrapf(err, "upsert mode %s", m.InternalName)
}

func (s *Postgres) SetLastRatingPeriod(ctx context.Context, internalName string, t time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE modes SET last_rating_period=$2 WHERE internal_name=$1`, internalName, t)
	if err != nil {
		return eris.Wrapf(err, "set last rating period %s", internalName)
	}
	if tag.RowsAffected() == 0 {
		return types.NewError(types.KindNotFound, "mode %s", internalName)
	}
	return nil
}

// ---- row scanning ----

func scanPlayer(row pgx.Row, id string) (*types.Player, error) {
	var p types.Player
	err := row.Scan(&p.ID, &p.HostPref, &p.RegisteredAt, &p.QueueCooldownUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewError(types.KindNotFound, "player %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan player")
	}
	return &p, nil
}

func scanRating(row pgx.Row) (*types.Rating, error) {
	var r types.Rating
	var ratings, deviations, outcomes []float64
	var ri, di, vi *float64
	err := row.Scan(&r.PlayerID, &r.Mode, &r.Rating, &r.Deviation, &r.Volatility,
		&ratings, &deviations, &outcomes, &ri, &di, &vi)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewError(types.KindNotFound, "rating")
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan rating")
	}
	for i := range ratings {
		r.Pending = append(r.Pending, types.PendingResult{
			OpponentRating: ratings[i],
			Deviation:      deviations[i],
			Outcome:        outcomes[i],
		})
	}
	if ri != nil && di != nil && vi != nil {
		r.Initial = &types.RatingSnapshot{Rating: *ri, Deviation: *di, Volatility: *vi}
	}
	return &r, nil
}

func splitPending(pending []types.PendingResult) (ratings, deviations, outcomes []float64) {
	ratings = make([]float64, 0, len(pending))
	deviations = make([]float64, 0, len(pending))
	outcomes = make([]float64, 0, len(pending))
	for _, p := range pending {
		ratings = append(ratings, p.OpponentRating)
		deviations = append(deviations, p.Deviation)
		outcomes = append(outcomes, p.Outcome)
	}
	return
}

func scanEntry(row pgx.Row, playerID string) (*types.QueueEntry, error) {
	var e types.QueueEntry
	var owner string
	var snaps []byte
	err := row.Scan(&owner, &e.Modes, &snaps, &e.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewError(types.KindNotQueued, "player %s not queued", playerID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan queue entry")
	}
	e.PlayerIDs = []string{owner}
	if err := json.Unmarshal(snaps, &e.Ratings); err != nil {
		return nil, eris.Wrap(err, "unmarshal queue snapshots")
	}
	return &e, nil
}

func scanMatch(row pgx.Row, id string) (*types.Match, error) {
	var m types.Match
	var scores []int16
	var snaps []byte
	err := row.Scan(&m.ID, &m.Mode, &m.Alpha, &m.Bravo, &m.HostID, &m.Active, &scores,
		&m.Maps, &m.GameModes, &m.SubmitTime, &m.AdminLocked, &m.AdminID, &snaps,
		&m.StartedAt, &m.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewError(types.KindNotFound, "match %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan match")
	}
	m.Scores = make([]types.Team, len(scores))
	for i, s := range scores {
		m.Scores[i] = types.Team(s)
	}
	if err := json.Unmarshal(snaps, &m.Snapshots); err != nil {
		return nil, eris.Wrap(err, "unmarshal match snapshots")
	}
	return &m, nil
}

func scoresToInts(scores []types.Team) []int16 {
	out := make([]int16, len(scores))
	for i, s := range scores {
		out[i] = int16(s)
	}
	return out
}

func scanMode(row pgx.Row, name string) (*types.Mode, error) {
	var m types.Mode
	err := row.Scan(&m.InternalName, &m.Name, &m.Description, &m.Status, &m.GameCount,
		&m.PlayAll, &m.GameModes, &m.MapPool, &m.RatingPeriodHours, &m.LastRatingPeriod, &m.SortOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewError(types.KindNotFound, "mode %s", name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan mode")
	}
	return &m, nil
}
