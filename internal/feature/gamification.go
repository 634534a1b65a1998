package feature

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/DoyleJ11/livesync/internal/mutation"
	"github.com/DoyleJ11/livesync/internal/reconcile"
	"github.com/DoyleJ11/livesync/pkg/types"
	"go.uber.org/zap"
)

var ErrNoTeam = errors.New("team name or id is required")

type GamificationSnapshot struct {
	Status      Status
	Leaderboard reconcile.Leaderboard
	Teams       reconcile.Teams
}

// Gamification tracks the leaderboard and team roster of a scope. Team
// mutations go through an idempotency guard: pass the same key when
// retrying an attempt whose outcome is unknown.
type Gamification struct {
	base
	guard *mutation.Guard

	mu    sync.RWMutex
	board reconcile.Leaderboard
	teams reconcile.Teams
}

func NewGamification(ch Channel, opts Options) *Gamification {
	g := &Gamification{}
	g.init("gamification", ch, opts)
	g.guard = mutation.NewGuard(ch,
		mutation.WithTimeout(g.opts.MutationTimeout),
		mutation.WithLogger(g.log),
	)

	g.on(types.EvtLeaderboardUpdated, g.onLeaderboard)
	g.on(types.EvtTeamCreated, g.onTeam)
	g.on(types.EvtTeamUpdated, g.onTeam)
	g.on(types.EvtTeamDeleted, g.onTeamDeleted)
	return g
}

func (g *Gamification) Snapshot() GamificationSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GamificationSnapshot{
		Status:      statusOf(g.ch),
		Leaderboard: g.board,
		Teams:       g.teams,
	}
}

func (g *Gamification) CreateTeam(ctx context.Context, key, name string) (types.Team, error) {
	if name == "" {
		return types.Team{}, ErrNoTeam
	}
	cmd := types.TeamCommand{Name: name, UserID: g.opts.UserID}
	return g.mutate(ctx, types.EvtTeamCreate, key, cmd)
}

func (g *Gamification) JoinTeam(ctx context.Context, key, teamID string) (types.Team, error) {
	if teamID == "" {
		return types.Team{}, ErrNoTeam
	}
	cmd := types.TeamCommand{TeamID: teamID, UserID: g.opts.UserID}
	return g.mutate(ctx, types.EvtTeamJoin, key, cmd)
}

func (g *Gamification) LeaveTeam(ctx context.Context, key, teamID string) (types.Team, error) {
	if teamID == "" {
		return types.Team{}, ErrNoTeam
	}
	cmd := types.TeamCommand{TeamID: teamID, UserID: g.opts.UserID}
	return g.mutate(ctx, types.EvtTeamLeave, key, cmd)
}

func (g *Gamification) Close() { g.close() }

func (g *Gamification) mutate(ctx context.Context, event, key string, cmd types.TeamCommand) (types.Team, error) {
	if g.isClosed() {
		return types.Team{}, ErrFeatureClosed
	}
	reply, err := g.guard.Do(ctx, mutation.Mutation{Event: event, Payload: cmd, Key: key})
	if err != nil {
		return types.Team{}, err
	}
	team, err := replyData[types.Team](reply)
	if err != nil {
		return types.Team{}, fmt.Errorf("%s reply: %w", event, err)
	}
	// The confirmed team is applied like its broadcast; a later duplicate
	// overwrites it by id.
	if team.ID != "" {
		g.applyTeam(team)
	}
	return team, nil
}

func (g *Gamification) onLeaderboard(env types.Envelope) {
	up, ok := decode[types.LeaderboardUpdate](&g.base, env)
	if !ok {
		return
	}
	board, err := reconcile.ApplyLeaderboard(up, g.opts.UserID, g.opts.LeaderboardSize)
	if err != nil {
		g.drop(env, err)
		return
	}
	g.mu.Lock()
	g.board = board
	g.mu.Unlock()
	g.changed()
}

func (g *Gamification) onTeam(env types.Envelope) {
	team, ok := decode[types.Team](&g.base, env)
	if !ok {
		return
	}
	if err := reconcile.ValidateTeam(team); err != nil {
		g.drop(env, err)
		return
	}
	g.applyTeam(team)
}

func (g *Gamification) applyTeam(team types.Team) {
	g.mu.Lock()
	next, err := reconcile.ApplyTeam(g.teams, team, g.opts.UserID, g.opts.ListLimit)
	if err == nil {
		g.teams = next
	}
	g.mu.Unlock()
	if err != nil {
		g.log.Debug("team not applied", zap.String("team_id", team.ID), zap.Error(err))
		return
	}
	g.changed()
}

func (g *Gamification) onTeamDeleted(env types.Envelope) {
	team, ok := decode[types.Team](&g.base, env)
	if !ok {
		return
	}
	g.mu.Lock()
	next, err := reconcile.RemoveTeam(g.teams, team.ID, g.opts.UserID)
	if err == nil {
		g.teams = next
	}
	g.mu.Unlock()
	if err != nil {
		g.drop(env, err)
		return
	}
	g.changed()
}
