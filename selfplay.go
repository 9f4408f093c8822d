// selfplay.go
//
// `selfplay` pits the pipeline against a seeded random opponent.
//   - Games run concurrently (errgroup with a limit).
//   - Game i uses its own RNG derived from --seed, so tallies do not depend
//     on scheduling.
//   - The opponent always opens; its symbol alternates X/O between games.

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/robalobadob/tictactoe/internal/game"
	"github.com/robalobadob/tictactoe/internal/pipeline"
	"github.com/robalobadob/tictactoe/internal/trace"
)

type selfplayOpts struct {
	games       int
	concurrency int
	seed        uint64
}

var spOpts selfplayOpts

var selfplayCmd = &cobra.Command{
	Use:   "selfplay",
	Short: "Play the AI against a random opponent and print the results",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := newPipeline(cmd.Context(), cfg, trace.LogSink{Logger: log.Logger})
		if err != nil {
			return err
		}
		t, err := runSelfPlay(cmd.Context(), p, spOpts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "games=%d ai_wins=%d opponent_wins=%d draws=%d failed=%d\n",
			t.Games(), t.AIWins, t.OpponentWins, t.Draws, t.Failed)
		return nil
	},
}

func init() {
	selfplayCmd.Flags().IntVar(&spOpts.games, "games", 100, "Number of games")
	selfplayCmd.Flags().IntVar(&spOpts.concurrency, "concurrency", 4, "Games played at once")
	selfplayCmd.Flags().Uint64Var(&spOpts.seed, "seed", 1, "Opponent RNG seed")
}

type tally struct {
	AIWins       int
	OpponentWins int
	Draws        int
	Failed       int // pipeline failures; the game is abandoned
}

func (t tally) Games() int { return t.AIWins + t.OpponentWins + t.Draws + t.Failed }

func runSelfPlay(ctx context.Context, p *pipeline.Pipeline, o selfplayOpts) (tally, error) {
	if o.games < 0 || o.concurrency < 1 {
		return tally{}, fmt.Errorf("selfplay: games must be >= 0 and concurrency >= 1")
	}
	var (
		mu  sync.Mutex
		out tally
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i := range o.games {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(o.seed, uint64(i)))
			opp := game.X
			if i%2 == 1 {
				opp = game.O
			}
			res, err := playGame(gctx, p, rng, opp, fmt.Sprintf("selfplay-%d", i))
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch res {
			case resultAIWin:
				out.AIWins++
			case resultOpponentWin:
				out.OpponentWins++
			case resultDraw:
				out.Draws++
			default:
				out.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return tally{}, err
	}
	return out, nil
}

type gameResult int

const (
	resultFailed gameResult = iota
	resultAIWin
	resultOpponentWin
	resultDraw
)

// playGame plays one game to completion. Engine errors are returned; a
// failed or rejected AI turn yields resultFailed.
func playGame(ctx context.Context, p *pipeline.Pipeline, rng *rand.Rand, opp game.Symbol, id string) (gameResult, error) {
	ai := game.O
	if opp == game.O {
		ai = game.X
	}
	e, err := game.New(opp, ai)
	if err != nil {
		return resultFailed, err
	}

	for !e.State().IsGameOver() {
		if err := ctx.Err(); err != nil {
			return resultFailed, err
		}
		st := e.State()
		if st.CurrentPlayer() == opp {
			moves := st.AvailableMoves()
			m := moves[rng.IntN(len(moves))]
			if err := e.MakeMove(m.Row(), m.Col(), opp); err != nil {
				return resultFailed, fmt.Errorf("%s: opponent move %s: %w", id, m, err)
			}
			continue
		}

		res := p.RunTurn(ctx, e, id)
		exec, ok := res.Data()
		if !ok || !exec.Success {
			log.Warn().Str("gameId", id).Str("code", string(res.Code())).Strs("rejected", codes(exec.ValidationErrors)).
				Msg("ai turn failed")
			return resultFailed, nil
		}
	}

	switch e.State().Outcome() {
	case game.OutcomeDraw:
		return resultDraw, nil
	case game.Outcome(ai):
		return resultAIWin, nil
	default:
		return resultOpponentWin, nil
	}
}

func codes(cs []game.Code) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
