// Command client is a minimal terminal collaborator for the sync core: it
// renders whatever the state surface publishes and forwards user input to
// the entry points. All game logic lives behind the surface.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tttclient/internal/client"
	"tttclient/internal/config"
	"tttclient/internal/game"
	"tttclient/internal/session"
	"tttclient/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	level := zapcore.WarnLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	store := session.NewStore(cfg.DataDir)
	sessions := session.NewManager(cfg.BaseURL(), cfg.ServerKey, cfg.DeviceSalt, store, logger)
	surface := state.NewSurface()
	cli := client.New(ctx, cfg.SocketURL(), sessions, surface, logger)
	defer cli.Close()

	var me string
	if sess, err := cli.Restore(); err == nil {
		me = sess.UserID
		if err := cli.Connect(ctx); err != nil {
			fmt.Println("stored session found but connect failed:", err)
		} else {
			fmt.Printf("welcome back, %s\n", sess.Username)
		}
	}

	surface.Subscribe(func(snap state.Snapshot) { render(snap, me) })

	fmt.Println("commands: login <nickname> | find | move <1-9> | leave | logout | quit")
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Print("> "); scanner.Scan(); fmt.Print("> ") {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "login":
			if len(fields) != 2 {
				fmt.Println("usage: login <nickname>")
				continue
			}
			sess, err := cli.Authenticate(ctx, fields[1])
			if err != nil {
				fmt.Println("login failed:", err)
				continue
			}
			me = sess.UserID
			if err := cli.Connect(ctx); err != nil {
				fmt.Println("connect failed:", err)
			}
		case "find":
			if err := cli.FindMatch(); err != nil {
				fmt.Println("find failed:", err)
			}
		case "move":
			if len(fields) != 2 {
				fmt.Println("usage: move <1-9>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 1 || n > 9 {
				fmt.Println("usage: move <1-9>")
				continue
			}
			if err := cli.SubmitMove(n - 1); err != nil {
				fmt.Println("move rejected:", err)
			}
		case "leave":
			_ = cli.LeaveMatch()
		case "logout":
			cli.Disconnect()
			me = ""
			fmt.Println("session cleared")
		case "quit", "exit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}

func cell(m game.Mark) string {
	switch m {
	case game.MarkX:
		return "X"
	case game.MarkO:
		return "O"
	default:
		return " "
	}
}

func render(snap state.Snapshot, me string) {
	if snap.Matchmaking {
		fmt.Println("\nsearching for an opponent...")
		return
	}
	g := snap.Game
	if g == nil {
		return
	}
	fmt.Println()
	b := g.Board
	for row := 0; row < 3; row++ {
		i := row * 3
		fmt.Printf(" %s | %s | %s\n", cell(b[i]), cell(b[i+1]), cell(b[i+2]))
		if row < 2 {
			fmt.Println("---+---+---")
		}
	}
	switch {
	case g.Winner == game.OutcomeOpponentLeft:
		fmt.Println("opponent left - you win")
	case g.Winner == game.OutcomeDraw:
		fmt.Println("draw")
	case g.GameOver:
		fmt.Printf("winner: %s\n", g.Winner)
	case len(g.Players) < 2:
		fmt.Println("waiting for opponent to join...")
	default:
		turn := "opponent's turn"
		if p, ok := g.PlayerByID(me); ok && p.Symbol == g.CurrentTurn {
			turn = "your turn"
		}
		fmt.Printf("%s (playing %s)\n", turn, cell(g.CurrentTurn))
	}
}
