package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"github.com/nabeelvk/pkchat/internal/daemon"
	"github.com/nabeelvk/pkchat/internal/presence"
	"github.com/nabeelvk/pkchat/internal/profile"
	"github.com/nabeelvk/pkchat/internal/rest"
	"github.com/nabeelvk/pkchat/internal/store"
	intsync "github.com/nabeelvk/pkchat/internal/sync"
	"github.com/nabeelvk/pkchat/internal/tui"
	"github.com/nabeelvk/pkchat/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name}),
		fx.Provide(func(
			opener *chat.Opener,
			restc *rest.Client,
			db *store.DB,
			engine *intsync.Engine,
			tracker *presence.Tracker,
			agg *unread.Aggregator,
			b *bus.Bus,
			logger *zap.Logger,
		) *tui.App {
			return tui.NewApp(tui.Params{
				Profile: name,
				Opener:  opener,
				Rest:    restc,
				DB:      db,
				Engine:  engine,
				Tracker: tracker,
				Unread:  agg,
				Bus:     b,
				Logger:  logger,
			})
		}),
		fx.Invoke(runTUI),
	)

	app.Run()
}

// runTUI blocks the fx app on the TUI main loop and shuts the core down
// when the user quits.
func runTUI(lc fx.Lifecycle, shutdowner fx.Shutdowner, app *tui.App) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := app.Run(); err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			app.Stop()
			return nil
		},
	})
}
