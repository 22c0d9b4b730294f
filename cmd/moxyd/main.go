// Command moxyd runs moxy's record-and-replay HTTP/WebSocket proxy.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/emilycares/moxy-go/internal/builder"
	"github.com/emilycares/moxy-go/internal/catalogpkg"
	"github.com/emilycares/moxy-go/internal/config"
	"github.com/emilycares/moxy-go/internal/dispatcher"
	"github.com/emilycares/moxy-go/internal/loader"
	"github.com/emilycares/moxy-go/internal/logging"
	"github.com/emilycares/moxy-go/internal/store"
	"github.com/emilycares/moxy-go/internal/upstream"
)

func main() {
	cmd := config.NewRootCommand(run)
	cmd.AddCommand(routesCommand())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(opts config.Options) error {
	logging.SetMode(opts.LogMode)
	log := logging.New("moxyd")

	catalog, err := catalogpkg.Load(opts.CatalogPath)
	if err != nil {
		return fmt.Errorf("moxyd: loading catalog: %w", err)
	}
	catalog.ApplyStartupOverrides(opts.Host, opts.Remote, opts.BuildMode)

	log.Info().
		Str("catalog", opts.CatalogPath).
		Str("db", opts.DBRoot).
		Str("host", catalog.Host()).
		Str("build_mode", string(catalog.BuildMode())).
		Bool("insecure", opts.Insecure).
		Bool("strict_wss", opts.StrictWSS).
		Msg("starting moxyd")

	st := store.New(opts.DBRoot)
	ld, err := loader.New()
	if err != nil {
		return fmt.Errorf("moxyd: building loader: %w", err)
	}
	up := upstream.New(opts.Insecure)
	b := builder.New(catalog, st, up)
	d := dispatcher.New(catalog, ld, b, st, up, opts.StrictWSS)

	log.Info().Str("host", catalog.Host()).Msg("listening")
	return http.ListenAndServe(catalog.Host(), d.Router())
}
