// Command migrate applies pending schema migrations and makes sure a root
// account exists, then exits. It runs against the same configuration as the
// server, so it can be used as an init container or from an operator shell.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/config"
	"bibliodesk.org/internal/migrate"
	"bibliodesk.org/internal/obs"
	"bibliodesk.org/internal/store"
)

func main() {
	skipRoot := flag.Bool("skip-root", false, "do not create a root account on a fresh database")
	flag.Parse()

	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	mgr := migrate.NewManager(st, auth.NewHasher(cfg.HashSecret), migrate.WithOutput(os.Stdout))
	if err := mgr.Up(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if !*skipRoot {
		if err := mgr.EnsureRoot(ctx); err != nil {
			log.Fatalf("ensure root: %v", err)
		}
	}
	log.Println("Migrations applied")
}
