// Provisioning tool for the account roster: add, list, enable, and disable
// the accounts mirrord fans orders out to.
//
// Usage:
//
//	mirror-accounts add -name <name> -key <api-key> [-secret <api-secret>] [-master]
//	mirror-accounts list
//	mirror-accounts enable <id>
//	mirror-accounts disable <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"mirrord/internal/config"
	"mirrord/internal/domain"
	"mirrord/internal/store"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mirror-accounts <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  add        Create an account\n")
		fmt.Fprintf(os.Stderr, "  list       List all accounts\n")
		fmt.Fprintf(os.Stderr, "  enable     Enable an account by id\n")
		fmt.Fprintf(os.Stderr, "  disable    Disable an account by id\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	st := openStore()
	defer st.Close()
	ctx := context.Background()

	switch os.Args[1] {
	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		name := fs.String("name", "", "account name")
		key := fs.String("key", "", "broker API key")
		secret := fs.String("secret", "", "broker API secret")
		master := fs.Bool("master", false, "mark as the master account")
		fs.Parse(os.Args[2:])

		if *name == "" || *key == "" {
			log.Fatal("add: -name and -key are required")
		}
		a := domain.Account{
			Name:      *name,
			APIKey:    *key,
			APISecret: *secret,
			IsMaster:  *master,
			Enabled:   true,
		}
		if err := st.CreateAccount(ctx, &a); err != nil {
			log.Fatalf("creating account: %v", err)
		}
		fmt.Printf("created account %d (%s)\n", a.ID, a.Name)

	case "list":
		accounts, err := st.ListAccounts(ctx)
		if err != nil {
			log.Fatalf("listing accounts: %v", err)
		}
		fmt.Printf("%-6s %-20s %-8s %-8s\n", "ID", "NAME", "MASTER", "ENABLED")
		for _, a := range accounts {
			fmt.Printf("%-6d %-20s %-8v %-8v\n", a.ID, a.Name, a.IsMaster, a.Enabled)
		}

	case "enable", "disable":
		if len(os.Args) < 3 {
			log.Fatalf("%s: account id required", os.Args[1])
		}
		id, err := strconv.ParseInt(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("%s: invalid account id %q", os.Args[1], os.Args[2])
		}
		enabled := os.Args[1] == "enable"
		if err := st.SetAccountEnabled(ctx, id, enabled); err != nil {
			log.Fatalf("%s account %d: %v", os.Args[1], id, err)
		}
		fmt.Printf("account %d %sd\n", id, os.Args[1])

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func openStore() *store.SQLiteStore {
	cfgPath := "config/mirrord.yaml"
	if p := os.Getenv("MIRRORD_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	path := cfg.Storage.SQLitePath
	if path == "" {
		dir := cfg.Storage.DataDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, "mirrord.db")
	}
	st, err := store.NewSQLiteStore(path)
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	return st
}
