package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/cmlyst/cmlyst"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("cmlyst %s\n", version)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := cmlyst.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	engine, err := cmlyst.New(cfg, cmlyst.WithLogger(log))
	if err != nil {
		// The engine cannot operate without its store.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	if err := run(engine, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(engine *cmlyst.Engine, command string, args []string) error {
	switch command {
	case "init":
		// New already created the database and schema; loading the
		// settings proves the store is usable.
		engine.LoadSettings(nil)
		fmt.Println("database initialized")
		return nil
	case "settings":
		return runSettings(engine, args)
	case "pages":
		return runPages(engine, args)
	case "menus":
		return runMenus(engine, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runSettings(engine *cmlyst.Engine, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: cmlyst settings <list|get|set> [key] [value]")
	}
	switch args[0] {
	case "list":
		settings := engine.LoadSettings(nil)
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for key, value := range settings {
			fmt.Fprintf(w, "%s\t%s\n", key, value)
		}
		return w.Flush()
	case "get":
		if len(args) < 2 {
			return fmt.Errorf("usage: cmlyst settings get <key>")
		}
		fmt.Println(engine.SettingsValue(nil, args[1]))
		return nil
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: cmlyst settings set <key> <value>")
		}
		return engine.SetSettingsValue(nil, args[1], args[2])
	default:
		return fmt.Errorf("unknown settings command: %s", args[0])
	}
}

func runPages(engine *cmlyst.Engine, args []string) error {
	if len(args) < 1 || args[0] != "list" {
		return fmt.Errorf("usage: cmlyst pages list [limit]")
	}
	limit := 50
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		limit = n
	}
	engine.LoadSettings(nil)
	pages, err := engine.ListPages(cmlyst.FilterAll, cmlyst.SortDateDesc, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPATH\tTITLE\tCREATED")
	for _, p := range pages {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Path, p.Title, p.Created.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runMenus(engine *cmlyst.Engine, args []string) error {
	if len(args) < 1 || args[0] != "list" {
		return fmt.Errorf("usage: cmlyst menus list")
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLOCATIONS\tENTRIES")
	for _, m := range engine.Menus(nil) {
		fmt.Fprintf(w, "%s\t%s\t%v\t%d\n", m.ID, m.Name, m.Locations, len(m.Entries))
	}
	return w.Flush()
}

func printUsage() {
	fmt.Println(`cmlyst - content engine admin tool

Usage:
  cmlyst <command> [arguments]

Commands:
  init                          Create the database if it does not exist
  settings list                 Print every settings key and value
  settings get <key>            Print one settings value
  settings set <key> <value>    Write a settings value
  pages list [limit]            List stored pages and posts
  menus list                    List navigation menus
  version                       Print the cmlyst version
  help                          Show this help message

Environment:
  CMLYST_ROOT             Site root directory (database lives at <root>/cmlyst.sqlite)
  CMLYST_DATABASE_NAME    Logical connection name (default "cmlyst")
  CMLYST_THEMES_DIR       Theme asset directory (default "<root>/themes")`)
}
