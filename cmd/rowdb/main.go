package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"rowdb/internal/btree"
	"rowdb/internal/row"
	"rowdb/internal/statement"
	"rowdb/internal/table"
)

func main() {
	viper.SetEnvPrefix("rowdb")
	viper.AutomaticEnv()
	viper.SetDefault("log_level", "warning")
	viper.SetDefault("history_file", "")

	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		logrus.Fatalf("bad ROWDB_LOG_LEVEL: %v", err)
	}
	logrus.SetLevel(level)

	path := viper.GetString("path")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: rowdb DBFILE")
		os.Exit(1)
	}

	tbl, err := table.Open(afero.NewOsFs(), path)
	if err != nil {
		logrus.Fatalf("open %s: %v", path, err)
	}

	if err := runREPL(tbl); err != nil {
		_ = tbl.Close()
		logrus.Fatalf("repl: %v", err)
	}

	// Mutations reach the file only here; an exit that skips Close loses
	// everything since Open.
	if err := tbl.Close(); err != nil {
		logrus.Fatalf("close: %v", err)
	}
}

func runREPL(tbl *table.Table) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "rowdb> ",
		HistoryFile: viper.GetString("history_file"),
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Meta commands start with a dot, like SQLite.
		if strings.HasPrefix(line, ".") {
			if quit := handleMetaCommand(line, tbl); quit {
				return nil
			}
			continue
		}

		handleStatement(line, tbl)
	}
}

// handleMetaCommand processes dot commands. Returns true when the REPL
// should exit.
func handleMetaCommand(line string, tbl *table.Table) bool {
	switch line {
	case ".exit", ".quit":
		return true
	case ".btree":
		fmt.Println("Tree:")
		if err := tbl.Tree().Dump(os.Stdout); err != nil {
			logrus.Fatalf(".btree: %v", err)
		}
	case ".constants":
		fmt.Println("Constants:")
		btree.Constants(os.Stdout)
	case ".help":
		printHelp()
	default:
		fmt.Printf("Unrecognized command %q. Try .help\n", line)
	}
	return false
}

func handleStatement(line string, tbl *table.Table) {
	stmt, err := statement.Prepare(line)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}

	switch stmt.Kind {
	case statement.Insert:
		err = tbl.Insert(stmt.Row)
	case statement.Update:
		err = tbl.Update(stmt.Row)
	case statement.Delete:
		err = tbl.Delete(stmt.ID)
	case statement.Select:
		err = renderRows(tbl)
	}

	switch {
	case err == nil:
		fmt.Println("Executed.")
	case errors.Is(err, table.ErrDuplicateKey),
		errors.Is(err, table.ErrNotFound),
		errors.Is(err, table.ErrTableFull),
		errors.Is(err, row.ErrStringTooLong):
		fmt.Println("Error:", err)
	default:
		// Corruption and I/O failures are not recoverable at the prompt.
		logrus.Fatalf("%s: %v", stmt.Kind, err)
	}
}

func renderRows(tbl *table.Table) error {
	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"id", "username", "email"})

	count := 0
	err := tbl.Scan(func(r row.Row) error {
		w.Append([]string{fmt.Sprintf("%d", r.ID), r.Username, r.Email})
		count++
		return nil
	})
	if err != nil {
		return err
	}

	w.Render()
	fmt.Printf("(%d rows)\n", count)
	return nil
}

func printHelp() {
	fmt.Println("Statements:")
	fmt.Println("  insert ID USERNAME EMAIL   - add a row")
	fmt.Println("  update ID USERNAME EMAIL   - rewrite a row's username and email")
	fmt.Println("  delete ID                  - remove a row")
	fmt.Println("  select                     - list all rows in id order")
	fmt.Println("Meta commands:")
	fmt.Println("  .btree      - dump the tree structure")
	fmt.Println("  .constants  - dump the file layout constants")
	fmt.Println("  .help       - show this help")
	fmt.Println("  .exit       - flush pages to disk and quit")
}
