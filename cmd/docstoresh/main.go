// docstoresh is an interactive shell for a docstore database directory,
// backed directly by the embedded engine (no server process or socket:
// the shell links the engine in-process).
//
// Usage:
//
//	docstoresh <data-dir>
//
// Commands:
//
//	use <collection>                    Switch the active collection
//	insert <json>                       Insert a document
//	get <id>                            Fetch a document by id
//	find <json-filter>                  List matching documents
//	update <id> <json-patch>            Apply a patch to a document
//	remove <id>                         Delete a document
//	createIndex <field> [unique]        Create a secondary index
//	stats                               Show collection stats
//	flush                               Force a checkpoint now
//	begin / commit / rollback           Cross-collection transaction control
//	exit / quit / q                     Exit
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/peterh/liner"

	"github.com/kartikbazzad/docstore/internal/collection"
	"github.com/kartikbazzad/docstore/internal/database"
	"github.com/kartikbazzad/docstore/internal/document"
	"github.com/kartikbazzad/docstore/internal/logger"
	"github.com/kartikbazzad/docstore/internal/transaction"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		fmt.Println("usage: docstoresh <data-dir>")
		return fmt.Errorf("missing data directory")
	}

	log := logger.Default()
	db, err := database.Open(os.Args[1], database.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	sh := &shell{db: db, collection: "default"}
	return sh.run()
}

var knownCommands = []string{
	"use", "insert", "get", "find", "update", "remove",
	"createIndex", "stats", "flush", "begin", "commit", "rollback",
	"help", "exit", "quit",
}

type shell struct {
	db         *database.Database
	collection string
	tx         *transaction.Transaction
	ln         *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docstoresh_history")
}

func (s *shell) run() error {
	s.ln = liner.NewLiner()
	defer s.ln.Close()

	s.ln.SetCtrlCAborts(true)
	s.ln.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range knownCommands {
			if strings.HasPrefix(c, line) {
				out = append(out, c)
			}
		}
		return out
	})

	if f, err := os.Open(historyFile()); err == nil {
		s.ln.ReadHistory(f)
		f.Close()
	}

	fmt.Println("docstore shell. Type 'help' for commands.")

	for {
		prompt := fmt.Sprintf("docstore[%s]> ", s.collection)
		line, err := s.ln.Prompt(prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println()
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s.ln.AppendHistory(line)

		if s.dispatch(line) {
			break
		}
	}
	s.saveHistory()
	return nil
}

func (s *shell) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}
	if f, err := os.Create(path); err == nil {
		s.ln.WriteHistory(f)
		f.Close()
	}
}

// dispatch runs one command line and reports whether the shell should
// exit.
func (s *shell) dispatch(line string) bool {
	parts := strings.SplitN(line, " ", 2)
	cmd := parts[0]
	var rest string
	if len(parts) > 1 {
		rest = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "exit", "quit", "q":
		return true
	case "help", "?":
		s.printHelp()
	case "use":
		if rest == "" {
			fmt.Println("usage: use <collection>")
			break
		}
		s.collection = rest
	case "insert":
		s.cmdInsert(rest)
	case "get":
		s.cmdGet(rest)
	case "find":
		s.cmdFind(rest)
	case "update":
		s.cmdUpdate(rest)
	case "remove":
		s.cmdRemove(rest)
	case "createIndex":
		s.cmdCreateIndex(rest)
	case "stats":
		s.cmdStats()
	case "flush":
		s.cmdFlush()
	case "begin":
		s.cmdBegin()
	case "commit":
		s.cmdCommit()
	case "rollback":
		s.cmdRollback()
	default:
		fmt.Printf("unknown command: %s (type 'help')\n", cmd)
	}
	return false
}

func (s *shell) printHelp() {
	fmt.Println(`commands:
  use <collection>
  insert <json>
  get <id>
  find <json-filter>
  update <id> <json-patch>
  remove <id>
  createIndex <field> [unique]
  stats
  flush
  begin / commit / rollback
  exit`)
}

func (s *shell) col() (*collection.Collection, error) {
	return s.db.Collection(s.collection)
}

func (s *shell) cmdInsert(arg string) {
	var d document.Doc
	if err := json.Unmarshal([]byte(arg), &d); err != nil {
		fmt.Println("invalid json:", err)
		return
	}
	if s.tx != nil {
		h, err := s.tx.Collection(s.collection)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if err := h.Insert(d); err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("buffered in transaction")
		return
	}
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	inserted, err := c.Insert(d)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printJSON(inserted)
}

func (s *shell) cmdGet(arg string) {
	if arg == "" {
		fmt.Println("usage: get <id>")
		return
	}
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	d := c.GetByID(arg)
	if d == nil {
		fmt.Println("not found")
		return
	}
	printJSON(d)
}

func (s *shell) cmdFind(arg string) {
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	var q collection.Query
	if arg == "" {
		q = collection.PredicateQuery(func(document.Doc) bool { return true })
	} else {
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(arg), &raw); err != nil {
			fmt.Println("invalid json:", err)
			return
		}
		q = collection.FilterQuery(raw)
	}
	docs := c.Find(q, document.Projection{})
	for _, d := range docs {
		printJSON(d)
	}
	fmt.Printf("(%d documents)\n", len(docs))
}

func (s *shell) cmdUpdate(arg string) {
	parts := strings.SplitN(arg, " ", 2)
	if len(parts) != 2 {
		fmt.Println("usage: update <id> <json-patch>")
		return
	}
	id, raw := parts[0], strings.TrimSpace(parts[1])
	var patch document.Doc
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		fmt.Println("invalid json:", err)
		return
	}
	if s.tx != nil {
		h, err := s.tx.Collection(s.collection)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if err := h.Update(id, patch); err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("buffered in transaction")
		return
	}
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	updated, err := c.Update(id, patch)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if updated == nil {
		fmt.Println("not found")
		return
	}
	printJSON(updated)
}

func (s *shell) cmdRemove(arg string) {
	if arg == "" {
		fmt.Println("usage: remove <id>")
		return
	}
	if s.tx != nil {
		h, err := s.tx.Collection(s.collection)
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		if err := h.Remove(arg); err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("buffered in transaction")
		return
	}
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	ok, err := c.Remove(arg)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("removed:", ok)
}

func (s *shell) cmdCreateIndex(arg string) {
	parts := strings.Fields(arg)
	if len(parts) == 0 {
		fmt.Println("usage: createIndex <field> [unique]")
		return
	}
	unique := len(parts) > 1 && strings.EqualFold(parts[1], "unique")
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := c.CreateIndex(parts[0], unique); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (s *shell) cmdStats() {
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	st := c.Stats()
	fmt.Printf("documents: %d\n", st.DocumentCount)
	fmt.Printf("inserts=%d updates=%d removes=%d clears=%d\n", st.Inserts, st.Updates, st.Removes, st.Clears)
	fmt.Printf("wal size: %s\n", humanize.Bytes(uint64(st.WALBytes)))
	if st.LastCheckpoint != "" {
		fmt.Printf("last checkpoint: %s\n", st.LastCheckpoint)
	}
	for cat, n := range st.WALErrors {
		fmt.Printf("wal errors[%d]: %d\n", cat, n)
	}
	for _, alert := range st.WALCritical {
		fmt.Printf("CRITICAL %s: %v\n", alert.OccurredAt.Format("2006-01-02T15:04:05Z07:00"), alert.Err)
	}
}

func (s *shell) cmdFlush() {
	c, err := s.col()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := c.FlushToDisk(); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func (s *shell) cmdBegin() {
	if s.tx != nil {
		fmt.Println("transaction already active")
		return
	}
	s.tx = s.db.Begin()
	fmt.Println("transaction started:", s.tx.ID())
}

func (s *shell) cmdCommit() {
	if s.tx == nil {
		fmt.Println("no active transaction")
		return
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("committed")
}

func (s *shell) cmdRollback() {
	if s.tx == nil {
		fmt.Println("no active transaction")
		return
	}
	_ = s.tx.Rollback()
	s.tx = nil
	fmt.Println("rolled back")
}

func printJSON(d document.Doc) {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(string(raw))
}
