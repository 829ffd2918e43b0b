package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"box/internal/compiler"
	"box/internal/repl"
)

const (
	historyFile = ".box_history"
	promptMain  = "box> "
	promptCont  = "...> "
)

func cmdRepl(_ []string) int {
	fmt.Println("📦 box repl. Statements run at once, 'box name do ... end end' defines a box.")
	fmt.Println("   :ir shows the last program, :vars the saved variables, :reset starts over, :quit exits.")

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	session := repl.NewSession(os.Stdout)

	for {
		code, ok := readByParseProbe(ln, session, promptMain, promptCont)
		if !ok {
			fmt.Println()
			break
		}

		if strings.HasPrefix(strings.TrimSpace(code), ":") {
			switch strings.TrimSpace(strings.ToLower(code)) {
			case ":quit":
				return 0
			case ":reset":
				session.Reset()
				fmt.Println("✅ session cleared")
			case ":vars":
				for _, name := range session.Vars() {
					fmt.Printf("  %s = %d\n", name, session.Value(name))
				}
			case ":ir":
				if prog := session.Program(); prog != nil {
					if err := compiler.Emit(prog, os.Stdout, compiler.WithBackend("text")); err != nil {
						reportError(err, "")
					}
					fmt.Println()
				}
			default:
				fmt.Println("unknown command. Type :quit to exit.")
			}
			continue
		}

		if strings.TrimSpace(code) == "" {
			continue
		}
		ln.AppendHistory(strings.ReplaceAll(code, "\n", " "))

		outcome, err := session.Exec(code)
		if err != nil {
			reportError(err, outcome.Source)
			continue
		}
		for _, name := range outcome.Defined {
			fmt.Printf("📦 defined %s\n", name)
		}
		if outcome.Result.Error != nil {
			reportError(outcome.Result.Error, "")
		}
	}

	return 0
}

// readByParseProbe reads lines until the collected input parses or fails for
// a reason other than running out of text.
func readByParseProbe(ln *liner.State, session *repl.Session, prompt, cont string) (string, bool) {
	var b strings.Builder

	for {
		var line string
		var err error
		if b.Len() == 0 {
			line, err = ln.Prompt(prompt)
		} else {
			line, err = ln.Prompt(cont)
		}
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", true
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		if strings.HasPrefix(strings.TrimSpace(src), ":") || session.Complete(src) {
			return src, true
		}
	}
}
