// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

var cmdNames = []string{
	"alt", "close", "help", "i2c", "info", "mode", "open",
	"quit", "read", "toggle", "wait", "watch", "write",
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gpioctl_history")
}

// shell runs an interactive session, until quit or end of input.
// Pins opened during the session stay open until it ends.
func (app *app) shell(ctx context.Context) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var cmds []string
		for _, name := range cmdNames {
			if strings.HasPrefix(name, line) {
				cmds = append(cmds, name)
			}
		}
		return cmds
	})

	hist := historyFile()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = term.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.Create(hist)
			if err != nil {
				app.msg.Printf("could not save history: %+v", err)
				return
			}
			defer f.Close()
			_, _ = term.WriteHistory(f)
		}()
	}

	for {
		line, err := term.Prompt("gpio> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(app.out)
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		term.AppendHistory(line)

		switch args[0] {
		case "quit", "exit":
			return nil
		}

		err = app.exec(ctx, args)
		if err != nil {
			fmt.Fprintf(app.out, "error: %+v\n", err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}
