// Package syncq keeps game commands that could not reach the API so they can
// be replayed later with their original idempotency keys.
package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// BaseDir is ~/.petfarm unless PF_HOME points somewhere else. Every local
// file the CLI keeps lives under it.
func BaseDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("PF_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".petfarm")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func queuePath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Outcome of a single replayed command.
type Outcome int

const (
	Sent Outcome = iota
	Rejected
	Failed
)

// Replay sends every queued command in order. Commands the server answered
// (accepted or rejected) leave the queue; the first Failed one stops the
// replay and it and everything after it stay queued.
func Replay(ctx context.Context, send func(context.Context, Command) Outcome) (sent, rejected, remaining int, err error) {
	commands, err := Load()
	if err != nil {
		return 0, 0, 0, err
	}
	i := 0
	for ; i < len(commands); i++ {
		if ctx.Err() != nil {
			break
		}
		switch send(ctx, commands[i]) {
		case Sent:
			sent++
			continue
		case Rejected:
			rejected++
			continue
		}
		break
	}
	rest := commands[i:]
	if err := Save(rest); err != nil {
		return sent, rejected, len(rest), err
	}
	return sent, rejected, len(rest), nil
}
