package app

import (
	"errors"
	"fmt"
	"io"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// ErrUnknownCommand はサポート外のサブコマンドが指定されたことを示す。
var ErrUnknownCommand = errors.New("unknown command")

// commands は使い方に表示する順のサブコマンド一覧。
var commands = []struct {
	cmd     Command
	summary string
}{
	{CommandServe, "start the HTTP API server (default)"},
	{CommandMigrate, "apply pending database migrations"},
	{CommandHealthcheck, "check GET /health on SERVER_PORT and exit non-zero on failure"},
	{CommandHelp, "show this message"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch args[0] {
	case "-h", "--help":
		return CommandHelp, nil
	}
	for _, c := range commands {
		if string(c.cmd) == args[0] {
			return c.cmd, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, args[0])
}

// Usage はサブコマンドの一覧をwに書き出す。
func Usage(w io.Writer) {
	fmt.Fprintln(w, "usage: authgate [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.summary)
	}
}
