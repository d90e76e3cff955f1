package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はクリーンアップワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// migrateサブコマンドの方向
const (
	migrateUp   = "up"
	migrateDown = "down"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseMigrateArgs は migrate 以降の引数を解析する。
//
//	keihi migrate          -> up
//	keihi migrate up       -> up
//	keihi migrate down [N] -> N件戻す（省略時は1）
func ParseMigrateArgs(args []string) (direction string, steps int, err error) {
	if len(args) == 0 {
		return migrateUp, 0, nil
	}

	switch args[0] {
	case migrateUp:
		return migrateUp, 0, nil
	case migrateDown:
		if len(args) == 1 {
			return migrateDown, 1, nil
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("invalid migrate steps: %q", args[1])
		}
		return migrateDown, n, nil
	default:
		return "", 0, fmt.Errorf("unknown migrate direction: %q", args[0])
	}
}
