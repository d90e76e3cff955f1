// Package usage はアクション単位の利用上限チェック、利用記録、その順序を保証するゲートを提供する。
package usage

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default_limits.yaml
var defaultLimitsYAML []byte

// Window は利用回数を数える直近の時間幅と、その上限。
type Window struct {
	Name    string `yaml:"name"`
	Seconds int    `yaml:"seconds"`
	Limit   int    `yaml:"limit"`
}

// Duration はウィンドウの長さを返す。
func (w Window) Duration() time.Duration {
	return time.Duration(w.Seconds) * time.Second
}

// ActionConfig は1つのアクション種別の上限設定。
type ActionConfig struct {
	Action  string   `yaml:"-"`
	Windows []Window `yaml:"windows"`
	AlertOn []string `yaml:"alertOn"`
}

// Alerts は指定ウィンドウの超過がアラート対象かを返す。
func (c ActionConfig) Alerts(window string) bool {
	return slices.Contains(c.AlertOn, window)
}

// sortedWindows はウィンドウを秒数の昇順に並べた複製を返す。
func (c ActionConfig) sortedWindows() []Window {
	ws := slices.Clone(c.Windows)
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].Seconds < ws[j].Seconds })
	return ws
}

// Limits はアクション種別ごとの上限設定の集合。
type Limits struct {
	actions map[string]ActionConfig
}

type limitsFile struct {
	Actions map[string]ActionConfig `yaml:"actions"`
}

// ErrUnknownAction は設定に存在しないアクション種別を指定した場合のエラー。
var ErrUnknownAction = errors.New("unknown action type")

// DefaultLimits は組み込みの既定設定を返す。
func DefaultLimits() (*Limits, error) {
	return ParseLimits(defaultLimitsYAML)
}

// LoadLimits はpathのYAMLファイルから設定を読み込む。pathが空の場合は既定設定を返す。
func LoadLimits(path string) (*Limits, error) {
	if path == "" {
		return DefaultLimits()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limits file: %w", err)
	}
	limits, err := ParseLimits(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return limits, nil
}

// ParseLimits はYAMLを解析し、検証済みの設定を返す。未知のキーはエラーにする。
func ParseLimits(data []byte) (*Limits, error) {
	var f limitsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse rate limits: %w", err)
	}
	if len(f.Actions) == 0 {
		return nil, errors.New("rate limits: no actions configured")
	}

	limits := &Limits{actions: make(map[string]ActionConfig, len(f.Actions))}
	for name, cfg := range f.Actions {
		cfg.Action = name
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		cfg.Windows = cfg.sortedWindows()
		limits.actions[name] = cfg
	}
	return limits, nil
}

func (c ActionConfig) validate() error {
	if c.Action == "" {
		return errors.New("rate limits: empty action name")
	}
	if len(c.Windows) == 0 {
		return fmt.Errorf("rate limits: action %q has no windows", c.Action)
	}

	seen := make(map[string]bool, len(c.Windows))
	for _, w := range c.Windows {
		if w.Name == "" {
			return fmt.Errorf("rate limits: action %q has a window without name", c.Action)
		}
		if seen[w.Name] {
			return fmt.Errorf("rate limits: action %q has duplicate window %q", c.Action, w.Name)
		}
		seen[w.Name] = true
		if w.Seconds <= 0 {
			return fmt.Errorf("rate limits: window %s.%s must have positive seconds, got %d", c.Action, w.Name, w.Seconds)
		}
		if w.Limit < 0 {
			return fmt.Errorf("rate limits: window %s.%s has negative limit %d", c.Action, w.Name, w.Limit)
		}
	}
	for _, name := range c.AlertOn {
		if !seen[name] {
			return fmt.Errorf("rate limits: action %q alerts on unknown window %q", c.Action, name)
		}
	}
	return nil
}

// Action は指定アクション種別の設定を返す。
func (l *Limits) Action(action string) (ActionConfig, error) {
	cfg, ok := l.actions[action]
	if !ok {
		return ActionConfig{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return cfg, nil
}

// Actions は設定済みのアクション種別を名前順で返す。
func (l *Limits) Actions() []string {
	names := make([]string, 0, len(l.actions))
	for name := range l.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LongestWindow は全アクションの中で最も長いウィンドウの長さを返す。
// 利用イベントの保持期間はこれより長くなければならない。
func (l *Limits) LongestWindow() time.Duration {
	var longest time.Duration
	for _, cfg := range l.actions {
		for _, w := range cfg.Windows {
			if d := w.Duration(); d > longest {
				longest = d
			}
		}
	}
	return longest
}
