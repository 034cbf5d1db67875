package rewrite

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ruleSpec is one entry of a YAML rules file:
//
//	- name: drop-analytics
//	  match: '<script src="https://stats\.example\.com/[^"]*"></script>'
//	  replace: ''
//	  kinds: [html]
type ruleSpec struct {
	Name    string   `yaml:"name"`
	Match   string   `yaml:"match"`
	Replace string   `yaml:"replace"`
	Kinds   []string `yaml:"kinds,omitempty"`
}

// ParseRules compiles YAML rule definitions. Rules without kinds apply to every text kind.
func ParseRules(data []byte) ([]Rule, error) {
	var specs []ruleSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(specs))
	for i, s := range specs {
		if s.Match == "" {
			return nil, fmt.Errorf("rule %d (%s): match is required", i, s.Name)
		}
		re, err := regexp.Compile(s.Match)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, s.Name, err)
		}
		kinds := AnyText
		if len(s.Kinds) > 0 {
			kinds = 0
			for _, name := range s.Kinds {
				k, kerr := ParseKind(name)
				if kerr != nil {
					return nil, fmt.Errorf("rule %d (%s): %w", i, s.Name, kerr)
				}
				kinds |= Kinds(k)
			}
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("extra-%d", i)
		}
		rules = append(rules, templateRule(name, kinds, re, s.Replace))
	}
	return rules, nil
}

// LoadRules reads and compiles a YAML rules file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// Watcher keeps a Rewriter's extra rules in sync with a rules file.
type Watcher struct {
	path     string
	rewriter *Rewriter
	logger   *slog.Logger
	fw       *fsnotify.Watcher
	wg       sync.WaitGroup
}

// NewWatcher loads path into rw and starts watching it for changes.
// The parent directory is watched so editors that replace the file are handled.
func NewWatcher(path string, rw *Rewriter, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}

	rules, err := LoadRules(abs)
	if err != nil {
		return nil, err
	}
	rw.SetExtraRules(rules)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create rules watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		rewriter: rw,
		logger:   logger.With("component", "rules_watcher"),
		fw:       fw,
	}
	w.logger.Info("extra rewrite rules loaded", "path", abs, "rules", len(rules))

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("rules watcher error", "err", err)
		}
	}
}

// reload swaps in the new rules; a broken file keeps the previous set.
func (w *Watcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Error("reload rewrite rules; keeping previous rules", "path", w.path, "err", err)
		return
	}
	w.rewriter.SetExtraRules(rules)
	w.logger.Info("extra rewrite rules reloaded", "path", w.path, "rules", len(rules))
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.fw.Close()
	w.wg.Wait()
	return err
}
