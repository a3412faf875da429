// Package materializer builds the derived-view tables of an export in
// dependency order and persists each as a columnar file.
package materializer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/curlake/curlake/internal/queryerr"
)

// View is one named SQL artifact with its declared dependencies.
type View struct {
	Name      string   `yaml:"name"`
	SQL       string   `yaml:"sql"`
	SQLFile   string   `yaml:"sql_file"`
	DependsOn []string `yaml:"depends_on"`

	// Level is the height in the dependency DAG, assigned by Order. The
	// base table is level 0.
	Level int `yaml:"-"`
}

// Manifest is the set of view definitions handed to a run. The views form
// a DAG rooted at the base table; cycles are invalid input.
type Manifest struct {
	BaseTable string `yaml:"base_table"`
	Views     []View `yaml:"views"`
}

// LoadManifest reads the declarative YAML form. sql_file paths resolve
// relative to the manifest's directory.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", path, err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, queryerr.New(queryerr.KindInvalidManifest,
			fmt.Sprintf("manifest %q is not valid YAML", path))
	}

	dir := filepath.Dir(path)
	for i := range manifest.Views {
		view := &manifest.Views[i]
		if view.SQL != "" || view.SQLFile == "" {
			continue
		}
		text, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(view.SQLFile)))
		if err != nil {
			return Manifest{}, fmt.Errorf("read view sql %q: %w", view.SQLFile, err)
		}
		view.SQL = string(text)
	}
	return manifest, nil
}

var levelDirPattern = regexp.MustCompile(`^level_(\d+)(?:_.*)?$`)

// DiscoverManifest builds a manifest from a directory tree whose children
// are level-numbered subdirectories of view SQL files, e.g.
// level_1_independent/usage.sql. A view's dependencies are every view in a
// lower-numbered level plus the base table.
func DiscoverManifest(root, baseTable string) (Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return Manifest{}, fmt.Errorf("read views dir %q: %w", root, err)
	}

	type levelDir struct {
		number int
		name   string
	}
	var levels []levelDir
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		match := levelDirPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil || number < 1 {
			return Manifest{}, queryerr.New(queryerr.KindInvalidManifest,
				fmt.Sprintf("invalid level directory %q", entry.Name()))
		}
		levels = append(levels, levelDir{number: number, name: entry.Name()})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].number < levels[j].number })

	manifest := Manifest{BaseTable: baseTable}
	var lowerNames []string
	for _, level := range levels {
		dir := filepath.Join(root, level.name)
		files, err := os.ReadDir(dir)
		if err != nil {
			return Manifest{}, fmt.Errorf("read level dir %q: %w", dir, err)
		}
		var names []string
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
				continue
			}
			text, err := os.ReadFile(filepath.Join(dir, file.Name()))
			if err != nil {
				return Manifest{}, fmt.Errorf("read view sql %q: %w", file.Name(), err)
			}
			name := strings.TrimSuffix(file.Name(), ".sql")
			deps := []string{}
			if baseTable != "" {
				deps = append(deps, baseTable)
			}
			deps = append(deps, lowerNames...)
			manifest.Views = append(manifest.Views, View{
				Name:      name,
				SQL:       string(text),
				DependsOn: deps,
			})
			names = append(names, name)
		}
		lowerNames = append(lowerNames, names...)
	}
	return manifest, nil
}

// Order validates the DAG and returns the views grouped by level in
// execution order. Dependencies on the base table are implicit and carry no
// edge; unknown dependencies and cycles fail with InvalidManifest before
// anything executes.
func (m Manifest) Order() ([][]View, error) {
	byName := make(map[string]*View, len(m.Views))
	for i := range m.Views {
		view := &m.Views[i]
		if view.Name == "" {
			return nil, queryerr.New(queryerr.KindInvalidManifest, "a view is missing its name")
		}
		if strings.TrimSpace(view.SQL) == "" {
			return nil, queryerr.New(queryerr.KindInvalidManifest,
				fmt.Sprintf("view %q has no SQL", view.Name))
		}
		if _, dup := byName[view.Name]; dup {
			return nil, queryerr.New(queryerr.KindInvalidManifest,
				fmt.Sprintf("view %q is defined twice", view.Name))
		}
		byName[view.Name] = view
	}

	indegree := make(map[string]int, len(m.Views))
	dependents := make(map[string][]string, len(m.Views))
	for _, view := range m.Views {
		for _, dep := range view.DependsOn {
			if dep == m.BaseTable {
				continue
			}
			if _, known := byName[dep]; !known {
				return nil, queryerr.New(queryerr.KindInvalidManifest,
					fmt.Sprintf("view %q depends on unknown view %q", view.Name, dep))
			}
			indegree[view.Name]++
			dependents[dep] = append(dependents[dep], view.Name)
		}
	}

	// Kahn's algorithm, levelled: a view's level is one past its deepest
	// dependency.
	var frontier []string
	for _, view := range m.Views {
		if indegree[view.Name] == 0 {
			byName[view.Name].Level = 1
			frontier = append(frontier, view.Name)
		}
	}
	sort.Strings(frontier)

	processed := 0
	levels := map[int][]View{}
	maxLevel := 0
	for len(frontier) > 0 {
		name := frontier[0]
		frontier = frontier[1:]
		view := byName[name]
		processed++
		levels[view.Level] = append(levels[view.Level], *view)
		if view.Level > maxLevel {
			maxLevel = view.Level
		}
		for _, dependent := range dependents[name] {
			if next := view.Level + 1; byName[dependent].Level < next {
				byName[dependent].Level = next
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				frontier = append(frontier, dependent)
				sort.Strings(frontier)
			}
		}
	}

	if processed != len(m.Views) {
		var cyclic []string
		for name, degree := range indegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, queryerr.New(queryerr.KindInvalidManifest,
			"dependency cycle involving views: "+strings.Join(cyclic, ", "))
	}

	ordered := make([][]View, 0, maxLevel)
	for level := 1; level <= maxLevel; level++ {
		group := levels[level]
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })
		ordered = append(ordered, group)
	}
	return ordered, nil
}
