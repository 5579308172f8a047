// Command fbext extracts Flashback cutscenes to JSON.
//
// Usage:
//
//	fbext [options] <archive.aba>...   extract from ABA archive(s)
//	fbext [options] -dir DATA/         extract from loose CMD/POL files
//
// Each cutscene becomes <name>.json in the output directory, or a single
// all_cutscenes.json with -combined. Extra default flags may be supplied
// through the FBEXT_FLAGS environment variable (shell quoting applies).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/shlex"
	"golang.org/x/term"

	"github.com/arodic/flashback"
	"github.com/arodic/flashback/aba"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintf(os.Stderr, "fbext: %v\n", err)
		}
		os.Exit(1)
	}
}

// pair is one cutscene's raw asset pair, keyed by uppercase stem.
type pair struct {
	name     string
	cmd, pol []byte
}

func run(args []string) error {
	args, err := expandEnvFlags(args, os.Getenv("FBEXT_FLAGS"))
	if err != nil {
		return fmt.Errorf("FBEXT_FLAGS: %w", err)
	}

	fs := flag.NewFlagSet("fbext", flag.ContinueOnError)
	dir := fs.String("dir", "", "directory of loose CMD/POL files (instead of archives)")
	output := fs.String("output", "data", "output directory for JSON files")
	only := fs.String("cutscene", "", "extract only the named cutscene")
	list := fs.Bool("list", false, "list available cutscenes and exit")
	combined := fs.Bool("combined", false, "write a single all_cutscenes.json")
	pretty := fs.Bool("pretty", false, "indent JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dir == "" && fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("need an archive path or -dir")
	}
	if *dir != "" && fs.NArg() > 0 {
		return fmt.Errorf("cannot combine archive paths with -dir")
	}

	verbose := term.IsTerminal(int(os.Stdout.Fd()))

	var pairs []pair
	if *dir != "" {
		pairs, err = loadDir(*dir)
	} else {
		pairs, err = loadArchives(fs.Args())
	}
	if err != nil {
		return err
	}

	if *list {
		for _, p := range pairs {
			fmt.Printf("%-15s CMD: %6d bytes, POL: %6d bytes\n", p.name, len(p.cmd), len(p.pol))
		}
		return nil
	}

	if *only != "" {
		name := strings.ToUpper(*only)
		i := sort.Search(len(pairs), func(i int) bool { return pairs[i].name >= name })
		if i == len(pairs) || pairs[i].name != name {
			var avail []string
			for _, p := range pairs {
				avail = append(avail, p.name)
			}
			return fmt.Errorf("cutscene %q not found (available: %s)", name, strings.Join(avail, ", "))
		}
		pairs = pairs[i : i+1]
	}

	if err := os.MkdirAll(*output, 0o755); err != nil {
		return err
	}

	var all []*flashback.Cutscene
	failed := 0
	for _, p := range pairs {
		if verbose {
			fmt.Printf("Extracting %s...\n", p.name)
		}
		cs, err := flashback.Extract(p.name, p.cmd, p.pol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fbext: %v (skipped)\n", err)
			failed++
			continue
		}
		if verbose {
			frames := 0
			for _, sub := range cs.Script.Subscenes {
				frames += len(sub.Frames)
			}
			fmt.Printf("  shapes: %d, palettes: %d, frames: %d\n", len(cs.Shapes), len(cs.Palettes), frames)
		}

		if *combined {
			all = append(all, cs)
			continue
		}
		path := filepath.Join(*output, strings.ToLower(p.name)+".json")
		if err := writeJSON(path, cs, *pretty); err != nil {
			return err
		}
	}

	if *combined {
		path := filepath.Join(*output, "all_cutscenes.json")
		doc := struct {
			Cutscenes []*flashback.Cutscene `json:"cutscenes"`
		}{Cutscenes: all}
		if err := writeJSON(path, doc, *pretty); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d cutscene(s) failed", failed)
	}
	return nil
}

// expandEnvFlags splits env shell-style and prepends the result to args,
// so explicit arguments override environment defaults.
func expandEnvFlags(args []string, env string) ([]string, error) {
	if env == "" {
		return args, nil
	}
	extra, err := shlex.Split(env)
	if err != nil {
		return nil, err
	}
	return append(extra, args...), nil
}

// loadDir pairs every *.CMD file in dir with its *.POL companion,
// case-insensitively, and loads both. Cutscenes without a POL companion
// are skipped with a warning.
func loadDir(dir string) ([]pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	byUpper := make(map[string]string, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			byUpper[strings.ToUpper(e.Name())] = e.Name()
		}
	}

	var pairs []pair
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".cmd") {
			continue
		}
		stem := strings.ToUpper(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))

		polName, ok := byUpper[stem+".POL"]
		if !ok {
			fmt.Fprintf(os.Stderr, "fbext: no POL file for %s, skipped\n", e.Name())
			continue
		}

		cmdData, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		polData, err := os.ReadFile(filepath.Join(dir, polName))
		if err != nil {
			return nil, err
		}
		cmdData, _ = flashback.MaybeUnpack(cmdData)
		polData, _ = flashback.MaybeUnpack(polData)
		pairs = append(pairs, pair{name: stem, cmd: cmdData, pol: polData})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })
	return pairs, nil
}

// loadArchives merges the directories of the given ABA files and
// extracts every cutscene pair.
func loadArchives(paths []string) ([]pair, error) {
	archive, err := aba.Open(paths...)
	if err != nil {
		return nil, err
	}
	pairs := make([]pair, 0, archive.Len())
	for _, p := range archive.Cutscenes() {
		pairs = append(pairs, pair{name: p.Name, cmd: p.CMD, pol: p.POL})
	}
	for _, w := range archive.Warnings() {
		fmt.Fprintf(os.Stderr, "fbext: warning: %s\n", w)
	}
	return pairs, nil
}

func writeJSON(path string, v any, pretty bool) error {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
