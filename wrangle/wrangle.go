// Command wrangle loads an instruction set description and inspects it:
// dumping the resolved model, listing its decode tables, decoding words and
// self-checking that every leaf decodes back to itself.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/apparentlymart/isaspec"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("wrangle: ")

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "dump":
		err = cmdDump(args, os.Stdout)
	case "tables":
		err = cmdTables(args, os.Stdout)
	case "decode":
		err = cmdDecode(args, os.Stdout)
	case "check":
		err = cmdCheck(args, os.Stdout)
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	default:
		log.Printf("unknown command %q", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  wrangle dump [-bitset NAME] <desc.yaml>")
	fmt.Fprintln(w, "  wrangle tables <desc.yaml>")
	fmt.Fprintln(w, "  wrangle decode -root ROOT [-gen N] [-f words.txt] <desc.yaml> [word...]")
	fmt.Fprintln(w, "  wrangle check [-gen N] [-rounds N] [-seed N] <desc.yaml>")
}

// parseArgs parses args with fs and returns the description filename that
// must follow the flags, plus any further arguments.
func parseArgs(fs *flag.FlagSet, args []string) (string, []string, error) {
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if fs.NArg() < 1 {
		return "", nil, fmt.Errorf("%s requires a description file", fs.Name())
	}
	return fs.Arg(0), fs.Args()[1:], nil
}

func cmdDump(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	only := fs.String("bitset", "", "dump only the named bitset")
	filename, _, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	m, err := loadModel(filename)
	if err != nil {
		return err
	}

	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
	if *only != "" {
		bs, ok := m.Bitset(*only)
		if !ok {
			return fmt.Errorf("no bitset named %q", *only)
		}
		cfg.Fdump(w, bs)
		return nil
	}
	cfg.Fdump(w, m.Bitsets())
	cfg.Fdump(w, m.Enums())
	return nil
}

func cmdTables(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("tables", flag.ContinueOnError)
	filename, _, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	m, err := loadModel(filename)
	if err != nil {
		return err
	}
	return writeTables(w, m)
}

func cmdDecode(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("decode", flag.ContinueOnError)
	root := fs.String("root", "", "decode root to match words against")
	gen := fs.Uint("gen", 0, "hardware generation")
	wordsFile := fs.String("f", "", "read words from this file, one per line")
	filename, rawWords, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if *root == "" {
		return errors.New("decode requires -root")
	}
	m, err := loadModel(filename)
	if err != nil {
		return err
	}
	size, ok := m.RootSize(*root)
	if !ok {
		return fmt.Errorf("no root named %q", *root)
	}

	if *wordsFile != "" {
		more, err := loadWords(*wordsFile)
		if err != nil {
			return fmt.Errorf("failed to load words: %w", err)
		}
		rawWords = append(rawWords, more...)
	}

	failed := 0
	for _, raw := range rawWords {
		word, err := isaspec.ParseBitVec(size, raw)
		if err != nil {
			return fmt.Errorf("invalid word %q: %w", raw, err)
		}
		res, err := m.Decode(*root, *gen, word)
		if res != nil {
			fmt.Fprintf(w, "%s: %s\n", word, formatResult(res))
		}
		if err != nil {
			fmt.Fprintf(w, "%s: error: %s\n", word, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d words did not decode cleanly", failed, len(rawWords))
	}
	return nil
}

func cmdCheck(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	gen := fs.Uint("gen", 0, "hardware generation")
	rounds := fs.Int("rounds", 100, "words to synthesize per leaf")
	seed := fs.Int64("seed", 0, "random seed; 0 picks one from the clock")
	filename, _, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	m, err := loadModel(filename)
	if err != nil {
		return err
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	log.Printf("checking %s at generation %d with seed %d", filename, *gen, *seed)
	if err := m.SelfCheck(context.Background(), *gen, *rounds, *seed); err != nil {
		return err
	}
	fmt.Fprintln(w, "ok")
	return nil
}
