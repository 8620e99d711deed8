// Command sdbtool is a tiny inspection binary for an sdb database file:
// "sdbtool stats <path>" prints the engine's statistics snapshot,
// "sdbtool dump-collection <path> <name>" prints one line per document
// in a collection, the document's String form ("Document(N fields)");
// field names and values are not printed. It exists to exercise the engine
// facade from outside the library, the way the corpus keeps small
// cmd/ binaries alongside its packages; it carries no invariants of
// its own.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/sdbio/sdb/sdb"
	"github.com/sdbio/sdb/sdbcfg"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "stats":
		err = runStats(os.Args[2:])
	case "dump-collection":
		err = runDumpCollection(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "sdbtool: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sdbtool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  sdbtool stats <path>")
	fmt.Fprintln(os.Stderr, "  sdbtool dump-collection <path> <name>")
}

func loadConfig(fs *pflag.FlagSet) (sdbcfg.Config, error) {
	configPath := fs.String("config", "", "path to a HuJSON configuration file")
	readOnly := fs.Bool("read-only", true, "open the database read-only")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return sdbcfg.Config{}, err
	}
	return sdbcfg.Load(*configPath, &sdbcfg.Overrides{ReadOnly: readOnly})
}

func runStats(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ContinueOnError)
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 1 {
		return fmt.Errorf("stats requires exactly one path argument")
	}

	eng, err := sdb.Open(rest[0], sdb.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer eng.Close()

	stats := eng.Statistics()
	fmt.Printf("page_size:        %d\n", stats.PageSize)
	fmt.Printf("total_pages:      %d\n", stats.TotalPages)
	fmt.Printf("used_pages:       %d\n", stats.UsedPages)
	fmt.Printf("free_list_length: %d\n", stats.FreeListLength)
	fmt.Printf("active_txns:      %d\n", stats.ActiveTxns)
	fmt.Printf("cache_hits:       %d\n", stats.CacheHits)
	fmt.Printf("cache_misses:     %d\n", stats.CacheMisses)
	fmt.Printf("cache_evictions:  %d\n", stats.CacheEvictions)
	fmt.Printf("cache_resident:   %d\n", stats.CacheResident)
	fmt.Printf("cache_dirty:      %d\n", stats.CacheDirty)
	fmt.Printf("collections:      %d\n", stats.CollectionCount)
	for _, name := range eng.ListCollections() {
		fmt.Printf("  - %s\n", name)
	}
	return nil
}

func runDumpCollection(args []string) error {
	fs := pflag.NewFlagSet("dump-collection", pflag.ContinueOnError)
	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("dump-collection requires a path and a collection name")
	}

	eng, err := sdb.Open(rest[0], sdb.Options{Config: cfg})
	if err != nil {
		return err
	}
	defer eng.Close()

	coll, err := eng.GetCollection(rest[1])
	if err != nil {
		return err
	}
	docs, err := coll.FindAll()
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fmt.Println(doc.String())
	}
	return nil
}
