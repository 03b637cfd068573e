package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/aaronlmathis/gosquash"
	"github.com/aaronlmathis/gosquash/state"
)

func main() {
	path := "../examples/squash_state"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	fmt.Printf("Debugging state store at %s...\n", path)

	store, err := state.NewBadgerStore(path)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	fmt.Printf("Store has %d groups\n", store.Len())

	groups := 0
	nulls := 0
	err = store.Range(context.Background(), func(key string, current gosquash.Record) error {
		groups++

		fields := make([]string, 0, len(current))
		for field := range current {
			fields = append(fields, field)
		}
		sort.Strings(fields)

		fmt.Printf("Group %q (%d fields):\n", key, len(current))
		for _, field := range fields {
			value := current[field]
			if value == nil {
				nulls++
				fmt.Printf("  %s: <null>\n", field)
				continue
			}
			fmt.Printf("  %s: %v (%T)\n", field, value, value)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to scan store: %v", err)
	}

	fmt.Printf("Scanned %d groups, %d null fields\n", groups, nulls)
}
