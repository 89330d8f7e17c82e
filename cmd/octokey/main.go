// Command octokey mints bearer tokens from the shared key file. Run it on
// the host that owns key.json; the printed token works against both
// servers.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"octogrid/pkg/security"
)

func main() {
	keyFile := flag.String("key-file", "key.json", "shared token key file")
	user := flag.String("user", "", "principal id (stored as user:<id>)")
	level := flag.String("level", "", "optional level tag (stored as level:<tag>)")
	admin := flag.Bool("admin", false, "grant the isAdmin part")
	count := flag.Int("count", 1, "number of tokens to mint")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "octokey: --user is required")
		flag.Usage()
		os.Exit(2)
	}

	parts := []string{"user:" + *user}
	if *level != "" {
		parts = append(parts, "level:"+*level)
	}
	if *admin {
		parts = append(parts, "isAdmin")
	}

	codec := security.NewCodec(*keyFile)
	for i := 0; i < *count; i++ {
		token, err := codec.Encode(parts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "octokey: %v\n", err)
			os.Exit(1)
		}

		fmt.Println(token)
		// Echo the decode so the operator can eyeball what was sealed.
		decoded, err := json.MarshalIndent(codec.Decode(token), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "octokey: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, string(decoded))
	}
}
