package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Local development reads .env; in deployment the environment is
	// injected and no file exists.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "hubd",
		Short: "Realtime agent-chat hub",
		Long: `hubd mediates conversations between human users and external
autonomous agents: a WebSocket fabric for each side, per-(conversation,
agent) streaming with single-in-flight admission, and metered billing
for marketplace chats.`,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
