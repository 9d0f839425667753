// Command wabot runs the WhatsApp command bot.
package main

import (
	"log"
	"os"

	"github.com/m3rciful/wabot/core/cmd"
)

func main() {
	if err := cmd.Run(cmd.Options{DefaultConfigPath: "config.yaml"}); err != nil {
		log.Printf("wabot: %v", err)
		os.Exit(1)
	}
}
