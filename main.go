// main.go
package main

import (
	"log"

	"queue-system/cmd"
	_ "queue-system/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
