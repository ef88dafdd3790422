package main

import "github.com/DM-Dev-Codes/whatsapp-invoice-processor/services/sweeper/cli"

func main() {
	cli.Execute()
}
