package main

import "github.com/DM-Dev-Codes/whatsapp-invoice-processor/services/worker/cli"

func main() {
	cli.Execute()
}
