package main

import "github.com/DM-Dev-Codes/whatsapp-invoice-processor/services/responder/cli"

func main() {
	cli.Execute()
}
