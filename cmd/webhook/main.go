package main

import "github.com/DM-Dev-Codes/whatsapp-invoice-processor/services/webhook/cli"

func main() {
	cli.Execute()
}
