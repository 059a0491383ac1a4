package main

import "github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/cmd"

func main() {
	cmd.Execute()
}
