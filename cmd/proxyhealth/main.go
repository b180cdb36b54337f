package main

import (
	// Register plugins via side-effects
	_ "proxyhealth/internal/publishers/file"
	_ "proxyhealth/internal/publishers/github"
	_ "proxyhealth/internal/publishers/stdout"
	_ "proxyhealth/internal/sources/file"
	_ "proxyhealth/internal/sources/http"
)

func main() {
	Execute()
}
