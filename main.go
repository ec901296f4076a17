// Command tinyproxy-go is a lightweight forward HTTP/HTTPS proxy daemon:
// ACL-gated, upstream-routing, transparent-mode-capable, configured from a
// tinyproxy-style directive file.
package main

import "github.com/rafalfr/tinyproxy-go/internal/cmd"

func main() {
	cmd.Main()
}
